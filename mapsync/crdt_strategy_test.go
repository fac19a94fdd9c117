package mapsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

// one delivery to a client channel. Exactly one field is set.
type testDelivery struct {
	message   []byte
	connected *bool
	closeCode int
}

// an in-process `ByteChannel` connected to a `testCrdtServer`.
// Deliveries run on the channel's own goroutine, in order.
type testByteChannel struct {
	server *testCrdtServer
	mapId  string
	// deliveries wait until the gate closes
	gate chan struct{}

	openOnce sync.Once

	stateLock sync.Mutex
	connected bool
	closed    bool

	inbox chan *testDelivery
	done  chan struct{}

	receiveCallbacks    *CallbackList[ByteFunction]
	connectionCallbacks *CallbackList[ConnectionFunction]
	closeCallbacks      *CallbackList[CloseFunction]
}

func (self *testByteChannel) run() {
	if self.gate != nil {
		select {
		case <-self.gate:
		case <-self.done:
			return
		}
	}
	for {
		select {
		case <-self.done:
			return
		case delivery := <-self.inbox:
			switch {
			case delivery.message != nil:
				for _, callback := range self.receiveCallbacks.Get() {
					callback(delivery.message)
				}
			case delivery.connected != nil:
				for _, callback := range self.connectionCallbacks.Get() {
					callback(*delivery.connected)
				}
			default:
				for _, callback := range self.connectionCallbacks.Get() {
					callback(false)
				}
				for _, callback := range self.closeCallbacks.Get() {
					callback(delivery.closeCode)
				}
			}
		}
	}
}

func (self *testByteChannel) deliver(delivery *testDelivery) {
	select {
	case self.inbox <- delivery:
	case <-self.done:
	}
}

// the channel is connected as soon as it opens. Owners check `Connected` after `Open`.
func (self *testByteChannel) Open() {
	self.openOnce.Do(func() {
		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			self.connected = true
		}()
		go self.run()
		self.server.register(self)
	})
}

func (self *testByteChannel) Send(message []byte) error {
	if !self.Connected() {
		return ErrNotConnected
	}
	self.server.receive(self, message)
	return nil
}

func (self *testByteChannel) AddReceiveCallback(callback ByteFunction) func() {
	return self.receiveCallbacks.Add(callback)
}

func (self *testByteChannel) AddConnectionCallback(callback ConnectionFunction) func() {
	return self.connectionCallbacks.Add(callback)
}

func (self *testByteChannel) AddCloseCallback(callback CloseFunction) func() {
	return self.closeCallbacks.Add(callback)
}

func (self *testByteChannel) Connected() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.connected && !self.closed
}

func (self *testByteChannel) setConnected(connected bool) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.connected = connected
	}()
	if connected {
		self.server.register(self)
	} else {
		self.server.unregister(self)
	}
	self.deliver(&testDelivery{connected: &connected})
}

func (self *testByteChannel) Close() {
	closed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.closed {
			return false
		}
		self.closed = true
		return true
	}()
	if closed {
		self.server.unregister(self)
		close(self.done)
	}
}

// relays one map between clients the way a replication server does:
// it keeps its own replica, syncs it with every client, and forwards awareness.
type testCrdtServer struct {
	stateLock sync.Mutex
	replica   *Replica
	peers     map[*testByteChannel]*ReplicaSync
	// latest awareness update per client channel
	awareness map[*testByteChannel][]byte
	writable  bool
	// channels created while set hold their deliveries until it closes
	gate chan struct{}
}

func newTestCrdtServer() *testCrdtServer {
	return &testCrdtServer{
		replica:   NewReplica(),
		peers:     map[*testByteChannel]*ReplicaSync{},
		awareness: map[*testByteChannel][]byte{},
		writable:  true,
	}
}

func (self *testCrdtServer) factory(t *testing.T) ByteChannelFactory {
	return func(ctx context.Context, mapId string) (ByteChannel, error) {
		self.stateLock.Lock()
		gate := self.gate
		self.stateLock.Unlock()
		channel := &testByteChannel{
			server:              self,
			mapId:               mapId,
			gate:                gate,
			inbox:               make(chan *testDelivery, 1024),
			done:                make(chan struct{}),
			receiveCallbacks:    NewCallbackList[ByteFunction](),
			connectionCallbacks: NewCallbackList[ConnectionFunction](),
			closeCallbacks:      NewCallbackList[CloseFunction](),
		}
		t.Cleanup(channel.Close)
		return channel, nil
	}
}

// new channels hold their deliveries until `release` is called
func (self *testCrdtServer) holdDeliveries() (release func()) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	gate := make(chan struct{})
	self.gate = gate
	return func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.gate == gate {
			self.gate = nil
		}
		close(gate)
	}
}

func (self *testCrdtServer) register(channel *testByteChannel) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.peers[channel] = self.replica.NewSync()
	if !self.writable {
		channel.deliver(&testDelivery{message: EncodeWriteAccessFrame(false)})
	}
	for other, update := range self.awareness {
		if other != channel {
			channel.deliver(&testDelivery{message: EncodeAwarenessFrame(update)})
		}
	}
	self.flush()
}

func (self *testCrdtServer) unregister(channel *testByteChannel) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	delete(self.peers, channel)
	delete(self.awareness, channel)
}

// must be called with the state lock
func (self *testCrdtServer) flush() {
	for channel, peerSync := range self.peers {
		for {
			message, ok := peerSync.GenerateMessage()
			if !ok {
				break
			}
			channel.deliver(&testDelivery{message: EncodeSyncFrame(message)})
		}
	}
}

func (self *testCrdtServer) receive(from *testByteChannel, message []byte) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	peerSync, ok := self.peers[from]
	if !ok {
		return
	}
	frame, err := DecodeFrame(message)
	if err != nil {
		return
	}
	switch frame.Type {
	case FrameSync:
		if _, err := peerSync.ReceiveMessage(frame.Payload); err != nil {
			return
		}
		self.flush()
	case FrameAwareness:
		self.awareness[from] = frame.Payload
		for channel := range self.peers {
			if channel != from {
				channel.deliver(&testDelivery{message: message})
			}
		}
	}
}

func (self *testCrdtServer) Snapshot() Snapshot {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	snapshot, _ := self.replica.Snapshot()
	return snapshot
}

func (self *testCrdtServer) setWritable(writable bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.writable = writable
	for channel := range self.peers {
		channel.deliver(&testDelivery{message: EncodeWriteAccessFrame(writable)})
	}
}

// closes every channel with the map deleted code
func (self *testCrdtServer) deleteMap() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	for channel := range self.peers {
		channel.deliver(&testDelivery{closeCode: CloseCodeMapDeleted})
	}
	self.peers = map[*testByteChannel]*ReplicaSync{}
	self.awareness = map[*testByteChannel][]byte{}
}

type testMapDeleter struct {
	server *testCrdtServer

	stateLock sync.Mutex
	deleted   []string
}

func (self *testMapDeleter) DeleteMap(ctx context.Context, mapId string, adminId string) error {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.deleted = append(self.deleted, mapId+"/"+adminId)
	}()
	self.server.deleteMap()
	return nil
}

type testCrdtClient struct {
	document *MemoryDocument
	session  *MapSession
	strategy *CrdtStrategy
}

func newTestCrdtClient(t *testing.T, server *testCrdtServer, snapshot Snapshot, color string) *testCrdtClient {
	document := NewMemoryDocumentWithSnapshot(snapshot)
	session := NewMapSession(NewId().String())
	settings := DefaultCrdtStrategySettings()
	strategy := NewCrdtStrategy(
		context.Background(),
		server.factory(t),
		&testMapDeleter{server: server},
		document,
		session,
		color,
		&settings,
	)
	t.Cleanup(strategy.Destroy)
	assert.Equal(t, strategy.Connect(), nil)
	assert.Equal(t, strategy.InitMap("map1"), nil)
	return &testCrdtClient{
		document: document,
		session:  session,
		strategy: strategy,
	}
}

func nodeName(document *MemoryDocument, nodeId string) string {
	node := document.Node(nodeId)
	if node == nil {
		return ""
	}
	return node.Name
}

// a seeded map with a second client that has caught up
func newTestCrdtPair(t *testing.T) (*testCrdtServer, *testCrdtClient, *testCrdtClient) {
	server := newTestCrdtServer()
	a := newTestCrdtClient(t, server, testSnapshot(), "#111111")
	waitFor(t, func() bool {
		return len(server.Snapshot()) == len(testSnapshot())
	})
	b := newTestCrdtClient(t, server, nil, "#222222")
	waitFor(t, func() bool {
		return b.document.Len() == len(testSnapshot())
	})
	return server, a, b
}

func TestCrdtSeedAndJoin(t *testing.T) {
	server, a, b := newTestCrdtPair(t)

	assert.Equal(t, server.Snapshot().Index(), testSnapshot().Index())
	assert.Equal(t, b.document.GetSnapshot().Index(), testSnapshot().Index())
	// loaded parent-first
	assert.Equal(t, b.document.GetSnapshot()[0].Id, "root")
	assert.Equal(t, b.session.MapOptions(), a.session.MapOptions())
	assert.Equal(t, a.session.ConnectionStatus(), ConnectionStatusConnected)
	assert.Equal(t, b.session.ConnectionStatus(), ConnectionStatusConnected)

	// joining is not an undoable edit
	canUndo, _ := b.session.HistoryState()
	assert.Equal(t, canUndo, false)
}

func TestCrdtEditsPropagate(t *testing.T) {
	_, a, b := newTestCrdtPair(t)

	assert.Equal(t, a.document.UpdateNode("a", PropertyName, "A2"), nil)
	waitFor(t, func() bool {
		return nodeName(b.document, "a") == "A2"
	})

	assert.Equal(t, b.document.CreateNode(testNode("c", "b", "C")), nil)
	waitFor(t, func() bool {
		return a.document.NodeExists("c")
	})

	assert.Equal(t, b.document.PasteNodes([]*NodeRecord{
		testNode("p2", "p1", "P2"),
		testNode("p1", "c", "P1"),
	}), nil)
	waitFor(t, func() bool {
		return a.document.NodeExists("p2")
	})
	assert.Equal(t, a.document.Node("p2").Parent, "p1")

	// a remote cascade delete
	assert.Equal(t, b.document.RemoveNode("a"), nil)
	waitFor(t, func() bool {
		return !a.document.NodeExists("a")
	})
	assert.Equal(t, a.document.NodeExists("a11"), false)
	assert.Equal(t, a.document.GetSnapshot().Index(), b.document.GetSnapshot().Index())

	options := &MapOptions{FontMaxSize: 40, FontMinSize: 10, FontIncrement: 3}
	a.strategy.UpdateMapOptions(options)
	waitFor(t, func() bool {
		return *b.session.MapOptions() == *options
	})
}

func TestCrdtUndoOwnChangesOnly(t *testing.T) {
	_, a, b := newTestCrdtPair(t)

	assert.Equal(t, a.document.UpdateNode("a", PropertyName, "A2"), nil)
	canUndo, _ := a.session.HistoryState()
	assert.Equal(t, canUndo, true)

	assert.Equal(t, b.document.UpdateNode("a", PropertyHidden, true), nil)
	waitFor(t, func() bool {
		node := a.document.Node("a")
		return node.Hidden && node.Name == "A2"
	})
	waitFor(t, func() bool {
		return nodeName(b.document, "a") == "A2"
	})

	a.strategy.Undo()
	assert.Equal(t, nodeName(a.document, "a"), "A")
	assert.Equal(t, a.document.Node("a").Hidden, true)
	canUndo, canRedo := a.session.HistoryState()
	assert.Equal(t, canUndo, false)
	assert.Equal(t, canRedo, true)
	waitFor(t, func() bool {
		return nodeName(b.document, "a") == "A"
	})
	assert.Equal(t, b.document.Node("a").Hidden, true)

	a.strategy.Redo()
	assert.Equal(t, nodeName(a.document, "a"), "A2")
	waitFor(t, func() bool {
		return nodeName(b.document, "a") == "A2"
	})

	// undoing a delete restores the subtree on both sides
	assert.Equal(t, a.document.RemoveNode("a"), nil)
	waitFor(t, func() bool {
		return !b.document.NodeExists("a1")
	})
	a.strategy.Undo()
	assert.Equal(t, a.document.NodeExists("a11"), true)
	waitFor(t, func() bool {
		return b.document.NodeExists("a11")
	})
}

func TestCrdtTreeHistoryEvents(t *testing.T) {
	_, a, b := newTestCrdtPair(t)

	diff := NewSnapshotDiff()
	diff.Added["d"] = testNode("d", "root", "D")
	diff.Updated["b"] = NodePatch{PropertyName: "B2"}
	diff.Deleted["a"] = struct{}{}
	assert.Equal(t, a.document.ApplyHistoryDiff(EventRedo, diff), nil)

	waitFor(t, func() bool {
		return b.document.NodeExists("d") && !b.document.NodeExists("a")
	})
	assert.Equal(t, nodeName(b.document, "b"), "B2")
	assert.Equal(t, b.document.NodeExists("a11"), false)
}

func TestCrdtPresence(t *testing.T) {
	_, a, b := newTestCrdtPair(t)

	waitFor(t, func() bool {
		return len(a.session.Presence().Mapping()) == 2 && len(b.session.Presence().Mapping()) == 2
	})

	a.document.SelectNode("a1")
	waitFor(t, func() bool {
		presence, _ := b.session.Presence().Get(a.session.ClientId())
		return presence.NodeId == "a1"
	})
	presence, _ := b.session.Presence().Get(a.session.ClientId())
	assert.Equal(t, presence.Color, "#111111")

	a.document.DeselectNode()
	waitFor(t, func() bool {
		presence, _ := b.session.Presence().Get(a.session.ClientId())
		return presence.NodeId == ""
	})

	// leaving removes the entry for the others
	b.strategy.Destroy()
	waitFor(t, func() bool {
		return len(a.session.Presence().Mapping()) == 1
	})
}

func TestCrdtColorCollision(t *testing.T) {
	server := newTestCrdtServer()
	a := newTestCrdtClient(t, server, testSnapshot(), "#111111")
	waitFor(t, func() bool {
		return len(server.Snapshot()) == len(testSnapshot())
	})
	b := newTestCrdtClient(t, server, nil, "#111111")
	waitFor(t, func() bool {
		return b.document.Len() == len(testSnapshot())
	})

	// the joining client gives up the color
	waitFor(t, func() bool {
		presence, ok := a.session.Presence().Get(b.session.ClientId())
		return ok && presence.Color != "#111111"
	})
	presence, _ := a.session.Presence().Get(a.session.ClientId())
	assert.Equal(t, presence.Color, "#111111")
	waitFor(t, func() bool {
		bPresence, _ := b.session.Presence().Get(b.session.ClientId())
		aView, _ := a.session.Presence().Get(b.session.ClientId())
		return bPresence.Color == aView.Color
	})
}

func TestCrdtWriteAccess(t *testing.T) {
	server, a, b := newTestCrdtPair(t)

	server.setWritable(false)
	waitFor(t, func() bool {
		return !a.session.Writable() && !b.session.Writable()
	})

	// local edits are not written to the replica
	assert.Equal(t, a.document.UpdateNode("a", PropertyName, "A2"), nil)
	a.strategy.Undo()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, nodeName(b.document, "a"), "A")
	assert.Equal(t, a.strategy.ImportMap(testSnapshot(), nil), ErrNotWritable)

	server.setWritable(true)
	waitFor(t, func() bool {
		return a.session.Writable()
	})
	assert.Equal(t, a.document.UpdateNode("a", PropertyName, "A3"), nil)
	waitFor(t, func() bool {
		return nodeName(b.document, "a") == "A3"
	})
}

func TestCrdtImport(t *testing.T) {
	_, a, b := newTestCrdtPair(t)

	assert.Equal(t, b.document.UpdateNode("b", PropertyName, "B2"), nil)
	canUndo, _ := b.session.HistoryState()
	assert.Equal(t, canUndo, true)
	waitFor(t, func() bool {
		return nodeName(a.document, "b") == "B2"
	})

	imported := Snapshot{
		NewRootNode("root2", "Imported"),
		testNode("x", "root2", "X"),
	}
	options := &MapOptions{FontMaxSize: 50, FontMinSize: 20, FontIncrement: 5}
	assert.Equal(t, a.strategy.ImportMap(imported, options), nil)

	waitFor(t, func() bool {
		return b.document.NodeExists("x") && b.document.Len() == 2
	})
	assert.Equal(t, b.document.GetSnapshot()[0].Id, "root2")
	waitFor(t, func() bool {
		return *b.session.MapOptions() == *options
	})
	// an import clears the undo stack
	waitFor(t, func() bool {
		canUndo, _ := b.session.HistoryState()
		return !canUndo
	})
}

func TestCrdtCreateReplacesMap(t *testing.T) {
	_, a, b := newTestCrdtPair(t)

	a.document.Create(Snapshot{NewRootNode("fresh", "Fresh")})
	waitFor(t, func() bool {
		return b.document.Len() == 1 && b.document.NodeExists("fresh")
	})
}

// the name of a node in the strategy's replica
func replicaNodeName(t *testing.T, strategy *CrdtStrategy, nodeId string) string {
	b, err := strategy.SaveReplica()
	assert.Equal(t, err, nil)
	replica, err := LoadReplica(b)
	assert.Equal(t, err, nil)
	return replicaName(t, replica, nodeId)
}

func TestCrdtDetachResume(t *testing.T) {
	_, a, b := newTestCrdtPair(t)

	a.strategy.Detach()
	assert.Equal(t, len(a.session.Presence().Mapping()), 0)

	// local edits while detached stay local
	assert.Equal(t, a.document.UpdateNode("b", PropertyName, "local only"), nil)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, nodeName(b.document, "b"), "B")

	// remote edits while detached reach the replica but not the tree
	assert.Equal(t, b.document.UpdateNode("a1", PropertyName, "while detached"), nil)
	waitFor(t, func() bool {
		return replicaNodeName(t, a.strategy, "a1") == "while detached"
	})
	assert.Equal(t, nodeName(a.document, "a1"), "A1")

	// resuming loads the replica state right away, without waiting for another remote edit
	assert.Equal(t, a.strategy.InitMap("map1"), nil)
	assert.Equal(t, nodeName(a.document, "b"), "B")
	assert.Equal(t, nodeName(a.document, "a1"), "while detached")

	assert.Equal(t, b.document.UpdateNode("a", PropertyName, "from b"), nil)
	waitFor(t, func() bool {
		return nodeName(a.document, "a") == "from b"
	})
	assert.Equal(t, a.document.UpdateNode("b", PropertyName, "from a"), nil)
	waitFor(t, func() bool {
		return nodeName(b.document, "b") == "from a"
	})
	waitFor(t, func() bool {
		return len(a.session.Presence().Mapping()) == 2
	})
}

func TestCrdtEditBeforeSync(t *testing.T) {
	server := newTestCrdtServer()
	a := newTestCrdtClient(t, server, testSnapshot(), "#111111")
	waitFor(t, func() bool {
		return len(server.Snapshot()) == len(testSnapshot())
	})

	// b opens with a local copy of the tree and edits it before the server state arrives
	release := server.holdDeliveries()
	b := newTestCrdtClient(t, server, testSnapshot(), "#222222")
	assert.Equal(t, b.document.UpdateNode("a", PropertyName, "from b"), nil)
	assert.Equal(t, b.document.CreateNode(testNode("c", "root", "C")), nil)
	assert.Equal(t, b.strategy.ImportMap(testSnapshot(), nil), ErrNotSynced)
	release()

	// the held edits are replayed on top of the server state
	waitFor(t, func() bool {
		return nodeName(a.document, "a") == "from b" && a.document.NodeExists("c")
	})
	assert.Equal(t, len(server.Snapshot()), len(testSnapshot())+1)
	waitFor(t, func() bool {
		return nodeName(b.document, "a") == "from b" && b.document.NodeExists("c")
	})
	assert.Equal(t, b.document.GetSnapshot().Index(), a.document.GetSnapshot().Index())
	// replayed edits are undoable
	waitFor(t, func() bool {
		canUndo, _ := b.session.HistoryState()
		return canUndo
	})
}

func TestCrdtEditBeforeSeed(t *testing.T) {
	server := newTestCrdtServer()

	release := server.holdDeliveries()
	a := newTestCrdtClient(t, server, testSnapshot(), "#111111")
	assert.Equal(t, a.document.UpdateNode("a", PropertyName, "A2"), nil)
	release()

	// the seed carries the edit, which is in the local tree already
	waitFor(t, func() bool {
		return len(server.Snapshot()) == len(testSnapshot())
	})
	assert.Equal(t, server.Snapshot().Index()["a"].Name, "A2")
	assert.Equal(t, nodeName(a.document, "a"), "A2")
	// seeding is not an undoable edit
	canUndo, _ := a.session.HistoryState()
	assert.Equal(t, canUndo, false)
}

func TestCrdtConcurrentSeed(t *testing.T) {
	server := newTestCrdtServer()

	// both clients find the map empty and seed it
	release := server.holdDeliveries()
	a := newTestCrdtClient(t, server, Snapshot{
		NewRootNode("root", "Root"),
		testNode("a1", "root", "A1"),
	}, "#111111")
	b := newTestCrdtClient(t, server, Snapshot{
		NewRootNode("root", "Root"),
		testNode("b1", "root", "B1"),
	}, "#222222")
	release()

	waitFor(t, func() bool {
		return len(server.Snapshot()) == 3
	})
	waitFor(t, func() bool {
		return a.document.NodeExists("b1") && b.document.NodeExists("a1")
	})
	assert.Equal(t, a.document.GetSnapshot().Index(), b.document.GetSnapshot().Index())
}

func TestCrdtUndoMapOptions(t *testing.T) {
	_, a, b := newTestCrdtPair(t)
	before := *a.session.MapOptions()

	assert.Equal(t, a.document.UpdateNode("a", PropertyName, "A2"), nil)
	options := &MapOptions{FontMaxSize: 40, FontMinSize: 10, FontIncrement: 3}
	a.strategy.UpdateMapOptions(options)
	waitFor(t, func() bool {
		return *b.session.MapOptions() == *options
	})

	// option history is separate from node history
	a.strategy.UndoMapOptions()
	assert.Equal(t, *a.session.MapOptions(), before)
	waitFor(t, func() bool {
		return *b.session.MapOptions() == before
	})
	assert.Equal(t, nodeName(a.document, "a"), "A2")
	canUndo, _ := a.session.HistoryState()
	assert.Equal(t, canUndo, true)

	a.strategy.RedoMapOptions()
	waitFor(t, func() bool {
		return *b.session.MapOptions() == *options
	})

	a.strategy.Undo()
	assert.Equal(t, nodeName(a.document, "a"), "A")
	assert.Equal(t, *a.session.MapOptions(), *options)
}

func TestCrdtReconnect(t *testing.T) {
	_, a, b := newTestCrdtPair(t)

	channel := func() *testByteChannel {
		a.strategy.stateLock.Lock()
		defer a.strategy.stateLock.Unlock()
		return a.strategy.channel.(*testByteChannel)
	}()

	channel.setConnected(false)
	waitFor(t, func() bool {
		return a.session.ConnectionStatus() == ConnectionStatusDisconnected
	})
	waitFor(t, func() bool {
		return len(a.session.Presence().Mapping()) == 1
	})

	// edits on both sides while apart
	assert.Equal(t, b.document.UpdateNode("a", PropertyName, "from b"), nil)
	assert.Equal(t, a.document.UpdateNode("b", PropertyName, "from a"), nil)

	channel.setConnected(true)
	waitFor(t, func() bool {
		return a.session.ConnectionStatus() == ConnectionStatusConnected
	})
	waitFor(t, func() bool {
		return nodeName(a.document, "a") == "from b" && nodeName(b.document, "b") == "from a"
	})
}

func TestCrdtDeleteMap(t *testing.T) {
	_, a, b := newTestCrdtPair(t)

	deleted := make(chan struct{}, 2)
	for _, client := range []*testCrdtClient{a, b} {
		client.session.AddMapDeletedCallback(func() {
			deleted <- struct{}{}
		})
	}

	assert.Equal(t, a.strategy.DeleteMap("admin"), nil)
	for range 2 {
		select {
		case <-deleted:
		case <-time.After(5 * time.Second):
			t.Fatal("No map deleted.")
		}
	}
	deleter := a.strategy.deleter.(*testMapDeleter)
	assert.Equal(t, deleter.deleted, []string{"map1/admin"})

	_, err := b.strategy.SaveReplica()
	assert.Equal(t, err, ErrNoMap)
	assert.Equal(t, a.strategy.DeleteMap("admin"), ErrNoMap)
	assert.Equal(t, b.session.ConnectionStatus(), ConnectionStatusDisconnected)
}

func TestCrdtSaveReplica(t *testing.T) {
	_, a, _ := newTestCrdtPair(t)

	b, err := a.strategy.SaveReplica()
	assert.Equal(t, err, nil)
	replica, err := LoadReplica(b)
	assert.Equal(t, err, nil)
	snapshot, err := replica.Snapshot()
	assert.Equal(t, err, nil)
	assert.Equal(t, snapshot.Index(), testSnapshot().Index())
}

func TestCrdtInitMapRequiresConnect(t *testing.T) {
	server := newTestCrdtServer()
	settings := DefaultCrdtStrategySettings()
	strategy := NewCrdtStrategy(
		context.Background(),
		server.factory(t),
		nil,
		NewMemoryDocument(),
		NewMapSession(NewId().String()),
		"",
		&settings,
	)
	assert.Equal(t, strategy.InitMap("map1"), ErrNotConnected)
	strategy.Destroy()
	assert.Equal(t, strategy.Connect(), ErrChannelClosed)
}

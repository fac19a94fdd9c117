package mapsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func waitFor(t *testing.T, condition func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !condition() {
		if deadline.Before(time.Now()) {
			t.Fatal("Timeout waiting for condition.")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type testEmit struct {
	Event string
	Data  []byte
	Ack   AckFunction
}

// responds to an emit with an ack. false leaves the ack pending.
type testAckFunction func(event string, data []byte) ([]byte, bool)

// an in-process `EventChannel`. Acks are delivered from a new goroutine, the way a transport reader would.
type testEventChannel struct {
	stateLock sync.Mutex
	connected bool
	closed    bool
	emits     []*testEmit
	autoAck   testAckFunction

	handlers            map[string]*CallbackList[EventFunction]
	connectionCallbacks *CallbackList[ConnectionFunction]
}

func newTestEventChannel(autoAck testAckFunction) *testEventChannel {
	return &testEventChannel{
		connected:           true,
		autoAck:             autoAck,
		handlers:            map[string]*CallbackList[EventFunction]{},
		connectionCallbacks: NewCallbackList[ConnectionFunction](),
	}
}

func (self *testEventChannel) record(event string, data any, ack AckFunction) (*testEmit, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	emit := &testEmit{
		Event: event,
		Data:  b,
		Ack:   ack,
	}
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.closed {
		return nil, ErrChannelClosed
	}
	if !self.connected {
		return nil, ErrNotConnected
	}
	self.emits = append(self.emits, emit)
	return emit, nil
}

func (self *testEventChannel) Emit(event string, data any) error {
	_, err := self.record(event, data, nil)
	return err
}

func (self *testEventChannel) EmitWithAck(event string, data any, ack AckFunction) {
	emit, err := self.record(event, data, ack)
	if err != nil {
		go ack(nil, err)
		return
	}
	if self.autoAck != nil {
		if ackBytes, ok := self.autoAck(event, emit.Data); ok {
			go ack(ackBytes, nil)
		}
	}
}

func (self *testEventChannel) On(event string, handler EventFunction) func() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	handlers, ok := self.handlers[event]
	if !ok {
		handlers = NewCallbackList[EventFunction]()
		self.handlers[event] = handlers
	}
	return handlers.Add(handler)
}

func (self *testEventChannel) AddConnectionCallback(callback ConnectionFunction) func() {
	return self.connectionCallbacks.Add(callback)
}

func (self *testEventChannel) Connected() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.connected && !self.closed
}

func (self *testEventChannel) Close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.closed = true
}

func (self *testEventChannel) Closed() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.closed
}

func (self *testEventChannel) setConnected(connected bool) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.connected = connected
	}()
	for _, callback := range self.connectionCallbacks.Get() {
		callback(connected)
	}
}

// delivers a server push
func (self *testEventChannel) push(event string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	handlers := func() *CallbackList[EventFunction] {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		return self.handlers[event]
	}()
	if handlers == nil {
		return
	}
	for _, handler := range handlers.Get() {
		handler(b)
	}
}

func (self *testEventChannel) Emits(event string) []*testEmit {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	emits := []*testEmit{}
	for _, emit := range self.emits {
		if emit.Event == event {
			emits = append(emits, emit)
		}
	}
	return emits
}

func testSuccessAck(data string) []byte {
	if data == "" {
		return []byte(`{"success": true}`)
	}
	return []byte(fmt.Sprintf(`{"success": true, "data": %s}`, data))
}

// joins succeed with `testFullMapState`. Every other request succeeds.
func testServerAck(event string, data []byte) ([]byte, bool) {
	switch event {
	case RpcJoin:
		return testSuccessAck(testFullMapState), true
	case RpcCheckModificationSecret:
		var request CheckModificationSecretRequest
		json.Unmarshal(data, &request)
		return testSuccessAck(fmt.Sprintf("%t", request.Secret == "good")), true
	default:
		return testSuccessAck(""), true
	}
}

type testRpcHarness struct {
	channel  *testEventChannel
	document *MemoryDocument
	session  *MapSession
	notifier *testNotifier
	strategy *RpcStrategy
}

func newTestRpcHarness(t *testing.T, autoAck testAckFunction) *testRpcHarness {
	channel := newTestEventChannel(autoAck)
	document := NewMemoryDocument()
	session := NewMapSession(NewId().String())
	notifier := &testNotifier{}
	settings := DefaultRpcStrategySettings()
	strategy := NewRpcStrategy(
		context.Background(),
		channel,
		document,
		session,
		notifier,
		NewClientAuth("", "secret1"),
		"#123456",
		&settings,
		0,
	)
	t.Cleanup(strategy.Destroy)
	return &testRpcHarness{
		channel:  channel,
		document: document,
		session:  session,
		notifier: notifier,
		strategy: strategy,
	}
}

// connects, attaches to map1, and waits for the join state to load
func (self *testRpcHarness) join(t *testing.T) {
	assert.Equal(t, self.strategy.Connect(), nil)
	assert.Equal(t, self.strategy.InitMap("map1"), nil)
	waitFor(t, func() bool {
		return self.document.Len() == 2
	})
	waitFor(t, func() bool {
		_, ok := self.session.Presence().Get(self.session.ClientId())
		return ok
	})
}

func TestRpcJoin(t *testing.T) {
	h := newTestRpcHarness(t, testServerAck)
	h.join(t)

	assert.Equal(t, h.session.ConnectionStatus(), ConnectionStatusConnected)
	joins := h.channel.Emits(RpcJoin)
	assert.Equal(t, len(joins), 1)
	var request JoinRequest
	assert.Equal(t, json.Unmarshal(joins[0].Data, &request), nil)
	assert.Equal(t, request, JoinRequest{MapId: "map1", Color: "#123456"})

	assert.Equal(t, h.document.Node("a").Name, "A")
	assert.Equal(t, h.session.MapOptions(), DefaultMapOptions())
	presence, _ := h.session.Presence().Get(h.session.ClientId())
	assert.Equal(t, presence.Color, "#123456")
	canUndo, canRedo := h.session.HistoryState()
	assert.Equal(t, canUndo, false)
	assert.Equal(t, canRedo, false)

	// the same map again does not rejoin
	assert.Equal(t, h.strategy.InitMap("map1"), nil)
	assert.Equal(t, len(h.channel.Emits(RpcJoin)), 1)
}

func TestRpcJoinColorCollision(t *testing.T) {
	h := newTestRpcHarness(t, testServerAck)
	h.session.Presence().Set("other", ClientPresence{Color: "#123456"})
	h.join(t)

	presence, _ := h.session.Presence().Get(h.session.ClientId())
	assert.NotEqual(t, presence.Color, "#123456")
	assert.Equal(t, IsValidColor(presence.Color), true)
}

func TestRpcLocalMutations(t *testing.T) {
	h := newTestRpcHarness(t, testServerAck)
	h.join(t)

	assert.Equal(t, h.document.UpdateNode("a", PropertyName, "A2"), nil)
	updates := h.channel.Emits(RpcUpdateNode)
	assert.Equal(t, len(updates), 1)
	var update UpdateNodeRequest
	assert.Equal(t, json.Unmarshal(updates[0].Data, &update), nil)
	assert.Equal(t, update.MapId, "map1")
	assert.Equal(t, update.Secret, "secret1")
	assert.Equal(t, update.UpdatedProperty, PropertyName)
	assert.Equal(t, update.Node.Name, "A2")

	assert.Equal(t, h.document.CreateNode(testNode("b", "a", "B")), nil)
	adds := h.channel.Emits(RpcAddNodes)
	assert.Equal(t, len(adds), 1)

	// pasted nodes are sent parent-first
	assert.Equal(t, h.document.PasteNodes([]*NodeRecord{
		testNode("p2", "p1", "P2"),
		testNode("p1", "root", "P1"),
	}), nil)
	adds = h.channel.Emits(RpcAddNodes)
	assert.Equal(t, len(adds), 2)
	var paste AddNodesRequest
	assert.Equal(t, json.Unmarshal(adds[1].Data, &paste), nil)
	assert.Equal(t, ids(paste.Nodes), []string{"p1", "p2"})

	assert.Equal(t, h.document.RemoveNode("p1"), nil)
	removes := h.channel.Emits(RpcRemoveNode)
	assert.Equal(t, len(removes), 1)

	h.document.SelectNode("a")
	selections := h.channel.Emits(RpcUpdateNodeSelection)
	assert.Equal(t, len(selections), 1)
	presence, _ := h.session.Presence().Get(h.session.ClientId())
	assert.Equal(t, presence.NodeId, "a")
	h.document.DeselectNode()
	presence, _ = h.session.Presence().Get(h.session.ClientId())
	assert.Equal(t, presence.NodeId, "")

	canUndo, canRedo := h.session.HistoryState()
	assert.Equal(t, canUndo, true)
	assert.Equal(t, canRedo, false)

	// nothing failed
	assert.Equal(t, len(h.notifier.Notifications()), 0)
}

func TestRpcUndoRedo(t *testing.T) {
	h := newTestRpcHarness(t, testServerAck)
	h.join(t)

	assert.Equal(t, h.document.UpdateNode("a", PropertyName, "A2"), nil)
	assert.Equal(t, h.document.CreateNode(testNode("b", "a", "B")), nil)

	h.strategy.Undo()
	assert.Equal(t, h.document.NodeExists("b"), false)
	h.strategy.Undo()
	assert.Equal(t, h.document.Node("a").Name, "A")
	canUndo, canRedo := h.session.HistoryState()
	assert.Equal(t, canUndo, false)
	assert.Equal(t, canRedo, true)

	diffs := h.channel.Emits(RpcApplyMapChangesByDiff)
	assert.Equal(t, len(diffs), 2)
	var request ApplyMapChangesByDiffRequest
	assert.Equal(t, json.Unmarshal(diffs[1].Data, &request), nil)
	assert.Equal(t, request.OperationId.IsZero(), false)
	assert.Equal(t, request.Secret, "secret1")
	assert.Equal(t, request.Diff.Updated["a"][PropertyName], "A")

	h.strategy.Redo()
	assert.Equal(t, h.document.Node("a").Name, "A2")
	assert.Equal(t, len(h.channel.Emits(RpcApplyMapChangesByDiff)), 3)

	// a new edit clears redo
	assert.Equal(t, h.document.UpdateNode("a", PropertyHidden, true), nil)
	_, canRedo = h.session.HistoryState()
	assert.Equal(t, canRedo, false)
	h.strategy.Redo()
	assert.Equal(t, len(h.channel.Emits(RpcApplyMapChangesByDiff)), 3)

	// the tree's own undo is forwarded as a diff
	diff := NewSnapshotDiff()
	diff.Updated["a"] = NodePatch{PropertyHidden: false}
	assert.Equal(t, h.document.ApplyHistoryDiff(EventUndo, diff), nil)
	assert.Equal(t, len(h.channel.Emits(RpcApplyMapChangesByDiff)), 4)
}

func TestRpcReadOnly(t *testing.T) {
	h := newTestRpcHarness(t, testServerAck)
	h.join(t)
	h.strategy.SetWritable(false)
	assert.Equal(t, h.session.Writable(), false)

	assert.Equal(t, h.document.UpdateNode("a", PropertyName, "A2"), nil)
	assert.Equal(t, h.document.CreateNode(testNode("b", "a", "B")), nil)
	h.strategy.UpdateMapOptions(&MapOptions{FontMaxSize: 30, FontMinSize: 10, FontIncrement: 1})
	h.strategy.Undo()
	assert.Equal(t, len(h.channel.Emits(RpcUpdateNode)), 0)
	assert.Equal(t, len(h.channel.Emits(RpcAddNodes)), 0)
	assert.Equal(t, len(h.channel.Emits(RpcUpdateMapOptions)), 0)

	// selection is not a mutation
	h.document.SelectNode("a")
	assert.Equal(t, len(h.channel.Emits(RpcUpdateNodeSelection)), 1)
}

func TestRpcRemotePushes(t *testing.T) {
	h := newTestRpcHarness(t, testServerAck)
	h.join(t)
	own := h.session.ClientId()

	// own echoes are dropped
	h.channel.push(RpcNodesAdded, &NodesAddedPush{
		ClientId: own,
		Nodes:    []*NodeRecord{testNode("echo", "root", "Echo")},
	})
	assert.Equal(t, h.document.NodeExists("echo"), false)

	// children first on the wire still apply
	h.channel.push(RpcNodesAdded, &NodesAddedPush{
		ClientId: "other",
		Nodes: []*NodeRecord{
			testNode("c2", "c1", "C2"),
			testNode("c1", "a", "C1"),
		},
	})
	assert.Equal(t, h.document.NodeExists("c1"), true)
	assert.Equal(t, h.document.NodeExists("c2"), true)

	updated := h.document.Node("c1")
	updated.Coordinates = Coordinates{X: 5, Y: 6}
	h.channel.push(RpcNodeUpdated, &NodeUpdatedPush{
		ClientId: "other",
		Node:     updated,
		Property: PropertyCoordinates,
	})
	assert.Equal(t, h.document.Node("c1").Coordinates, Coordinates{X: 5, Y: 6})

	h.channel.push(RpcNodeRemoved, &NodeRemovedPush{ClientId: "other", NodeId: "c1"})
	assert.Equal(t, h.document.NodeExists("c1"), false)
	assert.Equal(t, h.document.NodeExists("c2"), false)

	diff := NewSnapshotDiff()
	diff.Added["d"] = testNode("d", "root", "D")
	h.channel.push(RpcMapChangesUndoRedo, &MapChangesUndoRedoPush{
		ClientId:    "other",
		Diff:        diff,
		OperationId: NewId(),
	})
	assert.Equal(t, h.document.NodeExists("d"), true)

	options := &MapOptions{FontMaxSize: 40, FontMinSize: 12, FontIncrement: 4}
	h.channel.push(RpcMapOptionsUpdated, &MapOptionsUpdatedPush{ClientId: "other", Options: options})
	assert.Equal(t, h.session.MapOptions(), options)

	h.channel.push(RpcClientNotification, &ClientNotificationPush{ClientId: "other", Type: "info", Message: "hello"})
	assert.Equal(t, h.notifier.Count("info"), 1)

	// a full map replaces the tree
	var serverMap ServerMap
	assert.Equal(t, json.Unmarshal([]byte(testFullMapState), &serverMap), nil)
	serverMap.Data = serverMap.Data[:1]
	h.channel.push(RpcMapUpdated, &MapUpdatedPush{Map: &serverMap})
	assert.Equal(t, h.document.Len(), 1)

	// an invalid full map is dropped
	serverMap.LastModified = ""
	h.channel.push(RpcMapUpdated, &MapUpdatedPush{Map: &serverMap})
	assert.Equal(t, h.document.Len(), 1)
}

func TestRpcPresencePushes(t *testing.T) {
	h := newTestRpcHarness(t, testServerAck)
	h.join(t)
	own := h.session.ClientId()

	h.channel.push(RpcClientListUpdated, &ClientListUpdatedPush{
		Clients: map[string]string{
			own:     "#123456",
			"other": "#654321",
		},
	})
	assert.Equal(t, len(h.session.Presence().Mapping()), 2)

	refreshes := [][]string{}
	h.session.Presence().AddChangeCallback(func(mapping ColorMapping, refreshNodeIds []string) {
		if 0 < len(refreshNodeIds) {
			refreshes = append(refreshes, refreshNodeIds)
		}
	})

	h.channel.push(RpcSelectionUpdated, &SelectionUpdatedPush{ClientId: "other", NodeId: "a", Selected: true})
	presence, _ := h.session.Presence().Get("other")
	assert.Equal(t, presence, ClientPresence{Color: "#654321", NodeId: "a"})

	// the selection survives a client list refresh
	h.channel.push(RpcClientListUpdated, &ClientListUpdatedPush{
		Clients: map[string]string{
			own:     "#123456",
			"other": "#654321",
		},
	})
	presence, _ = h.session.Presence().Get("other")
	assert.Equal(t, presence.NodeId, "a")

	h.channel.push(RpcClientDisconnect, &ClientDisconnectPush{ClientId: "other"})
	_, ok := h.session.Presence().Get("other")
	assert.Equal(t, ok, false)
	assert.Equal(t, refreshes, [][]string{{"a"}, {"a"}})
}

func TestRpcValidationErrorReloads(t *testing.T) {
	h := newTestRpcHarness(t, func(event string, data []byte) ([]byte, bool) {
		if event == RpcUpdateNode {
			return []byte(`{"success": false, "errorType": "validation", "code": "INVALID_NODE_DATA", "message": "bad", "fullMapState": ` + testFullMapState + `}`), true
		}
		return testServerAck(event, data)
	})
	h.join(t)

	assert.Equal(t, h.document.UpdateNode("a", PropertyName, "A2"), nil)
	waitFor(t, func() bool {
		return h.document.Node("a").Name == "A"
	})
	waitFor(t, func() bool {
		return h.notifier.Count("recoverable") == 1
	})
	assert.Equal(t, h.notifier.Notifications()[0].Operation, RpcUpdateNode)
	assert.Equal(t, h.strategy.Recovery().Blocked(), false)
	// the reload resets history
	canUndo, _ := h.session.HistoryState()
	assert.Equal(t, canUndo, false)
}

func TestRpcCriticalErrorBlocks(t *testing.T) {
	h := newTestRpcHarness(t, func(event string, data []byte) ([]byte, bool) {
		if event == RpcRemoveNode {
			return []byte(`{"success": false, "errorType": "critical", "code": "DATABASE_ERROR", "message": "down"}`), true
		}
		return testServerAck(event, data)
	})
	h.join(t)

	assert.Equal(t, h.document.RemoveNode("a"), nil)
	waitFor(t, h.strategy.Recovery().Blocked)
	assert.Equal(t, h.notifier.Notifications(), []testNotification{
		{Kind: "critical", Message: ErrorCodeMessages["DATABASE_ERROR"]},
	})
}

func TestRpcStaleAckIgnored(t *testing.T) {
	h := newTestRpcHarness(t, func(event string, data []byte) ([]byte, bool) {
		if event == RpcUpdateNode {
			return nil, false
		}
		return testServerAck(event, data)
	})
	h.join(t)

	assert.Equal(t, h.document.UpdateNode("a", PropertyName, "A2"), nil)
	updates := h.channel.Emits(RpcUpdateNode)
	assert.Equal(t, len(updates), 1)

	// switch maps before the ack arrives
	assert.Equal(t, h.strategy.InitMap("map2"), nil)
	waitFor(t, func() bool {
		return len(h.channel.Emits(RpcJoin)) == 2
	})
	waitFor(t, func() bool {
		return h.document.Node("a") != nil && h.document.Node("a").Name == "A"
	})
	assert.Equal(t, h.document.UpdateNode("a", PropertyName, "A3"), nil)

	updates[0].Ack([]byte(`{"success": false, "errorType": "critical", "code": "SERVER_ERROR", "message": "x"}`), nil)
	assert.Equal(t, h.strategy.Recovery().Blocked(), false)
	assert.Equal(t, h.document.Node("a").Name, "A3")
}

func TestRpcTransportErrorsAreNotRecovery(t *testing.T) {
	h := newTestRpcHarness(t, func(event string, data []byte) ([]byte, bool) {
		if event == RpcUpdateNode {
			return nil, false
		}
		return testServerAck(event, data)
	})
	h.join(t)

	assert.Equal(t, h.document.UpdateNode("a", PropertyName, "A2"), nil)
	updates := h.channel.Emits(RpcUpdateNode)
	updates[0].Ack(nil, ErrAckTimeout)
	assert.Equal(t, h.strategy.Recovery().Blocked(), false)
	assert.Equal(t, len(h.notifier.Notifications()), 0)
	assert.Equal(t, h.document.Node("a").Name, "A2")
}

func TestRpcReconnectRejoins(t *testing.T) {
	h := newTestRpcHarness(t, testServerAck)
	h.join(t)

	statuses := []ConnectionStatus{}
	h.session.AddConnectionStatusCallback(func(status ConnectionStatus) {
		statuses = append(statuses, status)
	})

	h.channel.setConnected(false)
	assert.Equal(t, h.session.ConnectionStatus(), ConnectionStatusDisconnected)
	h.channel.setConnected(true)
	assert.Equal(t, h.session.ConnectionStatus(), ConnectionStatusConnected)
	assert.Equal(t, statuses, []ConnectionStatus{ConnectionStatusDisconnected, ConnectionStatusConnected})
	assert.Equal(t, len(h.channel.Emits(RpcJoin)), 2)
}

func TestRpcDetach(t *testing.T) {
	h := newTestRpcHarness(t, testServerAck)
	h.join(t)

	h.strategy.Detach()
	assert.Equal(t, len(h.session.Presence().Mapping()), 0)

	// neither local nor remote events are handled
	assert.Equal(t, h.document.UpdateNode("a", PropertyName, "A2"), nil)
	assert.Equal(t, len(h.channel.Emits(RpcUpdateNode)), 0)
	h.channel.push(RpcNodeRemoved, &NodeRemovedPush{ClientId: "other", NodeId: "a"})
	assert.Equal(t, h.document.NodeExists("a"), true)
	assert.Equal(t, h.channel.Closed(), false)

	_, err := h.strategy.CheckModificationSecret("good")
	assert.Equal(t, err, ErrNoMap)

	h.strategy.Destroy()
	h.strategy.Destroy()
	assert.Equal(t, h.channel.Closed(), true)
	assert.Equal(t, h.strategy.InitMap("map1"), ErrChannelClosed)
}

func TestRpcMapDeleted(t *testing.T) {
	h := newTestRpcHarness(t, testServerAck)
	h.join(t)

	deleted := 0
	h.session.AddMapDeletedCallback(func() {
		deleted += 1
	})

	// other maps are ignored
	h.channel.push(RpcMapDeleted, &MapDeletedPush{MapId: "other"})
	assert.Equal(t, deleted, 0)

	h.channel.push(RpcMapDeleted, &MapDeletedPush{MapId: "map1"})
	assert.Equal(t, deleted, 1)
	assert.Equal(t, h.channel.Closed(), true)
	assert.Equal(t, len(h.session.Presence().Mapping()), 0)
}

func TestRpcAdminOperations(t *testing.T) {
	h := newTestRpcHarness(t, func(event string, data []byte) ([]byte, bool) {
		if event == RpcDeleteMap {
			return []byte(`{"success": false, "errorType": "validation", "code": "UNAUTHORIZED", "message": "no"}`), true
		}
		return testServerAck(event, data)
	})
	h.join(t)

	valid, err := h.strategy.CheckModificationSecret("bad")
	assert.Equal(t, err, nil)
	assert.Equal(t, valid, false)
	assert.Equal(t, h.session.Writable(), false)

	valid, err = h.strategy.CheckModificationSecret("good")
	assert.Equal(t, err, nil)
	assert.Equal(t, valid, true)
	assert.Equal(t, h.session.Writable(), true)

	// later mutations carry the checked secret
	assert.Equal(t, h.document.UpdateNode("a", PropertyName, "A2"), nil)
	var update UpdateNodeRequest
	assert.Equal(t, json.Unmarshal(h.channel.Emits(RpcUpdateNode)[0].Data, &update), nil)
	assert.Equal(t, update.Secret, "good")

	err = h.strategy.DeleteMap("admin")
	ackErr, ok := err.(*AckError)
	assert.Equal(t, ok, true)
	assert.Equal(t, ackErr.Result.Code, "UNAUTHORIZED")
	var request DeleteMapRequest
	assert.Equal(t, json.Unmarshal(h.channel.Emits(RpcDeleteMap)[0].Data, &request), nil)
	assert.Equal(t, request, DeleteMapRequest{MapId: "map1", AdminId: "admin"})
}

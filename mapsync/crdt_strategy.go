package mapsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
)

var ErrNotSynced = errors.New("Map not synced yet.")

type pendingTransaction struct {
	operation string
	origin    string
	do        func(tx *Transaction) error
}

// removes a map from storage. `MapApi` is the production implementation.
type MapDeleter interface {
	DeleteMap(ctx context.Context, mapId string, adminId string) error
}

// replicated strategy. Local edits are written into a local replica in transactions tagged "local".
// Remote changes arrive over the map's byte channel and are diffed against a mirror of the last
// applied state. Undo and redo only touch this client's own transactions.
type CrdtStrategy struct {
	ctx    context.Context
	cancel context.CancelFunc

	channelFactory ByteChannelFactory
	deleter        MapDeleter
	document       DocumentAdapter
	session        *MapSession
	settings       *CrdtStrategySettings

	stateLock sync.Mutex
	// effects of the current locked call
	fx *effects
	// changes on every attach and detach
	generation uint64
	// changes when the channel is released. Channel callbacks outlive a detach.
	channelGeneration uint64
	connected         bool
	destroyed         bool
	attached          bool

	mapId            string
	channel          ByteChannel
	channelListeners []func()
	replica          *Replica
	replicaListeners []func()
	undoManager      *UndoManager
	// option changes have their own history
	optionsUndoManager *UndoManager
	replicaSync        *ReplicaSync
	awareness          *Awareness
	color              string
	colorSettled       bool
	// the replica state last applied to the document
	mirror Snapshot
	// true once the replica has every change the server had. Stays true across detach and reconnect.
	synced bool
	// local writes made before the first sync
	pending      []pendingTransaction
	historyDirty bool

	documentListeners []func()
	attachCancel      context.CancelFunc
}

func NewCrdtStrategyWithDefaults(
	ctx context.Context,
	channelFactory ByteChannelFactory,
	deleter MapDeleter,
	document DocumentAdapter,
	session *MapSession,
	color string,
) *CrdtStrategy {
	settings := DefaultCrdtStrategySettings()
	return NewCrdtStrategy(ctx, channelFactory, deleter, document, session, color, &settings)
}

func NewCrdtStrategy(
	ctx context.Context,
	channelFactory ByteChannelFactory,
	deleter MapDeleter,
	document DocumentAdapter,
	session *MapSession,
	color string,
	settings *CrdtStrategySettings,
) *CrdtStrategy {
	cancelCtx, cancel := context.WithCancel(ctx)
	if color == "" || !IsValidColor(color) {
		color = RandomColor()
	}
	return &CrdtStrategy{
		ctx:            cancelCtx,
		cancel:         cancel,
		channelFactory: channelFactory,
		deleter:        deleter,
		document:       document,
		session:        session,
		settings:       settings,
		color:          color,
	}
}

// runs `do` with the state lock, then runs the effects it queued
func (self *CrdtStrategy) locked(do func()) {
	fx := &effects{}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.fx = fx
		defer func() {
			self.flushHistoryState()
			self.fx = nil
		}()
		do()
	}()
	fx.run()
}

// like `locked` but a no-op once `generation` is stale
func (self *CrdtStrategy) run(generation uint64, do func()) {
	self.locked(func() {
		if self.destroyed || generation != self.generation {
			return
		}
		do()
	})
}

// like `run` for channel callbacks, which stay registered while detached
func (self *CrdtStrategy) runChannel(channelGeneration uint64, do func()) {
	self.locked(func() {
		if self.destroyed || channelGeneration != self.channelGeneration {
			return
		}
		do()
	})
}

// must be called with the state lock
func (self *CrdtStrategy) flushHistoryState() {
	if !self.historyDirty || self.undoManager == nil {
		return
	}
	self.historyDirty = false
	canUndo := self.undoManager.CanUndo()
	canRedo := self.undoManager.CanRedo()
	self.fx.add(func() {
		self.session.setHistoryState(canUndo, canRedo)
	})
}

func (self *CrdtStrategy) Connect() (returnErr error) {
	self.locked(func() {
		if self.destroyed {
			returnErr = ErrChannelClosed
			return
		}
		// channels are per map and open on `InitMap`
		self.connected = true
	})
	return
}

func (self *CrdtStrategy) InitMap(mapId string) (returnErr error) {
	self.locked(func() {
		if self.destroyed {
			returnErr = ErrChannelClosed
			return
		}
		if !self.connected {
			returnErr = ErrNotConnected
			return
		}

		if mapId == self.mapId && self.channel != nil {
			if self.attached {
				// already attached. Only refresh the local listeners.
				glog.V(1).Infof("[crdt]reattach %s\n", mapId)
				self.unsubscribeDocument()
				self.subscribeDocument(self.generation)
			} else {
				glog.V(1).Infof("[crdt]resume %s\n", mapId)
				self.attach()
			}
			return
		}

		if self.mapId != "" {
			self.release()
		}

		channel, err := self.channelFactory(self.ctx, mapId)
		if err != nil {
			returnErr = err
			return
		}
		self.mapId = mapId
		self.channel = channel
		self.replica = NewReplica()
		self.synced = false
		self.pending = nil
		self.undoManager = NewUndoManager(self.replica, UndoScopeNodes, self.settings.CaptureTimeout, OriginLocal)
		self.undoManager.AddStackCallback(func(canUndo bool, canRedo bool) {
			// runs inside a locked call
			self.historyDirty = true
		})
		self.optionsUndoManager = NewUndoManager(self.replica, UndoScopeOptions, self.settings.CaptureTimeout, OriginLocal)
		self.awareness = NewAwareness(self.session.ClientId())
		self.colorSettled = false
		self.mirror = Snapshot{}
		self.listenChannel()
		glog.V(1).Infof("[crdt]attach %s\n", mapId)
		self.attach()
	})
	return
}

// while detached, sync frames still reach the replica so no change the peer sent is lost.
// must be called with the state lock
func (self *CrdtStrategy) listenChannel() {
	channelGeneration := self.channelGeneration
	self.channelListeners = append(self.channelListeners,
		self.channel.AddReceiveCallback(func(message []byte) {
			self.runChannel(channelGeneration, func() {
				self.onMessage(message)
			})
		}),
		self.channel.AddConnectionCallback(func(connected bool) {
			self.runChannel(channelGeneration, func() {
				if connected {
					self.onConnected()
				} else {
					self.onDisconnected()
				}
			})
		}),
		self.channel.AddCloseCallback(func(code int) {
			self.runChannel(channelGeneration, func() {
				self.onClose(code)
			})
		}),
	)
}

// must be called with the state lock
func (self *CrdtStrategy) attach() {
	self.generation += 1
	generation := self.generation
	self.attached = true

	self.replicaListeners = append(self.replicaListeners, self.replica.AddObserver(self.onReplicaEvent))

	if self.synced {
		// resume. The replica kept syncing state, and remote changes while detached only reached the replica.
		snapshot, err := self.replica.Snapshot()
		if err != nil {
			glog.Infof("[crdt]read replica = %s\n", err)
		} else {
			glog.V(1).Infof("[crdt]resume %s with %d nodes\n", self.mapId, len(snapshot))
			self.loadReplica(snapshot)
		}
	}

	self.subscribeDocument(generation)

	attachCtx, attachCancel := context.WithCancel(self.ctx)
	self.attachCancel = attachCancel
	go self.renewAwareness(attachCtx, generation)

	self.channel.Open()
	if self.channel.Connected() {
		self.onConnected()
	}
}

// must be called with the state lock
func (self *CrdtStrategy) detach() {
	self.unsubscribeDocument()
	for _, remove := range self.replicaListeners {
		remove()
	}
	self.replicaListeners = nil
	if self.attachCancel != nil {
		self.attachCancel()
		self.attachCancel = nil
	}
	self.generation += 1
	self.attached = false
	// remote awareness stays current while detached and is published again on resume
	self.fx.add(func() {
		self.session.Presence().Reset()
	})
}

// full teardown of the current map. Must be called with the state lock.
func (self *CrdtStrategy) release() {
	if self.attached {
		self.detach()
	}
	for _, remove := range self.channelListeners {
		remove()
	}
	self.channelListeners = nil
	self.channelGeneration += 1
	if self.channel != nil {
		if self.awareness != nil && self.channel.Connected() {
			// announce leaving
			self.send(EncodeAwarenessFrame(self.awareness.SetLocalState(nil)))
		}
		self.channel.Close()
		self.channel = nil
	}
	if self.undoManager != nil {
		self.undoManager.Destroy()
		self.undoManager = nil
	}
	if self.optionsUndoManager != nil {
		self.optionsUndoManager.Destroy()
		self.optionsUndoManager = nil
	}
	self.synced = false
	self.pending = nil
	self.replica = nil
	self.replicaSync = nil
	self.awareness = nil
	self.mirror = nil
	self.mapId = ""
	self.fx.add(func() {
		self.session.setHistoryState(false, false)
	})
}

func (self *CrdtStrategy) Detach() {
	self.locked(func() {
		if !self.attached {
			return
		}
		glog.V(1).Infof("[crdt]detach %s\n", self.mapId)
		self.detach()
	})
}

func (self *CrdtStrategy) Destroy() {
	self.locked(func() {
		if self.destroyed {
			return
		}
		glog.V(1).Infof("[crdt]destroy\n")
		if self.mapId != "" {
			self.release()
		}
		self.destroyed = true
	})
	self.cancel()
}

func (self *CrdtStrategy) renewAwareness(ctx context.Context, generation uint64) {
	if self.settings.AwarenessRenewInterval <= 0 {
		return
	}
	ticker := time.NewTicker(self.settings.AwarenessRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			self.run(generation, func() {
				if self.channel.Connected() && self.awareness.LocalState() != nil {
					self.send(EncodeAwarenessFrame(self.awareness.RenewLocalState()))
				}
				if 0 < len(self.awareness.RemoveOutdated(time.Now(), self.settings.AwarenessTimeout)) {
					self.publishPresence()
				}
			})
		}
	}
}

// channel

// must be called with the state lock
func (self *CrdtStrategy) send(message []byte) {
	if err := self.channel.Send(message); err != nil {
		glog.V(1).Infof("[crdt]send error = %s\n", err)
	}
}

// must be called with the state lock
func (self *CrdtStrategy) sendSyncMessages() {
	if self.replicaSync == nil || !self.channel.Connected() {
		return
	}
	for {
		message, ok := self.replicaSync.GenerateMessage()
		if !ok {
			return
		}
		self.send(EncodeSyncFrame(message))
	}
}

// must be called with the state lock
func (self *CrdtStrategy) onConnected() {
	glog.V(1).Infof("[crdt]connected %s\n", self.mapId)
	self.fx.add(func() {
		self.session.setConnectionStatus(ConnectionStatusConnected)
	})
	// a new peer session. The sync protocol catches up from here.
	self.replicaSync = self.replica.NewSync()
	self.sendSyncMessages()
	if !self.attached {
		// announced on attach
		return
	}

	state := self.awareness.LocalState()
	if state == nil {
		state = &AwarenessState{
			Color: self.color,
		}
	}
	self.send(EncodeAwarenessFrame(self.awareness.SetLocalState(state)))
	self.publishPresence()
}

// must be called with the state lock
func (self *CrdtStrategy) onDisconnected() {
	glog.V(1).Infof("[crdt]disconnected %s\n", self.mapId)
	self.fx.add(func() {
		self.session.setConnectionStatus(ConnectionStatusDisconnected)
	})
	self.replicaSync = nil
	if 0 < len(self.awareness.RemoveRemote()) && self.attached {
		self.publishPresence()
	}
}

// must be called with the state lock
func (self *CrdtStrategy) onClose(code int) {
	if code != CloseCodeMapDeleted {
		return
	}
	glog.V(1).Infof("[crdt]map deleted %s\n", self.mapId)
	self.fx.add(func() {
		self.session.setConnectionStatus(ConnectionStatusDisconnected)
	})
	self.release()
	self.fx.add(self.session.notifyMapDeleted)
}

// must be called with the state lock
func (self *CrdtStrategy) onMessage(message []byte) {
	frame, err := DecodeFrame(message)
	if errors.Is(err, ErrUnknownFrame) {
		glog.V(2).Infof("[crdt]ignore frame %s\n", frame.Type)
		return
	}
	if err != nil {
		glog.Infof("[crdt]drop frame = %s\n", err)
		return
	}

	switch frame.Type {
	case FrameSync:
		if self.replicaSync == nil {
			self.replicaSync = self.replica.NewSync()
		}
		synced, err := self.replicaSync.ReceiveMessage(frame.Payload)
		if err != nil {
			glog.Infof("[crdt]sync error = %s\n", err)
			return
		}
		if synced && !self.synced && self.attached {
			self.onFirstSync()
		}
		self.sendSyncMessages()
	case FrameAwareness:
		changed, err := self.awareness.ApplyUpdate(frame.Payload)
		if err != nil {
			glog.Infof("[crdt]drop awareness = %s\n", err)
			return
		}
		if !self.attached {
			return
		}
		self.resolveColor()
		if 0 < len(changed) {
			self.publishPresence()
		}
	case FrameWriteAccess:
		writable := frame.Writable
		glog.V(1).Infof("[crdt]writable=%t\n", writable)
		self.fx.add(func() {
			self.session.setWritable(writable)
		})
	}
}

// the joining client gives up a color another client already shows
// must be called with the state lock
func (self *CrdtStrategy) resolveColor() {
	if self.colorSettled {
		return
	}
	self.colorSettled = true
	clientId := self.session.ClientId()
	used := []string{}
	for otherClientId, presence := range self.awareness.ColorMapping() {
		if otherClientId != clientId {
			used = append(used, presence.Color)
		}
	}
	color := ResolveColor(self.color, used)
	if color == self.color {
		return
	}
	glog.V(1).Infof("[crdt]color %s taken, using %s\n", self.color, color)
	self.color = color
	state := self.awareness.LocalState()
	if state == nil {
		state = &AwarenessState{}
	}
	state.Color = color
	self.send(EncodeAwarenessFrame(self.awareness.SetLocalState(state)))
	self.publishPresence()
}

// must be called with the state lock
func (self *CrdtStrategy) publishPresence() {
	mapping := self.awareness.ColorMapping()
	self.fx.add(func() {
		self.session.Presence().Replace(mapping)
	})
}

// must be called with the state lock
func (self *CrdtStrategy) onFirstSync() {
	self.synced = true
	// clients already on the map announced their awareness before the sync completed
	self.resolveColor()
	snapshot, err := self.replica.Snapshot()
	if err != nil {
		glog.Infof("[crdt]read replica = %s\n", err)
		return
	}
	pending := self.pending
	self.pending = nil
	if len(snapshot) == 0 {
		// a new map. Seed the replica with the local tree, which already has the pending edits.
		local := self.document.GetSnapshot()
		if 0 < len(local) {
			glog.V(1).Infof("[crdt]seed %s with %d nodes\n", self.mapId, len(local))
			if err := self.replica.Transact(OriginImport, func(tx *Transaction) error {
				if err := tx.ReplaceNodes(local); err != nil {
					return err
				}
				return tx.SetOptions(self.session.MapOptions())
			}); err != nil {
				glog.Infof("[crdt]seed error = %s\n", err)
			}
			return
		}
	}
	if 0 < len(pending) {
		glog.V(1).Infof("[crdt]replay %d pending writes\n", len(pending))
		for _, p := range pending {
			self.transact(p.operation, p.origin, p.do)
		}
		snapshot, err = self.replica.Snapshot()
		if err != nil {
			glog.Infof("[crdt]read replica = %s\n", err)
			return
		}
	}
	glog.V(1).Infof("[crdt]synced %s with %d nodes\n", self.mapId, len(snapshot))
	self.loadReplica(snapshot)
}

// must be called with the state lock
func (self *CrdtStrategy) loadReplica(snapshot Snapshot) {
	self.document.LoadSnapshot(SortParentFirst(snapshot.Clone()))
	self.mirror = snapshot
	self.publishReplicaOptions()
}

// must be called with the state lock
func (self *CrdtStrategy) publishReplicaOptions() {
	options, err := self.replica.Options()
	if err != nil || options == nil {
		return
	}
	self.fx.add(func() {
		self.session.setMapOptions(options)
	})
}

// replica observer. Runs inside the locked call that changed the replica.
func (self *CrdtStrategy) onReplicaEvent(event *ReplicaEvent) {
	snapshot, err := self.replica.Snapshot()
	if err != nil {
		glog.Infof("[crdt]read replica = %s\n", err)
		return
	}

	if !ShouldHandleTransaction(event.Origin) {
		// already in the local tree
		self.mirror = snapshot
		return
	}
	if !self.synced {
		// the first sync loads the full tree
		return
	}

	remoteEventTotal.WithLabelValues(string(StrategyCrdt), event.Origin).Inc()
	if event.Imported {
		glog.V(1).Infof("[crdt]%s import, reload %d nodes\n", event.Origin, len(snapshot))
		self.undoManager.Clear()
		self.optionsUndoManager.Clear()
		self.loadReplica(snapshot)
		return
	}

	diff := Diff(self.mirror, snapshot)
	glog.V(2).Infof("[crdt]%s %d added %d updated %d deleted\n", event.Origin, len(diff.Added), len(diff.Updated), len(diff.Deleted))
	ApplyDiff(self.document, diff)
	self.mirror = snapshot
	self.publishReplicaOptions()
}

// local events

// must be called with the state lock
func (self *CrdtStrategy) subscribeDocument(generation uint64) {
	on := func(event DocumentEvent, handle func(data *DocumentEventData)) {
		unsubscribe := self.document.Subscribe(event, func(data *DocumentEventData) {
			self.run(generation, func() {
				handle(data)
			})
		})
		self.documentListeners = append(self.documentListeners, unsubscribe)
	}

	on(EventCreate, self.onCreate)
	on(EventNodeSelect, self.onNodeSelect)
	on(EventNodeDeselect, self.onNodeDeselect)
	on(EventNodeUpdate, self.onNodeUpdate)
	on(EventNodeCreate, self.onNodeCreate)
	on(EventNodePaste, self.onNodePaste)
	on(EventNodeRemove, self.onNodeRemove)
	on(EventUndo, self.onHistoryEvent)
	on(EventRedo, self.onHistoryEvent)
}

// must be called with the state lock
func (self *CrdtStrategy) unsubscribeDocument() {
	for _, unsubscribe := range self.documentListeners {
		unsubscribe()
	}
	self.documentListeners = nil
}

// writes a transaction and pushes it to the peer. Read-only sessions write nothing.
// Before the first sync the write is held and replayed on top of the server state.
// must be called with the state lock
func (self *CrdtStrategy) transact(operation string, origin string, do func(tx *Transaction) error) {
	if !self.session.Writable() {
		glog.V(1).Infof("[crdt]%s dropped while read-only\n", operation)
		return
	}
	if !self.synced {
		glog.V(2).Infof("[crdt]%s held until synced\n", operation)
		self.pending = append(self.pending, pendingTransaction{
			operation: operation,
			origin:    origin,
			do:        do,
		})
		return
	}
	if err := self.replica.Transact(origin, do); err != nil {
		glog.Infof("[crdt]%s error = %s\n", operation, err)
	}
	self.sendSyncMessages()
}

func (self *CrdtStrategy) onCreate(data *DocumentEventData) {
	nodes := Snapshot(data.Nodes).Clone()
	self.transact("create", OriginImport, func(tx *Transaction) error {
		return tx.ReplaceNodes(nodes)
	})
}

func (self *CrdtStrategy) onNodeSelect(data *DocumentEventData) {
	self.setSelection(data.NodeId)
}

func (self *CrdtStrategy) onNodeDeselect(data *DocumentEventData) {
	self.setSelection("")
}

// must be called with the state lock
func (self *CrdtStrategy) setSelection(nodeId string) {
	state := self.awareness.LocalState()
	if state == nil {
		state = &AwarenessState{
			Color: self.color,
		}
	}
	state.SelectedNodeId = nodeId
	update := self.awareness.SetLocalState(state)
	if self.channel.Connected() {
		self.send(EncodeAwarenessFrame(update))
	}
	self.publishPresence()
}

func (self *CrdtStrategy) onNodeUpdate(data *DocumentEventData) {
	node := data.Node.Clone()
	property := data.Property
	self.transact("updateNode", OriginLocal, func(tx *Transaction) error {
		exists, err := tx.NodeExists(node.Id)
		if err != nil {
			return err
		}
		if !exists {
			return tx.SetNode(node)
		}
		value, err := node.Property(property)
		if err != nil {
			return err
		}
		return tx.UpdateNode(node.Id, property, value)
	})
}

func (self *CrdtStrategy) onNodeCreate(data *DocumentEventData) {
	node := data.Node.Clone()
	self.transact("addNode", OriginLocal, func(tx *Transaction) error {
		return tx.SetNode(node)
	})
}

func (self *CrdtStrategy) onNodePaste(data *DocumentEventData) {
	nodes := Snapshot(data.Nodes).Clone()
	self.transact("pasteNodes", OriginLocal, func(tx *Transaction) error {
		for _, node := range nodes {
			if err := tx.SetNode(node); err != nil {
				return err
			}
		}
		return nil
	})
}

func (self *CrdtStrategy) onNodeRemove(data *DocumentEventData) {
	nodeId := data.Node.Id
	self.transact("removeNode", OriginLocal, func(tx *Transaction) error {
		return tx.DeleteNode(nodeId)
	})
}

// the tree ran its own undo or redo. The diff is already applied locally.
func (self *CrdtStrategy) onHistoryEvent(data *DocumentEventData) {
	if data.Diff == nil || data.Diff.IsEmpty() {
		return
	}
	diff := data.Diff
	self.transact("applyDiff", OriginLocal, func(tx *Transaction) error {
		return writeDiff(tx, diff)
	})
}

func writeDiff(tx *Transaction, diff *SnapshotDiff) error {
	for _, node := range diff.Added {
		if node != nil {
			if err := tx.SetNode(node); err != nil {
				return err
			}
		}
	}
	for nodeId, patch := range diff.Updated {
		exists, err := tx.NodeExists(nodeId)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		for property, value := range patch {
			if err := tx.UpdateNode(nodeId, property, value); err != nil {
				return err
			}
		}
	}
	for nodeId := range diff.Deleted {
		if err := tx.DeleteNode(nodeId); err != nil {
			return err
		}
	}
	return nil
}

// operations

func (self *CrdtStrategy) Undo() {
	self.locked(func() {
		if !self.attached || !self.session.Writable() {
			return
		}
		if self.undoManager.Undo() {
			self.sendSyncMessages()
		}
	})
}

func (self *CrdtStrategy) Redo() {
	self.locked(func() {
		if !self.attached || !self.session.Writable() {
			return
		}
		if self.undoManager.Redo() {
			self.sendSyncMessages()
		}
	})
}

// undoes this client's last map options change. Node history is separate.
func (self *CrdtStrategy) UndoMapOptions() {
	self.locked(func() {
		if !self.attached || !self.session.Writable() {
			return
		}
		if self.optionsUndoManager.Undo() {
			self.sendSyncMessages()
		}
	})
}

func (self *CrdtStrategy) RedoMapOptions() {
	self.locked(func() {
		if !self.attached || !self.session.Writable() {
			return
		}
		if self.optionsUndoManager.Redo() {
			self.sendSyncMessages()
		}
	})
}

// replaces the whole map. Not undoable. Peers reload their whole tree.
func (self *CrdtStrategy) ImportMap(snapshot Snapshot, options *MapOptions) (returnErr error) {
	self.locked(func() {
		if !self.attached {
			returnErr = ErrNoMap
			return
		}
		if !self.session.Writable() {
			returnErr = ErrNotWritable
			return
		}
		if !self.synced {
			returnErr = ErrNotSynced
			return
		}
		returnErr = self.replica.Transact(OriginImport, func(tx *Transaction) error {
			if err := tx.ReplaceNodes(snapshot); err != nil {
				return err
			}
			if options != nil {
				return tx.SetOptions(options)
			}
			return nil
		})
		self.sendSyncMessages()
	})
	return
}

func (self *CrdtStrategy) UpdateMapOptions(options *MapOptions) {
	if options == nil {
		options = self.session.MapOptions()
	}
	self.session.setMapOptions(options)
	self.locked(func() {
		if !self.attached {
			return
		}
		self.transact("updateMapOptions", OriginLocal, func(tx *Transaction) error {
			return tx.SetOptions(options)
		})
	})
}

// deletes the map through the map service. The server then closes every channel of the map.
func (self *CrdtStrategy) DeleteMap(adminId string) error {
	var mapId string
	self.locked(func() {
		mapId = self.mapId
	})
	if mapId == "" {
		return ErrNoMap
	}
	if self.deleter == nil {
		return fmt.Errorf("No map service to delete %s.", mapId)
	}
	return self.deleter.DeleteMap(self.ctx, mapId, adminId)
}

func (self *CrdtStrategy) SetWritable(writable bool) {
	self.session.setWritable(writable)
}

// the encoded replica, e.g. for offline storage
func (self *CrdtStrategy) SaveReplica() ([]byte, error) {
	var b []byte
	var err error
	self.locked(func() {
		if self.replica == nil {
			err = ErrNoMap
			return
		}
		b = self.replica.Save()
	})
	return b, err
}

package mapsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
)

// server-authoritative strategy. Every local mutation is sent with an ack and validated by the server.
// Local state is optimistic. Failed acks go to `ErrorRecovery`, which reloads the server's state.
// Undo and redo replay diffs between entries of a local snapshot history.
type RpcStrategy struct {
	ctx    context.Context
	cancel context.CancelFunc

	channel  EventChannel
	document DocumentAdapter
	session  *MapSession
	recovery *ErrorRecovery
	settings *RpcStrategySettings

	stateLock sync.Mutex
	secret    string
	color     string
	mapId     string
	// incremented on every attach and detach. Handlers from an older generation are no-ops.
	generation         uint64
	history            *SnapshotHistory
	documentListeners  []func()
	channelListeners   []func()
	connectionListener func()
	destroyed          bool
}

func NewRpcStrategyWithDefaults(
	ctx context.Context,
	channel EventChannel,
	document DocumentAdapter,
	session *MapSession,
	notifier Notifier,
	auth *ClientAuth,
	color string,
) *RpcStrategy {
	settings := DefaultRpcStrategySettings()
	return NewRpcStrategy(ctx, channel, document, session, notifier, auth, color, &settings, DefaultMapSyncSettings().NotificationInterval)
}

func NewRpcStrategy(
	ctx context.Context,
	channel EventChannel,
	document DocumentAdapter,
	session *MapSession,
	notifier Notifier,
	auth *ClientAuth,
	color string,
	settings *RpcStrategySettings,
	notificationInterval time.Duration,
) *RpcStrategy {
	cancelCtx, cancel := context.WithCancel(ctx)
	if color == "" || !IsValidColor(color) {
		color = RandomColor()
	}
	strategy := &RpcStrategy{
		ctx:      cancelCtx,
		cancel:   cancel,
		channel:  channel,
		document: document,
		session:  session,
		settings: settings,
		secret:   auth.ModificationSecret,
		color:    color,
		history:  NewSnapshotHistory(settings.HistoryCapacity),
	}
	strategy.recovery = NewErrorRecovery(notifier, strategy.reload, notificationInterval)
	return strategy
}

func (self *RpcStrategy) Recovery() *ErrorRecovery {
	return self.recovery
}

// runs `do` with the state lock when `generation` is current, then runs the queued effects
func (self *RpcStrategy) run(generation uint64, do func(fx *effects)) {
	fx := &effects{}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.destroyed || generation != self.generation {
			return
		}
		do(fx)
	}()
	fx.run()
}

func (self *RpcStrategy) currentGeneration() uint64 {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.generation
}

func (self *RpcStrategy) Connect() error {
	fx := &effects{}
	err := func() error {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.destroyed {
			return ErrChannelClosed
		}
		if self.connectionListener != nil {
			return nil
		}
		self.connectionListener = self.channel.AddConnectionCallback(self.onConnection)
		if self.channel.Connected() {
			fx.add(func() {
				self.session.setConnectionStatus(ConnectionStatusConnected)
			})
		}
		return nil
	}()
	fx.run()
	return err
}

func (self *RpcStrategy) onConnection(connected bool) {
	fx := &effects{}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.destroyed {
			return
		}
		if connected {
			fx.add(func() {
				self.session.setConnectionStatus(ConnectionStatusConnected)
			})
			if self.mapId != "" {
				glog.V(1).Infof("[rpc]rejoin %s\n", self.mapId)
				self.join()
			}
		} else {
			fx.add(func() {
				self.session.setConnectionStatus(ConnectionStatusDisconnected)
			})
		}
	}()
	fx.run()
}

func (self *RpcStrategy) InitMap(mapId string) error {
	fx := &effects{}
	defer fx.run()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.destroyed {
		return ErrChannelClosed
	}

	if mapId == self.mapId {
		// already attached. Only refresh the local listeners.
		glog.V(1).Infof("[rpc]reattach %s\n", mapId)
		self.unsubscribeDocument()
		self.subscribeDocument(self.generation)
		return nil
	}

	if self.mapId != "" {
		self.detach(fx)
	}

	self.generation += 1
	self.mapId = mapId
	self.history = NewSnapshotHistory(self.settings.HistoryCapacity)
	self.subscribeChannel(self.generation)
	self.subscribeDocument(self.generation)
	glog.V(1).Infof("[rpc]attach %s\n", mapId)

	if self.channel.Connected() {
		self.join()
	}
	return nil
}

// must be called with the state lock
func (self *RpcStrategy) join() {
	generation := self.generation
	mapId := self.mapId
	self.channel.EmitWithAck(RpcJoin, &JoinRequest{
		MapId: mapId,
		Color: self.color,
	}, func(ack []byte, err error) {
		if err != nil {
			glog.Infof("[rpc]join %s error = %s\n", mapId, err)
			return
		}
		result := ParseAck(ack)
		ackTotal.WithLabelValues(RpcJoin, result.Kind.String()).Inc()
		if result.Kind != AckSuccess {
			if generation == self.currentGeneration() {
				self.recovery.Handle(RpcJoin, result)
			}
			return
		}
		var serverMap ServerMap
		if err := json.Unmarshal(result.Data, &serverMap); err != nil {
			if generation == self.currentGeneration() {
				self.recovery.Handle(RpcJoin, malformedAck("Join data is not a map: %s", err))
			}
			return
		}
		if err := serverMap.Validate(); err != nil {
			if generation == self.currentGeneration() {
				self.recovery.Handle(RpcJoin, malformedAck("Join map failed validation: %s", err))
			}
			return
		}
		self.run(generation, func(fx *effects) {
			self.loadServerMap(&serverMap, fx)
			color := self.color
			clientId := self.session.ClientId()
			fx.add(func() {
				presence := self.session.Presence()
				used := presence.UsedColors(clientId)
				resolved := ResolveColor(color, used)
				if resolved != color {
					self.stateLock.Lock()
					self.color = resolved
					self.stateLock.Unlock()
				}
				previous, _ := presence.Get(clientId)
				presence.Set(clientId, ClientPresence{
					Color:  resolved,
					NodeId: previous.NodeId,
				})
			})
		})
	})
}

// authoritative reload, used by error recovery
func (self *RpcStrategy) reload(serverMap *ServerMap) {
	fx := &effects{}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.destroyed || self.mapId == "" {
			return
		}
		glog.V(1).Infof("[rpc]reload %s\n", self.mapId)
		self.loadServerMap(serverMap, fx)
	}()
	fx.run()
}

// must be called with the state lock
func (self *RpcStrategy) loadServerMap(serverMap *ServerMap, fx *effects) {
	self.document.LoadSnapshot(serverMap.Snapshot())
	self.history.Reset(self.document.GetSnapshot())
	options := serverMap.Options
	fx.add(func() {
		self.session.setMapOptions(options)
	})
	self.publishHistoryState(fx)
}

// must be called with the state lock
func (self *RpcStrategy) publishHistoryState(fx *effects) {
	canUndo := self.history.CanUndo()
	canRedo := self.history.CanRedo()
	fx.add(func() {
		self.session.setHistoryState(canUndo, canRedo)
	})
}

// must be called with the state lock
func (self *RpcStrategy) subscribeDocument(generation uint64) {
	on := func(event DocumentEvent, handle func(data *DocumentEventData, fx *effects)) {
		unsubscribe := self.document.Subscribe(event, func(data *DocumentEventData) {
			self.run(generation, func(fx *effects) {
				handle(data, fx)
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
func (self *RpcStrategy) unsubscribeDocument() {
	for _, unsubscribe := range self.documentListeners {
		unsubscribe()
	}
	self.documentListeners = nil
}

// must be called with the state lock
func (self *RpcStrategy) subscribeChannel(generation uint64) {
	on := func(event string, handle func(data []byte, fx *effects)) {
		unsubscribe := self.channel.On(event, func(data []byte) {
			self.run(generation, func(fx *effects) {
				remoteEventTotal.WithLabelValues(string(StrategyRpc), event).Inc()
				handle(data, fx)
			})
		})
		self.channelListeners = append(self.channelListeners, unsubscribe)
	}

	on(RpcNodesAdded, self.onNodesAdded)
	on(RpcNodeUpdated, self.onNodeUpdated)
	on(RpcNodeRemoved, self.onNodeRemoved)
	on(RpcMapUpdated, self.onMapUpdated)
	on(RpcMapChangesUndoRedo, self.onMapChangesUndoRedo)
	on(RpcMapOptionsUpdated, self.onMapOptionsUpdated)
	on(RpcSelectionUpdated, self.onSelectionUpdated)
	on(RpcClientListUpdated, self.onClientListUpdated)
	on(RpcClientDisconnect, self.onClientDisconnect)
	on(RpcClientNotification, self.onClientNotification)
	on(RpcMapDeleted, self.onMapDeleted)
}

// must be called with the state lock
func (self *RpcStrategy) unsubscribeChannel() {
	for _, unsubscribe := range self.channelListeners {
		unsubscribe()
	}
	self.channelListeners = nil
}

// local events

// must be called with the state lock
func (self *RpcStrategy) writable(operation string) bool {
	if self.session.Writable() {
		return true
	}
	glog.V(1).Infof("[rpc]%s dropped while read-only\n", operation)
	return false
}

// must be called with the state lock
func (self *RpcStrategy) sendMutation(operation string, data any) {
	generation := self.generation
	self.channel.EmitWithAck(operation, data, func(ack []byte, err error) {
		if err != nil {
			// transport failures surface as connection status, not as recovery
			glog.Infof("[rpc]%s error = %s\n", operation, err)
			return
		}
		result := ParseAck(ack)
		ackTotal.WithLabelValues(operation, result.Kind.String()).Inc()
		if generation != self.currentGeneration() {
			return
		}
		self.recovery.Handle(operation, result)
	})
}

// must be called with the state lock
func (self *RpcStrategy) saveHistory(fx *effects) {
	self.history.Save(self.document.GetSnapshot())
	self.publishHistoryState(fx)
}

func (self *RpcStrategy) onCreate(data *DocumentEventData, fx *effects) {
	// a new tree starts a new history
	self.history.Reset(Snapshot(data.Nodes))
	self.publishHistoryState(fx)
}

func (self *RpcStrategy) onNodeSelect(data *DocumentEventData, fx *effects) {
	self.sendSelection(data.NodeId, true, fx)
}

func (self *RpcStrategy) onNodeDeselect(data *DocumentEventData, fx *effects) {
	self.sendSelection(data.NodeId, false, fx)
}

// must be called with the state lock
func (self *RpcStrategy) sendSelection(nodeId string, selected bool, fx *effects) {
	if err := self.channel.Emit(RpcUpdateNodeSelection, &UpdateNodeSelectionRequest{
		MapId:    self.mapId,
		NodeId:   nodeId,
		Selected: selected,
	}); err != nil {
		glog.V(1).Infof("[rpc]selection error = %s\n", err)
	}
	clientId := self.session.ClientId()
	fx.add(func() {
		if selected {
			self.session.Presence().SetSelection(clientId, nodeId)
		} else {
			self.session.Presence().SetSelection(clientId, "")
		}
	})
}

func (self *RpcStrategy) onNodeUpdate(data *DocumentEventData, fx *effects) {
	if !self.writable(RpcUpdateNode) {
		return
	}
	self.saveHistory(fx)
	self.sendMutation(RpcUpdateNode, &UpdateNodeRequest{
		MapId:           self.mapId,
		Node:            data.Node,
		UpdatedProperty: data.Property,
		Secret:          self.secret,
	})
}

func (self *RpcStrategy) onNodeCreate(data *DocumentEventData, fx *effects) {
	if !self.writable(RpcAddNodes) {
		return
	}
	self.saveHistory(fx)
	self.sendMutation(RpcAddNodes, &AddNodesRequest{
		MapId:  self.mapId,
		Nodes:  []*NodeRecord{data.Node},
		Secret: self.secret,
	})
}

func (self *RpcStrategy) onNodePaste(data *DocumentEventData, fx *effects) {
	if !self.writable(RpcAddNodes) {
		return
	}
	self.saveHistory(fx)
	self.sendMutation(RpcAddNodes, &AddNodesRequest{
		MapId:  self.mapId,
		Nodes:  SortParentFirstFunc(data.Nodes, self.isPasteAnchor(data.Nodes)),
		Secret: self.secret,
	})
}

// pasted roots hang off nodes outside the pasted set
func (self *RpcStrategy) isPasteAnchor(nodes []*NodeRecord) func(*NodeRecord) bool {
	pasted := map[string]bool{}
	for _, node := range nodes {
		pasted[node.Id] = true
	}
	return func(node *NodeRecord) bool {
		return node.IsRoot || !pasted[node.Parent]
	}
}

func (self *RpcStrategy) onNodeRemove(data *DocumentEventData, fx *effects) {
	if !self.writable(RpcRemoveNode) {
		return
	}
	self.saveHistory(fx)
	self.sendMutation(RpcRemoveNode, &RemoveNodeRequest{
		MapId:  self.mapId,
		Node:   data.Node,
		Secret: self.secret,
	})
}

// the tree ran its own undo or redo. The diff is already applied locally.
func (self *RpcStrategy) onHistoryEvent(data *DocumentEventData, fx *effects) {
	if data.Diff == nil || data.Diff.IsEmpty() {
		return
	}
	if !self.writable(RpcApplyMapChangesByDiff) {
		return
	}
	self.saveHistory(fx)
	self.sendDiff(data.Diff)
}

// must be called with the state lock
func (self *RpcStrategy) sendDiff(diff *SnapshotDiff) {
	self.sendMutation(RpcApplyMapChangesByDiff, &ApplyMapChangesByDiffRequest{
		MapId:       self.mapId,
		Diff:        diff,
		OperationId: NewId(),
		Secret:      self.secret,
	})
}

func (self *RpcStrategy) Undo() {
	self.step(true)
}

func (self *RpcStrategy) Redo() {
	self.step(false)
}

func (self *RpcStrategy) step(undo bool) {
	fx := &effects{}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.destroyed || self.mapId == "" {
			return
		}
		operation := "undo"
		if !undo {
			operation = "redo"
		}
		if !self.writable(operation) {
			return
		}
		var diff *SnapshotDiff
		var ok bool
		if undo {
			diff, ok = self.history.Undo()
		} else {
			diff, ok = self.history.Redo()
		}
		if !ok {
			return
		}
		glog.V(2).Infof("[rpc]%s %d added %d updated %d deleted\n", operation, len(diff.Added), len(diff.Updated), len(diff.Deleted))
		ApplyDiff(self.document, diff)
		self.publishHistoryState(fx)
		if !diff.IsEmpty() {
			self.sendDiff(diff)
		}
	}()
	fx.run()
}

// remote events

func decodePush[T any](event string, data []byte) (*T, bool) {
	var push T
	if err := json.Unmarshal(data, &push); err != nil {
		glog.Infof("[rpc]drop bad %s = %s\n", event, err)
		return nil, false
	}
	return &push, true
}

// must be called with the state lock
func (self *RpcStrategy) isEcho(clientId string) bool {
	return clientId != "" && clientId == self.session.ClientId()
}

func (self *RpcStrategy) onNodesAdded(data []byte, fx *effects) {
	push, ok := decodePush[NodesAddedPush](RpcNodesAdded, data)
	if !ok || self.isEcho(push.ClientId) {
		return
	}
	added := []*NodeRecord{}
	for _, node := range push.Nodes {
		if node != nil && !self.document.NodeExists(node.Id) {
			added = append(added, node)
		}
	}
	added = SortParentFirstFunc(added, func(node *NodeRecord) bool {
		return node.IsRoot || self.document.NodeExists(node.Parent)
	})
	if len(added) != 0 {
		self.document.ApplyAddedNodes(added)
	}
}

func (self *RpcStrategy) onNodeUpdated(data []byte, fx *effects) {
	push, ok := decodePush[NodeUpdatedPush](RpcNodeUpdated, data)
	if !ok || self.isEcho(push.ClientId) || push.Node == nil {
		return
	}
	value, err := push.Node.Property(push.Property)
	if err != nil {
		glog.Infof("[rpc]drop %s = %s\n", RpcNodeUpdated, err)
		return
	}
	if self.document.NodeExists(push.Node.Id) {
		self.document.ApplyUpdatedNode(push.Node.Id, push.Property, value)
	}
}

func (self *RpcStrategy) onNodeRemoved(data []byte, fx *effects) {
	push, ok := decodePush[NodeRemovedPush](RpcNodeRemoved, data)
	if !ok || self.isEcho(push.ClientId) {
		return
	}
	if self.document.NodeExists(push.NodeId) {
		self.document.ApplyRemovedNode(push.NodeId)
	}
}

func (self *RpcStrategy) onMapUpdated(data []byte, fx *effects) {
	push, ok := decodePush[MapUpdatedPush](RpcMapUpdated, data)
	if !ok || push.Map == nil {
		return
	}
	if err := push.Map.Validate(); err != nil {
		glog.Infof("[rpc]drop %s = %s\n", RpcMapUpdated, err)
		return
	}
	self.loadServerMap(push.Map, fx)
}

func (self *RpcStrategy) onMapChangesUndoRedo(data []byte, fx *effects) {
	push, ok := decodePush[MapChangesUndoRedoPush](RpcMapChangesUndoRedo, data)
	if !ok || self.isEcho(push.ClientId) || push.Diff == nil {
		return
	}
	glog.V(2).Infof("[rpc]replay %s from %s\n", push.OperationId, push.ClientId)
	ApplyDiff(self.document, push.Diff)
}

func (self *RpcStrategy) onMapOptionsUpdated(data []byte, fx *effects) {
	push, ok := decodePush[MapOptionsUpdatedPush](RpcMapOptionsUpdated, data)
	if !ok || self.isEcho(push.ClientId) || push.Options == nil {
		return
	}
	options := push.Options
	fx.add(func() {
		self.session.setMapOptions(options)
	})
}

func (self *RpcStrategy) onSelectionUpdated(data []byte, fx *effects) {
	push, ok := decodePush[SelectionUpdatedPush](RpcSelectionUpdated, data)
	if !ok || self.isEcho(push.ClientId) {
		return
	}
	nodeId := ""
	if push.Selected {
		nodeId = push.NodeId
	}
	fx.add(func() {
		self.session.Presence().SetSelection(push.ClientId, nodeId)
	})
}

func (self *RpcStrategy) onClientListUpdated(data []byte, fx *effects) {
	push, ok := decodePush[ClientListUpdatedPush](RpcClientListUpdated, data)
	if !ok {
		return
	}
	fx.add(func() {
		presence := self.session.Presence()
		previous := presence.Mapping()
		next := ColorMapping{}
		for clientId, color := range push.Clients {
			next[clientId] = ClientPresence{
				Color:  color,
				NodeId: previous[clientId].NodeId,
			}
		}
		presence.Replace(next)
	})
}

func (self *RpcStrategy) onClientDisconnect(data []byte, fx *effects) {
	push, ok := decodePush[ClientDisconnectPush](RpcClientDisconnect, data)
	if !ok {
		return
	}
	fx.add(func() {
		self.session.Presence().Remove(push.ClientId)
	})
}

func (self *RpcStrategy) onClientNotification(data []byte, fx *effects) {
	push, ok := decodePush[ClientNotificationPush](RpcClientNotification, data)
	if !ok || self.isEcho(push.ClientId) {
		return
	}
	notifier := self.recovery.notifier
	if notifier == nil {
		return
	}
	fx.add(func() {
		notifier.ShowInfo(push.Type, push.Message)
	})
}

func (self *RpcStrategy) onMapDeleted(data []byte, fx *effects) {
	push, ok := decodePush[MapDeletedPush](RpcMapDeleted, data)
	if !ok {
		return
	}
	if push.MapId != "" && push.MapId != self.mapId {
		return
	}
	glog.V(1).Infof("[rpc]map deleted %s\n", self.mapId)
	self.detach(fx)
	fx.add(func() {
		self.channel.Close()
		self.session.notifyMapDeleted()
	})
}

// lifecycle

func (self *RpcStrategy) Detach() {
	fx := &effects{}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.mapId == "" {
			return
		}
		glog.V(1).Infof("[rpc]detach %s\n", self.mapId)
		self.detach(fx)
	}()
	fx.run()
}

// must be called with the state lock
func (self *RpcStrategy) detach(fx *effects) {
	self.unsubscribeDocument()
	self.unsubscribeChannel()
	self.generation += 1
	self.mapId = ""
	fx.add(func() {
		self.session.Presence().Reset()
	})
}

func (self *RpcStrategy) Destroy() {
	fx := &effects{}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.destroyed {
			return
		}
		glog.V(1).Infof("[rpc]destroy\n")
		if self.mapId != "" {
			self.detach(fx)
		}
		if self.connectionListener != nil {
			self.connectionListener()
			self.connectionListener = nil
		}
		self.destroyed = true
	}()
	fx.run()
	self.channel.Close()
	self.cancel()
}

func (self *RpcStrategy) UpdateMapOptions(options *MapOptions) {
	if options == nil {
		options = self.session.MapOptions()
	}
	self.session.setMapOptions(options)
	self.run(self.currentGeneration(), func(fx *effects) {
		if self.mapId == "" || !self.writable(RpcUpdateMapOptions) {
			return
		}
		self.sendMutation(RpcUpdateMapOptions, &UpdateMapOptionsRequest{
			MapId:   self.mapId,
			Options: options,
			Secret:  self.secret,
		})
	})
}

func (self *RpcStrategy) SetWritable(writable bool) {
	self.session.setWritable(writable)
}

// blocks until the ack arrives. Must not be called from a strategy callback.
func (self *RpcStrategy) emitAndWait(event string, data any) (*AckResult, error) {
	type ackResult struct {
		ack []byte
		err error
	}
	done := make(chan ackResult, 1)
	self.channel.EmitWithAck(event, data, func(ack []byte, err error) {
		done <- ackResult{ack: ack, err: err}
	})
	select {
	case <-self.ctx.Done():
		return nil, ErrChannelClosed
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		result := ParseAck(r.ack)
		ackTotal.WithLabelValues(event, result.Kind.String()).Inc()
		return result, nil
	}
}

func (self *RpcStrategy) attachedMapId() (string, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.destroyed {
		return "", ErrChannelClosed
	}
	if self.mapId == "" {
		return "", ErrNoMap
	}
	return self.mapId, nil
}

func (self *RpcStrategy) DeleteMap(adminId string) error {
	mapId, err := self.attachedMapId()
	if err != nil {
		return err
	}
	result, err := self.emitAndWait(RpcDeleteMap, &DeleteMapRequest{
		MapId:   mapId,
		AdminId: adminId,
	})
	if err != nil {
		return err
	}
	if result.Kind != AckSuccess {
		return &AckError{Operation: RpcDeleteMap, Result: result}
	}
	glog.V(1).Infof("[rpc]deleted %s\n", mapId)
	return nil
}

// asks the server whether `secret` grants edit access. A valid secret is used for later mutations
// and the session becomes writable.
func (self *RpcStrategy) CheckModificationSecret(secret string) (bool, error) {
	mapId, err := self.attachedMapId()
	if err != nil {
		return false, err
	}
	result, err := self.emitAndWait(RpcCheckModificationSecret, &CheckModificationSecretRequest{
		MapId:  mapId,
		Secret: secret,
	})
	if err != nil {
		return false, err
	}
	if result.Kind != AckSuccess {
		return false, &AckError{Operation: RpcCheckModificationSecret, Result: result}
	}
	var valid bool
	if err := json.Unmarshal(result.Data, &valid); err != nil {
		return false, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}
	if valid {
		self.stateLock.Lock()
		self.secret = secret
		self.stateLock.Unlock()
	}
	self.session.setWritable(valid)
	return valid, nil
}

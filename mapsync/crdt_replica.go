package mapsync

import (
	"fmt"
	"slices"
	"strings"

	"github.com/automerge/automerge-go"
	"github.com/golang/glog"
)

// transaction origins. The origin is the commit message of the change.
const (
	// user edits. Tracked by the undo manager.
	OriginLocal = "local"
	// whole map replacement. Not undoable. Observers reload the whole tree.
	OriginImport = "import"
	// changes made by the undo manager
	OriginUndo = "undo"
	// changes received from another replica. Never a commit message.
	OriginRemote = "remote"
)

// root keys of the replicated document. Every node and every option is its own root entry,
// so replicas that write before they first sync never create competing containers.
const (
	replicaNodePrefix   = "node:"
	replicaOptionPrefix = "option:"
)

func replicaNodeKey(nodeId string) string {
	return replicaNodePrefix + nodeId
}

// the before and after state of one node touched by a transaction. nil is absent.
type NodeChange struct {
	Before *NodeRecord
	After  *NodeRecord
}

type OptionsChange struct {
	Before *MapOptions
	After  *MapOptions
}

type ReplicaEvent struct {
	Origin string
	// nodes touched by a local transaction. Not set for remote changes.
	Nodes map[string]*NodeChange
	// set when a local transaction wrote the options
	Options *OptionsChange
	// the change replaced the whole map
	Imported bool
}

type ReplicaObserver func(event *ReplicaEvent)

// observers react to every origin except plain local edits, which are already in the local tree.
// Undo manager changes and changes from other replicas are applied.
func ShouldHandleTransaction(origin string) bool {
	return origin != OriginLocal
}

// the local replica of a shared map: node id -> property -> json value, plus map options.
// Not safe for concurrent use. The owning strategy serializes access.
type Replica struct {
	doc       *automerge.Doc
	observers *CallbackList[ReplicaObserver]
}

func NewReplica() *Replica {
	return &Replica{
		doc:       automerge.New(),
		observers: NewCallbackList[ReplicaObserver](),
	}
}

func LoadReplica(b []byte) (*Replica, error) {
	doc, err := automerge.Load(b)
	if err != nil {
		return nil, err
	}
	return &Replica{
		doc:       doc,
		observers: NewCallbackList[ReplicaObserver](),
	}, nil
}

func (self *Replica) Save() []byte {
	return self.doc.Save()
}

func (self *Replica) AddObserver(observer ReplicaObserver) func() {
	return self.observers.Add(observer)
}

func (self *Replica) notify(event *ReplicaEvent) {
	for _, observer := range self.observers.Get() {
		HandleError(func() {
			observer(event)
		})
	}
}

func (self *Replica) Heads() []automerge.ChangeHash {
	return self.doc.Heads()
}

// reads

// the value at `key` as T. A missing key reads as the zero value.
func getValue[T any](m *automerge.Map, key string) (T, error) {
	var zero T
	v, err := m.Get(key)
	if err != nil {
		return zero, err
	}
	if v.Kind() == automerge.KindVoid {
		return zero, nil
	}
	return automerge.As[T](v)
}

// the property map of a node. nil when the node is missing.
func nodeMap(root *automerge.Map, nodeId string) (*automerge.Map, error) {
	v, err := root.Get(replicaNodeKey(nodeId))
	if err != nil {
		return nil, err
	}
	switch v.Kind() {
	case automerge.KindMap:
		return v.Map(), nil
	case automerge.KindVoid:
		return nil, nil
	default:
		glog.Infof("[crdt]skip node %s of kind %s\n", nodeId, v.Kind())
		return nil, nil
	}
}

func readNode(root *automerge.Map, nodeId string) (*NodeRecord, error) {
	properties, err := nodeMap(root, nodeId)
	if err != nil || properties == nil {
		return nil, err
	}
	node := &NodeRecord{
		Id: nodeId,
	}
	for _, property := range NodeProperties {
		valueJson, err := getValue[string](properties, property)
		if err != nil {
			glog.Infof("[crdt]skip bad property %s.%s = %s\n", nodeId, property, err)
			continue
		}
		if valueJson == "" {
			continue
		}
		if err := node.SetPropertyJson(property, valueJson); err != nil {
			glog.Infof("[crdt]skip bad property %s.%s = %s\n", nodeId, property, err)
		}
	}
	return node, nil
}

// node ids in key order
func (self *Replica) nodeIds() ([]string, error) {
	keys, err := self.doc.RootMap().Keys()
	if err != nil {
		return nil, err
	}
	nodeIds := []string{}
	for _, key := range keys {
		if nodeId, ok := strings.CutPrefix(key, replicaNodePrefix); ok {
			nodeIds = append(nodeIds, nodeId)
		}
	}
	slices.Sort(nodeIds)
	return nodeIds, nil
}

func (self *Replica) Node(nodeId string) (*NodeRecord, error) {
	return readNode(self.doc.RootMap(), nodeId)
}

// nodes in key order. Consumers that apply them one by one sort them parent-first.
func (self *Replica) Snapshot() (Snapshot, error) {
	nodeIds, err := self.nodeIds()
	if err != nil {
		return nil, err
	}
	root := self.doc.RootMap()
	snapshot := Snapshot{}
	for _, nodeId := range nodeIds {
		node, err := readNode(root, nodeId)
		if err != nil {
			return nil, err
		}
		if node != nil {
			snapshot = append(snapshot, node)
		}
	}
	return snapshot, nil
}

func optionValues(options *MapOptions) map[string]int64 {
	return map[string]int64{
		"fontMaxSize":   int64(options.FontMaxSize),
		"fontMinSize":   int64(options.FontMinSize),
		"fontIncrement": int64(options.FontIncrement),
	}
}

// nil when the map has no options yet
func (self *Replica) Options() (*MapOptions, error) {
	root := self.doc.RootMap()
	values := map[string]int{}
	for key := range optionValues(&MapOptions{}) {
		v, err := root.Get(replicaOptionPrefix + key)
		if err != nil {
			return nil, err
		}
		if v.Kind() == automerge.KindVoid {
			continue
		}
		value, err := automerge.As[int64](v)
		if err != nil {
			return nil, err
		}
		values[key] = int(value)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return &MapOptions{
		FontMaxSize:   values["fontMaxSize"],
		FontMinSize:   values["fontMinSize"],
		FontIncrement: values["fontIncrement"],
	}, nil
}

// writes

type Transaction struct {
	replica *Replica
	origin  string
	root    *automerge.Map
	writes  int

	changes       map[string]*NodeChange
	optionsChange *OptionsChange
}

// runs `do` as one change tagged with `origin` and notifies the observers.
// A transaction that writes nothing commits nothing and notifies no one.
func (self *Replica) Transact(origin string, do func(tx *Transaction) error) error {
	tx := &Transaction{
		replica: self,
		origin:  origin,
		root:    self.doc.RootMap(),
		changes: map[string]*NodeChange{},
	}
	if err := do(tx); err != nil {
		// automerge has no rollback of pending ops. Commit what was written so the log stays consistent.
		if 0 < tx.writes {
			if _, commitErr := self.doc.Commit(origin); commitErr != nil {
				glog.Infof("[crdt]commit after error = %s\n", commitErr)
			}
		}
		return err
	}
	if tx.writes == 0 {
		return nil
	}
	if _, err := self.doc.Commit(origin); err != nil {
		return err
	}

	for nodeId, change := range tx.changes {
		after, err := readNode(tx.root, nodeId)
		if err != nil {
			return err
		}
		change.After = after
		if change.Before == nil && change.After == nil {
			delete(tx.changes, nodeId)
		}
	}
	if tx.optionsChange != nil {
		after, err := self.Options()
		if err != nil {
			return err
		}
		tx.optionsChange.After = after
		before := tx.optionsChange.Before
		if before == nil && after == nil || before != nil && after != nil && *after == *before {
			tx.optionsChange = nil
		}
	}

	self.notify(&ReplicaEvent{
		Origin:   origin,
		Nodes:    tx.changes,
		Options:  tx.optionsChange,
		Imported: origin == OriginImport,
	})
	return nil
}

// records the before state on first touch
func (self *Transaction) touch(nodeId string) error {
	if _, ok := self.changes[nodeId]; ok {
		return nil
	}
	before, err := readNode(self.root, nodeId)
	if err != nil {
		return err
	}
	self.changes[nodeId] = &NodeChange{
		Before: before,
	}
	return nil
}

func (self *Transaction) Node(nodeId string) (*NodeRecord, error) {
	return readNode(self.root, nodeId)
}

func (self *Transaction) NodeExists(nodeId string) (bool, error) {
	node, err := readNode(self.root, nodeId)
	return node != nil, err
}

// writes every property of `node`. Properties equal to the stored value are not rewritten.
func (self *Transaction) SetNode(node *NodeRecord) error {
	if node.Id == "" {
		return fmt.Errorf("Node without id.")
	}
	if err := self.touch(node.Id); err != nil {
		return err
	}
	properties, err := nodeMap(self.root, node.Id)
	if err != nil {
		return err
	}
	if properties == nil {
		properties = automerge.NewMap()
		if err := self.root.Set(replicaNodeKey(node.Id), properties); err != nil {
			return err
		}
		self.writes += 1
	}
	for _, property := range NodeProperties {
		valueJson, err := node.PropertyJson(property)
		if err != nil {
			return err
		}
		if current, err := getValue[string](properties, property); err == nil && current == valueJson {
			continue
		}
		if err := properties.Set(property, valueJson); err != nil {
			return err
		}
		self.writes += 1
	}
	return nil
}

// writes one property. A value equal to the stored value is not rewritten.
func (self *Transaction) UpdateNode(nodeId string, property NodeProperty, value any) error {
	properties, err := nodeMap(self.root, nodeId)
	if err != nil {
		return err
	}
	if properties == nil {
		return fmt.Errorf("Node does not exist: %s", nodeId)
	}
	next := &NodeRecord{Id: nodeId}
	if err := next.SetProperty(property, value); err != nil {
		return err
	}
	valueJson, err := next.PropertyJson(property)
	if err != nil {
		return err
	}
	if current, err := getValue[string](properties, property); err == nil && current == valueJson {
		return nil
	}
	if err := self.touch(nodeId); err != nil {
		return err
	}
	if err := properties.Set(property, valueJson); err != nil {
		return err
	}
	self.writes += 1
	return nil
}

func (self *Transaction) parents() (map[string]string, error) {
	nodeIds, err := self.replica.nodeIds()
	if err != nil {
		return nil, err
	}
	parents := map[string]string{}
	for _, nodeId := range nodeIds {
		properties, err := nodeMap(self.root, nodeId)
		if err != nil {
			return nil, err
		}
		if properties == nil {
			continue
		}
		parentJson, err := getValue[string](properties, PropertyParent)
		if err != nil {
			continue
		}
		node := &NodeRecord{Id: nodeId}
		if parentJson != "" {
			if err := node.SetPropertyJson(PropertyParent, parentJson); err != nil {
				continue
			}
		}
		parents[nodeId] = node.Parent
	}
	return parents, nil
}

// deletes the node and every transitive descendant
func (self *Transaction) DeleteNode(nodeId string) error {
	exists, err := self.NodeExists(nodeId)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	parents, err := self.parents()
	if err != nil {
		return err
	}
	deleteIds := append([]string{nodeId}, Descendants(parents, nodeId)...)
	for _, deleteId := range deleteIds {
		if err := self.touch(deleteId); err != nil {
			return err
		}
		if err := self.root.Delete(replicaNodeKey(deleteId)); err != nil {
			return err
		}
		self.writes += 1
	}
	return nil
}

// removes a single entry without touching descendants. Used to restore a previous state.
func (self *Transaction) deleteNodeOnly(nodeId string) error {
	exists, err := self.NodeExists(nodeId)
	if err != nil || !exists {
		return err
	}
	if err := self.touch(nodeId); err != nil {
		return err
	}
	if err := self.root.Delete(replicaNodeKey(nodeId)); err != nil {
		return err
	}
	self.writes += 1
	return nil
}

// replaces the whole node set
func (self *Transaction) ReplaceNodes(snapshot Snapshot) error {
	nodeIds, err := self.replica.nodeIds()
	if err != nil {
		return err
	}
	next := snapshot.Index()
	for _, nodeId := range nodeIds {
		if _, ok := next[nodeId]; ok {
			continue
		}
		if err := self.deleteNodeOnly(nodeId); err != nil {
			return err
		}
	}
	for _, node := range snapshot {
		if err := self.SetNode(node); err != nil {
			return err
		}
	}
	return nil
}

// records the options before state on first touch
func (self *Transaction) touchOptions() error {
	if self.optionsChange != nil {
		return nil
	}
	before, err := self.replica.Options()
	if err != nil {
		return err
	}
	self.optionsChange = &OptionsChange{
		Before: before,
	}
	return nil
}

// writes the options that differ from the stored ones
func (self *Transaction) SetOptions(options *MapOptions) error {
	if err := self.touchOptions(); err != nil {
		return err
	}
	for key, value := range optionValues(options) {
		v, err := self.root.Get(replicaOptionPrefix + key)
		if err != nil {
			return err
		}
		if v.Kind() == automerge.KindInt64 && v.Int64() == value {
			continue
		}
		if err := self.root.Set(replicaOptionPrefix+key, value); err != nil {
			return err
		}
		self.writes += 1
	}
	return nil
}

// removes the stored options, e.g. to undo the first options write
func (self *Transaction) ClearOptions() error {
	if err := self.touchOptions(); err != nil {
		return err
	}
	for key := range optionValues(&MapOptions{}) {
		v, err := self.root.Get(replicaOptionPrefix + key)
		if err != nil {
			return err
		}
		if v.Kind() == automerge.KindVoid {
			continue
		}
		if err := self.root.Delete(replicaOptionPrefix + key); err != nil {
			return err
		}
		self.writes += 1
	}
	return nil
}

// sync

// per peer sync progress
type ReplicaSync struct {
	replica *Replica
	state   *automerge.SyncState
}

func (self *Replica) NewSync() *ReplicaSync {
	return &ReplicaSync{
		replica: self,
		state:   automerge.NewSyncState(self.doc),
	}
}

// the next message for the peer, if any
func (self *ReplicaSync) GenerateMessage() ([]byte, bool) {
	message, valid := self.state.GenerateMessage()
	if !valid {
		return nil, false
	}
	return message.Bytes(), true
}

// applies a peer message. Observers see one remote event when the document changed.
// `synced` is true when this replica now has every change the peer announced.
func (self *ReplicaSync) ReceiveMessage(b []byte) (synced bool, returnErr error) {
	doc := self.replica.doc
	previousHeads := doc.Heads()

	message, err := self.state.ReceiveMessage(b)
	if err != nil {
		returnErr = err
		return
	}

	heads := doc.Heads()
	synced = self.replica.hasChanges(message.Heads())

	if headsEqual(previousHeads, heads) {
		return
	}
	imported := false
	if changes, err := doc.Changes(previousHeads...); err == nil {
		for _, change := range changes {
			if change.Message() == OriginImport {
				imported = true
			}
		}
	} else {
		glog.Infof("[crdt]read changes = %s\n", err)
		// unknown content. Treat as a full replacement.
		imported = true
	}
	self.replica.notify(&ReplicaEvent{
		Origin:   OriginRemote,
		Imported: imported,
	})
	return
}

// true when every change in `hashes` is in this replica
func (self *Replica) hasChanges(hashes []automerge.ChangeHash) bool {
	for _, hash := range hashes {
		if _, err := self.doc.Change(hash); err != nil {
			return false
		}
	}
	return true
}

func headsEqual(a []automerge.ChangeHash, b []automerge.ChangeHash) bool {
	if len(a) != len(b) {
		return false
	}
	for _, hash := range b {
		if !slices.Contains(a, hash) {
			return false
		}
	}
	return true
}

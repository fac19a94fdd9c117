package mapsync

import (
	"fmt"
	"sync"
)

// an in-process `DocumentAdapter`.
// The local edit methods (`CreateNode`, `UpdateNode`, ...) mutate the tree and publish the
// corresponding event, the way an editing UI would. The `Apply*` methods do not publish.
type MemoryDocument struct {
	stateLock sync.Mutex
	nodes     Snapshot
	selected  string

	handlers map[DocumentEvent]*CallbackList[DocumentEventHandler]
}

func NewMemoryDocument() *MemoryDocument {
	handlers := map[DocumentEvent]*CallbackList[DocumentEventHandler]{}
	for _, event := range DocumentEvents {
		handlers[event] = NewCallbackList[DocumentEventHandler]()
	}
	return &MemoryDocument{
		nodes:    Snapshot{},
		handlers: handlers,
	}
}

func NewMemoryDocumentWithSnapshot(snapshot Snapshot) *MemoryDocument {
	document := NewMemoryDocument()
	document.nodes = SortParentFirst(snapshot.Clone())
	return document
}

func (self *MemoryDocument) emit(event DocumentEvent, data *DocumentEventData) {
	for _, handler := range self.handlers[event].Get() {
		HandleError(func() {
			handler(data)
		})
	}
}

// must be called with the state lock
func (self *MemoryDocument) indexOf(nodeId string) int {
	for i, node := range self.nodes {
		if node.Id == nodeId {
			return i
		}
	}
	return -1
}

// must be called with the state lock
func (self *MemoryDocument) removeWithDescendants(nodeId string) *NodeRecord {
	i := self.indexOf(nodeId)
	if i < 0 {
		return nil
	}
	removed := self.nodes[i]

	parents := map[string]string{}
	for _, node := range self.nodes {
		parents[node.Id] = node.Parent
	}
	removeIds := map[string]bool{
		nodeId: true,
	}
	for _, id := range Descendants(parents, nodeId) {
		removeIds[id] = true
	}
	nextNodes := make(Snapshot, 0, len(self.nodes))
	for _, node := range self.nodes {
		if !removeIds[node.Id] {
			nextNodes = append(nextNodes, node)
		}
	}
	self.nodes = nextNodes
	if removeIds[self.selected] {
		self.selected = ""
	}
	return removed
}

// DocumentAdapter implementation

func (self *MemoryDocument) ApplyAddedNodes(nodes []*NodeRecord) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for _, node := range nodes {
		if 0 <= self.indexOf(node.Id) {
			continue
		}
		self.nodes = append(self.nodes, node.Clone())
	}
}

func (self *MemoryDocument) ApplyUpdatedNode(nodeId string, property NodeProperty, value any) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	i := self.indexOf(nodeId)
	if i < 0 {
		return
	}
	next := self.nodes[i].Clone()
	if err := next.SetProperty(property, value); err != nil {
		return
	}
	self.nodes[i] = next
}

func (self *MemoryDocument) ApplyRemovedNode(nodeId string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.removeWithDescendants(nodeId)
}

func (self *MemoryDocument) NodeExists(nodeId string) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return 0 <= self.indexOf(nodeId)
}

func (self *MemoryDocument) GetSnapshot() Snapshot {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.nodes.Clone()
}

func (self *MemoryDocument) LoadSnapshot(snapshot Snapshot) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.nodes = SortParentFirst(snapshot.Clone())
	self.selected = ""
}

func (self *MemoryDocument) Subscribe(event DocumentEvent, handler DocumentEventHandler) func() {
	handlers, ok := self.handlers[event]
	if !ok {
		panic(fmt.Errorf("Unknown document event: %s", event))
	}
	return handlers.Add(handler)
}

// local edits

func (self *MemoryDocument) Node(nodeId string) *NodeRecord {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	i := self.indexOf(nodeId)
	if i < 0 {
		return nil
	}
	return self.nodes[i].Clone()
}

func (self *MemoryDocument) Selected() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.selected
}

func (self *MemoryDocument) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.nodes)
}

// replaces the tree with a new map
func (self *MemoryDocument) Create(snapshot Snapshot) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.nodes = SortParentFirst(snapshot.Clone())
		self.selected = ""
	}()
	self.emit(EventCreate, &DocumentEventData{
		Nodes: snapshot.Clone(),
	})
}

func (self *MemoryDocument) CreateNode(node *NodeRecord) error {
	err := func() error {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if 0 <= self.indexOf(node.Id) {
			return fmt.Errorf("Node already exists: %s", node.Id)
		}
		if !node.IsRoot && self.indexOf(node.Parent) < 0 {
			return fmt.Errorf("Parent does not exist: %s", node.Parent)
		}
		self.nodes = append(self.nodes, node.Clone())
		return nil
	}()
	if err != nil {
		return err
	}
	self.emit(EventNodeCreate, &DocumentEventData{
		Node: node.Clone(),
	})
	return nil
}

func (self *MemoryDocument) PasteNodes(nodes []*NodeRecord) error {
	err := func() error {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		for _, node := range nodes {
			if 0 <= self.indexOf(node.Id) {
				return fmt.Errorf("Node already exists: %s", node.Id)
			}
		}
		for _, node := range SortParentFirstFunc(nodes, func(node *NodeRecord) bool {
			return 0 <= self.indexOf(node.Parent)
		}) {
			self.nodes = append(self.nodes, node.Clone())
		}
		return nil
	}()
	if err != nil {
		return err
	}
	self.emit(EventNodePaste, &DocumentEventData{
		Nodes: Snapshot(nodes).Clone(),
	})
	return nil
}

func (self *MemoryDocument) UpdateNode(nodeId string, property NodeProperty, value any) error {
	node, err := func() (*NodeRecord, error) {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		i := self.indexOf(nodeId)
		if i < 0 {
			return nil, fmt.Errorf("Node does not exist: %s", nodeId)
		}
		next := self.nodes[i].Clone()
		if err := next.SetProperty(property, value); err != nil {
			return nil, err
		}
		self.nodes[i] = next
		return next.Clone(), nil
	}()
	if err != nil {
		return err
	}
	self.emit(EventNodeUpdate, &DocumentEventData{
		Node:     node,
		Property: property,
	})
	return nil
}

func (self *MemoryDocument) RemoveNode(nodeId string) error {
	removed := func() *NodeRecord {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		return self.removeWithDescendants(nodeId)
	}()
	if removed == nil {
		return fmt.Errorf("Node does not exist: %s", nodeId)
	}
	self.emit(EventNodeRemove, &DocumentEventData{
		Node: removed.Clone(),
	})
	return nil
}

func (self *MemoryDocument) SelectNode(nodeId string) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.selected = nodeId
	}()
	self.emit(EventNodeSelect, &DocumentEventData{
		NodeId: nodeId,
	})
}

func (self *MemoryDocument) DeselectNode() {
	nodeId := func() string {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		nodeId := self.selected
		self.selected = ""
		return nodeId
	}()
	self.emit(EventNodeDeselect, &DocumentEventData{
		NodeId: nodeId,
	})
}

// applies a diff from the tree's own history and publishes it as `undo` or `redo`
func (self *MemoryDocument) ApplyHistoryDiff(event DocumentEvent, diff *SnapshotDiff) error {
	if event != EventUndo && event != EventRedo {
		return fmt.Errorf("Not a history event: %s", event)
	}
	ApplyDiff(self, diff)
	self.emit(event, &DocumentEventData{
		Diff: diff,
	})
	return nil
}

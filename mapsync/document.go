package mapsync

// local mutation events published by the editable tree
type DocumentEvent string

const (
	EventCreate       DocumentEvent = "create"
	EventNodeSelect   DocumentEvent = "nodeSelect"
	EventNodeDeselect DocumentEvent = "nodeDeselect"
	EventNodeUpdate   DocumentEvent = "nodeUpdate"
	EventNodeCreate   DocumentEvent = "nodeCreate"
	EventNodePaste    DocumentEvent = "nodePaste"
	EventNodeRemove   DocumentEvent = "nodeRemove"
	EventUndo         DocumentEvent = "undo"
	EventRedo         DocumentEvent = "redo"
)

var DocumentEvents = []DocumentEvent{
	EventCreate,
	EventNodeSelect,
	EventNodeDeselect,
	EventNodeUpdate,
	EventNodeCreate,
	EventNodePaste,
	EventNodeRemove,
	EventUndo,
	EventRedo,
}

// the fields set depend on the event:
// - create: `Nodes` (the whole new map)
// - nodeSelect, nodeDeselect: `NodeId`
// - nodeUpdate: `Node` (after the update) and `Property`
// - nodeCreate: `Node`
// - nodePaste: `Nodes`
// - nodeRemove: `Node` (the removed node). Descendants are removed with it.
// - undo, redo: `Diff` already applied by the tree
type DocumentEventData struct {
	Nodes    []*NodeRecord
	Node     *NodeRecord
	NodeId   string
	Property NodeProperty
	Diff     *SnapshotDiff
}

type DocumentEventHandler func(data *DocumentEventData)

// the minimal contract the sync core needs from the editable tree.
// The `Apply*` and `LoadSnapshot` calls apply remote state and must not publish local mutation events.
type DocumentAdapter interface {
	ApplyAddedNodes(nodes []*NodeRecord)
	ApplyUpdatedNode(nodeId string, property NodeProperty, value any)
	// removes the node and its descendants
	ApplyRemovedNode(nodeId string)
	NodeExists(nodeId string) bool
	GetSnapshot() Snapshot
	// discards the current tree and loads `snapshot` verbatim
	LoadSnapshot(snapshot Snapshot)
	Subscribe(event DocumentEvent, handler DocumentEventHandler) (unsubscribe func())
}

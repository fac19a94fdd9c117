package mapsync

import (
	"maps"
	"slices"
)

// the whole map at one instant, in insertion order
// the order is not guaranteed to be parent-first. See `SortParentFirst`.
type Snapshot []*NodeRecord

func (self Snapshot) Index() map[string]*NodeRecord {
	index := make(map[string]*NodeRecord, len(self))
	for _, node := range self {
		index[node.Id] = node
	}
	return index
}

func (self Snapshot) Clone() Snapshot {
	clone := make(Snapshot, len(self))
	for i, node := range self {
		clone[i] = node.Clone()
	}
	return clone
}

func (self Snapshot) Root() *NodeRecord {
	for _, node := range self {
		if node.IsRoot {
			return node
		}
	}
	return nil
}

func (self Snapshot) Ids() []string {
	ids := make([]string, len(self))
	for i, node := range self {
		ids[i] = node.Id
	}
	return ids
}

// property -> new value
type NodePatch map[NodeProperty]any

// `Added` carries full records, `Updated` partial patches, and `Deleted` only the keys.
// A diff is only meaningful relative to the snapshots it was computed from.
type SnapshotDiff struct {
	Added   map[string]*NodeRecord `json:"added"`
	Updated map[string]NodePatch   `json:"updated"`
	Deleted map[string]struct{}    `json:"deleted"`
}

func NewSnapshotDiff() *SnapshotDiff {
	return &SnapshotDiff{
		Added:   map[string]*NodeRecord{},
		Updated: map[string]NodePatch{},
		Deleted: map[string]struct{}{},
	}
}

func (self *SnapshotDiff) IsEmpty() bool {
	return len(self.Added) == 0 && len(self.Updated) == 0 && len(self.Deleted) == 0
}

func Diff(from Snapshot, to Snapshot) *SnapshotDiff {
	diff := NewSnapshotDiff()

	fromIndex := from.Index()
	toIndex := to.Index()

	for id, toNode := range toIndex {
		fromNode, ok := fromIndex[id]
		if !ok {
			diff.Added[id] = toNode.Clone()
			continue
		}
		if *fromNode == *toNode {
			continue
		}
		patch := NodePatch{}
		for _, property := range NodeProperties {
			// known properties never error
			fromValue, _ := fromNode.Property(property)
			toValue, _ := toNode.Property(property)
			if fromValue != toValue {
				patch[property] = toValue
			}
		}
		diff.Updated[id] = patch
	}
	for id := range fromIndex {
		if _, ok := toIndex[id]; !ok {
			diff.Deleted[id] = struct{}{}
		}
	}

	return diff
}

// applies a diff to the document in dependency order: adds (parent-first), updates, deletes.
// Updates and deletes for nodes the document no longer has are skipped.
func ApplyDiff(document DocumentAdapter, diff *SnapshotDiff) {
	if len(diff.Added) != 0 {
		addedIds := slices.Sorted(maps.Keys(diff.Added))
		added := make([]*NodeRecord, 0, len(addedIds))
		for _, id := range addedIds {
			if node := diff.Added[id]; node != nil && !document.NodeExists(id) {
				added = append(added, node.Clone())
			}
		}
		added = SortParentFirstFunc(added, func(node *NodeRecord) bool {
			return node.IsRoot || document.NodeExists(node.Parent)
		})
		if len(added) != 0 {
			document.ApplyAddedNodes(added)
		}
	}

	for _, id := range slices.Sorted(maps.Keys(diff.Updated)) {
		if !document.NodeExists(id) {
			continue
		}
		patch := diff.Updated[id]
		for _, property := range slices.Sorted(maps.Keys(patch)) {
			document.ApplyUpdatedNode(id, property, patch[property])
		}
	}

	for _, id := range slices.Sorted(maps.Keys(diff.Deleted)) {
		if document.NodeExists(id) {
			document.ApplyRemovedNode(id)
		}
	}
}

package mapsync

import (
	"time"

	"github.com/golang/glog"
)

// what an undo manager tracks. Node and option history are kept apart.
type UndoScope int

const (
	UndoScopeNodes UndoScope = iota
	UndoScopeOptions
)

// one undo step: the node and option states before and after the captured transactions
type undoItem struct {
	nodes   map[string]*NodeChange
	options *OptionsChange
}

func newUndoItem() *undoItem {
	return &undoItem{
		nodes: map[string]*NodeChange{},
	}
}

// keeps the earliest before state and the latest after state
func (self *undoItem) merge(event *ReplicaEvent, scope UndoScope) {
	switch scope {
	case UndoScopeNodes:
		self.mergeNodes(event)
	case UndoScopeOptions:
		self.mergeOptions(event)
	}
}

func (self *undoItem) mergeNodes(event *ReplicaEvent) {
	for nodeId, change := range event.Nodes {
		if existing, ok := self.nodes[nodeId]; ok {
			existing.After = change.After
		} else {
			self.nodes[nodeId] = &NodeChange{
				Before: change.Before,
				After:  change.After,
			}
		}
	}
}

func (self *undoItem) mergeOptions(event *ReplicaEvent) {
	if event.Options == nil {
		return
	}
	if self.options != nil {
		self.options.After = event.Options.After
	} else {
		self.options = &OptionsChange{
			Before: event.Options.Before,
			After:  event.Options.After,
		}
	}
}

func (self *undoItem) isEmpty() bool {
	return len(self.nodes) == 0 && self.options == nil
}

// structural undo scoped to transactions with tracked origins.
// Changes from other origins, including other replicas, are never undone.
// A new tracked transaction clears the redo stack.
// Not safe for concurrent use. The owning strategy serializes access.
type UndoManager struct {
	replica        *Replica
	scope          UndoScope
	trackedOrigins map[string]bool
	captureTimeout time.Duration

	undoStack   []*undoItem
	redoStack   []*undoItem
	lastCapture time.Time

	stackCallbacks *CallbackList[HistoryStateFunction]
	removeObserver func()
}

// `captureTimeout` merges tracked transactions closer together than the timeout into one step. 0 disables merging.
func NewUndoManager(replica *Replica, scope UndoScope, captureTimeout time.Duration, trackedOrigins ...string) *UndoManager {
	tracked := map[string]bool{}
	for _, origin := range trackedOrigins {
		tracked[origin] = true
	}
	undoManager := &UndoManager{
		replica:        replica,
		scope:          scope,
		trackedOrigins: tracked,
		captureTimeout: captureTimeout,
		stackCallbacks: NewCallbackList[HistoryStateFunction](),
	}
	undoManager.removeObserver = replica.AddObserver(undoManager.observe)
	return undoManager
}

// called with the stack state after every push and pop
func (self *UndoManager) AddStackCallback(callback HistoryStateFunction) func() {
	return self.stackCallbacks.Add(callback)
}

func (self *UndoManager) notifyStack() {
	canUndo := self.CanUndo()
	canRedo := self.CanRedo()
	for _, callback := range self.stackCallbacks.Get() {
		HandleError(func() {
			callback(canUndo, canRedo)
		})
	}
}

func (self *UndoManager) inScope(event *ReplicaEvent) bool {
	switch self.scope {
	case UndoScopeNodes:
		return 0 < len(event.Nodes)
	case UndoScopeOptions:
		return event.Options != nil
	default:
		return false
	}
}

func (self *UndoManager) observe(event *ReplicaEvent) {
	if !self.trackedOrigins[event.Origin] || !self.inScope(event) {
		return
	}
	now := time.Now()
	merge := 0 < self.captureTimeout &&
		0 < len(self.undoStack) &&
		now.Sub(self.lastCapture) < self.captureTimeout
	if merge {
		self.undoStack[len(self.undoStack)-1].merge(event, self.scope)
	} else {
		item := newUndoItem()
		item.merge(event, self.scope)
		self.undoStack = append(self.undoStack, item)
	}
	self.lastCapture = now
	self.redoStack = nil
	self.notifyStack()
}

// the next tracked transaction starts a new step regardless of the capture timeout
func (self *UndoManager) StopCapturing() {
	self.lastCapture = time.Time{}
}

func (self *UndoManager) CanUndo() bool {
	return 0 < len(self.undoStack)
}

func (self *UndoManager) CanRedo() bool {
	return 0 < len(self.redoStack)
}

func (self *UndoManager) Undo() bool {
	if len(self.undoStack) == 0 {
		return false
	}
	item := self.undoStack[len(self.undoStack)-1]
	self.undoStack = self.undoStack[:len(self.undoStack)-1]
	if err := self.apply(item, true); err != nil {
		glog.Infof("[crdt]undo error = %s\n", err)
	}
	self.redoStack = append(self.redoStack, item)
	self.StopCapturing()
	self.notifyStack()
	return true
}

func (self *UndoManager) Redo() bool {
	if len(self.redoStack) == 0 {
		return false
	}
	item := self.redoStack[len(self.redoStack)-1]
	self.redoStack = self.redoStack[:len(self.redoStack)-1]
	if err := self.apply(item, false); err != nil {
		glog.Infof("[crdt]redo error = %s\n", err)
	}
	self.undoStack = append(self.undoStack, item)
	self.StopCapturing()
	self.notifyStack()
	return true
}

func (self *UndoManager) Clear() {
	changed := self.CanUndo() || self.CanRedo()
	self.undoStack = nil
	self.redoStack = nil
	if changed {
		self.notifyStack()
	}
}

func (self *UndoManager) Destroy() {
	self.removeObserver()
	self.undoStack = nil
	self.redoStack = nil
}

// restores the before states (undo) or the after states (redo) of the item's nodes.
// Only properties the item changed are written, so concurrent edits to other properties survive.
func (self *UndoManager) apply(item *undoItem, undo bool) error {
	return self.replica.Transact(OriginUndo, func(tx *Transaction) error {
		for nodeId, change := range item.nodes {
			from, to := change.After, change.Before
			if !undo {
				from, to = change.Before, change.After
			}
			switch {
			case to == nil:
				if err := tx.DeleteNode(nodeId); err != nil {
					return err
				}
			case from == nil:
				if err := tx.SetNode(to); err != nil {
					return err
				}
			default:
				current, err := tx.Node(nodeId)
				if err != nil {
					return err
				}
				if current == nil {
					// deleted by another replica
					continue
				}
				for _, property := range NodeProperties {
					fromValue, _ := from.Property(property)
					toValue, _ := to.Property(property)
					if fromValue == toValue {
						continue
					}
					if err := tx.UpdateNode(nodeId, property, toValue); err != nil {
						return err
					}
				}
			}
		}
		if item.options != nil {
			options := item.options.Before
			if !undo {
				options = item.options.After
			}
			if options == nil {
				if err := tx.ClearOptions(); err != nil {
					return err
				}
			} else if err := tx.SetOptions(options); err != nil {
				return err
			}
		}
		return nil
	})
}

package mapsync

import (
	"fmt"
)

// linear undo history: a bounded arena of snapshots indexed by a cursor.
// `Save` truncates any entries past the cursor, so a redo after a fresh edit is not possible.
// When full, the oldest entry is dropped.
// Not safe for concurrent use. The owning strategy serializes access.
type SnapshotHistory struct {
	entries []Snapshot
	// physical index of the oldest entry
	start int
	count int
	// logical index of the current entry, -1 when empty
	cursor int
}

func NewSnapshotHistory(capacity int) *SnapshotHistory {
	if capacity <= 0 {
		panic(fmt.Errorf("History capacity must be positive: %d", capacity))
	}
	return &SnapshotHistory{
		entries: make([]Snapshot, capacity),
		start:   0,
		count:   0,
		cursor:  -1,
	}
}

func (self *SnapshotHistory) physical(i int) int {
	return (self.start + i) % len(self.entries)
}

func (self *SnapshotHistory) Len() int {
	return self.count
}

func (self *SnapshotHistory) Cursor() int {
	return self.cursor
}

func (self *SnapshotHistory) Save(snapshot Snapshot) {
	// drop the redo entries
	for i := self.cursor + 1; i < self.count; i += 1 {
		self.entries[self.physical(i)] = nil
	}
	self.count = self.cursor + 1

	if self.count == len(self.entries) {
		self.entries[self.start] = nil
		self.start = (self.start + 1) % len(self.entries)
		self.count -= 1
	}

	self.entries[self.physical(self.count)] = snapshot.Clone()
	self.count += 1
	self.cursor = self.count - 1
}

func (self *SnapshotHistory) Reset(snapshot Snapshot) {
	for i := range self.entries {
		self.entries[i] = nil
	}
	self.start = 0
	self.count = 0
	self.cursor = -1
	self.Save(snapshot)
}

func (self *SnapshotHistory) Current() Snapshot {
	if self.cursor < 0 {
		return nil
	}
	return self.entries[self.physical(self.cursor)].Clone()
}

func (self *SnapshotHistory) CanUndo() bool {
	return 0 < self.cursor
}

func (self *SnapshotHistory) CanRedo() bool {
	return self.cursor < self.count-1
}

// moves the cursor back one entry and returns the diff from the current entry to the target entry
func (self *SnapshotHistory) Undo() (*SnapshotDiff, bool) {
	if !self.CanUndo() {
		return nil, false
	}
	from := self.entries[self.physical(self.cursor)]
	self.cursor -= 1
	to := self.entries[self.physical(self.cursor)]
	return Diff(from, to), true
}

func (self *SnapshotHistory) Redo() (*SnapshotDiff, bool) {
	if !self.CanRedo() {
		return nil, false
	}
	from := self.entries[self.physical(self.cursor)]
	self.cursor += 1
	to := self.entries[self.physical(self.cursor)]
	return Diff(from, to), true
}

package mapsync

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// `NodeId` is "" when the client has nothing selected
type ClientPresence struct {
	Color  string `json:"color"`
	NodeId string `json:"nodeId"`
}

// client id -> presence
type ColorMapping map[string]ClientPresence

func (self ColorMapping) Clone() ColorMapping {
	clone := make(ColorMapping, len(self))
	for clientId, presence := range self {
		clone[clientId] = presence
	}
	return clone
}

// mapping is the state after the change. refreshNodeIds are the nodes whose highlight must be redrawn.
type PresenceChangeFunction func(mapping ColorMapping, refreshNodeIds []string)

// tracks the color and selection of every connected client for one map session.
// At most one entry per client. Entries are removed on disconnect.
type PresenceTracker struct {
	stateLock sync.Mutex
	mapping   ColorMapping

	changeCallbacks *CallbackList[PresenceChangeFunction]
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		mapping:         ColorMapping{},
		changeCallbacks: NewCallbackList[PresenceChangeFunction](),
	}
}

func (self *PresenceTracker) AddChangeCallback(callback PresenceChangeFunction) func() {
	return self.changeCallbacks.Add(callback)
}

func (self *PresenceTracker) Mapping() ColorMapping {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.mapping.Clone()
}

func (self *PresenceTracker) Get(clientId string) (ClientPresence, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	presence, ok := self.mapping[clientId]
	return presence, ok
}

// colors used by clients other than `clientId`
func (self *PresenceTracker) UsedColors(clientId string) []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	colors := []string{}
	for otherClientId, presence := range self.mapping {
		if otherClientId != clientId {
			colors = append(colors, presence.Color)
		}
	}
	return colors
}

func (self *PresenceTracker) Set(clientId string, presence ClientPresence) []string {
	return self.update(func(mapping ColorMapping) {
		mapping[clientId] = presence
	})
}

// the client keeps its color. A client not yet seen is ignored.
func (self *PresenceTracker) SetSelection(clientId string, nodeId string) []string {
	return self.update(func(mapping ColorMapping) {
		if presence, ok := mapping[clientId]; ok {
			presence.NodeId = nodeId
			mapping[clientId] = presence
		}
	})
}

func (self *PresenceTracker) Remove(clientId string) []string {
	return self.update(func(mapping ColorMapping) {
		delete(mapping, clientId)
	})
}

func (self *PresenceTracker) Replace(nextMapping ColorMapping) []string {
	return self.update(func(mapping ColorMapping) {
		for clientId := range mapping {
			delete(mapping, clientId)
		}
		for clientId, presence := range nextMapping {
			mapping[clientId] = presence
		}
	})
}

func (self *PresenceTracker) Reset() []string {
	return self.Replace(ColorMapping{})
}

func (self *PresenceTracker) update(mutate func(ColorMapping)) []string {
	mapping, refreshNodeIds, changed := func() (ColorMapping, []string, bool) {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		previous := self.mapping.Clone()
		mutate(self.mapping)
		changed := !maps.Equal(previous, self.mapping)
		return self.mapping.Clone(), RefreshNodeIds(previous, self.mapping), changed
	}()

	if changed {
		for _, callback := range self.changeCallbacks.Get() {
			HandleError(func() {
				callback(mapping, refreshNodeIds)
			})
		}
	}
	return refreshNodeIds
}

// the union of the previous and next selection of every client whose entry changed
func RefreshNodeIds(previous ColorMapping, next ColorMapping) []string {
	refresh := map[string]bool{}
	for clientId, previousPresence := range previous {
		nextPresence, ok := next[clientId]
		if ok && nextPresence == previousPresence {
			continue
		}
		if previousPresence.NodeId != "" {
			refresh[previousPresence.NodeId] = true
		}
		if ok && nextPresence.NodeId != "" {
			refresh[nextPresence.NodeId] = true
		}
	}
	for clientId, nextPresence := range next {
		if _, ok := previous[clientId]; !ok && nextPresence.NodeId != "" {
			refresh[nextPresence.NodeId] = true
		}
	}
	nodeIds := make([]string, 0, len(refresh))
	for nodeId := range refresh {
		nodeIds = append(nodeIds, nodeId)
	}
	slices.Sort(nodeIds)
	return nodeIds
}

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func IsValidColor(color string) bool {
	return colorPattern.MatchString(color)
}

func RandomColor() string {
	return fmt.Sprintf("#%06x", rand.IntN(0x1000000))
}

// returns `preferred` when no other client uses it, otherwise a new random color that is not used
func ResolveColor(preferred string, usedColors []string) string {
	used := map[string]bool{}
	for _, color := range usedColors {
		used[strings.ToLower(color)] = true
	}
	if IsValidColor(preferred) && !used[strings.ToLower(preferred)] {
		return preferred
	}
	for {
		color := RandomColor()
		if !used[color] {
			return color
		}
	}
}

package mapsync

import (
	"encoding/json"
	"time"
)

// the ephemeral per-client state shared over the awareness channel. Never persisted.
type AwarenessState struct {
	Color          string `json:"color"`
	SelectedNodeId string `json:"selectedNodeId"`
}

type awarenessEntry struct {
	clock       uint64
	state       *AwarenessState
	lastUpdated time.Time
}

// wire entry. A null state removes the client.
type awarenessUpdate struct {
	ClientId string          `json:"clientId"`
	Clock    uint64          `json:"clock"`
	State    *AwarenessState `json:"state"`
}

// the awareness states of all clients of one map, including this one.
// Each client owns its entry and increments its clock on every change.
// Not safe for concurrent use. The owning strategy serializes access.
type Awareness struct {
	clientId string
	entries  map[string]*awarenessEntry
}

func NewAwareness(clientId string) *Awareness {
	return &Awareness{
		clientId: clientId,
		entries:  map[string]*awarenessEntry{},
	}
}

func (self *Awareness) ClientId() string {
	return self.clientId
}

func (self *Awareness) LocalState() *AwarenessState {
	if entry, ok := self.entries[self.clientId]; ok && entry.state != nil {
		state := *entry.state
		return &state
	}
	return nil
}

// returns the encoded update announcing the new local state. nil state announces leaving.
func (self *Awareness) SetLocalState(state *AwarenessState) []byte {
	entry, ok := self.entries[self.clientId]
	if !ok {
		entry = &awarenessEntry{}
		self.entries[self.clientId] = entry
	}
	entry.clock += 1
	entry.lastUpdated = time.Now()
	if state != nil {
		nextState := *state
		entry.state = &nextState
	} else {
		entry.state = nil
	}
	return self.EncodeUpdate(self.clientId)
}

// re-announces the local state so peers do not time it out
func (self *Awareness) RenewLocalState() []byte {
	return self.SetLocalState(self.LocalState())
}

// encodes the given clients, or every known client when none are given
func (self *Awareness) EncodeUpdate(clientIds ...string) []byte {
	if len(clientIds) == 0 {
		for clientId := range self.entries {
			clientIds = append(clientIds, clientId)
		}
	}
	updates := []*awarenessUpdate{}
	for _, clientId := range clientIds {
		entry, ok := self.entries[clientId]
		if !ok {
			continue
		}
		updates = append(updates, &awarenessUpdate{
			ClientId: clientId,
			Clock:    entry.clock,
			State:    entry.state,
		})
	}
	b, _ := json.Marshal(updates)
	return b
}

// applies a peer update. Entries older than the known clock are ignored, as are entries for this client.
// Returns the clients whose state was added, changed, or removed.
func (self *Awareness) ApplyUpdate(b []byte) ([]string, error) {
	var updates []*awarenessUpdate
	if err := json.Unmarshal(b, &updates); err != nil {
		return nil, err
	}
	now := time.Now()
	changed := []string{}
	for _, update := range updates {
		if update == nil || update.ClientId == "" || update.ClientId == self.clientId {
			continue
		}
		entry, ok := self.entries[update.ClientId]
		if ok {
			newer := entry.clock < update.Clock ||
				(entry.clock == update.Clock && update.State == nil && entry.state != nil)
			if !newer {
				continue
			}
		}
		if update.State == nil {
			if ok {
				delete(self.entries, update.ClientId)
				changed = append(changed, update.ClientId)
			}
			continue
		}
		state := *update.State
		if ok && entry.state != nil && *entry.state == state {
			entry.clock = update.Clock
			entry.lastUpdated = now
			continue
		}
		self.entries[update.ClientId] = &awarenessEntry{
			clock:       update.Clock,
			state:       &state,
			lastUpdated: now,
		}
		changed = append(changed, update.ClientId)
	}
	return changed, nil
}

// drops remote clients that have not renewed within `timeout`
func (self *Awareness) RemoveOutdated(now time.Time, timeout time.Duration) []string {
	removed := []string{}
	for clientId, entry := range self.entries {
		if clientId == self.clientId {
			continue
		}
		if timeout <= now.Sub(entry.lastUpdated) {
			delete(self.entries, clientId)
			removed = append(removed, clientId)
		}
	}
	return removed
}

// removes every remote client, e.g. after the connection dropped
func (self *Awareness) RemoveRemote() []string {
	removed := []string{}
	for clientId := range self.entries {
		if clientId != self.clientId {
			delete(self.entries, clientId)
			removed = append(removed, clientId)
		}
	}
	return removed
}

func (self *Awareness) ColorMapping() ColorMapping {
	mapping := ColorMapping{}
	for clientId, entry := range self.entries {
		if entry.state == nil {
			continue
		}
		mapping[clientId] = ClientPresence{
			Color:  entry.state.Color,
			NodeId: entry.state.SelectedNodeId,
		}
	}
	return mapping
}

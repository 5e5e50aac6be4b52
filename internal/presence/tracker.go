// Package presence tracks which members of a team are online.
//
// The online set is only ever replaced wholesale from a sync snapshot or reduced by the
// explicit departures of a leave event, so a client that missed events converges at the
// next sync.
package presence

import (
	"sort"
	"sync"

	"github.com/dyluth/sortie/pkg/blackboard"
)

// Tracker holds the online member IDs of one team.
type Tracker struct {
	mu       sync.RWMutex
	online   map[string]struct{}
	onChange func([]string)
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{online: make(map[string]struct{})}
}

// OnChange registers fn to receive the sorted online set after every change.
func (t *Tracker) OnChange(fn func(online []string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Sync replaces the online set with ids.
func (t *Tracker) Sync(ids []string) {
	t.mu.Lock()
	t.online = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		t.online[id] = struct{}{}
	}
	t.mu.Unlock()
	t.changed()
}

// Leave removes only the given ids.
func (t *Tracker) Leave(ids []string) {
	t.mu.Lock()
	for _, id := range ids {
		delete(t.online, id)
	}
	t.mu.Unlock()
	t.changed()
}

// Handle applies a presence event from the team channel.
func (t *Tracker) Handle(ev *blackboard.PresenceEvent) {
	switch ev.Kind {
	case blackboard.PresenceSync:
		t.Sync(ev.Online)
	case blackboard.PresenceLeave:
		t.Leave(ev.Left)
	}
}

// Online returns the online member IDs, sorted.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsOnline reports whether a member is currently online.
func (t *Tracker) IsOnline(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[id]
	return ok
}

// Decorate returns copies of members with Online derived from the tracker.
func (t *Tracker) Decorate(members []*blackboard.Member) []*blackboard.Member {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*blackboard.Member, len(members))
	for i, m := range members {
		c := *m
		_, c.Online = t.online[m.ID]
		out[i] = &c
	}
	return out
}

func (t *Tracker) changed() {
	t.mu.RLock()
	fn := t.onChange
	t.mu.RUnlock()
	if fn != nil {
		fn(t.Online())
	}
}

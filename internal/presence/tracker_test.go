package presence

import (
	"testing"

	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/stretchr/testify/assert"
)

func TestSyncReplacesWholesale(t *testing.T) {
	tr := NewTracker()
	tr.Sync([]string{"a", "b", "c"})
	tr.Sync([]string{"c", "d"})

	assert.Equal(t, []string{"c", "d"}, tr.Online())
	assert.False(t, tr.IsOnline("a"))
}

func TestLeaveRemovesOnlyDeparted(t *testing.T) {
	tr := NewTracker()
	tr.Sync([]string{"a", "b", "c"})
	tr.Leave([]string{"b", "zz"})

	assert.Equal(t, []string{"a", "c"}, tr.Online())
}

// Whatever order joins and leaves arrive in, the next sync decides the set.
func TestSyncIndependentOfEventOrder(t *testing.T) {
	orders := [][]*blackboard.PresenceEvent{
		{
			{Kind: blackboard.PresenceLeave, Left: []string{"a"}},
			{Kind: blackboard.PresenceSync, Online: []string{"a", "b"}},
		},
		{
			{Kind: blackboard.PresenceSync, Online: []string{"x"}},
			{Kind: blackboard.PresenceLeave, Left: []string{"x"}},
			{Kind: blackboard.PresenceSync, Online: []string{"b", "a"}},
		},
	}

	for i, events := range orders {
		tr := NewTracker()
		for _, ev := range events {
			tr.Handle(ev)
		}
		assert.Equal(t, []string{"a", "b"}, tr.Online(), "order %d", i)
	}
}

func TestDecorate(t *testing.T) {
	tr := NewTracker()
	tr.Sync([]string{"m1"})

	members := []*blackboard.Member{{ID: "m1", Name: "Ada"}, {ID: "m2", Name: "Grace", Online: true}}
	got := tr.Decorate(members)

	assert.True(t, got[0].Online)
	assert.False(t, got[1].Online, "online is derived, never trusted from the row")
	assert.True(t, members[1].Online, "input is not mutated")
}

func TestOnChange(t *testing.T) {
	tr := NewTracker()
	var last []string
	tr.OnChange(func(online []string) { last = online })

	tr.Sync([]string{"b", "a"})
	assert.Equal(t, []string{"a", "b"}, last)

	tr.Leave([]string{"a"})
	assert.Equal(t, []string{"b"}, last)
}

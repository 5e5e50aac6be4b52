// Package typing implements self-expiring "member is typing" indicators.
//
// There is no "stopped typing" signal. A received signal holds its member in the typing
// set for the TTL, and every repeat signal re-arms that member's eviction timer.
package typing

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/jonboulle/clockwork"
)

// DefaultTTL is how long a typing signal stays visible without renewal.
const DefaultTTL = 3 * time.Second

// Sender publishes ephemeral team broadcasts. *blackboard.Client satisfies it.
type Sender interface {
	Broadcast(ctx context.Context, teamID string, event blackboard.BroadcastEvent, senderID string, payload interface{}) error
}

// Signal identifies who is typing.
type Signal = blackboard.TypingPayload

type entry struct {
	signal   Signal
	deadline time.Time
	timer    clockwork.Timer
}

// Indicator tracks the typing set of one team as seen by one member.
type Indicator struct {
	teamID string
	self   Signal
	ttl    time.Duration
	clock  clockwork.Clock
	sender Sender

	mu       sync.Mutex
	entries  map[string]*entry
	order    []string // arrival order of current entries
	lastSent time.Time
	closed   bool
	onChange func([]Signal)
}

// Options configures an Indicator. Zero values select DefaultTTL and the real clock.
type Options struct {
	TTL   time.Duration
	Clock clockwork.Clock
}

// New creates an indicator for self on a team.
func New(teamID string, self Signal, sender Sender, opts Options) *Indicator {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Indicator{
		teamID:  teamID,
		self:    self,
		ttl:     opts.TTL,
		clock:   opts.Clock,
		sender:  sender,
		entries: make(map[string]*entry),
	}
}

// OnChange registers fn to receive the typing set whenever a member is added or evicted.
// fn may run on a timer goroutine.
func (in *Indicator) OnChange(fn func([]Signal)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.onChange = fn
}

// StartTyping broadcasts that self is typing. It is fire-and-forget: failures are logged
// and never returned. Calls within a third of the TTL of the last broadcast are dropped,
// which is still well inside every receiver's eviction window.
func (in *Indicator) StartTyping(ctx context.Context) {
	in.mu.Lock()
	now := in.clock.Now()
	if in.closed || (!in.lastSent.IsZero() && now.Sub(in.lastSent) < in.ttl/3) {
		in.mu.Unlock()
		return
	}
	in.lastSent = now
	in.mu.Unlock()

	if err := in.sender.Broadcast(ctx, in.teamID, blackboard.EventTyping, in.self.MemberID, in.self); err != nil {
		log.Printf("[Typing] Failed to broadcast typing signal: %v", err)
	}
}

// Receive records a typing signal. Signals from self are ignored. A member already in
// the set is not duplicated; its eviction deadline is pushed out by the TTL instead.
func (in *Indicator) Receive(sig Signal) {
	if sig.MemberID == "" || sig.MemberID == in.self.MemberID {
		return
	}

	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}

	deadline := in.clock.Now().Add(in.ttl)
	if e, ok := in.entries[sig.MemberID]; ok {
		e.signal = sig
		e.deadline = deadline
		e.timer.Reset(in.ttl)
		in.mu.Unlock()
		return
	}

	id := sig.MemberID
	in.entries[id] = &entry{
		signal:   sig,
		deadline: deadline,
		timer:    in.clock.AfterFunc(in.ttl, func() { in.evict(id) }),
	}
	in.order = append(in.order, id)
	in.mu.Unlock()
	in.changed()
}

// Handle feeds a broadcast envelope to the indicator; non-typing events are ignored.
func (in *Indicator) Handle(env *blackboard.Envelope) {
	if env.Event != blackboard.EventTyping {
		return
	}
	var sig Signal
	if err := env.Decode(&sig); err != nil {
		log.Printf("[Typing] Dropping malformed typing signal: %v", err)
		return
	}
	in.Receive(sig)
}

// Typing returns the members whose signal has not expired, in arrival order.
func (in *Indicator) Typing() []Signal {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.activeLocked()
}

// Close stops every eviction timer and ignores further signals.
func (in *Indicator) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}
	in.closed = true
	for _, e := range in.entries {
		e.timer.Stop()
	}
	in.entries = make(map[string]*entry)
	in.order = nil
	return nil
}

func (in *Indicator) evict(id string) {
	in.mu.Lock()
	e, ok := in.entries[id]
	if !ok || in.clock.Now().Before(e.deadline) {
		in.mu.Unlock()
		return
	}
	delete(in.entries, id)
	for i, oid := range in.order {
		if oid == id {
			in.order = append(in.order[:i], in.order[i+1:]...)
			break
		}
	}
	in.mu.Unlock()
	in.changed()
}

func (in *Indicator) activeLocked() []Signal {
	now := in.clock.Now()
	out := make([]Signal, 0, len(in.order))
	for _, id := range in.order {
		if e := in.entries[id]; e != nil && now.Before(e.deadline) {
			out = append(out, e.signal)
		}
	}
	return out
}

func (in *Indicator) changed() {
	in.mu.Lock()
	fn := in.onChange
	active := in.activeLocked()
	in.mu.Unlock()
	if fn != nil {
		fn(active)
	}
}

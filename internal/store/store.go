// Package store holds a client's optimistic in-memory view of one team.
//
// Local actions apply to the store synchronously and are then persisted. A failed
// persist reverts the local change and surfaces a *MutationError. Change-feed events
// overwrite the matching record regardless of which client produced them, so every
// client converges on the rows the blackboard accepted.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/dyluth/sortie/pkg/blackboard"
)

// Persister is the subset of the blackboard the store writes through.
// *blackboard.Client satisfies it.
type Persister interface {
	CreateTask(ctx context.Context, t *blackboard.Task) error
	PatchTask(ctx context.Context, taskID string, patch blackboard.TaskPatch) (*blackboard.Task, error)
	DeleteTask(ctx context.Context, taskID string) error
	SetPin(ctx context.Context, teamID, taskID string) error
	ClearPin(ctx context.Context, teamID string) error
}

// MutationError reports a persistence failure after the optimistic change was reverted.
// It is recoverable: the caller should surface it and may re-issue the action.
type MutationError struct {
	Op  string // "update", "create", "delete", "pin", "send"
	ID  string // Task or message ID the mutation targeted
	Err error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("failed to %s %s (local change reverted): %v", e.Op, e.ID, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// IsMutationError reports whether err carries a *MutationError.
func IsMutationError(err error) bool {
	var me *MutationError
	return errors.As(err, &me)
}

// ChangeKind identifies what part of the store changed.
type ChangeKind string

const (
	ChangeTeam     ChangeKind = "team"
	ChangeMember   ChangeKind = "member"
	ChangeTask     ChangeKind = "task"
	ChangeTaskGone ChangeKind = "task_removed"
	ChangePin      ChangeKind = "pin"
	ChangeMessages ChangeKind = "messages"
)

// Change is delivered to OnChange listeners after the store was modified.
type Change struct {
	Kind ChangeKind
	ID   string
}

// Store is the team-scoped optimistic store. All methods are safe for concurrent use;
// every row handed out is a copy.
type Store struct {
	teamID    string
	persister Persister

	mu        sync.RWMutex
	team      *blackboard.Team
	members   map[string]*blackboard.Member
	tasks     map[string]*blackboard.Task
	taskOrder []string // feed-delivery order
	pin       string
	messages  []*blackboard.ChatMessage
	listeners []func(Change)
}

// New creates an empty store for a team.
func New(teamID string, persister Persister) *Store {
	return &Store{
		teamID:    teamID,
		persister: persister,
		members:   make(map[string]*blackboard.Member),
		tasks:     make(map[string]*blackboard.Task),
	}
}

// TeamID returns the team the store is scoped to.
func (s *Store) TeamID() string {
	return s.teamID
}

// OnChange registers a listener. Listeners run synchronously after the lock is released.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notify(changes ...Change) {
	s.mu.RLock()
	listeners := append([]func(Change){}, s.listeners...)
	s.mu.RUnlock()

	for _, c := range changes {
		for _, fn := range listeners {
			fn(c)
		}
	}
}

// Team returns a copy of the team, or nil before the first snapshot.
func (s *Store) Team() *blackboard.Team {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.team == nil {
		return nil
	}
	return copyTeam(s.team)
}

// Member returns a copy of a member.
func (s *Store) Member(id string) (*blackboard.Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, false
	}
	return copyMember(m), true
}

// Members returns copies of every member ordered by join time.
func (s *Store) Members() []*blackboard.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*blackboard.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, copyMember(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedMs != out[j].JoinedMs {
			return out[i].JoinedMs < out[j].JoinedMs
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Task returns a copy of a task.
func (s *Store) Task(id string) (*blackboard.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Tasks returns copies of every task in feed-delivery order.
func (s *Store) Tasks() []*blackboard.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*blackboard.Task, 0, len(s.taskOrder))
	for _, id := range s.taskOrder {
		out = append(out, s.tasks[id].Clone())
	}
	return out
}

// Pin returns the pinned task ID, or "".
func (s *Store) Pin() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pin
}

// Messages returns copies of the chat history in canonical order.
func (s *Store) Messages() []*blackboard.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*blackboard.ChatMessage, len(s.messages))
	for i, m := range s.messages {
		out[i] = copyMessage(m)
	}
	return out
}

// Message returns a copy of one chat message.
func (s *Store) Message(id string) (*blackboard.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.messageIndex(id); i >= 0 {
		return copyMessage(s.messages[i]), true
	}
	return nil, false
}

// UpdateTask optimistically applies patch to a task and persists it.
//
// A task that is not in the store is a benign race with a concurrent delete and the call
// is a no-op. When the blackboard reports the task gone, the local row is dropped and the
// call also succeeds. Any other persistence failure restores the patched fields to their
// previous values, unless the feed delivered a newer row in the meantime, and returns a
// *MutationError.
func (s *Store) UpdateTask(ctx context.Context, taskID string, patch blackboard.TaskPatch) error {
	if err := patch.Validate(); err != nil {
		return fmt.Errorf("invalid patch: %w", err)
	}
	if patch.IsEmpty() {
		return nil
	}

	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	prev := t.Clone()
	patch.Apply(t)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeTask, ID: taskID})

	if _, err := s.persister.PatchTask(ctx, taskID, patch); err != nil {
		if blackboard.IsNotFound(err) {
			s.RemoveTask(taskID)
			return nil
		}

		s.mu.Lock()
		// A newer canonical row delivered meanwhile is kept as is.
		if cur, ok := s.tasks[taskID]; ok && cur.Rev == prev.Rev {
			patch.Inverse(prev).Apply(cur)
		}
		s.mu.Unlock()
		s.notify(Change{Kind: ChangeTask, ID: taskID})

		log.Printf("[Store] Reverted update of task %s: %v", taskID, err)
		return &MutationError{Op: "update", ID: taskID, Err: err}
	}
	return nil
}

// CreateTask optimistically appends a task and persists it. On failure the task is removed.
func (s *Store) CreateTask(ctx context.Context, t *blackboard.Task) error {
	if t.TeamID != s.teamID {
		return fmt.Errorf("task belongs to team %s, store is scoped to %s", t.TeamID, s.teamID)
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	s.mu.Lock()
	s.putTaskLocked(t.Clone())
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeTask, ID: t.ID})

	if err := s.persister.CreateTask(ctx, t.Clone()); err != nil {
		s.RemoveTask(t.ID)
		log.Printf("[Store] Reverted creation of task %s: %v", t.ID, err)
		return &MutationError{Op: "create", ID: t.ID, Err: err}
	}
	return nil
}

// DeleteTask optimistically removes a task and persists the delete. A task already gone
// locally or at the blackboard is a no-op. On failure the task and its pin are restored
// at their previous position.
func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	idx := s.taskIndexLocked(taskID)
	wasPinned := s.pin == taskID
	s.removeTaskLocked(taskID)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeTaskGone, ID: taskID})

	if err := s.persister.DeleteTask(ctx, taskID); err != nil {
		if blackboard.IsNotFound(err) {
			return nil
		}

		s.mu.Lock()
		if _, exists := s.tasks[taskID]; !exists {
			s.tasks[taskID] = t
			s.taskOrder = insertAt(s.taskOrder, idx, taskID)
			if wasPinned && s.pin == "" {
				s.pin = taskID
			}
		}
		s.mu.Unlock()
		s.notify(Change{Kind: ChangeTask, ID: taskID}, Change{Kind: ChangePin, ID: s.Pin()})

		log.Printf("[Store] Reverted deletion of task %s: %v", taskID, err)
		return &MutationError{Op: "delete", ID: taskID, Err: err}
	}
	return nil
}

// SetPin optimistically makes taskID the team's single pinned task, or clears the pin
// when taskID is "". On failure the previous pin is restored.
func (s *Store) SetPin(ctx context.Context, taskID string) error {
	s.mu.Lock()
	prev := s.pin
	s.pin = taskID
	s.mu.Unlock()
	s.notify(Change{Kind: ChangePin, ID: taskID})

	var err error
	if taskID == "" {
		err = s.persister.ClearPin(ctx, s.teamID)
	} else {
		err = s.persister.SetPin(ctx, s.teamID, taskID)
	}
	if err != nil {
		s.mu.Lock()
		if s.pin == taskID {
			s.pin = prev
		}
		s.mu.Unlock()
		s.notify(Change{Kind: ChangePin, ID: prev})

		log.Printf("[Store] Reverted pin change to %q: %v", taskID, err)
		return &MutationError{Op: "pin", ID: taskID, Err: err}
	}
	return nil
}

// ApplyTask overwrites the matching task with the canonical row, or appends it at the tail.
// A row older than the one held (lower Rev) is a reordered feed delivery and is dropped.
func (s *Store) ApplyTask(t *blackboard.Task) {
	if t.TeamID != s.teamID {
		return
	}
	s.mu.Lock()
	if cur, ok := s.tasks[t.ID]; ok && cur.Rev > t.Rev {
		s.mu.Unlock()
		return
	}
	s.putTaskLocked(t.Clone())
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeTask, ID: t.ID})
}

// RemoveTask drops a task and the pin if it pointed at it.
func (s *Store) RemoveTask(taskID string) {
	s.mu.Lock()
	_, ok := s.tasks[taskID]
	if ok {
		s.removeTaskLocked(taskID)
	}
	s.mu.Unlock()
	if ok {
		s.notify(Change{Kind: ChangeTaskGone, ID: taskID})
	}
}

// ReplaceTasks discards every task and loads tasks in the given order.
func (s *Store) ReplaceTasks(tasks []*blackboard.Task) {
	s.mu.Lock()
	s.tasks = make(map[string]*blackboard.Task, len(tasks))
	s.taskOrder = s.taskOrder[:0]
	for _, t := range tasks {
		s.putTaskLocked(t.Clone())
	}
	if _, ok := s.tasks[s.pin]; !ok {
		s.pin = ""
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeTask})
}

// ApplyPin records the canonical pin; "" means no pin.
func (s *Store) ApplyPin(taskID string) {
	s.mu.Lock()
	s.pin = taskID
	s.mu.Unlock()
	s.notify(Change{Kind: ChangePin, ID: taskID})
}

// ApplyTeam overwrites the team row.
func (s *Store) ApplyTeam(team *blackboard.Team) {
	if team.ID != s.teamID {
		return
	}
	s.mu.Lock()
	s.team = copyTeam(team)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeTeam, ID: team.ID})
}

// ApplyMember overwrites or adds a member row.
func (s *Store) ApplyMember(m *blackboard.Member) {
	if m.TeamID != s.teamID {
		return
	}
	s.mu.Lock()
	s.members[m.ID] = copyMember(m)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMember, ID: m.ID})
}

// ReplaceMembers discards every member and loads members.
func (s *Store) ReplaceMembers(members []*blackboard.Member) {
	s.mu.Lock()
	s.members = make(map[string]*blackboard.Member, len(members))
	for _, m := range members {
		s.members[m.ID] = copyMember(m)
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMember})
}

func (s *Store) putTaskLocked(t *blackboard.Task) {
	if _, exists := s.tasks[t.ID]; !exists {
		s.taskOrder = append(s.taskOrder, t.ID)
	}
	s.tasks[t.ID] = t
}

func (s *Store) removeTaskLocked(taskID string) {
	delete(s.tasks, taskID)
	if i := s.taskIndexLocked(taskID); i >= 0 {
		s.taskOrder = append(s.taskOrder[:i], s.taskOrder[i+1:]...)
	}
	if s.pin == taskID {
		s.pin = ""
	}
}

func (s *Store) taskIndexLocked(taskID string) int {
	for i, id := range s.taskOrder {
		if id == taskID {
			return i
		}
	}
	return -1
}

func insertAt(ids []string, i int, id string) []string {
	if i < 0 || i > len(ids) {
		return append(ids, id)
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func copyTeam(t *blackboard.Team) *blackboard.Team {
	c := *t
	if t.DeadlineMs != nil {
		d := *t.DeadlineMs
		c.DeadlineMs = &d
	}
	return &c
}

func copyMember(m *blackboard.Member) *blackboard.Member {
	c := *m
	c.Badges = append([]string{}, m.Badges...)
	return &c
}

// Package board is the Kanban task state machine of a team.
//
// Statuses move in any direction; the only gate is the CanInteract guard. Button presses
// and drag-and-drop drops both end in RequestTransition, so there is a single status path.
// Entering review never assigns a reviewer and entering done never touches the mission.
package board

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dyluth/sortie/internal/store"
	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/google/uuid"
)

// Auditor records board activity. *blackboard.Client satisfies it.
type Auditor interface {
	AppendAudit(ctx context.Context, entry *blackboard.AuditEntry) error
}

// Column is one status column in render order.
type Column struct {
	Status blackboard.TaskStatus
	Tasks  []*blackboard.Task
}

// Draft describes a task to create.
type Draft struct {
	Title       string
	Description string
	Priority    blackboard.Priority
	AssigneeID  string
	DeadlineMs  *int64
}

// Board applies authorized task mutations to a team's store.
type Board struct {
	store   *store.Store
	auditor Auditor
}

// New creates a board over st. auditor may be nil.
func New(st *store.Store, auditor Auditor) *Board {
	return &Board{store: st, auditor: auditor}
}

// DragEnabled reports whether the actor's drag handle on a task is enabled.
func (b *Board) DragEnabled(actorID, taskID string) bool {
	t, ok := b.store.Task(taskID)
	return ok && CanInteract(b.store.Team(), actorID, t)
}

// CreateTask adds a task in todo. Only the Leader may pre-assign it.
func (b *Board) CreateTask(ctx context.Context, actorID string, d Draft) (*blackboard.Task, error) {
	team := b.store.Team()
	if !b.isMember(actorID) || !CanCreate(team, actorID) {
		return nil, fmt.Errorf("create task: %w", ErrNotAuthorized)
	}
	if d.AssigneeID != "" && !IsLeader(team, actorID) {
		return nil, fmt.Errorf("assign on create: %w", ErrNotAuthorized)
	}
	if d.Priority == "" {
		d.Priority = blackboard.PriorityMedium
	}

	now := time.Now().UnixMilli()
	t := &blackboard.Task{
		ID:          uuid.New().String(),
		TeamID:      team.ID,
		Title:       strings.TrimSpace(d.Title),
		Description: d.Description,
		Priority:    d.Priority,
		Status:      blackboard.TaskStatusTodo,
		AssigneeID:  d.AssigneeID,
		Subtasks:    []blackboard.Subtask{},
		DeadlineMs:  d.DeadlineMs,
		CreatedBy:   actorID,
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}
	if err := b.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	b.audit(ctx, actorID, "task.create", t.Title)
	return t, nil
}

// Edit applies a field patch. Assignment fields are Leader-only.
func (b *Board) Edit(ctx context.Context, actorID, taskID string, patch blackboard.TaskPatch) error {
	t, ok, err := b.authorize(actorID, taskID)
	if err != nil || !ok {
		return err
	}
	if touchesLeaderOnly(patch) && !IsLeader(b.store.Team(), actorID) {
		return fmt.Errorf("edit assignment of %s: %w", taskID, ErrNotAuthorized)
	}
	if err := b.store.UpdateTask(ctx, taskID, patch); err != nil {
		return err
	}
	b.audit(ctx, actorID, "task.edit", fmt.Sprintf("%s (%s)", t.Title, strings.Join(patch.FieldNames(), ", ")))
	return nil
}

// RequestTransition moves a task to another column. A task removed concurrently and a
// move to the current column are both no-ops.
func (b *Board) RequestTransition(ctx context.Context, actorID, taskID string, status blackboard.TaskStatus) error {
	if err := status.Validate(); err != nil {
		return fmt.Errorf("invalid target column: %w", err)
	}
	t, ok, err := b.authorize(actorID, taskID)
	if err != nil || !ok {
		return err
	}
	if t.Status == status {
		return nil
	}
	if err := b.store.UpdateTask(ctx, taskID, blackboard.StatusPatch(status)); err != nil {
		return err
	}
	b.audit(ctx, actorID, "task.move", fmt.Sprintf("%s: %s → %s", t.Title, t.Status, status))
	return nil
}

// Assign sets or clears ("") the task's single assignee. Leader only.
func (b *Board) Assign(ctx context.Context, actorID, taskID, assigneeID string) error {
	return b.assign(ctx, actorID, taskID, assigneeID, "task.assign", func(p *blackboard.TaskPatch) {
		p.AssigneeID = &assigneeID
	})
}

// AssignReviewer sets or clears ("") the task's reviewer. Leader only; moving a task into
// review never does this on its own.
func (b *Board) AssignReviewer(ctx context.Context, actorID, taskID, reviewerID string) error {
	return b.assign(ctx, actorID, taskID, reviewerID, "task.review", func(p *blackboard.TaskPatch) {
		p.ReviewAssigneeID = &reviewerID
	})
}

func (b *Board) assign(ctx context.Context, actorID, taskID, memberID, action string, set func(*blackboard.TaskPatch)) error {
	if !IsLeader(b.store.Team(), actorID) {
		return fmt.Errorf("%s: %w", action, ErrNotAuthorized)
	}
	t, ok := b.store.Task(taskID)
	if !ok {
		return nil
	}
	if memberID != "" && !b.isMember(memberID) {
		return fmt.Errorf("member %s is not in this team", memberID)
	}

	var patch blackboard.TaskPatch
	set(&patch)
	if err := b.store.UpdateTask(ctx, taskID, patch); err != nil {
		return err
	}
	b.audit(ctx, actorID, action, fmt.Sprintf("%s → %s", t.Title, b.memberName(memberID)))
	return nil
}

// Pin makes the task the team's single pinned task, replacing any other pin. Pinning the
// already pinned task leaves it pinned.
func (b *Board) Pin(ctx context.Context, actorID, taskID string) error {
	t, ok, err := b.authorize(actorID, taskID)
	if err != nil || !ok {
		return err
	}
	if err := b.store.SetPin(ctx, taskID); err != nil {
		return err
	}
	b.audit(ctx, actorID, "task.pin", t.Title)
	return nil
}

// Unpin clears the pin when it points at the task; otherwise it is a no-op.
func (b *Board) Unpin(ctx context.Context, actorID, taskID string) error {
	t, ok, err := b.authorize(actorID, taskID)
	if err != nil || !ok {
		return err
	}
	if b.store.Pin() != taskID {
		return nil
	}
	if err := b.store.SetPin(ctx, ""); err != nil {
		return err
	}
	b.audit(ctx, actorID, "task.unpin", t.Title)
	return nil
}

// ToggleCritical flips the task's critical flag.
func (b *Board) ToggleCritical(ctx context.Context, actorID, taskID string) error {
	t, ok, err := b.authorize(actorID, taskID)
	if err != nil || !ok {
		return err
	}
	critical := !t.IsCritical
	if err := b.store.UpdateTask(ctx, taskID, blackboard.TaskPatch{IsCritical: &critical}); err != nil {
		return err
	}
	b.audit(ctx, actorID, "task.critical", fmt.Sprintf("%s: %t", t.Title, critical))
	return nil
}

// AddSubtask appends a checklist item to the task.
func (b *Board) AddSubtask(ctx context.Context, actorID, taskID, title string) (*blackboard.Subtask, error) {
	t, ok, err := b.authorize(actorID, taskID)
	if err != nil || !ok {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("subtask title cannot be empty")
	}

	st := blackboard.Subtask{ID: uuid.New().String(), Title: title}
	subtasks := append(t.Subtasks, st)
	if err := b.store.UpdateTask(ctx, taskID, blackboard.TaskPatch{Subtasks: &subtasks}); err != nil {
		return nil, err
	}
	b.audit(ctx, actorID, "subtask.add", fmt.Sprintf("%s: %s", t.Title, title))
	return &st, nil
}

// ToggleSubtask flips a checklist item's done flag. An unknown subtask is a no-op.
func (b *Board) ToggleSubtask(ctx context.Context, actorID, taskID, subtaskID string) error {
	t, ok, err := b.authorize(actorID, taskID)
	if err != nil || !ok {
		return err
	}

	subtasks := t.Subtasks
	found := false
	for i := range subtasks {
		if subtasks[i].ID == subtaskID {
			subtasks[i].Done = !subtasks[i].Done
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	return b.store.UpdateTask(ctx, taskID, blackboard.TaskPatch{Subtasks: &subtasks})
}

// DeleteTask removes a task. Leader only.
func (b *Board) DeleteTask(ctx context.Context, actorID, taskID string) error {
	if !IsLeader(b.store.Team(), actorID) {
		return fmt.Errorf("delete task: %w", ErrNotAuthorized)
	}
	t, ok := b.store.Task(taskID)
	if !ok {
		return nil
	}
	if err := b.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	b.audit(ctx, actorID, "task.delete", t.Title)
	return nil
}

// Columns groups the tasks by status in board order, keeping feed-delivery order within
// each column.
func (b *Board) Columns() []Column {
	byStatus := make(map[blackboard.TaskStatus][]*blackboard.Task, len(blackboard.TaskStatuses))
	for _, t := range b.store.Tasks() {
		byStatus[t.Status] = append(byStatus[t.Status], t)
	}

	cols := make([]Column, len(blackboard.TaskStatuses))
	for i, s := range blackboard.TaskStatuses {
		cols[i] = Column{Status: s, Tasks: byStatus[s]}
	}
	return cols
}

// authorize loads the task and checks the guard. A missing task yields ok=false with no
// error: it was removed by a concurrent actor.
func (b *Board) authorize(actorID, taskID string) (*blackboard.Task, bool, error) {
	t, ok := b.store.Task(taskID)
	if !ok {
		return nil, false, nil
	}
	if !CanInteract(b.store.Team(), actorID, t) {
		return nil, false, fmt.Errorf("task %s: %w", taskID, ErrNotAuthorized)
	}
	return t, true, nil
}

func (b *Board) isMember(memberID string) bool {
	_, ok := b.store.Member(memberID)
	return ok
}

func (b *Board) memberName(memberID string) string {
	if memberID == "" {
		return "nobody"
	}
	if m, ok := b.store.Member(memberID); ok {
		return m.Name
	}
	return memberID
}

func (b *Board) audit(ctx context.Context, actorID, action, detail string) {
	if b.auditor == nil {
		return
	}
	entry := &blackboard.AuditEntry{
		ID:      uuid.New().String(),
		TeamID:  b.store.TeamID(),
		ActorID: actorID,
		Action:  action,
		Detail:  detail,
		AtMs:    time.Now().UnixMilli(),
	}
	if err := b.auditor.AppendAudit(ctx, entry); err != nil {
		log.Printf("[Board] Failed to record %s: %v", action, err)
	}
}

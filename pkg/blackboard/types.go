package blackboard

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role is a member's authority within a team.
type Role string

const (
	// RoleLeader may schedule, complete and redeploy missions and moderate every task
	RoleLeader Role = "Leader"

	// RoleMember may act on tasks assigned to them
	RoleMember Role = "Member"
)

// TaskStatus is the Kanban column a task currently sits in.
// Transitions are unrestricted in direction; authorization is checked by the board.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusDone       TaskStatus = "done"
)

// TaskStatuses lists every column in board order.
var TaskStatuses = []TaskStatus{TaskStatusTodo, TaskStatusInProgress, TaskStatusReview, TaskStatusDone}

// Priority is a task's urgency label.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// MessageType distinguishes plain chat from code snippets.
type MessageType string

const (
	MessageTypeText MessageType = "text"
	MessageTypeCode MessageType = "code"
)

// TeamSettings holds the permission flags a Leader can toggle.
type TeamSettings struct {
	AllowTaskCreation bool `json:"allow_task_creation"` // Any member may create tasks, not just the Leader
}

// Team is a squad collaborating on one mission cycle at a time.
type Team struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	LeaderID           string       `json:"leader_id"`
	InviteCode         string       `json:"invite_code"`
	MissionName        string       `json:"mission_name"`
	MissionGoal        string       `json:"mission_goal"`
	DeadlineMs         *int64       `json:"deadline_ms,omitempty"` // nil while the mission is unscheduled
	Cycle              int          `json:"cycle"`                 // Starts at 1, bumped by every redeploy
	CompletedArchiveID string       `json:"completed_archive_id,omitempty"`
	Settings           TeamSettings `json:"settings"`
	CreatedAtMs        int64        `json:"created_at_ms"`
}

// Member is a person in a team. Online is derived from presence and never stored.
type Member struct {
	ID       string   `json:"id"`
	TeamID   string   `json:"team_id"`
	Name     string   `json:"name"`
	Avatar   string   `json:"avatar"`
	Role     Role     `json:"role"`
	XP       int      `json:"xp"`
	Badges   []string `json:"badges"`
	Online   bool     `json:"online"`
	JoinedMs int64    `json:"joined_ms"`
}

// Subtask is a checklist item owned exclusively by its task.
type Subtask struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// Task is a card on the team's board.
type Task struct {
	ID               string     `json:"id"`
	TeamID           string     `json:"team_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Priority         Priority   `json:"priority"`
	Status           TaskStatus `json:"status"`
	AssigneeID       string     `json:"assignee_id,omitempty"`
	ReviewAssigneeID string     `json:"review_assignee_id,omitempty"`
	Subtasks         []Subtask  `json:"subtasks"`
	IsCritical       bool       `json:"is_critical"`
	DeadlineMs       *int64     `json:"deadline_ms,omitempty"`
	CreatedBy        string     `json:"created_by"`
	CreatedAtMs      int64      `json:"created_at_ms"`
	UpdatedAtMs      int64      `json:"updated_at_ms"`
	Rev              int64      `json:"rev"` // Bumped atomically by every persisted write
}

// Clone returns a deep copy so callers never share subtask slices or pointers.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Subtasks = append([]Subtask(nil), t.Subtasks...)
	if c.Subtasks == nil {
		c.Subtasks = []Subtask{}
	}
	if t.DeadlineMs != nil {
		d := *t.DeadlineMs
		c.DeadlineMs = &d
	}
	return &c
}

// ReactionSummary aggregates one emoji on one message from a viewer's perspective.
type ReactionSummary struct {
	Emoji   string `json:"emoji"`
	Count   int    `json:"count"`
	Reacted bool   `json:"reacted"` // Whether the viewing member is among the reactors
}

// ChatMessage is a durable team chat entry. Reactions are viewer-relative and never stored on the row.
type ChatMessage struct {
	ID          string            `json:"id"`
	TeamID      string            `json:"team_id"`
	AuthorID    string            `json:"author_id"`
	Content     string            `json:"content"`
	Type        MessageType       `json:"type"`
	Language    string            `json:"language,omitempty"`
	CreatedAtMs int64             `json:"created_at_ms"` // Server-assigned; defines canonical order
	Reactions   []ReactionSummary `json:"reactions,omitempty"`
}

// Bounty is an externally tracked quest whose completion contributes to mission XP.
type Bounty struct {
	ID          string `json:"id"`
	TeamID      string `json:"team_id"`
	Title       string `json:"title"`
	CompletedBy string `json:"completed_by,omitempty"`
	Cycle       int    `json:"cycle"`
}

// MissionArchive is the completion marker and record of one mission cycle.
type MissionArchive struct {
	ID            string         `json:"id"`
	TeamID        string         `json:"team_id"`
	Cycle         int            `json:"cycle"`
	MissionName   string         `json:"mission_name"`
	MissionGoal   string         `json:"mission_goal"`
	CompletedAtMs int64          `json:"completed_at_ms"`
	CompletedBy   string         `json:"completed_by"`
	Awards        map[string]int `json:"awards"` // member id → XP awarded this cycle
	TotalXP       int            `json:"total_xp"`
	SnapshotRef   string         `json:"snapshot_ref"` // Redis key holding the task snapshot at completion
}

// AuditEntry is one line of a team's append-only activity history.
type AuditEntry struct {
	ID      string `json:"id"`
	TeamID  string `json:"team_id"`
	ActorID string `json:"actor_id"`
	Action  string `json:"action"`
	Detail  string `json:"detail,omitempty"`
	AtMs    int64  `json:"at_ms"`
}

// Validate checks if the Role is a valid enum value.
func (r Role) Validate() error {
	switch r {
	case RoleLeader, RoleMember:
		return nil
	default:
		return fmt.Errorf("unknown role: %q", r)
	}
}

// Validate checks if the TaskStatus is a valid enum value.
func (s TaskStatus) Validate() error {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusReview, TaskStatusDone:
		return nil
	default:
		return fmt.Errorf("unknown task status: %q", s)
	}
}

// Validate checks if the Priority is a valid enum value.
func (p Priority) Validate() error {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return nil
	default:
		return fmt.Errorf("unknown priority: %q", p)
	}
}

// Validate checks if the MessageType is a valid enum value.
func (m MessageType) Validate() error {
	switch m {
	case MessageTypeText, MessageTypeCode:
		return nil
	default:
		return fmt.Errorf("unknown message type: %q", m)
	}
}

// Validate checks if the Team has valid field values.
func (t *Team) Validate() error {
	if !isValidUUID(t.ID) {
		return fmt.Errorf("invalid team ID: not a valid UUID")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("team name cannot be empty")
	}
	if t.LeaderID != "" && !isValidUUID(t.LeaderID) {
		return fmt.Errorf("invalid leader ID: not a valid UUID")
	}
	if t.Cycle < 1 {
		return fmt.Errorf("invalid cycle: must be >= 1, got %d", t.Cycle)
	}
	return nil
}

// Validate checks if the Member has valid field values.
func (m *Member) Validate() error {
	if !isValidUUID(m.ID) {
		return fmt.Errorf("invalid member ID: not a valid UUID")
	}
	if !isValidUUID(m.TeamID) {
		return fmt.Errorf("invalid team ID: not a valid UUID")
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("member name cannot be empty")
	}
	if err := m.Role.Validate(); err != nil {
		return fmt.Errorf("invalid role: %w", err)
	}
	if m.XP < 0 {
		return fmt.Errorf("invalid xp: must be >= 0, got %d", m.XP)
	}
	return nil
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if !isValidUUID(t.ID) {
		return fmt.Errorf("invalid task ID: not a valid UUID")
	}
	if !isValidUUID(t.TeamID) {
		return fmt.Errorf("invalid team ID: not a valid UUID")
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task title cannot be empty")
	}
	if err := t.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	if err := t.Priority.Validate(); err != nil {
		return fmt.Errorf("invalid priority: %w", err)
	}
	if t.AssigneeID != "" && !isValidUUID(t.AssigneeID) {
		return fmt.Errorf("invalid assignee ID: not a valid UUID")
	}
	if t.ReviewAssigneeID != "" && !isValidUUID(t.ReviewAssigneeID) {
		return fmt.Errorf("invalid review assignee ID: not a valid UUID")
	}
	return validateSubtasks(t.Subtasks)
}

func validateSubtasks(subtasks []Subtask) error {
	seen := make(map[string]bool, len(subtasks))
	for i, st := range subtasks {
		if !isValidUUID(st.ID) {
			return fmt.Errorf("invalid subtask at index %d: not a valid UUID", i)
		}
		if seen[st.ID] {
			return fmt.Errorf("duplicate subtask ID at index %d", i)
		}
		seen[st.ID] = true
		if strings.TrimSpace(st.Title) == "" {
			return fmt.Errorf("subtask at index %d has an empty title", i)
		}
	}
	return nil
}

// Validate checks if the ChatMessage has valid field values.
func (m *ChatMessage) Validate() error {
	if !isValidUUID(m.ID) {
		return fmt.Errorf("invalid message ID: not a valid UUID")
	}
	if !isValidUUID(m.TeamID) {
		return fmt.Errorf("invalid team ID: not a valid UUID")
	}
	if !isValidUUID(m.AuthorID) {
		return fmt.Errorf("invalid author ID: not a valid UUID")
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("message content cannot be empty")
	}
	if err := m.Type.Validate(); err != nil {
		return fmt.Errorf("invalid message type: %w", err)
	}
	if m.Type == MessageTypeCode && m.Language == "" {
		return fmt.Errorf("code messages require a language")
	}
	return nil
}

// Validate checks if the Bounty has valid field values.
func (b *Bounty) Validate() error {
	if !isValidUUID(b.ID) {
		return fmt.Errorf("invalid bounty ID: not a valid UUID")
	}
	if !isValidUUID(b.TeamID) {
		return fmt.Errorf("invalid team ID: not a valid UUID")
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("bounty title cannot be empty")
	}
	if b.CompletedBy != "" && !isValidUUID(b.CompletedBy) {
		return fmt.Errorf("invalid completed_by: not a valid UUID")
	}
	return nil
}

// Validate checks if the MissionArchive has valid field values.
func (a *MissionArchive) Validate() error {
	if !isValidUUID(a.ID) {
		return fmt.Errorf("invalid archive ID: not a valid UUID")
	}
	if !isValidUUID(a.TeamID) {
		return fmt.Errorf("invalid team ID: not a valid UUID")
	}
	if a.Cycle < 1 {
		return fmt.Errorf("invalid cycle: must be >= 1, got %d", a.Cycle)
	}
	total := 0
	for memberID, xp := range a.Awards {
		if !isValidUUID(memberID) {
			return fmt.Errorf("invalid award member ID %q", memberID)
		}
		if xp < 0 {
			return fmt.Errorf("negative award for member %s", memberID)
		}
		total += xp
	}
	if total != a.TotalXP {
		return fmt.Errorf("total_xp %d does not match sum of awards %d", a.TotalXP, total)
	}
	return nil
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

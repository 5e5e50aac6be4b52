package blackboard

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TaskPatch is a partial update to a task. Nil fields are left untouched, which is what
// makes concurrent edits to different fields of the same task never conflict: only the
// hash fields named by the patch are written.
//
// Clearing optional references uses an empty string (AssigneeID, ReviewAssigneeID) or
// ClearDeadline.
type TaskPatch struct {
	Title            *string     `json:"title,omitempty"`
	Description      *string     `json:"description,omitempty"`
	Priority         *Priority   `json:"priority,omitempty"`
	Status           *TaskStatus `json:"status,omitempty"`
	AssigneeID       *string     `json:"assignee_id,omitempty"`
	ReviewAssigneeID *string     `json:"review_assignee_id,omitempty"`
	Subtasks         *[]Subtask  `json:"subtasks,omitempty"`
	IsCritical       *bool       `json:"is_critical,omitempty"`
	DeadlineMs       *int64      `json:"deadline_ms,omitempty"`
	ClearDeadline    bool        `json:"clear_deadline,omitempty"`
}

// IsEmpty reports whether the patch would change nothing.
func (p TaskPatch) IsEmpty() bool {
	return len(p.FieldNames()) == 0
}

// FieldNames lists the hash fields the patch writes, in a stable order.
func (p TaskPatch) FieldNames() []string {
	var names []string
	if p.Title != nil {
		names = append(names, "title")
	}
	if p.Description != nil {
		names = append(names, "description")
	}
	if p.Priority != nil {
		names = append(names, "priority")
	}
	if p.Status != nil {
		names = append(names, "status")
	}
	if p.AssigneeID != nil {
		names = append(names, "assignee_id")
	}
	if p.ReviewAssigneeID != nil {
		names = append(names, "review_assignee_id")
	}
	if p.Subtasks != nil {
		names = append(names, "subtasks")
	}
	if p.IsCritical != nil {
		names = append(names, "is_critical")
	}
	if p.DeadlineMs != nil || p.ClearDeadline {
		names = append(names, "deadline_ms")
	}
	return names
}

// Validate checks the patched values using the same rules as Task.Validate.
func (p TaskPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("task title cannot be empty")
	}
	if p.Priority != nil {
		if err := p.Priority.Validate(); err != nil {
			return fmt.Errorf("invalid priority: %w", err)
		}
	}
	if p.Status != nil {
		if err := p.Status.Validate(); err != nil {
			return fmt.Errorf("invalid status: %w", err)
		}
	}
	if p.AssigneeID != nil && *p.AssigneeID != "" && !isValidUUID(*p.AssigneeID) {
		return fmt.Errorf("invalid assignee ID: not a valid UUID")
	}
	if p.ReviewAssigneeID != nil && *p.ReviewAssigneeID != "" && !isValidUUID(*p.ReviewAssigneeID) {
		return fmt.Errorf("invalid review assignee ID: not a valid UUID")
	}
	if p.Subtasks != nil {
		if err := validateSubtasks(*p.Subtasks); err != nil {
			return err
		}
	}
	if p.DeadlineMs != nil && p.ClearDeadline {
		return fmt.Errorf("deadline_ms and clear_deadline are mutually exclusive")
	}
	return nil
}

// Apply writes the patched fields onto t.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.AssigneeID != nil {
		t.AssigneeID = *p.AssigneeID
	}
	if p.ReviewAssigneeID != nil {
		t.ReviewAssigneeID = *p.ReviewAssigneeID
	}
	if p.Subtasks != nil {
		t.Subtasks = append([]Subtask{}, (*p.Subtasks)...)
	}
	if p.IsCritical != nil {
		t.IsCritical = *p.IsCritical
	}
	if p.ClearDeadline {
		t.DeadlineMs = nil
	} else if p.DeadlineMs != nil {
		d := *p.DeadlineMs
		t.DeadlineMs = &d
	}
}

// Inverse returns the patch that restores prev's values for exactly the fields p touches.
func (p TaskPatch) Inverse(prev *Task) TaskPatch {
	var inv TaskPatch
	if p.Title != nil {
		inv.Title = ptr(prev.Title)
	}
	if p.Description != nil {
		inv.Description = ptr(prev.Description)
	}
	if p.Priority != nil {
		inv.Priority = ptr(prev.Priority)
	}
	if p.Status != nil {
		inv.Status = ptr(prev.Status)
	}
	if p.AssigneeID != nil {
		inv.AssigneeID = ptr(prev.AssigneeID)
	}
	if p.ReviewAssigneeID != nil {
		inv.ReviewAssigneeID = ptr(prev.ReviewAssigneeID)
	}
	if p.Subtasks != nil {
		subtasks := append([]Subtask{}, prev.Subtasks...)
		inv.Subtasks = &subtasks
	}
	if p.IsCritical != nil {
		inv.IsCritical = ptr(prev.IsCritical)
	}
	if p.DeadlineMs != nil || p.ClearDeadline {
		if prev.DeadlineMs == nil {
			inv.ClearDeadline = true
		} else {
			inv.DeadlineMs = ptr(*prev.DeadlineMs)
		}
	}
	return inv
}

// hashFields converts the patch into the Redis hash fields it writes.
// A cleared deadline is written as an empty string.
func (p TaskPatch) hashFields() (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	if p.Title != nil {
		fields["title"] = *p.Title
	}
	if p.Description != nil {
		fields["description"] = *p.Description
	}
	if p.Priority != nil {
		fields["priority"] = string(*p.Priority)
	}
	if p.Status != nil {
		fields["status"] = string(*p.Status)
	}
	if p.AssigneeID != nil {
		fields["assignee_id"] = *p.AssigneeID
	}
	if p.ReviewAssigneeID != nil {
		fields["review_assignee_id"] = *p.ReviewAssigneeID
	}
	if p.Subtasks != nil {
		subtasksJSON, err := json.Marshal(*p.Subtasks)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal subtasks: %w", err)
		}
		fields["subtasks"] = string(subtasksJSON)
	}
	if p.IsCritical != nil {
		fields["is_critical"] = *p.IsCritical
	}
	if p.ClearDeadline {
		fields["deadline_ms"] = ""
	} else if p.DeadlineMs != nil {
		fields["deadline_ms"] = *p.DeadlineMs
	}
	return fields, nil
}

// StatusPatch is shorthand for a patch that only moves a task to another column.
func StatusPatch(status TaskStatus) TaskPatch {
	return TaskPatch{Status: &status}
}

func ptr[T any](v T) *T {
	return &v
}

package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores rows as string-to-string maps (hashes). Scalar fields get their own hash
// field so a partial update can write exactly the fields it changes; list-valued fields
// (subtasks, badges, awards) are JSON-encoded into a single hash field and are therefore
// replaced as a unit.

// TeamToHash converts a Team struct to a Redis hash format.
func TeamToHash(t *Team) (map[string]interface{}, error) {
	return map[string]interface{}{
		"id":                   t.ID,
		"name":                 t.Name,
		"leader_id":            t.LeaderID,
		"invite_code":          t.InviteCode,
		"mission_name":         t.MissionName,
		"mission_goal":         t.MissionGoal,
		"deadline_ms":          optionalInt64(t.DeadlineMs),
		"cycle":                t.Cycle,
		"completed_archive_id": t.CompletedArchiveID,
		"allow_task_creation":  t.Settings.AllowTaskCreation,
		"created_at_ms":        t.CreatedAtMs,
	}, nil
}

// HashToTeam converts a Redis hash to a Team struct.
func HashToTeam(hash map[string]string) (*Team, error) {
	cycle, err := strconv.Atoi(hash["cycle"])
	if err != nil {
		return nil, fmt.Errorf("invalid cycle field: %w", err)
	}

	deadline, err := parseOptionalInt64(hash["deadline_ms"])
	if err != nil {
		return nil, fmt.Errorf("invalid deadline_ms field: %w", err)
	}

	allowCreate, _ := strconv.ParseBool(hash["allow_task_creation"])
	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	return &Team{
		ID:                 hash["id"],
		Name:               hash["name"],
		LeaderID:           hash["leader_id"],
		InviteCode:         hash["invite_code"],
		MissionName:        hash["mission_name"],
		MissionGoal:        hash["mission_goal"],
		DeadlineMs:         deadline,
		Cycle:              cycle,
		CompletedArchiveID: hash["completed_archive_id"],
		Settings:           TeamSettings{AllowTaskCreation: allowCreate},
		CreatedAtMs:        createdAtMs,
	}, nil
}

// MemberToHash converts a Member struct to a Redis hash format.
// Online is derived from presence and is never persisted.
func MemberToHash(m *Member) (map[string]interface{}, error) {
	badges := m.Badges
	if badges == nil {
		badges = []string{}
	}
	badgesJSON, err := json.Marshal(badges)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal badges: %w", err)
	}

	return map[string]interface{}{
		"id":        m.ID,
		"team_id":   m.TeamID,
		"name":      m.Name,
		"avatar":    m.Avatar,
		"role":      string(m.Role),
		"xp":        m.XP,
		"badges":    string(badgesJSON),
		"joined_ms": m.JoinedMs,
	}, nil
}

// HashToMember converts a Redis hash to a Member struct.
func HashToMember(hash map[string]string) (*Member, error) {
	xp, err := strconv.Atoi(hash["xp"])
	if err != nil {
		return nil, fmt.Errorf("invalid xp field: %w", err)
	}

	var badges []string
	if badgesJSON := hash["badges"]; badgesJSON != "" {
		if err := json.Unmarshal([]byte(badgesJSON), &badges); err != nil {
			return nil, fmt.Errorf("failed to unmarshal badges: %w", err)
		}
	}
	if badges == nil {
		badges = []string{}
	}

	joinedMs, _ := strconv.ParseInt(hash["joined_ms"], 10, 64)

	return &Member{
		ID:       hash["id"],
		TeamID:   hash["team_id"],
		Name:     hash["name"],
		Avatar:   hash["avatar"],
		Role:     Role(hash["role"]),
		XP:       xp,
		Badges:   badges,
		JoinedMs: joinedMs,
	}, nil
}

// TaskToHash converts a Task struct to a Redis hash format.
// Subtasks are JSON-encoded into a single field.
func TaskToHash(t *Task) (map[string]interface{}, error) {
	subtasks := t.Subtasks
	if subtasks == nil {
		subtasks = []Subtask{}
	}
	subtasksJSON, err := json.Marshal(subtasks)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal subtasks: %w", err)
	}

	return map[string]interface{}{
		"id":                 t.ID,
		"team_id":            t.TeamID,
		"title":              t.Title,
		"description":        t.Description,
		"priority":           string(t.Priority),
		"status":             string(t.Status),
		"assignee_id":        t.AssigneeID,
		"review_assignee_id": t.ReviewAssigneeID,
		"subtasks":           string(subtasksJSON),
		"is_critical":        t.IsCritical,
		"deadline_ms":        optionalInt64(t.DeadlineMs),
		"created_by":         t.CreatedBy,
		"created_at_ms":      t.CreatedAtMs,
		"updated_at_ms":      t.UpdatedAtMs,
		"rev":                t.Rev,
	}, nil
}

// HashToTask converts a Redis hash to a Task struct.
func HashToTask(hash map[string]string) (*Task, error) {
	var subtasks []Subtask
	if subtasksJSON := hash["subtasks"]; subtasksJSON != "" {
		if err := json.Unmarshal([]byte(subtasksJSON), &subtasks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subtasks: %w", err)
		}
	}
	if subtasks == nil {
		subtasks = []Subtask{}
	}

	deadline, err := parseOptionalInt64(hash["deadline_ms"])
	if err != nil {
		return nil, fmt.Errorf("invalid deadline_ms field: %w", err)
	}

	isCritical, _ := strconv.ParseBool(hash["is_critical"])
	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)
	rev, _ := strconv.ParseInt(hash["rev"], 10, 64)

	return &Task{
		ID:               hash["id"],
		TeamID:           hash["team_id"],
		Title:            hash["title"],
		Description:      hash["description"],
		Priority:         Priority(hash["priority"]),
		Status:           TaskStatus(hash["status"]),
		AssigneeID:       hash["assignee_id"],
		ReviewAssigneeID: hash["review_assignee_id"],
		Subtasks:         subtasks,
		IsCritical:       isCritical,
		DeadlineMs:       deadline,
		CreatedBy:        hash["created_by"],
		CreatedAtMs:      createdAtMs,
		UpdatedAtMs:      updatedAtMs,
		Rev:              rev,
	}, nil
}

// MessageToHash converts a ChatMessage struct to a Redis hash format.
// Reactions live in their own hash and are not part of the row.
func MessageToHash(m *ChatMessage) (map[string]interface{}, error) {
	return map[string]interface{}{
		"id":            m.ID,
		"team_id":       m.TeamID,
		"author_id":     m.AuthorID,
		"content":       m.Content,
		"type":          string(m.Type),
		"language":      m.Language,
		"created_at_ms": m.CreatedAtMs,
	}, nil
}

// HashToMessage converts a Redis hash to a ChatMessage struct.
func HashToMessage(hash map[string]string) (*ChatMessage, error) {
	createdAtMs, err := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at_ms field: %w", err)
	}

	return &ChatMessage{
		ID:          hash["id"],
		TeamID:      hash["team_id"],
		AuthorID:    hash["author_id"],
		Content:     hash["content"],
		Type:        MessageType(hash["type"]),
		Language:    hash["language"],
		CreatedAtMs: createdAtMs,
	}, nil
}

// BountyToHash converts a Bounty struct to a Redis hash format.
func BountyToHash(b *Bounty) (map[string]interface{}, error) {
	return map[string]interface{}{
		"id":           b.ID,
		"team_id":      b.TeamID,
		"title":        b.Title,
		"completed_by": b.CompletedBy,
		"cycle":        b.Cycle,
	}, nil
}

// HashToBounty converts a Redis hash to a Bounty struct.
func HashToBounty(hash map[string]string) (*Bounty, error) {
	cycle, err := strconv.Atoi(hash["cycle"])
	if err != nil {
		return nil, fmt.Errorf("invalid cycle field: %w", err)
	}

	return &Bounty{
		ID:          hash["id"],
		TeamID:      hash["team_id"],
		Title:       hash["title"],
		CompletedBy: hash["completed_by"],
		Cycle:       cycle,
	}, nil
}

// ArchiveToHash converts a MissionArchive struct to a Redis hash format.
// Awards are JSON-encoded.
func ArchiveToHash(a *MissionArchive) (map[string]interface{}, error) {
	awards := a.Awards
	if awards == nil {
		awards = map[string]int{}
	}
	awardsJSON, err := json.Marshal(awards)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal awards: %w", err)
	}

	return map[string]interface{}{
		"id":              a.ID,
		"team_id":         a.TeamID,
		"cycle":           a.Cycle,
		"mission_name":    a.MissionName,
		"mission_goal":    a.MissionGoal,
		"completed_at_ms": a.CompletedAtMs,
		"completed_by":    a.CompletedBy,
		"awards":          string(awardsJSON),
		"total_xp":        a.TotalXP,
		"snapshot_ref":    a.SnapshotRef,
	}, nil
}

// HashToArchive converts a Redis hash to a MissionArchive struct.
func HashToArchive(hash map[string]string) (*MissionArchive, error) {
	cycle, err := strconv.Atoi(hash["cycle"])
	if err != nil {
		return nil, fmt.Errorf("invalid cycle field: %w", err)
	}

	totalXP, err := strconv.Atoi(hash["total_xp"])
	if err != nil {
		return nil, fmt.Errorf("invalid total_xp field: %w", err)
	}

	awards := map[string]int{}
	if awardsJSON := hash["awards"]; awardsJSON != "" {
		if err := json.Unmarshal([]byte(awardsJSON), &awards); err != nil {
			return nil, fmt.Errorf("failed to unmarshal awards: %w", err)
		}
	}

	completedAtMs, _ := strconv.ParseInt(hash["completed_at_ms"], 10, 64)

	return &MissionArchive{
		ID:            hash["id"],
		TeamID:        hash["team_id"],
		Cycle:         cycle,
		MissionName:   hash["mission_name"],
		MissionGoal:   hash["mission_goal"],
		CompletedAtMs: completedAtMs,
		CompletedBy:   hash["completed_by"],
		Awards:        awards,
		TotalXP:       totalXP,
		SnapshotRef:   hash["snapshot_ref"],
	}, nil
}

// optionalInt64 encodes a nullable timestamp as "" when unset.
func optionalInt64(v *int64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func parseOptionalInt64(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

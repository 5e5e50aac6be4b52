package printer

import (
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/sortie/internal/board"
	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/fatih/color"
)

var columnTitles = map[blackboard.TaskStatus]string{
	blackboard.TaskStatusTodo:       "TODO",
	blackboard.TaskStatusInProgress: "IN PROGRESS",
	blackboard.TaskStatusReview:     "REVIEW",
	blackboard.TaskStatusDone:       "DONE",
}

var priorityColors = map[blackboard.Priority]*color.Color{
	blackboard.PriorityHigh:   color.New(color.FgRed),
	blackboard.PriorityMedium: color.New(color.FgYellow),
	blackboard.PriorityLow:    color.New(color.FgGreen),
}

// Board prints every column with its tasks. names maps member IDs to display names.
func Board(columns []board.Column, pinnedID string, names map[string]string) {
	for _, col := range columns {
		Heading("%s (%d)", columnTitles[col.Status], len(col.Tasks))
		if len(col.Tasks) == 0 {
			Faint("  (empty)\n")
		}
		for _, t := range col.Tasks {
			Printf("  %s\n", TaskLine(t, t.ID == pinnedID, names))
		}
		Println()
	}
}

// TaskLine renders one task as a single line: short ID, markers, title, priority,
// assignee and subtask progress.
func TaskLine(t *blackboard.Task, pinned bool, names map[string]string) string {
	var b strings.Builder
	b.WriteString(faint.Sprint(shortID(t.ID)))
	b.WriteString(" ")
	if pinned {
		b.WriteString("📌 ")
	}
	if t.IsCritical {
		b.WriteString(red.Sprint("!! "))
	}
	b.WriteString(t.Title)

	pc, ok := priorityColors[t.Priority]
	if !ok {
		pc = faint
	}
	b.WriteString(" ")
	b.WriteString(pc.Sprintf("[%s]", t.Priority))

	if t.AssigneeID != "" {
		fmt.Fprintf(&b, " @%s", nameOf(names, t.AssigneeID))
	}
	if t.ReviewAssigneeID != "" {
		fmt.Fprintf(&b, " review:@%s", nameOf(names, t.ReviewAssigneeID))
	}
	if n := len(t.Subtasks); n > 0 {
		done := 0
		for _, s := range t.Subtasks {
			if s.Done {
				done++
			}
		}
		fmt.Fprintf(&b, " (%d/%d)", done, n)
	}
	return b.String()
}

// Roster prints members with online state, role and XP.
func Roster(members []*blackboard.Member) {
	for _, m := range members {
		dot := faint.Sprint("○")
		if m.Online {
			dot = green.Sprint("●")
		}
		role := ""
		if m.Role == blackboard.RoleLeader {
			role = yellow.Sprint(" ★ leader")
		}
		badges := ""
		if len(m.Badges) > 0 {
			badges = faint.Sprintf(" [%s]", strings.Join(m.Badges, ", "))
		}
		Printf("%s %s%s  %d XP%s\n", dot, m.Name, role, m.XP, badges)
	}
}

// Message prints one chat message with its author, time and reactions.
func Message(m *blackboard.ChatMessage, author string) {
	ts := time.UnixMilli(m.CreatedAtMs).Format("15:04")
	Faint("[%s] ", ts)
	bold.Fprintf(Output, "%s: ", author)

	if m.Type == blackboard.MessageTypeCode {
		Printf("\n```%s\n%s\n```\n", m.Language, m.Content)
	} else {
		Printf("%s\n", m.Content)
	}

	if len(m.Reactions) > 0 {
		parts := make([]string, len(m.Reactions))
		for i, r := range m.Reactions {
			parts[i] = fmt.Sprintf("%s %d", r.Emoji, r.Count)
		}
		Faint("        %s\n", strings.Join(parts, "  "))
	}
}

func nameOf(names map[string]string, id string) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return shortID(id)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

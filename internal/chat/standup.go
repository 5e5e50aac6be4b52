package chat

import (
	"fmt"
	"strings"

	"github.com/dyluth/sortie/internal/store"
	"github.com/dyluth/sortie/pkg/blackboard"
)

// Standup summarizes the board as a stand-up message: column counts, then what each
// member is working on or waiting review for.
func Standup(st *store.Store) string {
	tasks := st.Tasks()

	counts := make(map[blackboard.TaskStatus]int)
	for _, t := range tasks {
		counts[t.Status]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 Stand-up: %d todo · %d in progress · %d in review · %d done",
		counts[blackboard.TaskStatusTodo],
		counts[blackboard.TaskStatusInProgress],
		counts[blackboard.TaskStatusReview],
		counts[blackboard.TaskStatusDone])

	for _, m := range st.Members() {
		var doing, reviewing []string
		for _, t := range tasks {
			if t.AssigneeID != m.ID {
				continue
			}
			switch t.Status {
			case blackboard.TaskStatusInProgress:
				doing = append(doing, t.Title)
			case blackboard.TaskStatusReview:
				reviewing = append(reviewing, t.Title)
			}
		}
		if len(doing) == 0 && len(reviewing) == 0 {
			continue
		}

		fmt.Fprintf(&b, "\n• %s", m.Name)
		if len(doing) > 0 {
			fmt.Fprintf(&b, " working on %s", strings.Join(doing, ", "))
		}
		if len(reviewing) > 0 {
			if len(doing) > 0 {
				b.WriteString(";")
			}
			fmt.Fprintf(&b, " awaiting review: %s", strings.Join(reviewing, ", "))
		}
	}

	if pin := st.Pin(); pin != "" {
		if t, ok := st.Task(pin); ok {
			fmt.Fprintf(&b, "\n📌 Focus: %s", t.Title)
		}
	}
	return b.String()
}

package mission

import (
	"github.com/dyluth/sortie/pkg/blackboard"
)

// BadgeMissionVeteran is awarded to every member who completed a task in a finished cycle.
const BadgeMissionVeteran = "mission-veteran"

// Economy is the reward formula applied at completion.
type Economy struct {
	TaskXP            int `yaml:"task_xp" json:"task_xp"`                         // Per done task, credited to its assignee
	BountyXP          int `yaml:"bounty_xp" json:"bounty_xp"`                     // Per bounty completed this cycle
	CompletionBonusXP int `yaml:"completion_bonus_xp" json:"completion_bonus_xp"` // Flat bonus for every member
}

// DefaultEconomy returns the stock reward amounts.
func DefaultEconomy() Economy {
	return Economy{TaskXP: 50, BountyXP: 100, CompletionBonusXP: 100}
}

// ComputeAwards applies the economy to a cycle's results. Every member receives the
// completion bonus, plus TaskXP for each done task assigned to them and BountyXP for each
// bounty of this cycle they completed. Work credited to non-members is ignored.
// The result is deterministic for the same inputs.
func ComputeAwards(econ Economy, cycle int, members []*blackboard.Member, tasks []*blackboard.Task, bounties []*blackboard.Bounty) (map[string]int, int) {
	awards := make(map[string]int, len(members))
	for _, m := range members {
		awards[m.ID] = econ.CompletionBonusXP
	}

	for _, t := range tasks {
		if t.Status != blackboard.TaskStatusDone {
			continue
		}
		if _, ok := awards[t.AssigneeID]; ok {
			awards[t.AssigneeID] += econ.TaskXP
		}
	}
	for _, b := range bounties {
		if b.Cycle != cycle || b.CompletedBy == "" {
			continue
		}
		if _, ok := awards[b.CompletedBy]; ok {
			awards[b.CompletedBy] += econ.BountyXP
		}
	}

	total := 0
	for _, xp := range awards {
		total += xp
	}
	return awards, total
}

// veterans returns the members with at least one done task.
func veterans(tasks []*blackboard.Task) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, t := range tasks {
		if t.Status == blackboard.TaskStatusDone && t.AssigneeID != "" && !seen[t.AssigneeID] {
			seen[t.AssigneeID] = true
			ids = append(ids, t.AssigneeID)
		}
	}
	return ids
}

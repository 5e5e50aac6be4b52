package board

import (
	"errors"

	"github.com/dyluth/sortie/pkg/blackboard"
)

// ErrNotAuthorized is returned when the actor may not perform the action on the task.
var ErrNotAuthorized = errors.New("not authorized")

// IsLeader reports whether actorID leads the team.
func IsLeader(team *blackboard.Team, actorID string) bool {
	return team != nil && actorID != "" && team.LeaderID == actorID
}

// CanInteract is the board guard: only the team Leader or the task's current assignee may
// transition, edit, pin or toggle criticality of a task. Every path that mutates a task,
// programmatic or interactive, checks it.
func CanInteract(team *blackboard.Team, actorID string, task *blackboard.Task) bool {
	if team == nil || task == nil || actorID == "" || task.TeamID != team.ID {
		return false
	}
	return IsLeader(team, actorID) || task.AssigneeID == actorID
}

// CanCreate reports whether actorID may create tasks: always for the Leader, for anyone
// else only while the team allows member task creation.
func CanCreate(team *blackboard.Team, actorID string) bool {
	if team == nil || actorID == "" {
		return false
	}
	return IsLeader(team, actorID) || team.Settings.AllowTaskCreation
}

// touchesLeaderOnly reports whether p writes a field only the Leader may set, even on a
// task the actor is assigned to.
func touchesLeaderOnly(p blackboard.TaskPatch) bool {
	return p.AssigneeID != nil || p.ReviewAssigneeID != nil
}

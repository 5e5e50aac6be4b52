package mission

import (
	"fmt"
	"time"

	"github.com/dyluth/sortie/pkg/blackboard"
)

// Phase is where a team's current mission cycle stands.
type Phase string

const (
	PhaseUnscheduled Phase = "unscheduled"
	PhaseScheduled   Phase = "scheduled"
	PhaseOvertime    Phase = "overtime"
	PhaseCompleted   Phase = "completed"
)

// PhaseAt derives the phase of a team at now. Completion wins over the deadline; overtime
// starts strictly after the deadline.
func PhaseAt(team *blackboard.Team, now time.Time) Phase {
	switch {
	case team == nil:
		return PhaseUnscheduled
	case team.CompletedArchiveID != "":
		return PhaseCompleted
	case team.DeadlineMs == nil:
		return PhaseUnscheduled
	case now.UnixMilli() > *team.DeadlineMs:
		return PhaseOvertime
	default:
		return PhaseScheduled
	}
}

// RemainingAt returns the time left until the deadline, negative once overtime and zero
// when no deadline is set.
func RemainingAt(team *blackboard.Team, now time.Time) time.Duration {
	if team == nil || team.DeadlineMs == nil {
		return 0
	}
	return time.UnixMilli(*team.DeadlineMs).Sub(now)
}

// FormatRemaining renders a countdown as HH:MM:SS, prefixed with "+" when overtime.
// Time left is rounded up to the whole second and overtime is rounded down, so the display
// reads 00:00:00 exactly when the deadline passes.
func FormatRemaining(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "+"
		d = (-d).Truncate(time.Second)
	} else if r := d.Truncate(time.Second); r != d {
		d = r + time.Second
	}
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, h, m, s)
}

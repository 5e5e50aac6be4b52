// Package mission drives a team's mission cycle: deadline countdown, completion with XP
// distribution, and redeploy into a new cycle.
//
// Completion is computed once, by the Leader's client, and the totals travel to every
// other client inside the MISSION_COMPLETED broadcast. The blackboard's per-cycle marker
// guarantees a second completion of the same cycle never awards XP again.
package mission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/sortie/internal/store"
	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrNotLeader is returned when a Leader-only mission action is attempted by anyone else.
	ErrNotLeader = errors.New("only the team leader can do this")

	// ErrNoMission is returned before the team snapshot has been loaded.
	ErrNoMission = errors.New("no mission loaded")
)

// DefaultInterval is how often the countdown ticks.
const DefaultInterval = time.Second

// Backend is the subset of the blackboard the controller uses. *blackboard.Client
// satisfies it.
type Backend interface {
	GetTeam(ctx context.Context, teamID string) (*blackboard.Team, error)
	SetDeadline(ctx context.Context, teamID string, deadlineMs *int64) (*blackboard.Team, error)
	ListTasks(ctx context.Context, teamID string) ([]*blackboard.Task, error)
	ListMembers(ctx context.Context, teamID string) ([]*blackboard.Member, error)
	ListBounties(ctx context.Context, teamID string) ([]*blackboard.Bounty, error)
	CompleteMission(ctx context.Context, archive *blackboard.MissionArchive, snapshot []*blackboard.Task) error
	CompletionFor(ctx context.Context, teamID string, cycle int) (string, error)
	GetArchive(ctx context.Context, archiveID string) (*blackboard.MissionArchive, error)
	AwardBadge(ctx context.Context, memberID, badge string) (*blackboard.Member, error)
	Redeploy(ctx context.Context, teamID, name, goal string, deadlineMs *int64) (*blackboard.Team, error)
	Broadcast(ctx context.Context, teamID string, event blackboard.BroadcastEvent, senderID string, payload interface{}) error
	AppendAudit(ctx context.Context, entry *blackboard.AuditEntry) error
}

// Summary is the completion result every client renders. It is computed once and carried
// verbatim by the MISSION_COMPLETED broadcast.
type Summary struct {
	ArchiveID     string         `json:"archive_id"`
	TeamID        string         `json:"team_id"`
	Cycle         int            `json:"cycle"`
	MissionName   string         `json:"mission_name"`
	MissionGoal   string         `json:"mission_goal"`
	CompletedBy   string         `json:"completed_by"`
	CompletedAtMs int64          `json:"completed_at_ms"`
	Awards        map[string]int `json:"awards"`
	TotalXP       int            `json:"total_xp"`
}

// Redeployment is the payload of SQUAD_REDEPLOYED.
type Redeployment struct {
	Cycle       int    `json:"cycle"`
	MissionName string `json:"mission_name"`
	MissionGoal string `json:"mission_goal"`
	DeadlineMs  *int64 `json:"deadline_ms,omitempty"`
}

// Tick is one countdown update.
type Tick struct {
	Phase     Phase
	Remaining time.Duration
}

// Options configures a Controller. Zero values select the defaults.
type Options struct {
	Economy  Economy
	Clock    clockwork.Clock
	Interval time.Duration
}

// Controller runs the mission lifecycle of one team for one member.
type Controller struct {
	teamID   string
	memberID string
	store    *store.Store
	backend  Backend
	economy  Economy
	clock    clockwork.Clock
	interval time.Duration

	mu        sync.Mutex
	summary   *Summary
	announced string
	onSummary func(*Summary)
}

// New creates a controller acting as memberID.
func New(st *store.Store, memberID string, backend Backend, opts Options) *Controller {
	if opts.Economy == (Economy{}) {
		opts.Economy = DefaultEconomy()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Controller{
		teamID:   st.TeamID(),
		memberID: memberID,
		store:    st,
		backend:  backend,
		economy:  opts.Economy,
		clock:    opts.Clock,
		interval: opts.Interval,
	}
}

// Phase returns the current phase by the controller's clock.
func (c *Controller) Phase() Phase {
	return PhaseAt(c.store.Team(), c.clock.Now())
}

// Remaining returns the time left until the deadline by the controller's clock.
func (c *Controller) Remaining() time.Duration {
	return RemainingAt(c.store.Team(), c.clock.Now())
}

// Countdown calls fn immediately and then on every interval until ctx is done. The
// remaining time is recomputed locally from the deadline on each tick; nothing is polled.
func (c *Controller) Countdown(ctx context.Context, fn func(Tick)) {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	emit := func() {
		now := c.clock.Now()
		team := c.store.Team()
		fn(Tick{Phase: PhaseAt(team, now), Remaining: RemainingAt(team, now)})
	}

	emit()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			emit()
		}
	}
}

// StatusLine renders the mission status for chat and the CLI.
func (c *Controller) StatusLine() string {
	team := c.store.Team()
	if team == nil {
		return "No mission loaded"
	}
	name := team.MissionName
	if name == "" {
		name = "Unnamed mission"
	}

	switch c.Phase() {
	case PhaseCompleted:
		return fmt.Sprintf("✅ %s (cycle %d) is complete", name, team.Cycle)
	case PhaseOvertime:
		return fmt.Sprintf("⏰ %s is in overtime %s", name, FormatRemaining(c.Remaining()))
	case PhaseScheduled:
		return fmt.Sprintf("🚀 %s: %s remaining", name, FormatRemaining(c.Remaining()))
	default:
		return fmt.Sprintf("🗓 %s has no deadline yet", name)
	}
}

// SetDeadline schedules the mission. Leader only.
func (c *Controller) SetDeadline(ctx context.Context, deadline time.Time) error {
	ms := deadline.UnixMilli()
	return c.updateDeadline(ctx, &ms)
}

// ClearDeadline returns the mission to unscheduled. Leader only.
func (c *Controller) ClearDeadline(ctx context.Context) error {
	return c.updateDeadline(ctx, nil)
}

func (c *Controller) updateDeadline(ctx context.Context, deadlineMs *int64) error {
	if err := c.requireLeader(); err != nil {
		return err
	}
	team, err := c.backend.SetDeadline(ctx, c.teamID, deadlineMs)
	if err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}
	c.store.ApplyTeam(team)

	detail := "cleared"
	if deadlineMs != nil {
		detail = time.UnixMilli(*deadlineMs).UTC().Format(time.RFC3339)
	}
	c.audit(ctx, "mission.deadline", detail)
	return nil
}

// Complete finishes the current cycle. Leader only.
//
// XP is computed from the blackboard's rows, never the local store, then the archive,
// the snapshot and every XP increment are written atomically. Only after that succeeds is
// MISSION_COMPLETED broadcast. If the cycle was already completed, by this client or a
// racing one, the stored archive's summary is returned and nothing is awarded or broadcast.
func (c *Controller) Complete(ctx context.Context) (*Summary, error) {
	if err := c.requireLeader(); err != nil {
		return nil, err
	}

	team, err := c.backend.GetTeam(ctx, c.teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load team: %w", err)
	}
	if team.CompletedArchiveID != "" {
		return c.resumeCompletion(ctx, team, team.CompletedArchiveID)
	}

	tasks, err := c.backend.ListTasks(ctx, c.teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	members, err := c.backend.ListMembers(ctx, c.teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	bounties, err := c.backend.ListBounties(ctx, c.teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bounties: %w", err)
	}

	awards, total := ComputeAwards(c.economy, team.Cycle, members, tasks, bounties)
	archive := &blackboard.MissionArchive{
		ID:            uuid.New().String(),
		TeamID:        c.teamID,
		Cycle:         team.Cycle,
		MissionName:   team.MissionName,
		MissionGoal:   team.MissionGoal,
		CompletedAtMs: c.clock.Now().UnixMilli(),
		CompletedBy:   c.memberID,
		Awards:        awards,
		TotalXP:       total,
	}

	if err := c.backend.CompleteMission(ctx, archive, tasks); err != nil {
		if errors.Is(err, blackboard.ErrAlreadyCompleted) {
			archiveID, lookupErr := c.backend.CompletionFor(ctx, c.teamID, team.Cycle)
			if lookupErr != nil {
				return nil, fmt.Errorf("failed to look up completed cycle: %w", lookupErr)
			}
			return c.resumeCompletion(ctx, team, archiveID)
		}
		return nil, fmt.Errorf("failed to complete mission: %w", err)
	}

	for _, memberID := range veterans(tasks) {
		if _, ok := awards[memberID]; !ok {
			continue
		}
		if _, err := c.backend.AwardBadge(ctx, memberID, BadgeMissionVeteran); err != nil {
			log.Printf("[Mission] Failed to award %s to %s: %v", BadgeMissionVeteran, memberID, err)
		}
	}

	team.CompletedArchiveID = archive.ID
	c.store.ApplyTeam(team)

	summary := summaryFromArchive(archive)
	c.setSummary(summary)
	c.audit(ctx, "mission.complete", fmt.Sprintf("%s: %d XP", archive.MissionName, total))

	c.announce(ctx, summary)
	return summary, nil
}

// Redeploy starts a new cycle with a fresh mission. Tasks and the pin are cleared; team,
// members, XP, chat and audit history survive. Leader only.
func (c *Controller) Redeploy(ctx context.Context, name, goal string, deadline *time.Time) error {
	if err := c.requireLeader(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("mission name cannot be empty")
	}

	var deadlineMs *int64
	if deadline != nil {
		ms := deadline.UnixMilli()
		deadlineMs = &ms
	}

	team, err := c.backend.Redeploy(ctx, c.teamID, name, goal, deadlineMs)
	if err != nil {
		return fmt.Errorf("failed to redeploy: %w", err)
	}

	c.store.ApplyTeam(team)
	c.store.ReplaceTasks(nil)
	c.store.ApplyPin("")
	c.setSummary(nil)
	c.audit(ctx, "mission.redeploy", fmt.Sprintf("cycle %d: %s", team.Cycle, name))

	payload := Redeployment{Cycle: team.Cycle, MissionName: team.MissionName, MissionGoal: team.MissionGoal, DeadlineMs: team.DeadlineMs}
	if err := c.backend.Broadcast(ctx, c.teamID, blackboard.EventSquadRedeployed, c.memberID, payload); err != nil {
		log.Printf("[Mission] Failed to broadcast redeploy of cycle %d: %v", team.Cycle, err)
	}
	return nil
}

// HandleBroadcast renders completion summaries and redeploys sent by other clients.
// Summaries are shown as received, never recomputed.
func (c *Controller) HandleBroadcast(env *blackboard.Envelope) {
	switch env.Event {
	case blackboard.EventMissionCompleted:
		var s Summary
		if err := env.Decode(&s); err != nil {
			log.Printf("[Mission] Dropping malformed completion summary: %v", err)
			return
		}
		if s.TeamID != c.teamID {
			return
		}
		c.setSummary(&s)

	case blackboard.EventSquadRedeployed:
		c.setSummary(nil)
	}
}

// Summary returns the completion summary on display, or nil.
func (c *Controller) Summary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// OnSummary registers fn to run whenever the displayed summary changes; nil means dismissed.
func (c *Controller) OnSummary(fn func(*Summary)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSummary = fn
}

func (c *Controller) setSummary(s *Summary) {
	c.mu.Lock()
	c.summary = s
	fn := c.onSummary
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// resumeCompletion returns the summary of an already completed cycle. The summary is
// broadcast again unless this controller already announced it, so a completion whose
// first attempt failed after the commit still reaches peers. XP is never re-awarded.
func (c *Controller) resumeCompletion(ctx context.Context, team *blackboard.Team, archiveID string) (*Summary, error) {
	summary, err := c.storedSummary(ctx, archiveID)
	if err != nil {
		return nil, err
	}
	if team.Cycle == summary.Cycle {
		team.CompletedArchiveID = archiveID
		c.store.ApplyTeam(team)
	}
	c.mu.Lock()
	announced := c.announced == archiveID
	c.mu.Unlock()
	if !announced {
		c.setSummary(summary)
		c.announce(ctx, summary)
	}
	return summary, nil
}

func (c *Controller) announce(ctx context.Context, summary *Summary) {
	if err := c.backend.Broadcast(ctx, c.teamID, blackboard.EventMissionCompleted, c.memberID, summary); err != nil {
		log.Printf("[Mission] Failed to broadcast completion of cycle %d: %v", summary.Cycle, err)
		return
	}
	c.mu.Lock()
	c.announced = summary.ArchiveID
	c.mu.Unlock()
}

func (c *Controller) storedSummary(ctx context.Context, archiveID string) (*Summary, error) {
	archive, err := c.backend.GetArchive(ctx, archiveID)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive %s: %w", archiveID, err)
	}
	return summaryFromArchive(archive), nil
}

func (c *Controller) requireLeader() error {
	team := c.store.Team()
	if team == nil {
		return ErrNoMission
	}
	if team.LeaderID != c.memberID {
		return ErrNotLeader
	}
	return nil
}

func (c *Controller) audit(ctx context.Context, action, detail string) {
	entry := &blackboard.AuditEntry{
		ID:      uuid.New().String(),
		TeamID:  c.teamID,
		ActorID: c.memberID,
		Action:  action,
		Detail:  detail,
		AtMs:    c.clock.Now().UnixMilli(),
	}
	if err := c.backend.AppendAudit(ctx, entry); err != nil {
		log.Printf("[Mission] Failed to record %s: %v", action, err)
	}
}

func summaryFromArchive(a *blackboard.MissionArchive) *Summary {
	return &Summary{
		ArchiveID:     a.ID,
		TeamID:        a.TeamID,
		Cycle:         a.Cycle,
		MissionName:   a.MissionName,
		MissionGoal:   a.MissionGoal,
		CompletedBy:   a.CompletedBy,
		CompletedAtMs: a.CompletedAtMs,
		Awards:        a.Awards,
		TotalXP:       a.TotalXP,
	}
}

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/sortie/internal/board"
	"github.com/dyluth/sortie/internal/chat"
	"github.com/dyluth/sortie/internal/config"
	"github.com/dyluth/sortie/internal/mission"
	"github.com/dyluth/sortie/internal/store"
	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/jonboulle/clockwork"
)

// ErrNotMember is returned when the acting member is not on the team being loaded.
var ErrNotMember = errors.New("not a member of this team")

// View is a one-shot, unsubscribed view of a team: a snapshot plus the board, mission and
// chat components over it. Commands and API requests load one, act, and drop it.
type View struct {
	TeamID   string
	MemberID string
	Store    *store.Store
	Board    *board.Board
	Mission  *mission.Controller
	Chat     *chat.Channel
}

// Load reads the team's current rows and builds a View acting as opts.MemberID.
func Load(ctx context.Context, client *blackboard.Client, opts Options) (*View, error) {
	cfg, clock := opts.withDefaults()

	st := store.New(opts.TeamID, client)
	if err := loadSnapshot(ctx, client, st); err != nil {
		return nil, err
	}
	if _, ok := st.Member(opts.MemberID); !ok {
		return nil, fmt.Errorf("member %s: %w", opts.MemberID, ErrNotMember)
	}

	v := &View{TeamID: opts.TeamID, MemberID: opts.MemberID, Store: st}
	v.Board, v.Mission, v.Chat = components(st, opts.MemberID, client, cfg, clock)
	return v, nil
}

// LoadMessages fills the view's store with the recent chat history.
func (v *View) LoadMessages(ctx context.Context) error {
	return v.Chat.Refresh(ctx)
}

func (o Options) withDefaults() (*config.SortieConfig, clockwork.Clock) {
	cfg := o.Config
	if cfg == nil {
		cfg = config.Default()
	}
	clock := o.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return cfg, clock
}

// loadSnapshot reads the team row, roster, tasks and pin into st.
func loadSnapshot(ctx context.Context, client *blackboard.Client, st *store.Store) error {
	teamID := st.TeamID()

	team, err := client.GetTeam(ctx, teamID)
	if err != nil {
		return fmt.Errorf("failed to load team %s: %w", teamID, err)
	}
	members, err := client.ListMembers(ctx, teamID)
	if err != nil {
		return fmt.Errorf("failed to load members: %w", err)
	}
	tasks, err := client.ListTasks(ctx, teamID)
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}
	pin, err := client.GetPin(ctx, teamID)
	if err != nil {
		return fmt.Errorf("failed to load pin: %w", err)
	}

	st.ApplyTeam(team)
	st.ReplaceMembers(members)
	st.ReplaceTasks(tasks)
	st.ApplyPin(pin)
	return nil
}

// components wires the board, mission controller and chat channel over one store. The
// chat channel answers /mission with the controller's status line.
func components(st *store.Store, memberID string, client *blackboard.Client, cfg *config.SortieConfig, clock clockwork.Clock) (*board.Board, *mission.Controller, *chat.Channel) {
	econ := mission.Economy{
		TaskXP:            *cfg.Economy.TaskXP,
		BountyXP:          *cfg.Economy.BountyXP,
		CompletionBonusXP: *cfg.Economy.CompletionBonusXP,
	}
	b := board.New(st, client)
	m := mission.New(st, memberID, client, mission.Options{Economy: econ, Clock: clock, Interval: cfg.Countdown.Interval})
	c := chat.New(st, memberID, client)
	c.RegisterCommand("/mission", func(ctx context.Context, args string) (string, error) {
		return m.StatusLine(), nil
	})
	return b, m, c
}

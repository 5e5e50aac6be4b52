package mission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/sortie/internal/store"
	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a blackboard client connected to a miniredis instance
func setupTestClient(t *testing.T) (*blackboard.Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

// failingCompletion makes the archive write fail.
type failingCompletion struct {
	*blackboard.Client
}

func (f failingCompletion) CompleteMission(ctx context.Context, archive *blackboard.MissionArchive, snapshot []*blackboard.Task) error {
	return errors.New("EXECABORT")
}

// lostAck commits the completion but reports a failure, as when the reply is lost.
type lostAck struct {
	*blackboard.Client
}

func (l lostAck) CompleteMission(ctx context.Context, archive *blackboard.MissionArchive, snapshot []*blackboard.Task) error {
	if err := l.Client.CompleteMission(ctx, archive, snapshot); err != nil {
		return err
	}
	return errors.New("i/o timeout")
}

type fixture struct {
	client *blackboard.Client
	clock  clockwork.FakeClock
	team   *blackboard.Team
	leader *blackboard.Member
	grace  *blackboard.Member
	store  *store.Store
	ctrl   *Controller
}

func setup(t *testing.T, backend func(*blackboard.Client) Backend) *fixture {
	t.Helper()
	ctx := context.Background()
	client, _ := setupTestClient(t)
	clock := clockwork.NewFakeClockAt(time.Unix(1_790_000_000, 0))

	team := &blackboard.Team{
		ID:          uuid.New().String(),
		Name:        "Red Squadron",
		InviteCode:  blackboard.NewInviteCode(),
		MissionName: "Launch",
		MissionGoal: "Reach orbit",
	}
	leader := &blackboard.Member{ID: uuid.New().String(), Name: "Lead", JoinedMs: 1}
	require.NoError(t, client.CreateTeam(ctx, team, leader))
	grace := &blackboard.Member{ID: uuid.New().String(), TeamID: team.ID, Name: "Grace", Role: blackboard.RoleMember, JoinedMs: 2}
	require.NoError(t, client.AddMember(ctx, grace))

	st := store.New(team.ID, client)
	st.ApplyTeam(team)

	var b Backend = client
	if backend != nil {
		b = backend(client)
	}
	return &fixture{
		client: client,
		clock:  clock,
		team:   team,
		leader: leader,
		grace:  grace,
		store:  st,
		ctrl:   New(st, leader.ID, b, Options{Clock: clock}),
	}
}

func (f *fixture) addTask(t *testing.T, title string, status blackboard.TaskStatus, assignee string) {
	t.Helper()
	task := &blackboard.Task{
		ID:         uuid.New().String(),
		TeamID:     f.team.ID,
		Title:      title,
		Priority:   blackboard.PriorityMedium,
		Status:     status,
		AssigneeID: assignee,
	}
	require.NoError(t, f.client.CreateTask(context.Background(), task))
	f.store.ApplyTask(task)
}

func (f *fixture) addBounty(t *testing.T, cycle int, completedBy string) {
	t.Helper()
	b := &blackboard.Bounty{ID: uuid.New().String(), TeamID: f.team.ID, Title: "Bug hunt", Cycle: cycle, CompletedBy: completedBy}
	require.NoError(t, f.client.CreateBounty(context.Background(), b))
}

func subscribeBroadcast(t *testing.T, client *blackboard.Client, teamID string) *blackboard.Subscription[*blackboard.Envelope] {
	t.Helper()
	sub, err := client.SubscribeBroadcast(context.Background(), teamID)
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
	return sub
}

func TestComputeAwards(t *testing.T) {
	econ := Economy{TaskXP: 50, BountyXP: 100, CompletionBonusXP: 100}
	members := []*blackboard.Member{{ID: "a"}, {ID: "b"}}
	tasks := []*blackboard.Task{
		{AssigneeID: "a", Status: blackboard.TaskStatusDone},
		{AssigneeID: "a", Status: blackboard.TaskStatusDone},
		{AssigneeID: "b", Status: blackboard.TaskStatusReview},
		{AssigneeID: "ghost", Status: blackboard.TaskStatusDone},
		{Status: blackboard.TaskStatusDone},
	}
	bounties := []*blackboard.Bounty{
		{CompletedBy: "b", Cycle: 2},
		{CompletedBy: "b", Cycle: 1},
		{Cycle: 2},
	}

	awards, total := ComputeAwards(econ, 2, members, tasks, bounties)
	assert.Equal(t, map[string]int{"a": 200, "b": 200}, awards)
	assert.Equal(t, 400, total)

	again, againTotal := ComputeAwards(econ, 2, members, tasks, bounties)
	assert.Equal(t, awards, again)
	assert.Equal(t, total, againTotal)
}

func TestPhaseAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *int64 {
		ms := now.Add(d).UnixMilli()
		return &ms
	}

	tests := []struct {
		name string
		team *blackboard.Team
		want Phase
	}{
		{"no team", nil, PhaseUnscheduled},
		{"no deadline", &blackboard.Team{}, PhaseUnscheduled},
		{"before deadline", &blackboard.Team{DeadlineMs: at(time.Hour)}, PhaseScheduled},
		{"at deadline", &blackboard.Team{DeadlineMs: at(0)}, PhaseScheduled},
		{"past deadline", &blackboard.Team{DeadlineMs: at(-time.Millisecond)}, PhaseOvertime},
		{"completed beats overtime", &blackboard.Team{DeadlineMs: at(-time.Hour), CompletedArchiveID: "x"}, PhaseCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PhaseAt(tt.team, now))
		})
	}

	assert.Equal(t, time.Hour, RemainingAt(&blackboard.Team{DeadlineMs: at(time.Hour)}, now))
	assert.Zero(t, RemainingAt(&blackboard.Team{}, now))
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "02:00:00", FormatRemaining(2*time.Hour))
	assert.Equal(t, "00:01:02", FormatRemaining(61*time.Second+500*time.Millisecond))
	assert.Equal(t, "01:00:00", FormatRemaining(time.Hour-839*time.Microsecond), "time left rounds up")
	assert.Equal(t, "+00:00:01", FormatRemaining(-1500*time.Millisecond), "overtime rounds down")
	assert.Equal(t, "+00:00:05", FormatRemaining(-5*time.Second))
	assert.Equal(t, "00:00:00", FormatRemaining(0))
}

func TestCountdown(t *testing.T) {
	f := setup(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.ctrl.SetDeadline(ctx, f.clock.Now().Add(2*time.Second)))

	ticks := make(chan Tick, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.ctrl.Countdown(ctx, func(tk Tick) { ticks <- tk })
	}()

	next := func() Tick {
		select {
		case tk := <-ticks:
			return tk
		case <-time.After(2 * time.Second):
			t.Fatal("no countdown tick")
			return Tick{}
		}
	}

	assert.Equal(t, Tick{Phase: PhaseScheduled, Remaining: 2 * time.Second}, next())
	f.clock.BlockUntil(1)

	f.clock.Advance(time.Second)
	assert.Equal(t, Tick{Phase: PhaseScheduled, Remaining: time.Second}, next())
	f.clock.Advance(time.Second)
	assert.Equal(t, Tick{Phase: PhaseScheduled, Remaining: 0}, next())
	f.clock.Advance(time.Second)
	assert.Equal(t, Tick{Phase: PhaseOvertime, Remaining: -time.Second}, next())
	assert.Contains(t, f.ctrl.StatusLine(), "overtime +00:00:01")

	cancel()
	<-done
}

func TestDeadlineIsLeaderOnly(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	asGrace := New(f.store, f.grace.ID, f.client, Options{Clock: f.clock})

	assert.ErrorIs(t, asGrace.SetDeadline(ctx, f.clock.Now().Add(time.Hour)), ErrNotLeader)
	assert.Equal(t, PhaseUnscheduled, f.ctrl.Phase())

	require.NoError(t, f.ctrl.SetDeadline(ctx, f.clock.Now().Add(time.Hour)))
	assert.Equal(t, PhaseScheduled, f.ctrl.Phase())
	assert.Contains(t, f.ctrl.StatusLine(), "01:00:00 remaining")

	require.NoError(t, f.ctrl.ClearDeadline(ctx))
	assert.Equal(t, PhaseUnscheduled, f.ctrl.Phase())

	empty := New(store.New(uuid.New().String(), f.client), f.leader.ID, f.client, Options{})
	assert.ErrorIs(t, empty.ClearDeadline(ctx), ErrNoMission)
}

func TestComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("awards once and broadcasts the computed totals", func(t *testing.T) {
		f := setup(t, nil)
		f.addTask(t, "Radar", blackboard.TaskStatusDone, f.grace.ID)
		f.addTask(t, "Fuel", blackboard.TaskStatusDone, f.grace.ID)
		f.addTask(t, "Paint", blackboard.TaskStatusTodo, f.leader.ID)
		f.addBounty(t, 1, f.grace.ID)
		f.addBounty(t, 0, f.grace.ID)
		sub := subscribeBroadcast(t, f.client, f.team.ID)

		// A peer renders whatever arrives on the broadcast.
		peer := New(store.New(f.team.ID, f.client), f.grace.ID, f.client, Options{Clock: f.clock})

		summary, err := f.ctrl.Complete(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{f.grace.ID: 300, f.leader.ID: 100}, summary.Awards)
		assert.Equal(t, 400, summary.TotalXP)
		assert.Equal(t, PhaseCompleted, f.ctrl.Phase())

		select {
		case env := <-sub.Events():
			require.Equal(t, blackboard.EventMissionCompleted, env.Event)
			peer.HandleBroadcast(env)
		case <-time.After(2 * time.Second):
			t.Fatal("no MISSION_COMPLETED broadcast")
		}
		require.NotNil(t, peer.Summary())
		assert.Equal(t, summary.TotalXP, peer.Summary().TotalXP)

		g, err := f.client.GetMember(ctx, f.grace.ID)
		require.NoError(t, err)
		assert.Equal(t, 300, g.XP)
		assert.Contains(t, g.Badges, BadgeMissionVeteran)
		l, err := f.client.GetMember(ctx, f.leader.ID)
		require.NoError(t, err)
		assert.NotContains(t, l.Badges, BadgeMissionVeteran)

		again, err := f.ctrl.Complete(ctx)
		require.NoError(t, err)
		assert.Equal(t, summary.ArchiveID, again.ArchiveID)
		assert.Equal(t, summary.TotalXP, again.TotalXP)

		g, err = f.client.GetMember(ctx, f.grace.ID)
		require.NoError(t, err)
		assert.Equal(t, 300, g.XP, "second completion awards nothing")

		select {
		case env := <-sub.Events():
			t.Fatalf("unexpected second broadcast %s", env.Event)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("racing client loses to the stored archive", func(t *testing.T) {
		f := setup(t, nil)
		stale := New(store.New(f.team.ID, f.client), f.leader.ID, f.client, Options{Clock: f.clock})
		stale.store.ApplyTeam(f.team)

		first, err := f.ctrl.Complete(ctx)
		require.NoError(t, err)
		second, err := stale.Complete(ctx)
		require.NoError(t, err)
		assert.Equal(t, first.ArchiveID, second.ArchiveID)

		archives, err := f.client.ListArchives(ctx, f.team.ID)
		require.NoError(t, err)
		assert.Len(t, archives, 1)
	})

	t.Run("failed write leaves the mission open and silent", func(t *testing.T) {
		f := setup(t, func(c *blackboard.Client) Backend { return failingCompletion{c} })
		sub := subscribeBroadcast(t, f.client, f.team.ID)

		_, err := f.ctrl.Complete(ctx)
		require.Error(t, err)
		assert.NotEqual(t, PhaseCompleted, f.ctrl.Phase())
		assert.Nil(t, f.ctrl.Summary())

		select {
		case env := <-sub.Events():
			t.Fatalf("unexpected broadcast %s", env.Event)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("retry after a committed failure announces the stored summary", func(t *testing.T) {
		f := setup(t, func(c *blackboard.Client) Backend { return lostAck{c} })
		f.addTask(t, "Radar", blackboard.TaskStatusDone, f.grace.ID)
		sub := subscribeBroadcast(t, f.client, f.team.ID)

		_, err := f.ctrl.Complete(ctx)
		require.Error(t, err)

		summary, err := f.ctrl.Complete(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{f.grace.ID: 150, f.leader.ID: 100}, summary.Awards)
		assert.Equal(t, PhaseCompleted, f.ctrl.Phase())
		require.NotNil(t, f.ctrl.Summary())

		select {
		case env := <-sub.Events():
			require.Equal(t, blackboard.EventMissionCompleted, env.Event)
			var got Summary
			require.NoError(t, env.Decode(&got))
			assert.Equal(t, summary.ArchiveID, got.ArchiveID)
			assert.Equal(t, summary.TotalXP, got.TotalXP)
		case <-time.After(2 * time.Second):
			t.Fatal("no MISSION_COMPLETED broadcast")
		}

		g, err := f.client.GetMember(ctx, f.grace.ID)
		require.NoError(t, err)
		assert.Equal(t, 150, g.XP, "retry awards nothing")

		_, err = f.ctrl.Complete(ctx)
		require.NoError(t, err)
		select {
		case env := <-sub.Events():
			t.Fatalf("unexpected repeat broadcast %s", env.Event)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("members cannot complete", func(t *testing.T) {
		f := setup(t, nil)
		asGrace := New(f.store, f.grace.ID, f.client, Options{})
		_, err := asGrace.Complete(ctx)
		assert.ErrorIs(t, err, ErrNotLeader)
	})
}

func TestRedeploy(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	f.addTask(t, "Radar", blackboard.TaskStatusDone, f.grace.ID)
	require.NoError(t, f.store.SetPin(ctx, f.store.Tasks()[0].ID))
	msg := &blackboard.ChatMessage{ID: uuid.New().String(), TeamID: f.team.ID, AuthorID: f.grace.ID, Content: "gg", Type: blackboard.MessageTypeText}
	require.NoError(t, f.client.CreateMessage(ctx, msg))

	var dismissed bool
	f.ctrl.OnSummary(func(s *Summary) { dismissed = s == nil })

	_, err := f.ctrl.Complete(ctx)
	require.NoError(t, err)
	sub := subscribeBroadcast(t, f.client, f.team.ID)

	assert.Error(t, f.ctrl.Redeploy(ctx, " ", "", nil))
	deadline := f.clock.Now().Add(2 * time.Hour)
	require.NoError(t, f.ctrl.Redeploy(ctx, "Return", "Land safely", &deadline))

	assert.True(t, dismissed)
	assert.Empty(t, f.store.Tasks())
	assert.Empty(t, f.store.Pin())
	assert.Equal(t, PhaseScheduled, f.ctrl.Phase())
	assert.Equal(t, 2, f.store.Team().Cycle)

	tasks, err := f.client.ListTasks(ctx, f.team.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	msgs, err := f.client.ListMessages(ctx, f.team.ID, f.grace.ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "chat history survives")
	g, err := f.client.GetMember(ctx, f.grace.ID)
	require.NoError(t, err)
	assert.Equal(t, 150, g.XP, "xp survives")

	select {
	case env := <-sub.Events():
		assert.Equal(t, blackboard.EventSquadRedeployed, env.Event)
		var r Redeployment
		require.NoError(t, env.Decode(&r))
		assert.Equal(t, "Return", r.MissionName)
	case <-time.After(2 * time.Second):
		t.Fatal("no SQUAD_REDEPLOYED broadcast")
	}

	next, err := f.ctrl.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, next.Cycle, "new cycle can complete again")
}

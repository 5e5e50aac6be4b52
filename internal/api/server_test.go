package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/sortie/internal/config"
	"github.com/dyluth/sortie/internal/mission"
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

type fixture struct {
	client  *blackboard.Client
	handler http.Handler
	clock   clockwork.FakeClock
	team    *blackboard.Team
	leader  *blackboard.Member
	alice   *blackboard.Member
	bob     *blackboard.Member
	radar   *blackboard.Task
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	client, _ := setupTestClient(t)

	team := &blackboard.Team{
		ID:          uuid.New().String(),
		Name:        "Red Squadron",
		InviteCode:  blackboard.NewInviteCode(),
		MissionName: "Launch",
	}
	leader := &blackboard.Member{ID: uuid.New().String(), Name: "Lead", JoinedMs: 1}
	require.NoError(t, client.CreateTeam(ctx, team, leader))
	alice := &blackboard.Member{ID: uuid.New().String(), TeamID: team.ID, Name: "Alice", Role: blackboard.RoleMember, JoinedMs: 2}
	bob := &blackboard.Member{ID: uuid.New().String(), TeamID: team.ID, Name: "Bob", Role: blackboard.RoleMember, JoinedMs: 3}
	require.NoError(t, client.AddMember(ctx, alice))
	require.NoError(t, client.AddMember(ctx, bob))

	radar := &blackboard.Task{
		ID:         uuid.New().String(),
		TeamID:     team.ID,
		Title:      "Radar",
		Priority:   blackboard.PriorityHigh,
		Status:     blackboard.TaskStatusTodo,
		AssigneeID: alice.ID,
		Subtasks:   []blackboard.Subtask{},
	}
	require.NoError(t, client.CreateTask(ctx, radar))

	cfg := config.Default()
	cfg.API.GinMode = "test"
	clock := clockwork.NewFakeClockAt(time.Now().Truncate(time.Second))

	return &fixture{
		client:  client,
		handler: NewServer(client, cfg, Options{Clock: clock}).Handler(),
		clock:   clock,
		team:    team,
		leader:  leader,
		alice:   alice,
		bob:     bob,
		radar:   radar,
	}
}

func (f *fixture) do(t *testing.T, method, path, memberID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if memberID != "" {
		req.Header.Set(MemberHeader, memberID)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) teamPath(suffix string) string {
	return apiVersion + "/teams/" + f.team.ID + suffix
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}

func TestIdentity(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name     string
		path     string
		memberID string
		want     int
	}{
		{"missing header", f.teamPath("/tasks"), "", http.StatusUnauthorized},
		{"malformed header", f.teamPath("/tasks"), "lead", http.StatusUnauthorized},
		{"stranger", f.teamPath("/tasks"), uuid.New().String(), http.StatusForbidden},
		{"unknown team", apiVersion + "/teams/" + uuid.New().String() + "/tasks", f.leader.ID, http.StatusNotFound},
		{"member", f.teamPath("/tasks"), f.bob.ID, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.path, tt.memberID, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestListTasks(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodGet, f.teamPath("/tasks"), f.bob.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Columns map[string][]*blackboard.Task `json:"columns"`
		Pinned  string                        `json:"pinned_task_id"`
	}
	decode(t, rec, &resp)
	require.Len(t, resp.Columns["todo"], 1)
	assert.Equal(t, "Radar", resp.Columns["todo"][0].Title)
	assert.Empty(t, resp.Columns["done"])
	assert.Empty(t, resp.Pinned)
}

func TestCreateTask(t *testing.T) {
	f := setup(t)

	t.Run("member blocked while creation is leader-only", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, f.teamPath("/tasks"), f.bob.ID, map[string]string{"title": "Fuel"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("leader creates and assigns", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, f.teamPath("/tasks"), f.leader.ID, map[string]string{"title": "Fuel", "assignee_id": f.bob.ID})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var task blackboard.Task
		decode(t, rec, &task)
		assert.Equal(t, blackboard.TaskStatusTodo, task.Status)
		assert.Equal(t, blackboard.PriorityMedium, task.Priority)

		stored, err := f.client.GetTask(context.Background(), task.ID)
		require.NoError(t, err)
		assert.Equal(t, f.bob.ID, stored.AssigneeID)
	})

	t.Run("validation", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, f.teamPath("/tasks"), f.leader.ID, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(t, http.MethodPost, f.teamPath("/tasks"), f.leader.ID, map[string]string{"title": "X", "priority": "urgent"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(t, http.MethodPost, f.teamPath("/tasks"), f.leader.ID, map[string]string{"title": "X", "assignee_id": uuid.New().String()})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("member allowed once the team opens creation", func(t *testing.T) {
		_, err := f.client.UpdateTeamSettings(context.Background(), f.team.ID, blackboard.TeamSettings{AllowTaskCreation: true})
		require.NoError(t, err)

		rec := f.do(t, http.MethodPost, f.teamPath("/tasks"), f.bob.ID, map[string]string{"title": "Snacks"})
		assert.Equal(t, http.StatusCreated, rec.Code)

		rec = f.do(t, http.MethodPost, f.teamPath("/tasks"), f.bob.ID, map[string]string{"title": "Snacks", "assignee_id": f.bob.ID})
		assert.Equal(t, http.StatusForbidden, rec.Code, "only the leader pre-assigns")
	})
}

func TestTransitionGuard(t *testing.T) {
	f := setup(t)
	path := f.teamPath("/tasks/" + f.radar.ID + "/transition")

	tests := []struct {
		name     string
		memberID string
		status   string
		want     int
	}{
		{"non-assignee", f.bob.ID, "in_progress", http.StatusForbidden},
		{"invalid column", f.alice.ID, "blocked", http.StatusBadRequest},
		{"assignee", f.alice.ID, "in_progress", http.StatusOK},
		{"leader", f.leader.ID, "review", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, path, tt.memberID, map[string]string{"status": tt.status})
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	stored, err := f.client.GetTask(context.Background(), f.radar.ID)
	require.NoError(t, err)
	assert.Equal(t, blackboard.TaskStatusReview, stored.Status)

	rec := f.do(t, http.MethodPost, f.teamPath("/tasks/"+uuid.New().String()+"/transition"), f.leader.ID, map[string]string{"status": "done"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGuardUsesCurrentRows(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Reassigned away from alice behind the server's back.
	bob := f.bob.ID
	_, err := f.client.PatchTask(ctx, f.radar.ID, blackboard.TaskPatch{AssigneeID: &bob})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, f.teamPath("/tasks/"+f.radar.ID+"/transition"), f.alice.ID, map[string]string{"status": "done"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, f.teamPath("/tasks/"+f.radar.ID+"/transition"), f.bob.ID, map[string]string{"status": "done"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEditTask(t *testing.T) {
	f := setup(t)
	path := f.teamPath("/tasks/" + f.radar.ID)

	rec := f.do(t, http.MethodPatch, path, f.alice.ID, map[string]string{"title": "Radar sweep"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var task blackboard.Task
	decode(t, rec, &task)
	assert.Equal(t, "Radar sweep", task.Title)

	rec = f.do(t, http.MethodPatch, path, f.alice.ID, map[string]string{"assignee_id": f.bob.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code, "assignment is leader-only")

	rec = f.do(t, http.MethodPatch, path, f.alice.ID, map[string]string{"status": "done"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, path, f.bob.ID, map[string]string{"title": "Mine now"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPinAndDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	pinPath := f.teamPath("/tasks/" + f.radar.ID + "/pin")

	rec := f.do(t, http.MethodPost, pinPath, f.bob.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, pinPath, f.alice.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pin, err := f.client.GetPin(ctx, f.team.ID)
	require.NoError(t, err)
	assert.Equal(t, f.radar.ID, pin)

	rec = f.do(t, http.MethodPost, pinPath, f.leader.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pin, err = f.client.GetPin(ctx, f.team.ID)
	require.NoError(t, err)
	assert.Equal(t, f.radar.ID, pin, "pinning again keeps the pin")

	rec = f.do(t, http.MethodDelete, pinPath, f.bob.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodDelete, pinPath, f.leader.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pin, err = f.client.GetPin(ctx, f.team.ID)
	require.NoError(t, err)
	assert.Empty(t, pin)

	rec = f.do(t, http.MethodDelete, f.teamPath("/tasks/"+f.radar.ID), f.alice.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "delete is leader-only")

	rec = f.do(t, http.MethodDelete, f.teamPath("/tasks/"+f.radar.ID), f.leader.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err = f.client.GetTask(ctx, f.radar.ID)
	assert.True(t, blackboard.IsNotFound(err))

	rec = f.do(t, http.MethodDelete, f.teamPath("/tasks/"+f.radar.ID), f.leader.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMissionRoutes(t *testing.T) {
	f := setup(t)

	t.Run("deadline is leader-only", func(t *testing.T) {
		deadline := f.clock.Now().Add(time.Hour).UnixMilli()
		rec := f.do(t, http.MethodPut, f.teamPath("/mission/deadline"), f.alice.ID, map[string]int64{"deadline_ms": deadline})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = f.do(t, http.MethodPut, f.teamPath("/mission/deadline"), f.leader.ID, map[string]int64{"deadline_ms": deadline})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("status", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, f.teamPath("/mission"), f.bob.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Phase       mission.Phase `json:"phase"`
			RemainingMs int64         `json:"remaining_ms"`
			Status      string        `json:"status"`
		}
		decode(t, rec, &resp)
		assert.Equal(t, mission.PhaseScheduled, resp.Phase)
		assert.InDelta(t, time.Hour.Milliseconds(), resp.RemainingMs, 1000)
		assert.Contains(t, resp.Status, "Launch")
	})

	t.Run("complete", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, f.teamPath("/mission/complete"), f.alice.ID, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		done := blackboard.TaskStatusDone
		_, err := f.client.PatchTask(context.Background(), f.radar.ID, blackboard.TaskPatch{Status: &done})
		require.NoError(t, err)

		rec = f.do(t, http.MethodPost, f.teamPath("/mission/complete"), f.leader.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var first mission.Summary
		decode(t, rec, &first)
		assert.Equal(t, 150, first.Awards[f.alice.ID])

		rec = f.do(t, http.MethodPost, f.teamPath("/mission/complete"), f.leader.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var second mission.Summary
		decode(t, rec, &second)
		assert.Equal(t, first.ArchiveID, second.ArchiveID, "completion is idempotent")
	})

	t.Run("redeploy", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, f.teamPath("/mission/redeploy"), f.leader.ID, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(t, http.MethodPost, f.teamPath("/mission/redeploy"), f.leader.ID, map[string]string{"mission_name": "Return"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var team blackboard.Team
		decode(t, rec, &team)
		assert.Equal(t, 2, team.Cycle)
		assert.Equal(t, "Return", team.MissionName)

		tasks, err := f.client.ListTasks(context.Background(), f.team.ID)
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})
}

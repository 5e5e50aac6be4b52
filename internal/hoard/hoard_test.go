package hoard

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/google/uuid"
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
	client   *blackboard.Client
	team     *blackboard.Team
	leader   *blackboard.Member
	grace    *blackboard.Member
	archives []*blackboard.MissionArchive
}

// setup completes two cycles: "Launch" where Grace finished a task, then "Return".
func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	client, _ := setupTestClient(t)

	team := &blackboard.Team{ID: uuid.New().String(), Name: "Red Squadron", InviteCode: blackboard.NewInviteCode(), MissionName: "Launch"}
	leader := &blackboard.Member{ID: uuid.New().String(), Name: "Lead"}
	require.NoError(t, client.CreateTeam(ctx, team, leader))
	grace := &blackboard.Member{ID: uuid.New().String(), TeamID: team.ID, Name: "Grace", Role: blackboard.RoleMember}
	require.NoError(t, client.AddMember(ctx, grace))

	task := &blackboard.Task{ID: uuid.New().String(), TeamID: team.ID, Title: "Radar", Priority: blackboard.PriorityHigh, Status: blackboard.TaskStatusDone, AssigneeID: grace.ID}
	require.NoError(t, client.CreateTask(ctx, task))

	first := &blackboard.MissionArchive{
		ID:            "aaaaaa11-0000-4000-8000-000000000001",
		TeamID:        team.ID,
		Cycle:         1,
		MissionName:   "Launch",
		CompletedBy:   leader.ID,
		CompletedAtMs: time.Now().Add(-2 * time.Hour).UnixMilli(),
		Awards:        map[string]int{leader.ID: 100, grace.ID: 150},
		TotalXP:       250,
	}
	require.NoError(t, client.CompleteMission(ctx, first, []*blackboard.Task{task}))

	_, err := client.Redeploy(ctx, team.ID, "Return", "Land safely", nil)
	require.NoError(t, err)

	second := &blackboard.MissionArchive{
		ID:            "aaaaaa22-0000-4000-8000-000000000002",
		TeamID:        team.ID,
		Cycle:         2,
		MissionName:   "Return",
		CompletedBy:   leader.ID,
		CompletedAtMs: time.Now().Add(-time.Minute).UnixMilli(),
		Awards:        map[string]int{leader.ID: 100},
		TotalXP:       100,
	}
	require.NoError(t, client.CompleteMission(ctx, second, nil))

	return &fixture{client: client, team: team, leader: leader, grace: grace, archives: []*blackboard.MissionArchive{first, second}}
}

func TestListArchives(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ListArchives(ctx, f.client, f.team.ID, f.team.Name, OutputFormatDefault, nil, &buf))

		out := buf.String()
		assert.Contains(t, out, "Mission archive for team 'Red Squadron'")
		assert.Contains(t, out, "Launch")
		assert.Contains(t, out, "Return")
		assert.Contains(t, out, "(+150)")
		assert.Contains(t, out, "2 missions archived")
		assert.Less(t, strings.Index(out, "Launch"), strings.Index(out, "Return"), "oldest cycle first")
	})

	t.Run("jsonl", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ListArchives(ctx, f.client, f.team.ID, f.team.Name, OutputFormatJSONL, nil, &buf))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		var a blackboard.MissionArchive
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &a))
		assert.Equal(t, 1, a.Cycle)
		assert.Equal(t, 250, a.TotalXP)
	})

	t.Run("filters", func(t *testing.T) {
		tests := []struct {
			name    string
			filters *FilterCriteria
			want    []string
		}{
			{"mission glob", &FilterCriteria{MissionGlob: "lau*"}, []string{"Launch"}},
			{"member earned xp", &FilterCriteria{MemberID: f.grace.ID}, []string{"Launch"}},
			{"since", &FilterCriteria{SinceTimestampMs: time.Now().Add(-time.Hour).UnixMilli()}, []string{"Return"}},
			{"until", &FilterCriteria{UntilTimestampMs: time.Now().Add(-time.Hour).UnixMilli()}, []string{"Launch"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				var buf bytes.Buffer
				require.NoError(t, ListArchives(ctx, f.client, f.team.ID, f.team.Name, OutputFormatJSONL, tt.filters, &buf))
				var names []string
				for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
					var a blackboard.MissionArchive
					require.NoError(t, json.Unmarshal([]byte(line), &a))
					names = append(names, a.MissionName)
				}
				assert.Equal(t, tt.want, names)
			})
		}
	})

	t.Run("empty team", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ListArchives(ctx, f.client, uuid.New().String(), "Blue", OutputFormatDefault, nil, &buf))
		assert.Equal(t, "No completed missions for team 'Blue'\n", buf.String())
	})

	t.Run("unknown format", func(t *testing.T) {
		err := ListArchives(ctx, f.client, f.team.ID, f.team.Name, "csv", nil, &bytes.Buffer{})
		assert.ErrorContains(t, err, "unknown output format")
	})
}

func TestGetArchive(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	decodeDetail := func(t *testing.T, buf *bytes.Buffer) Detail {
		var d Detail
		require.NoError(t, json.Unmarshal(buf.Bytes(), &d))
		return d
	}

	t.Run("by cycle with snapshot", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, GetArchive(ctx, f.client, f.team.ID, "#1", &buf))
		d := decodeDetail(t, &buf)
		assert.Equal(t, "Launch", d.Archive.MissionName)
		require.Len(t, d.Snapshot, 1)
		assert.Equal(t, "Radar", d.Snapshot[0].Title)
	})

	t.Run("by prefix", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, GetArchive(ctx, f.client, f.team.ID, "aaaaaa22", &buf))
		d := decodeDetail(t, &buf)
		assert.Equal(t, 2, d.Archive.Cycle)
		assert.Empty(t, d.Snapshot)
	})

	t.Run("errors", func(t *testing.T) {
		err := GetArchive(ctx, f.client, f.team.ID, "aaaaaa", &bytes.Buffer{})
		assert.ErrorContains(t, err, "ambiguous")

		err = GetArchive(ctx, f.client, f.team.ID, "7", &bytes.Buffer{})
		assert.True(t, IsNotFound(err))

		err = GetArchive(ctx, f.client, f.team.ID, "abc", &bytes.Buffer{})
		assert.ErrorContains(t, err, "at least 6 characters")

		err = GetArchive(ctx, f.client, f.team.ID, "bbbbbbbb", &bytes.Buffer{})
		assert.True(t, IsNotFound(err))
	})
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "-", formatMission("  "))
	assert.Equal(t, "Operation Very Long M...", formatMission("Operation Very Long Mission Name"))
	assert.Equal(t, "-", formatTopEarner(nil))
	assert.Equal(t, "a (+5)", formatTopEarner(map[string]int{"b": 5, "a": 5}))
	assert.Equal(t, "-", formatTimestamp(0))
	assert.Equal(t, "2h ago", formatTimestamp(time.Now().Add(-2*time.Hour-time.Minute).UnixMilli()))
}

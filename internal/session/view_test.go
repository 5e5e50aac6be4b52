package session

import (
	"context"
	"testing"

	"github.com/dyluth/sortie/internal/board"
	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	s := setupSquad(t)
	ctx := context.Background()

	t.Run("unknown team", func(t *testing.T) {
		_, err := Load(ctx, s.client, Options{TeamID: uuid.New().String(), MemberID: s.grace.ID})
		require.Error(t, err)
		assert.True(t, blackboard.IsNotFound(err))
	})

	t.Run("outsider", func(t *testing.T) {
		_, err := Load(ctx, s.client, Options{TeamID: s.team.ID, MemberID: uuid.New().String()})
		assert.ErrorIs(t, err, ErrNotMember)
	})

	t.Run("acts on current rows", func(t *testing.T) {
		lead, err := Load(ctx, s.client, Options{TeamID: s.team.ID, MemberID: s.leader.ID, Clock: s.clock})
		require.NoError(t, err)
		task, err := lead.Board.CreateTask(ctx, s.leader.ID, board.Draft{Title: "Telemetry", AssigneeID: s.grace.ID})
		require.NoError(t, err)

		grace, err := Load(ctx, s.client, Options{TeamID: s.team.ID, MemberID: s.grace.ID, Clock: s.clock})
		require.NoError(t, err)
		got, ok := grace.Store.Task(task.ID)
		require.True(t, ok)
		assert.Equal(t, s.grace.ID, got.AssigneeID)
		assert.True(t, grace.Board.DragEnabled(s.grace.ID, task.ID))
	})

	t.Run("messages and commands", func(t *testing.T) {
		grace, err := Load(ctx, s.client, Options{TeamID: s.team.ID, MemberID: s.grace.ID, Clock: s.clock})
		require.NoError(t, err)
		_, err = grace.Chat.Send(ctx, "/mission")
		require.NoError(t, err)

		lead, err := Load(ctx, s.client, Options{TeamID: s.team.ID, MemberID: s.leader.ID, Clock: s.clock})
		require.NoError(t, err)
		require.NoError(t, lead.LoadMessages(ctx))
		msgs := lead.Store.Messages()
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0].Content, "Launch")
	})
}

package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/sortie/internal/store"
	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a blackboard client connected to a miniredis instance
func setupTestClient(t *testing.T) *blackboard.Client {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

// failingBackend wraps a real client and fails message writes.
type failingBackend struct {
	*blackboard.Client
}

func (f failingBackend) CreateMessage(ctx context.Context, m *blackboard.ChatMessage) error {
	return errors.New("connection reset")
}

func newChannel(t *testing.T, backend Backend) (*Channel, *store.Store) {
	teamID := uuid.New().String()
	st := store.New(teamID, nil)
	return New(st, uuid.New().String(), backend), st
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("persists and reconciles with server timestamp", func(t *testing.T) {
		c, st := newChannel(t, setupTestClient(t))

		msg, err := c.Send(ctx, "hello squad")
		require.NoError(t, err)

		msgs := st.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, msg.ID, msgs[0].ID)
		assert.Equal(t, msg.CreatedAtMs, msgs[0].CreatedAtMs)
		assert.Equal(t, blackboard.MessageTypeText, msgs[0].Type)
	})

	t.Run("failure drops the optimistic message", func(t *testing.T) {
		c, st := newChannel(t, failingBackend{setupTestClient(t)})

		var seen int
		st.OnChange(func(ch store.Change) {
			if ch.Kind == store.ChangeMessages {
				seen = max(seen, len(st.Messages()))
			}
		})

		_, err := c.Send(ctx, "lost")
		require.Error(t, err)
		assert.True(t, store.IsMutationError(err))
		assert.Equal(t, 1, seen, "message is shown before the write")
		assert.Empty(t, st.Messages())
	})

	t.Run("empty content is rejected", func(t *testing.T) {
		c, _ := newChannel(t, setupTestClient(t))
		_, err := c.Send(ctx, "   ")
		assert.Error(t, err)
	})
}

func TestSendCode(t *testing.T) {
	ctx := context.Background()
	c, st := newChannel(t, setupTestClient(t))

	_, err := c.SendCode(ctx, "fmt.Println(1)", "")
	assert.Error(t, err)

	msg, err := c.SendCode(ctx, "fmt.Println(1)", "go")
	require.NoError(t, err)
	assert.Equal(t, blackboard.MessageTypeCode, msg.Type)
	assert.Equal(t, "go", st.Messages()[0].Language)
}

func TestCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("reserved command is never sent literally", func(t *testing.T) {
		c, st := newChannel(t, setupTestClient(t))
		c.RegisterCommand("/mission", func(ctx context.Context, args string) (string, error) {
			return "🚀 mission status", nil
		})

		assert.True(t, c.IsCommand("/Mission now"))
		assert.False(t, c.IsCommand("/shrug"))

		msg, err := c.Send(ctx, "/mission")
		require.NoError(t, err)
		assert.Equal(t, "🚀 mission status", msg.Content)
		assert.Equal(t, "🚀 mission status", st.Messages()[0].Content)
	})

	t.Run("unregistered slash text is sent as is", func(t *testing.T) {
		c, _ := newChannel(t, setupTestClient(t))
		msg, err := c.Send(ctx, "/shrug")
		require.NoError(t, err)
		assert.Equal(t, "/shrug", msg.Content)
	})

	t.Run("command failure sends nothing", func(t *testing.T) {
		c, st := newChannel(t, setupTestClient(t))
		c.RegisterCommand("/broken", func(ctx context.Context, args string) (string, error) {
			return "", errors.New("no mission")
		})
		_, err := c.Send(ctx, "/broken")
		assert.Error(t, err)
		assert.Empty(t, st.Messages())
	})

	t.Run("standup summarizes the board", func(t *testing.T) {
		c, st := newChannel(t, setupTestClient(t))
		ada := &blackboard.Member{ID: uuid.New().String(), TeamID: st.TeamID(), Name: "Ada", JoinedMs: 1}
		st.ApplyMember(ada)
		st.ReplaceTasks([]*blackboard.Task{
			{ID: uuid.New().String(), TeamID: st.TeamID(), Title: "Radar", Status: blackboard.TaskStatusInProgress, AssigneeID: ada.ID},
			{ID: uuid.New().String(), TeamID: st.TeamID(), Title: "Fuel", Status: blackboard.TaskStatusTodo},
		})

		msg, err := c.Send(ctx, "/standup")
		require.NoError(t, err)
		assert.Contains(t, msg.Content, "1 todo · 1 in progress · 0 in review · 0 done")
		assert.Contains(t, msg.Content, "Ada working on Radar")
		assert.False(t, strings.HasPrefix(msg.Content, "/standup"))
	})
}

func TestReactions(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)
	c, st := newChannel(t, client)

	msg, err := c.Send(ctx, "ship it")
	require.NoError(t, err)

	w, err := c.WatchReactions(ctx)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, c.ToggleReaction(ctx, msg.ID, "🔥"))
	assert.Eventually(t, func() bool {
		m, ok := st.Message(msg.ID)
		return ok && len(m.Reactions) == 1 && m.Reactions[0].Reacted
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.ToggleReaction(ctx, msg.ID, "🔥"))
	assert.Eventually(t, func() bool {
		m, ok := st.Message(msg.ID)
		return ok && len(m.Reactions) == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Error(t, c.AddReaction(ctx, uuid.New().String(), "🔥"), "unknown message")
	assert.NoError(t, w.Close())
}

func TestRefreshAndHandleMessage(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)
	c, st := newChannel(t, client)

	other := &blackboard.ChatMessage{
		ID:       uuid.New().String(),
		TeamID:   st.TeamID(),
		AuthorID: uuid.New().String(),
		Content:  "from a teammate",
		Type:     blackboard.MessageTypeText,
	}
	require.NoError(t, client.CreateMessage(ctx, other))

	require.NoError(t, c.Refresh(ctx))
	require.Len(t, st.Messages(), 1)

	ev := &blackboard.ChangeEvent{Table: blackboard.TableTasks}
	assert.NoError(t, c.HandleMessage(ev), "other tables are ignored")
}

package blackboard

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessages(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	team, leader := seedTeam(t, client)

	post := func(content string) *ChatMessage {
		m := &ChatMessage{
			ID:       uuid.New().String(),
			TeamID:   team.ID,
			AuthorID: leader.ID,
			Content:  content,
			Type:     MessageTypeText,
		}
		require.NoError(t, client.CreateMessage(ctx, m))
		return m
	}

	t.Run("server assigns timestamp", func(t *testing.T) {
		m := &ChatMessage{
			ID:          uuid.New().String(),
			TeamID:      team.ID,
			AuthorID:    leader.ID,
			Content:     "hello",
			Type:        MessageTypeText,
			CreatedAtMs: 1,
		}
		require.NoError(t, client.CreateMessage(ctx, m))
		assert.Greater(t, m.CreatedAtMs, int64(1))
	})

	t.Run("code messages need a language", func(t *testing.T) {
		m := &ChatMessage{
			ID:       uuid.New().String(),
			TeamID:   team.ID,
			AuthorID: leader.ID,
			Content:  "fmt.Println()",
			Type:     MessageTypeCode,
		}
		assert.Error(t, client.CreateMessage(ctx, m))
	})

	t.Run("list returns latest messages oldest first", func(t *testing.T) {
		other, _ := setupTestClient(t)
		team2, lead2 := seedTeam(t, other)
		for _, content := range []string{"one", "two", "three"} {
			m := &ChatMessage{ID: uuid.New().String(), TeamID: team2.ID, AuthorID: lead2.ID, Content: content, Type: MessageTypeText}
			require.NoError(t, other.CreateMessage(ctx, m))
		}

		msgs, err := other.ListMessages(ctx, team2.ID, lead2.ID, 2)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.LessOrEqual(t, msgs[0].CreatedAtMs, msgs[1].CreatedAtMs)

		all, err := other.ListMessages(ctx, team2.ID, lead2.ID, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("reactions aggregate per emoji from viewer perspective", func(t *testing.T) {
		m := post("ship it")
		grace := seedMember(t, client, team.ID, "Grace")

		require.NoError(t, client.AddReaction(ctx, m.ID, leader.ID, "🚀"))
		require.NoError(t, client.AddReaction(ctx, m.ID, grace.ID, "🚀"))
		require.NoError(t, client.AddReaction(ctx, m.ID, grace.ID, "🚀"))

		summaries, err := client.Reactions(ctx, m.ID, leader.ID)
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, ReactionSummary{Emoji: "🚀", Count: 2, Reacted: true}, summaries[0])

		require.NoError(t, client.RemoveReaction(ctx, m.ID, leader.ID, "🚀"))
		summaries, err = client.Reactions(ctx, m.ID, leader.ID)
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, 1, summaries[0].Count)
		assert.False(t, summaries[0].Reacted)
	})

	t.Run("reaction on missing message is not found", func(t *testing.T) {
		err := client.AddReaction(ctx, uuid.New().String(), leader.ID, "👍")
		assert.True(t, IsNotFound(err))
	})

	t.Run("rejects separator in emoji", func(t *testing.T) {
		m := post("odd")
		assert.Error(t, client.AddReaction(ctx, m.ID, leader.ID, "a|b"))
	})
}

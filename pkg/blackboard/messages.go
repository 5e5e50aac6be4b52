package blackboard

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// reactionFieldSep separates emoji and member ID in a reactions hash field.
const reactionFieldSep = "|"

// CreateMessage persists a chat message and publishes an insert event.
// The server assigns CreatedAtMs, which defines canonical order; the caller's value is
// overwritten so clients can reconcile their optimistic copy with the echoed row.
func (c *Client) CreateMessage(ctx context.Context, m *ChatMessage) error {
	m.CreatedAtMs = time.Now().UnixMilli()
	m.Reactions = nil

	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	hash, err := MessageToHash(m)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, MessageKey(c.namespace, m.ID), hash)
		pipe.ZAdd(ctx, TeamMessagesKey(c.namespace, m.TeamID), redis.Z{
			Score:  float64(m.CreatedAtMs),
			Member: m.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write message to Redis: %w", err)
	}

	return c.publishChange(ctx, m.TeamID, TableMessages, OpInsert, m.ID, m)
}

// GetMessage retrieves a message by ID without reactions.
// Returns (nil, redis.Nil) if the message doesn't exist.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*ChatMessage, error) {
	hashData, err := c.rdb.HGetAll(ctx, MessageKey(c.namespace, messageID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read message from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	msg, err := HashToMessage(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the latest limit messages of a team, oldest first, with reaction
// summaries computed for viewerID. A limit <= 0 returns the whole history.
func (c *Client) ListMessages(ctx context.Context, teamID, viewerID string, limit int) ([]*ChatMessage, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	ids, err := c.rdb.ZRange(ctx, TeamMessagesKey(c.namespace, teamID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list team messages: %w", err)
	}

	messages := make([]*ChatMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := c.GetMessage(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}

		reactions, err := c.Reactions(ctx, id, viewerID)
		if err != nil {
			return nil, err
		}
		msg.Reactions = reactions
		messages = append(messages, msg)
	}
	return messages, nil
}

// AddReaction records memberID reacting with emoji on a message and publishes a
// reactions event. Adding the same reaction twice is a no-op write.
func (c *Client) AddReaction(ctx context.Context, messageID, memberID, emoji string) error {
	msg, err := c.reactionTarget(ctx, messageID, memberID, emoji)
	if err != nil {
		return err
	}

	field := emoji + reactionFieldSep + memberID
	key := MessageReactionsKey(c.namespace, messageID)
	if err := c.rdb.HSetNX(ctx, key, field, time.Now().UnixMilli()).Err(); err != nil {
		return fmt.Errorf("failed to write reaction to Redis: %w", err)
	}

	row := ReactionRow{MessageID: messageID, MemberID: memberID, Emoji: emoji}
	return c.publishChange(ctx, msg.TeamID, TableReactions, OpInsert, messageID, row)
}

// RemoveReaction deletes memberID's emoji reaction on a message and publishes a
// reactions event.
func (c *Client) RemoveReaction(ctx context.Context, messageID, memberID, emoji string) error {
	msg, err := c.reactionTarget(ctx, messageID, memberID, emoji)
	if err != nil {
		return err
	}

	field := emoji + reactionFieldSep + memberID
	if err := c.rdb.HDel(ctx, MessageReactionsKey(c.namespace, messageID), field).Err(); err != nil {
		return fmt.Errorf("failed to delete reaction from Redis: %w", err)
	}

	row := ReactionRow{MessageID: messageID, MemberID: memberID, Emoji: emoji}
	return c.publishChange(ctx, msg.TeamID, TableReactions, OpDelete, messageID, row)
}

func (c *Client) reactionTarget(ctx context.Context, messageID, memberID, emoji string) (*ChatMessage, error) {
	if emoji == "" || strings.Contains(emoji, reactionFieldSep) {
		return nil, fmt.Errorf("invalid emoji %q", emoji)
	}
	if !isValidUUID(memberID) {
		return nil, fmt.Errorf("invalid member ID: not a valid UUID")
	}
	return c.GetMessage(ctx, messageID)
}

// Reactions aggregates a message's reactions per emoji, ordered by first use.
// Reacted is true when viewerID is among the reactors.
func (c *Client) Reactions(ctx context.Context, messageID, viewerID string) ([]ReactionSummary, error) {
	raw, err := c.rdb.HGetAll(ctx, MessageReactionsKey(c.namespace, messageID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read reactions from Redis: %w", err)
	}

	type agg struct {
		summary ReactionSummary
		firstMs int64
	}
	byEmoji := make(map[string]*agg)
	for field, at := range raw {
		emoji, member, ok := strings.Cut(field, reactionFieldSep)
		if !ok {
			continue
		}
		atMs, _ := strconv.ParseInt(at, 10, 64)

		a, exists := byEmoji[emoji]
		if !exists {
			a = &agg{summary: ReactionSummary{Emoji: emoji}, firstMs: atMs}
			byEmoji[emoji] = a
		}
		a.summary.Count++
		if member == viewerID {
			a.summary.Reacted = true
		}
		if atMs < a.firstMs {
			a.firstMs = atMs
		}
	}

	aggs := make([]*agg, 0, len(byEmoji))
	for _, a := range byEmoji {
		aggs = append(aggs, a)
	}
	sort.Slice(aggs, func(i, j int) bool {
		if aggs[i].firstMs != aggs[j].firstMs {
			return aggs[i].firstMs < aggs[j].firstMs
		}
		return aggs[i].summary.Emoji < aggs[j].summary.Emoji
	})

	summaries := make([]ReactionSummary, len(aggs))
	for i, a := range aggs {
		summaries[i] = a.summary
	}
	return summaries, nil
}

package blackboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPresenceTTL is how long a tracked member stays present without a transport keepalive.
const DefaultPresenceTTL = 30 * time.Second

// PresenceKind distinguishes full snapshots from explicit departures.
type PresenceKind string

const (
	// PresenceSync carries the channel's complete current membership in Online
	PresenceSync PresenceKind = "sync"

	// PresenceLeave carries only the departed member IDs in Left
	PresenceLeave PresenceKind = "leave"
)

// PresenceEvent is delivered on a team's presence channel.
type PresenceEvent struct {
	Kind   PresenceKind `json:"kind"`
	TeamID string       `json:"team_id"`
	Online []string     `json:"online,omitempty"`
	Left   []string     `json:"left,omitempty"`
	AtMs   int64        `json:"at_ms"`
}

// PresenceHandle is a member's tracked presence on a team channel.
// The handle refreshes its own keepalive until Close; this is transport-level liveness,
// so a crashed client simply stops refreshing and is pruned after the TTL.
type PresenceHandle struct {
	client   *Client
	teamID   string
	memberID string
	ttl      time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// TrackPresence marks memberID present on the team channel and publishes a sync event
// with the full membership. A ttl <= 0 uses DefaultPresenceTTL.
func (c *Client) TrackPresence(ctx context.Context, teamID, memberID string, ttl time.Duration) (*PresenceHandle, error) {
	if !isValidUUID(memberID) {
		return nil, fmt.Errorf("invalid member ID: not a valid UUID")
	}
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}

	if err := c.touchPresence(ctx, teamID, memberID); err != nil {
		return nil, err
	}
	if err := c.publishPresenceSync(ctx, teamID, ttl); err != nil {
		return nil, err
	}

	keepCtx, cancel := context.WithCancel(context.Background())
	h := &PresenceHandle{
		client:   c,
		teamID:   teamID,
		memberID: memberID,
		ttl:      ttl,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.keepalive(keepCtx)
	return h, nil
}

func (h *PresenceHandle) keepalive(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.client.touchPresence(ctx, h.teamID, h.memberID); err != nil {
				log.Printf("[Presence] keepalive failed for %s: %v", h.memberID, err)
				continue
			}
			if _, err := h.client.PresenceSnapshot(ctx, h.teamID, h.ttl); err != nil {
				log.Printf("[Presence] prune failed for team %s: %v", h.teamID, err)
			}
		}
	}
}

// Close untracks the member and publishes a leave event. Implements io.Closer.
// Safe to call multiple times.
func (h *PresenceHandle) Close() error {
	var err error
	h.once.Do(func() {
		h.cancel()
		<-h.done

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		c := h.client
		if remErr := c.rdb.ZRem(ctx, TeamPresenceKey(c.namespace, h.teamID), h.memberID).Err(); remErr != nil {
			err = fmt.Errorf("failed to untrack presence: %w", remErr)
			return
		}
		err = c.publishPresence(ctx, &PresenceEvent{
			Kind:   PresenceLeave,
			TeamID: h.teamID,
			Left:   []string{h.memberID},
		})
	})
	return err
}

// PresenceSnapshot returns the members currently tracked on the team channel, sorted.
// Entries whose keepalive is older than ttl are pruned and announced as a leave event.
func (c *Client) PresenceSnapshot(ctx context.Context, teamID string, ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	key := TeamPresenceKey(c.namespace, teamID)
	cutoff := strconv.FormatInt(time.Now().Add(-ttl).UnixMilli(), 10)

	expired, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: "(" + cutoff}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read expired presence: %w", err)
	}
	if len(expired) > 0 {
		members := make([]interface{}, len(expired))
		for i, id := range expired {
			members[i] = id
		}
		if err := c.rdb.ZRem(ctx, key, members...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune presence: %w", err)
		}
		if err := c.publishPresence(ctx, &PresenceEvent{Kind: PresenceLeave, TeamID: teamID, Left: expired}); err != nil {
			return nil, err
		}
	}

	online, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: cutoff, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	sort.Strings(online)
	return online, nil
}

// SubscribePresence subscribes to a team's presence sync/leave events.
// Caller must call Close() on the returned subscription.
func (c *Client) SubscribePresence(ctx context.Context, teamID string) (*Subscription[*PresenceEvent], error) {
	return subscribe(ctx, c.rdb, func(payload string) (*PresenceEvent, error) {
		var event PresenceEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal presence event: %w", err)
		}
		return &event, nil
	}, PresenceEventsChannel(c.namespace, teamID))
}

func (c *Client) touchPresence(ctx context.Context, teamID, memberID string) error {
	err := c.rdb.ZAdd(ctx, TeamPresenceKey(c.namespace, teamID), redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: memberID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to track presence: %w", err)
	}
	return nil
}

func (c *Client) publishPresenceSync(ctx context.Context, teamID string, ttl time.Duration) error {
	online, err := c.PresenceSnapshot(ctx, teamID, ttl)
	if err != nil {
		return err
	}
	return c.publishPresence(ctx, &PresenceEvent{Kind: PresenceSync, TeamID: teamID, Online: online})
}

func (c *Client) publishPresence(ctx context.Context, event *PresenceEvent) error {
	event.AtMs = time.Now().UnixMilli()
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal presence event: %w", err)
	}
	if err := c.rdb.Publish(ctx, PresenceEventsChannel(c.namespace, event.TeamID), eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish presence event: %w", err)
	}
	return nil
}

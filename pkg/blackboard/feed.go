package blackboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Table names a row type carried on the change feed.
type Table string

const (
	TableTeams     Table = "teams"
	TableMembers   Table = "members"
	TableTasks     Table = "tasks"
	TablePins      Table = "pins"
	TableMessages  Table = "messages"
	TableReactions Table = "reactions"
	TableBounties  Table = "bounties"
	TableArchives  Table = "archives"
	TableAudit     Table = "audit"
)

// Op is the kind of row mutation a change event describes.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ChangeEvent is one row-level mutation delivered to every subscriber of the team,
// the mutation's originator included. Row carries the full canonical row after the
// write (or the last known row for deletes).
type ChangeEvent struct {
	Table  Table           `json:"table"`
	Op     Op              `json:"op"`
	TeamID string          `json:"team_id"`
	RowID  string          `json:"row_id"`
	Row    json.RawMessage `json:"row,omitempty"`
	AtMs   int64           `json:"at_ms"`
}

// PinRow is the row shape of the pins table. An empty TaskID means the pin was cleared.
type PinRow struct {
	TaskID string `json:"task_id"`
}

// ReactionRow is the row shape of the reactions table.
type ReactionRow struct {
	MessageID string `json:"message_id"`
	MemberID  string `json:"member_id"`
	Emoji     string `json:"emoji"`
}

// Task decodes the row of a tasks event.
func (e *ChangeEvent) Task() (*Task, error) {
	var t Task
	if err := e.decode(TableTasks, &t); err != nil {
		return nil, err
	}
	if t.Subtasks == nil {
		t.Subtasks = []Subtask{}
	}
	return &t, nil
}

// Team decodes the row of a teams event.
func (e *ChangeEvent) Team() (*Team, error) {
	var t Team
	if err := e.decode(TableTeams, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Member decodes the row of a members event.
func (e *ChangeEvent) Member() (*Member, error) {
	var m Member
	if err := e.decode(TableMembers, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Message decodes the row of a messages event.
func (e *ChangeEvent) Message() (*ChatMessage, error) {
	var m ChatMessage
	if err := e.decode(TableMessages, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Pin decodes the row of a pins event.
func (e *ChangeEvent) Pin() (*PinRow, error) {
	var p PinRow
	if err := e.decode(TablePins, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Reaction decodes the row of a reactions event.
func (e *ChangeEvent) Reaction() (*ReactionRow, error) {
	var r ReactionRow
	if err := e.decode(TableReactions, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Archive decodes the row of an archives event.
func (e *ChangeEvent) Archive() (*MissionArchive, error) {
	var a MissionArchive
	if err := e.decode(TableArchives, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (e *ChangeEvent) decode(want Table, v interface{}) error {
	if e.Table != want {
		return fmt.Errorf("change event is for table %q, not %q", e.Table, want)
	}
	if len(e.Row) == 0 {
		return fmt.Errorf("change event for %s %s carries no row", e.Table, e.RowID)
	}
	if err := json.Unmarshal(e.Row, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s row: %w", e.Table, err)
	}
	return nil
}

// publishChange publishes a change event for one row on the table's feed channel.
func (c *Client) publishChange(ctx context.Context, teamID string, table Table, op Op, rowID string, row interface{}) error {
	rowJSON, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal %s row for event: %w", table, err)
	}

	event := ChangeEvent{
		Table:  table,
		Op:     op,
		TeamID: teamID,
		RowID:  rowID,
		Row:    rowJSON,
		AtMs:   time.Now().UnixMilli(),
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	channel := FeedChannel(c.namespace, teamID, table)
	if err := c.rdb.Publish(ctx, channel, eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", table, err)
	}
	return nil
}

// Subscription represents an active Pub/Sub subscription delivering decoded events.
// Caller must call Close() when done to clean up resources.
type Subscription[T any] struct {
	events <-chan T
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of decoded events.
// The channel is closed when the subscription is closed or the context is cancelled.
func (s *Subscription[T]) Events() <-chan T {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors are decode failures; the offending message is skipped and the subscription continues.
func (s *Subscription[T]) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription[T]) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeChanges subscribes to the change feed of the given tables for one team.
// With no tables, every table is subscribed.
//
// The subscription is confirmed by Redis before this returns, so a write issued after
// SubscribeChanges returns is always delivered. Beyond that delivery is at-most-once:
// a subscriber that disconnects misses events and must refetch.
func (c *Client) SubscribeChanges(ctx context.Context, teamID string, tables ...Table) (*Subscription[*ChangeEvent], error) {
	if len(tables) == 0 {
		tables = []Table{TableTeams, TableMembers, TableTasks, TablePins, TableMessages,
			TableReactions, TableBounties, TableArchives, TableAudit}
	}

	channels := make([]string, len(tables))
	for i, table := range tables {
		channels[i] = FeedChannel(c.namespace, teamID, table)
	}

	return subscribe(ctx, c.rdb, func(payload string) (*ChangeEvent, error) {
		var event ChangeEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal change event: %w", err)
		}
		return &event, nil
	}, channels...)
}

// subscribe opens a Pub/Sub subscription on channels and pumps decoded messages into a
// buffered channel until the subscription is closed or ctx is cancelled.
func subscribe[T any](ctx context.Context, rdb *redis.Client, decode func(string) (T, error), channels ...string) (*Subscription[T], error) {
	pubsub := rdb.Subscribe(ctx, channels...)

	// Wait for every subscription confirmation so no publish can slip past us
	for range channels {
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			return nil, fmt.Errorf("failed to subscribe: %w", err)
		}
	}

	eventsChan := make(chan T, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				event, err := decode(msg.Payload)
				if err != nil {
					select {
					case errorsChan <- err:
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription[T]{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

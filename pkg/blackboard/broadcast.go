package blackboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// BroadcastEvent names an ephemeral team-wide signal.
type BroadcastEvent string

const (
	// EventTyping carries a TypingPayload; renewed while a member keeps typing
	EventTyping BroadcastEvent = "TYPING"

	// EventMissionCompleted carries the already-computed completion summary
	EventMissionCompleted BroadcastEvent = "MISSION_COMPLETED"

	// EventSquadRedeployed tells idle clients a new cycle started
	EventSquadRedeployed BroadcastEvent = "SQUAD_REDEPLOYED"
)

// Envelope wraps one broadcast. Broadcasts are at-most-once, unordered relative to other
// senders, never persisted and never delivered to peers that are offline when sent.
type Envelope struct {
	Event    BroadcastEvent  `json:"event"`
	TeamID   string          `json:"team_id"`
	SenderID string          `json:"sender_id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SentMs   int64           `json:"sent_ms"`
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s broadcast carries no payload", e.Event)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", e.Event, err)
	}
	return nil
}

// TypingPayload is the body of a TYPING broadcast.
type TypingPayload struct {
	MemberID string `json:"memberId"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
}

// Broadcast publishes an ephemeral event to every currently connected client of a team.
// Nothing is written to durable storage.
func (c *Client) Broadcast(ctx context.Context, teamID string, event BroadcastEvent, senderID string, payload interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		raw = b
	}

	envelope := Envelope{
		Event:    event,
		TeamID:   teamID,
		SenderID: senderID,
		Payload:  raw,
		SentMs:   time.Now().UnixMilli(),
	}
	envelopeJSON, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast envelope: %w", err)
	}

	if err := c.rdb.Publish(ctx, BroadcastChannel(c.namespace, teamID), envelopeJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish %s broadcast: %w", event, err)
	}
	return nil
}

// SubscribeBroadcast subscribes to a team's broadcast channel.
// Caller must call Close() on the returned subscription.
func (c *Client) SubscribeBroadcast(ctx context.Context, teamID string) (*Subscription[*Envelope], error) {
	return subscribe(ctx, c.rdb, func(payload string) (*Envelope, error) {
		var envelope Envelope
		if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
			return nil, fmt.Errorf("failed to unmarshal broadcast envelope: %w", err)
		}
		return &envelope, nil
	}, BroadcastChannel(c.namespace, teamID))
}

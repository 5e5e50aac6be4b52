// Package chat is a team's message channel: optimistic sends, code snippets,
// reserved slash commands and reactions.
package chat

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/sortie/internal/store"
	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/google/uuid"
)

// DefaultHistoryLimit is how many recent messages a refetch loads.
const DefaultHistoryLimit = 200

// Backend is the subset of the blackboard the channel talks to.
type Backend interface {
	CreateMessage(ctx context.Context, m *blackboard.ChatMessage) error
	ListMessages(ctx context.Context, teamID, viewerID string, limit int) ([]*blackboard.ChatMessage, error)
	AddReaction(ctx context.Context, messageID, memberID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, memberID, emoji string) error
	SubscribeChanges(ctx context.Context, teamID string, tables ...blackboard.Table) (*blackboard.Subscription[*blackboard.ChangeEvent], error)
}

// CommandFunc produces the content sent in place of a reserved command.
// args is the text after the command token.
type CommandFunc func(ctx context.Context, args string) (string, error)

// Channel sends and receives one team's chat as one member.
type Channel struct {
	teamID       string
	memberID     string
	backend      Backend
	store        *store.Store
	historyLimit int

	mu       sync.RWMutex
	commands map[string]CommandFunc
}

// New creates a channel. The /standup command is registered by default.
func New(st *store.Store, memberID string, backend Backend) *Channel {
	c := &Channel{
		teamID:       st.TeamID(),
		memberID:     memberID,
		backend:      backend,
		store:        st,
		historyLimit: DefaultHistoryLimit,
		commands:     make(map[string]CommandFunc),
	}
	c.RegisterCommand("/standup", func(ctx context.Context, args string) (string, error) {
		return Standup(st), nil
	})
	return c
}

// RegisterCommand reserves a leading command token such as "/mission".
func (c *Channel) RegisterCommand(token string, fn CommandFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands[strings.ToLower(token)] = fn
}

// IsCommand reports whether content starts with a reserved command token.
func (c *Channel) IsCommand(content string) bool {
	_, _, ok := c.lookup(content)
	return ok
}

func (c *Channel) lookup(content string) (CommandFunc, string, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "/") {
		return nil, "", false
	}
	token, args, _ := strings.Cut(trimmed, " ")

	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.commands[strings.ToLower(token)]
	return fn, strings.TrimSpace(args), ok
}

// Send posts a text message. A reserved command is never sent literally; the synthesized
// content replaces it. The message is appended locally before the write and reconciled
// with the persisted copy afterwards. On failure it is dropped and a *store.MutationError
// is returned.
func (c *Channel) Send(ctx context.Context, content string) (*blackboard.ChatMessage, error) {
	if fn, args, ok := c.lookup(content); ok {
		synthesized, err := fn(ctx, args)
		if err != nil {
			return nil, fmt.Errorf("failed to run command: %w", err)
		}
		content = synthesized
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("message content cannot be empty")
	}

	return c.post(ctx, &blackboard.ChatMessage{
		Content: content,
		Type:    blackboard.MessageTypeText,
	})
}

// SendCode posts a code snippet tagged with its language.
func (c *Channel) SendCode(ctx context.Context, code, language string) (*blackboard.ChatMessage, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("code snippet cannot be empty")
	}
	if language == "" {
		return nil, fmt.Errorf("code snippets require a language")
	}
	return c.post(ctx, &blackboard.ChatMessage{
		Content:  code,
		Type:     blackboard.MessageTypeCode,
		Language: language,
	})
}

func (c *Channel) post(ctx context.Context, msg *blackboard.ChatMessage) (*blackboard.ChatMessage, error) {
	msg.ID = uuid.New().String()
	msg.TeamID = c.teamID
	msg.AuthorID = c.memberID
	msg.CreatedAtMs = time.Now().UnixMilli()

	c.store.AppendMessage(msg)

	persisted := *msg
	if err := c.backend.CreateMessage(ctx, &persisted); err != nil {
		c.store.DropMessage(msg.ID)
		log.Printf("[Chat] Dropped unsent message %s: %v", msg.ID, err)
		return nil, &store.MutationError{Op: "send", ID: msg.ID, Err: err}
	}

	c.store.ReconcileMessage(&persisted)
	return &persisted, nil
}

// AddReaction reacts to a message. The server is authoritative; the local view updates
// when the reaction feed triggers a refetch.
func (c *Channel) AddReaction(ctx context.Context, messageID, emoji string) error {
	if err := c.backend.AddReaction(ctx, messageID, c.memberID, emoji); err != nil {
		return fmt.Errorf("failed to add reaction: %w", err)
	}
	return nil
}

// RemoveReaction withdraws a reaction.
func (c *Channel) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	if err := c.backend.RemoveReaction(ctx, messageID, c.memberID, emoji); err != nil {
		return fmt.Errorf("failed to remove reaction: %w", err)
	}
	return nil
}

// ToggleReaction adds the reaction unless the member already reacted with emoji.
func (c *Channel) ToggleReaction(ctx context.Context, messageID, emoji string) error {
	if msg, ok := c.store.Message(messageID); ok {
		for _, r := range msg.Reactions {
			if r.Emoji == emoji && r.Reacted {
				return c.RemoveReaction(ctx, messageID, emoji)
			}
		}
	}
	return c.AddReaction(ctx, messageID, emoji)
}

// Refresh refetches the recent history wholesale, reactions included.
func (c *Channel) Refresh(ctx context.Context) error {
	msgs, err := c.backend.ListMessages(ctx, c.teamID, c.memberID, c.historyLimit)
	if err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}
	c.store.ReplaceMessages(msgs)
	return nil
}

// HandleMessage reconciles a messages-table feed event.
func (c *Channel) HandleMessage(ev *blackboard.ChangeEvent) error {
	if ev.Table != blackboard.TableMessages {
		return nil
	}
	return c.store.Apply(ev)
}

// WatchReactions subscribes to the team's reaction feed and refetches the message list on
// every reaction mutation. Failures only stop reaction counts from updating; they are
// logged and never reach chat sends. Close the returned handle to stop watching.
func (c *Channel) WatchReactions(ctx context.Context) (io.Closer, error) {
	sub, err := c.backend.SubscribeChanges(ctx, c.teamID, blackboard.TableReactions)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to reactions: %w", err)
	}

	w := &reactionWatcher{sub: sub, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		for {
			select {
			case _, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := c.Refresh(ctx); err != nil {
					log.Printf("[Chat] Reaction refetch failed: %v", err)
				}
			case err, ok := <-sub.Errors():
				if !ok {
					return
				}
				log.Printf("[Chat] Reaction feed error: %v", err)
			}
		}
	}()
	return w, nil
}

type reactionWatcher struct {
	sub  *blackboard.Subscription[*blackboard.ChangeEvent]
	done chan struct{}
	once sync.Once
}

func (w *reactionWatcher) Close() error {
	w.once.Do(func() {
		w.sub.Close()
		<-w.done
	})
	return nil
}

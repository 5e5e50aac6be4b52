// Package session is the team-scoped handle a client holds while it is inside a team's
// workspace.
//
// Open acquires every channel (change feed, broadcast, presence, reactions) and loads the
// snapshot; Close releases all of them exactly once. Nothing here is global: the handle is
// passed explicitly to whatever needs the current team and member.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/dyluth/sortie/internal/board"
	"github.com/dyluth/sortie/internal/chat"
	"github.com/dyluth/sortie/internal/config"
	"github.com/dyluth/sortie/internal/mission"
	"github.com/dyluth/sortie/internal/presence"
	"github.com/dyluth/sortie/internal/store"
	"github.com/dyluth/sortie/internal/typing"
	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/jonboulle/clockwork"
)

// feedTables are the tables reconciled into the store. Reactions have their own
// subscription owned by the chat channel.
var feedTables = []blackboard.Table{
	blackboard.TableTeams,
	blackboard.TableMembers,
	blackboard.TableTasks,
	blackboard.TablePins,
	blackboard.TableMessages,
}

// Presence and reaction channels are optional; tests replace these to make them fail.
var (
	subscribePresence = func(ctx context.Context, client *blackboard.Client, teamID string) (*blackboard.Subscription[*blackboard.PresenceEvent], error) {
		return client.SubscribePresence(ctx, teamID)
	}
	watchReactions = func(ctx context.Context, ch *chat.Channel) (io.Closer, error) {
		return ch.WatchReactions(ctx)
	}
)

// Options identifies who is opening which team.
type Options struct {
	TeamID   string
	MemberID string
	Config   *config.SortieConfig // nil uses config.Default()
	Clock    clockwork.Clock      // nil uses the real clock
}

// Session is one member's live view of one team.
type Session struct {
	client   *blackboard.Client
	teamID   string
	memberID string
	self     *blackboard.Member

	store    *store.Store
	presence *presence.Tracker
	typing   *typing.Indicator
	chat     *chat.Channel
	board    *board.Board
	mission  *mission.Controller

	feed      *blackboard.Subscription[*blackboard.ChangeEvent]
	broadcast *blackboard.Subscription[*blackboard.Envelope]
	presSub   *blackboard.Subscription[*blackboard.PresenceEvent]

	cancel   context.CancelFunc
	done     chan struct{}
	closers  []io.Closer // released in reverse order
	once     sync.Once
	closeErr error
}

// Open enters a team's workspace as memberID.
//
// Subscriptions are opened before the snapshot is read, so no write can fall between the
// two. If the feed, the broadcast channel or the snapshot fails, everything acquired so far
// is released before returning. Presence and reaction failures only disable those channels.
func Open(ctx context.Context, client *blackboard.Client, opts Options) (s *Session, err error) {
	cfg, clock := opts.withDefaults()

	self, err := client.GetMember(ctx, opts.MemberID)
	if err != nil {
		return nil, fmt.Errorf("failed to load member %s: %w", opts.MemberID, err)
	}
	if self.TeamID != opts.TeamID {
		return nil, fmt.Errorf("member %s does not belong to team %s", opts.MemberID, opts.TeamID)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s = &Session{
		client:   client,
		teamID:   opts.TeamID,
		memberID: opts.MemberID,
		self:     self,
		store:    store.New(opts.TeamID, client),
		presence: presence.NewTracker(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	defer func() {
		if err != nil {
			cancel()
			close(s.done)
			s.release()
		}
	}()

	if s.feed, err = client.SubscribeChanges(runCtx, s.teamID, feedTables...); err != nil {
		return nil, fmt.Errorf("failed to open change feed: %w", err)
	}
	s.closers = append(s.closers, s.feed)

	if s.broadcast, err = client.SubscribeBroadcast(runCtx, s.teamID); err != nil {
		return nil, fmt.Errorf("failed to open broadcast channel: %w", err)
	}
	s.closers = append(s.closers, s.broadcast)

	if presSub, presErr := subscribePresence(runCtx, client, s.teamID); presErr != nil {
		log.Printf("[Session] Presence channel unavailable for team %s: %v", s.teamID, presErr)
	} else {
		s.presSub = presSub
		s.closers = append(s.closers, presSub)
	}

	if err = loadSnapshot(ctx, client, s.store); err != nil {
		return nil, err
	}

	s.typing = typing.New(s.teamID, typing.Signal{MemberID: self.ID, Name: self.Name, Avatar: self.Avatar}, client,
		typing.Options{TTL: cfg.Typing.TTL, Clock: clock})
	s.closers = append(s.closers, s.typing)
	s.board, s.mission, s.chat = components(s.store, s.memberID, client, cfg, clock)
	if err = s.chat.Refresh(ctx); err != nil {
		return nil, err
	}

	if reactions, reactErr := watchReactions(runCtx, s.chat); reactErr != nil {
		log.Printf("[Session] Reaction feed unavailable for team %s: %v", s.teamID, reactErr)
	} else {
		s.closers = append(s.closers, reactions)
	}

	// Presence degrades silently: the workspace works without it.
	if tracked, trackErr := client.TrackPresence(ctx, s.teamID, s.memberID, cfg.Presence.TTL); trackErr != nil {
		log.Printf("[Session] Presence unavailable for %s: %v", s.memberID, trackErr)
	} else {
		s.closers = append(s.closers, tracked)
	}
	if online, snapErr := client.PresenceSnapshot(ctx, s.teamID, cfg.Presence.TTL); snapErr == nil {
		s.presence.Sync(online)
	}

	go s.dispatch(runCtx)

	s.logEvent("session_opened", map[string]interface{}{"member_id": s.memberID})
	return s, nil
}

// dispatch is the session's single event loop. Events from every channel are handled one
// at a time, so the components never see concurrent inbound updates.
func (s *Session) dispatch(ctx context.Context) {
	defer close(s.done)

	feed, feedErrs := s.feed.Events(), s.feed.Errors()
	bcast, bcastErrs := s.broadcast.Events(), s.broadcast.Errors()
	var (
		pres     <-chan *blackboard.PresenceEvent
		presErrs <-chan error
	)
	if s.presSub != nil {
		pres, presErrs = s.presSub.Events(), s.presSub.Errors()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-feed:
			if !ok {
				feed = nil
				continue
			}
			if err := s.store.Apply(ev); err != nil {
				s.logEvent("change_rejected", map[string]interface{}{"table": ev.Table, "row_id": ev.RowID, "error": err.Error()})
				continue
			}
			if ev.Table != blackboard.TableMessages {
				s.logEvent("change_applied", map[string]interface{}{"table": ev.Table, "op": ev.Op, "row_id": ev.RowID})
			}

		case env, ok := <-bcast:
			if !ok {
				bcast = nil
				continue
			}
			s.typing.Handle(env)
			s.mission.HandleBroadcast(env)
			if env.Event != blackboard.EventTyping {
				s.logEvent("broadcast_received", map[string]interface{}{"event": env.Event, "sender_id": env.SenderID})
			}

		case ev, ok := <-pres:
			if !ok {
				pres = nil
				continue
			}
			s.presence.Handle(ev)

		case err, ok := <-feedErrs:
			if !ok {
				feedErrs = nil
				continue
			}
			log.Printf("[Session] Change feed error: %v", err)
		case err, ok := <-bcastErrs:
			if !ok {
				bcastErrs = nil
				continue
			}
			log.Printf("[Session] Broadcast error: %v", err)
		case err, ok := <-presErrs:
			if !ok {
				presErrs = nil
				continue
			}
			log.Printf("[Session] Presence error: %v", err)
		}
	}
}

// Close leaves the workspace: the dispatch loop stops, presence is untracked and every
// subscription is released. Safe to call multiple times.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.closeErr = s.release()
		s.logEvent("session_closed", map[string]interface{}{"member_id": s.memberID})
	})
	return s.closeErr
}

func (s *Session) release() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// TeamID returns the team the session is scoped to.
func (s *Session) TeamID() string { return s.teamID }

// MemberID returns the member the session acts as.
func (s *Session) MemberID() string { return s.memberID }

// Self returns the member row loaded when the session opened.
func (s *Session) Self() *blackboard.Member { return s.self }

// Client returns the underlying blackboard client.
func (s *Session) Client() *blackboard.Client { return s.client }

// Store returns the session's optimistic store.
func (s *Session) Store() *store.Store { return s.store }

// Presence returns who is online.
func (s *Session) Presence() *presence.Tracker { return s.presence }

// Typing returns the typing indicator.
func (s *Session) Typing() *typing.Indicator { return s.typing }

// Chat returns the team's message channel.
func (s *Session) Chat() *chat.Channel { return s.chat }

// Board returns the task board acting as the session's member.
func (s *Session) Board() *board.Board { return s.board }

// Mission returns the mission lifecycle controller.
func (s *Session) Mission() *mission.Controller { return s.mission }

// Members returns the team's members with Online derived from presence.
func (s *Session) Members() []*blackboard.Member {
	return s.presence.Decorate(s.store.Members())
}

// logEvent emits a structured JSON log line for session activity.
func (s *Session) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "session"
	data["event_type"] = eventType
	data["team_id"] = s.teamID

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Session] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}

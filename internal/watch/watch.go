// Package watch streams a team's live activity: row changes, broadcasts and presence.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/sortie/pkg/blackboard"
)

// OutputFormat specifies how streamed activity is written.
type OutputFormat string

const (
	// OutputFormatDefault is human-readable, one line per event with a timestamp
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON is line-delimited JSON, one object per event
	OutputFormatJSON OutputFormat = "json"
)

// formatter renders one event kind at a time.
type formatter interface {
	FormatChange(ev *blackboard.ChangeEvent) error
	FormatBroadcast(env *blackboard.Envelope) error
	FormatPresence(ev *blackboard.PresenceEvent) error
}

// StreamActivity subscribes to every table of the team's change feed plus its broadcast
// and presence channels, and writes each event to w until ctx is cancelled.
func StreamActivity(ctx context.Context, client *blackboard.Client, teamID string, format OutputFormat, w io.Writer) error {
	f, err := newFormatter(format, w)
	if err != nil {
		return err
	}

	feed, err := client.SubscribeChanges(ctx, teamID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to change feed: %w", err)
	}
	defer feed.Close()

	bcast, err := client.SubscribeBroadcast(ctx, teamID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to broadcasts: %w", err)
	}
	defer bcast.Close()

	pres, err := client.SubscribePresence(ctx, teamID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to presence: %w", err)
	}
	defer pres.Close()

	feedCh, bcastCh, presCh := feed.Events(), bcast.Events(), pres.Events()
	feedErrs := feed.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-feedCh:
			if !ok {
				return nil
			}
			if err := f.FormatChange(ev); err != nil {
				return err
			}

		case env, ok := <-bcastCh:
			if !ok {
				return nil
			}
			if err := f.FormatBroadcast(env); err != nil {
				return err
			}

		case ev, ok := <-presCh:
			if !ok {
				return nil
			}
			if err := f.FormatPresence(ev); err != nil {
				return err
			}

		case err, ok := <-feedErrs:
			if !ok {
				feedErrs = nil
				continue
			}
			fmt.Fprintf(w, "⚠️  feed error: %v\n", err)
		}
	}
}

func newFormatter(format OutputFormat, w io.Writer) (formatter, error) {
	switch format {
	case OutputFormatDefault, "":
		return &defaultFormatter{writer: w}, nil
	case OutputFormatJSON:
		return &jsonFormatter{writer: w}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", format)
	}
}

// defaultFormatter writes one human-readable line per event. Typing signals are skipped.
type defaultFormatter struct {
	writer io.Writer
}

func (f *defaultFormatter) line(atMs int64, format string, a ...interface{}) error {
	ts := time.Now()
	if atMs > 0 {
		ts = time.UnixMilli(atMs)
	}
	_, err := fmt.Fprintf(f.writer, "[%s] %s\n", ts.Format("15:04:05"), fmt.Sprintf(format, a...))
	return err
}

func (f *defaultFormatter) FormatChange(ev *blackboard.ChangeEvent) error {
	switch ev.Table {
	case blackboard.TableTasks:
		if ev.Op == blackboard.OpDelete {
			return f.line(ev.AtMs, "🗑️  Task deleted: id=%s", ev.RowID)
		}
		t, err := ev.Task()
		if err != nil {
			return f.line(ev.AtMs, "⚠️  Malformed task event: %v", err)
		}
		if ev.Op == blackboard.OpInsert {
			return f.line(ev.AtMs, "✨ Task created: title=%q id=%s", t.Title, t.ID)
		}
		return f.line(ev.AtMs, "📝 Task updated: title=%q status=%s assignee=%s", t.Title, t.Status, orNone(t.AssigneeID))

	case blackboard.TablePins:
		p, err := ev.Pin()
		if err != nil || p.TaskID == "" || ev.Op == blackboard.OpDelete {
			return f.line(ev.AtMs, "📌 Pin cleared")
		}
		return f.line(ev.AtMs, "📌 Task pinned: id=%s", p.TaskID)

	case blackboard.TableTeams:
		t, err := ev.Team()
		if err != nil {
			return f.line(ev.AtMs, "⚠️  Malformed team event: %v", err)
		}
		deadline := "none"
		if t.DeadlineMs != nil {
			deadline = time.UnixMilli(*t.DeadlineMs).UTC().Format(time.RFC3339)
		}
		return f.line(ev.AtMs, "🛰️  Team updated: mission=%q cycle=%d deadline=%s", t.MissionName, t.Cycle, deadline)

	case blackboard.TableMembers:
		m, err := ev.Member()
		if err != nil {
			return f.line(ev.AtMs, "⚠️  Malformed member event: %v", err)
		}
		if ev.Op == blackboard.OpInsert {
			return f.line(ev.AtMs, "👋 Member joined: name=%s role=%s", m.Name, m.Role)
		}
		return f.line(ev.AtMs, "👤 Member updated: name=%s xp=%d", m.Name, m.XP)

	case blackboard.TableMessages:
		m, err := ev.Message()
		if err != nil {
			return f.line(ev.AtMs, "⚠️  Malformed message event: %v", err)
		}
		return f.line(ev.AtMs, "💬 Message: author=%s %s", m.AuthorID, truncate(m.Content, 60))

	case blackboard.TableReactions:
		r, err := ev.Reaction()
		if err != nil {
			return f.line(ev.AtMs, "⚠️  Malformed reaction event: %v", err)
		}
		verb := "added"
		if ev.Op == blackboard.OpDelete {
			verb = "removed"
		}
		return f.line(ev.AtMs, "%s Reaction %s: message=%s", r.Emoji, verb, r.MessageID)

	case blackboard.TableArchives:
		a, err := ev.Archive()
		if err != nil {
			return f.line(ev.AtMs, "⚠️  Malformed archive event: %v", err)
		}
		return f.line(ev.AtMs, "🏁 Mission archived: %q cycle=%d total_xp=%d", a.MissionName, a.Cycle, a.TotalXP)

	case blackboard.TableAudit:
		var entry blackboard.AuditEntry
		if err := json.Unmarshal(ev.Row, &entry); err != nil {
			return f.line(ev.AtMs, "⚠️  Malformed audit event: %v", err)
		}
		return f.line(ev.AtMs, "🧾 %s by %s: %s", entry.Action, entry.ActorID, entry.Detail)

	default:
		return f.line(ev.AtMs, "• %s %s: id=%s", ev.Table, ev.Op, ev.RowID)
	}
}

func (f *defaultFormatter) FormatBroadcast(env *blackboard.Envelope) error {
	switch env.Event {
	case blackboard.EventTyping:
		return nil
	case blackboard.EventMissionCompleted:
		var summary struct {
			MissionName string `json:"mission_name"`
			Cycle       int    `json:"cycle"`
			TotalXP     int    `json:"total_xp"`
		}
		if err := env.Decode(&summary); err != nil {
			return f.line(env.SentMs, "⚠️  Malformed completion broadcast: %v", err)
		}
		return f.line(env.SentMs, "🎉 Mission completed: %q cycle=%d total_xp=%d", summary.MissionName, summary.Cycle, summary.TotalXP)
	case blackboard.EventSquadRedeployed:
		return f.line(env.SentMs, "🚀 Squad redeployed by %s", env.SenderID)
	default:
		return f.line(env.SentMs, "📣 %s from %s", env.Event, env.SenderID)
	}
}

func (f *defaultFormatter) FormatPresence(ev *blackboard.PresenceEvent) error {
	if ev.Kind == blackboard.PresenceLeave {
		return f.line(ev.AtMs, "🔌 Left: %s", strings.Join(ev.Left, ", "))
	}
	return f.line(ev.AtMs, "🟢 Online (%d): %s", len(ev.Online), strings.Join(ev.Online, ", "))
}

// jsonFormatter writes one JSON object per event, tagged with its source.
type jsonFormatter struct {
	writer io.Writer
}

type jsonEvent struct {
	Source string      `json:"source"`
	Event  interface{} `json:"event"`
}

func (f *jsonFormatter) write(source string, v interface{}) error {
	data, err := json.Marshal(jsonEvent{Source: source, Event: v})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", source, err)
	}
	if _, err := fmt.Fprintf(f.writer, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	return nil
}

func (f *jsonFormatter) FormatChange(ev *blackboard.ChangeEvent) error {
	return f.write("feed", ev)
}

func (f *jsonFormatter) FormatBroadcast(env *blackboard.Envelope) error {
	return f.write("broadcast", env)
}

func (f *jsonFormatter) FormatPresence(ev *blackboard.PresenceEvent) error {
	return f.write("presence", ev)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

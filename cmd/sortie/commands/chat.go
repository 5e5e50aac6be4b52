package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dyluth/sortie/internal/printer"
	"github.com/dyluth/sortie/internal/resolver"
	"github.com/dyluth/sortie/internal/session"
	"github.com/dyluth/sortie/internal/store"
	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/spf13/cobra"
)

var (
	chatLanguage string
	chatLimit    int
	chatFollow   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the team",
	Long: `Talk to the team.

Messages starting with a command are replaced by what the command
produces before they are sent:
  /standup   summary of the board, per column and per member
  /mission   the mission's countdown status`,
}

var chatSendCmd = &cobra.Command{
	Use:   "send MESSAGE",
	Short: "Send a text message or a /command",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChatSend,
}

var chatCodeCmd = &cobra.Command{
	Use:   "code [FILE]",
	Short: "Share a code snippet from a file or stdin",
	Long: `Share a code snippet. Reads FILE, or stdin when FILE is omitted or "-".

Examples:
  sortie chat code --lang go main.go
  git diff | sortie chat code --lang diff`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChatCode,
}

var chatLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent messages",
	Long: `Show recent messages with their reactions.

Use --follow to stay in the channel and print messages as they arrive.
Following marks you online for the rest of the team.`,
	Args: cobra.NoArgs,
	RunE: runChatLog,
}

var chatReactCmd = &cobra.Command{
	Use:   "react MESSAGE EMOJI",
	Short: "Toggle a reaction on a message",
	Args:  cobra.ExactArgs(2),
	RunE:  runChatReact,
}

func init() {
	chatCodeCmd.Flags().StringVarP(&chatLanguage, "lang", "l", "", "Language of the snippet (required)")
	_ = chatCodeCmd.MarkFlagRequired("lang")

	chatLogCmd.Flags().IntVarP(&chatLimit, "limit", "n", 20, "Number of recent messages to show")
	chatLogCmd.Flags().BoolVarP(&chatFollow, "follow", "f", false, "Keep printing new messages")

	chatCmd.AddCommand(chatSendCmd, chatCodeCmd, chatLogCmd, chatReactCmd)
	rootCmd.AddCommand(chatCmd)
}

func runChatSend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	msg, err := ws.view.Chat.Send(ctx, strings.Join(args, " "))
	if err != nil {
		return chatError(err)
	}
	printer.Success("Sent %s\n", resolver.ShortID(msg.ID))
	return nil
}

func runChatCode(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var src io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return printer.Error("cannot read snippet", err.Error(), nil)
		}
		defer f.Close()
		src = f
	}
	code, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("failed to read snippet: %w", err)
	}

	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	msg, err := ws.view.Chat.SendCode(ctx, strings.TrimRight(string(code), "\n"), chatLanguage)
	if err != nil {
		return chatError(err)
	}
	printer.Success("Shared %s snippet %s\n", chatLanguage, resolver.ShortID(msg.ID))
	return nil
}

func runChatLog(cmd *cobra.Command, args []string) error {
	if chatFollow {
		return followChat(cmd)
	}

	ctx := cmd.Context()
	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.view.LoadMessages(ctx); err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}

	msgs := ws.view.Store.Messages()
	if len(msgs) == 0 {
		printer.Info("No messages yet\n")
		return nil
	}
	if chatLimit > 0 && len(msgs) > chatLimit {
		msgs = msgs[len(msgs)-chatLimit:]
	}
	names := ws.names()
	for _, m := range msgs {
		printMessage(m, names)
	}
	return nil
}

// followChat opens a live session and prints each message once, in order, until
// interrupted.
func followChat(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	sess, err := session.Open(ctx, client, session.Options{TeamID: cfg.Team, MemberID: cfg.Member, Config: cfg})
	if err != nil {
		return printer.Error("cannot join the channel", err.Error(), []string{"Check the team and member in " + configPath})
	}
	defer sess.Close()

	changed := make(chan struct{}, 1)
	sess.Store().OnChange(func(c store.Change) {
		if c.Kind != store.ChangeMessages && c.Kind != store.ChangeMember {
			return
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	printed := make(map[string]bool)
	flush := func() {
		names := make(map[string]string)
		for _, m := range sess.Members() {
			names[m.ID] = m.Name
		}
		for _, m := range sess.Store().Messages() {
			if !printed[m.ID] {
				printed[m.ID] = true
				printMessage(m, names)
			}
		}
	}

	printer.Faint("Following %s (Ctrl+C to leave)\n", sess.Store().Team().Name)
	flush()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			flush()
		}
	}
}

func runChatReact(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.view.LoadMessages(ctx); err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}
	msgID, err := resolveMessage(ws.view.Store.Messages(), args[0])
	if err != nil {
		return err
	}
	if err := ws.view.Chat.ToggleReaction(ctx, msgID, args[1]); err != nil {
		return chatError(err)
	}
	printer.Success("Toggled %s on %s\n", args[1], resolver.ShortID(msgID))
	return nil
}

// resolveMessage finds a loaded message by ID or unique prefix.
func resolveMessage(msgs []*blackboard.ChatMessage, ref string) (string, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	var matches []string
	for _, m := range msgs {
		if m.ID == ref {
			return m.ID, nil
		}
		if len(ref) >= resolver.MinShortIDLength && strings.HasPrefix(m.ID, ref) {
			matches = append(matches, m.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", printer.Error(
			fmt.Sprintf("message '%s' not found", ref),
			"No recent message has that ID or prefix.",
			[]string{"Show recent messages with their IDs:\n  sortie chat log"},
		)
	default:
		ambig := &resolver.AmbiguousError{Kind: "message", ShortID: ref, Matches: matches}
		fmt.Fprintln(os.Stderr, resolver.FormatAmbiguousError(ambig))
		return "", fmt.Errorf("ambiguous short ID")
	}
}

func printMessage(m *blackboard.ChatMessage, names map[string]string) {
	author, ok := names[m.AuthorID]
	if !ok {
		author = resolver.ShortID(m.AuthorID)
	}
	printer.Faint("%s ", resolver.ShortID(m.ID))
	printer.Message(m, author)
}

func chatError(err error) error {
	var suggestions []string
	if store.IsMutationError(err) {
		suggestions = []string{"Check the Redis connection and send it again"}
	}
	return printer.Error("message not sent", err.Error(), suggestions)
}

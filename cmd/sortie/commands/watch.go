package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/sortie/internal/printer"
	"github.com/dyluth/sortie/internal/watch"
	"github.com/spf13/cobra"
)

var watchOutputFormat string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor the team's activity in real time",
	Long: `Monitor the team's activity in real time.

Streams task, pin, member, chat, reaction, archive and audit changes,
mission broadcasts and presence updates as they occur. Watching does
not mark you online.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  sortie watch
  sortie watch --output=json > activity.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	var outputFormat watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		outputFormat = watch.OutputFormatDefault
	case "json":
		outputFormat = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	if outputFormat == watch.OutputFormatDefault {
		printer.Faint("Watching %s (Ctrl+C to stop)\n", ws.view.Store.Team().Name)
	}
	return watch.StreamActivity(ctx, ws.client, ws.view.TeamID, outputFormat, cmd.OutOrStdout())
}

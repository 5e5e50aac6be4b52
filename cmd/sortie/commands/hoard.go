package commands

import (
	"fmt"
	"time"

	"github.com/dyluth/sortie/internal/hoard"
	"github.com/dyluth/sortie/internal/printer"
	"github.com/dyluth/sortie/internal/timespec"
	"github.com/spf13/cobra"
)

var (
	hoardOutputFormat string
	hoardSince        string
	hoardUntil        string
	hoardMission      string
	hoardMember       string
)

var hoardCmd = &cobra.Command{
	Use:   "hoard [CYCLE|ARCHIVE_ID]",
	Short: "Inspect completed missions",
	Long: `Inspect the team's completed missions in list or get mode.

List Mode (no argument):
  Displays one row per completed cycle as a table or JSONL stream.

Get Mode (with CYCLE or ARCHIVE_ID):
  Displays the archive and the board as it was at completion, as
  pretty-printed JSON. Accepts a cycle number ("3" or "#3"), a full
  archive ID or a unique prefix of at least 6 characters.

Output Formats (list mode only):
  default - Human-readable table with cycle, mission, XP and top earner
  jsonl   - Line-delimited JSON, one archive per line

Filters (list mode only):
  --since   - Completed after this time (duration ago or RFC3339)
  --until   - Completed before this time
  --mission - Mission name glob, case-insensitive ("apollo*")
  --member  - Only cycles in which this member earned XP (name or ID)

Examples:
  sortie hoard
  sortie hoard --since=720h --mission="lunar*"
  sortie hoard --output=jsonl | jq '.total_xp'
  sortie hoard 2`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHoard,
}

func init() {
	hoardCmd.Flags().StringVarP(&hoardOutputFormat, "output", "o", "default", "Output format: default or jsonl (ignored in get mode)")

	// Time-based filters
	hoardCmd.Flags().StringVar(&hoardSince, "since", "", "Show missions completed after time (duration or RFC3339)")
	hoardCmd.Flags().StringVar(&hoardUntil, "until", "", "Show missions completed before time (duration or RFC3339)")

	// Content-based filters
	hoardCmd.Flags().StringVar(&hoardMission, "mission", "", "Filter by mission name (glob pattern)")
	hoardCmd.Flags().StringVar(&hoardMember, "member", "", "Filter by member who earned XP")

	rootCmd.AddCommand(hoardCmd)
}

func runHoard(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	isGetMode := len(args) > 0

	var outputFormat hoard.OutputFormat
	if !isGetMode {
		switch hoardOutputFormat {
		case "default":
			outputFormat = hoard.OutputFormatDefault
		case "jsonl":
			outputFormat = hoard.OutputFormatJSONL
		default:
			return printer.Error(
				"invalid output format",
				fmt.Sprintf("Unknown format: %s", hoardOutputFormat),
				[]string{"Valid formats: default, jsonl"},
			)
		}
	}

	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	team := ws.view.Store.Team()
	out := cmd.OutOrStdout()

	if isGetMode {
		err := hoard.GetArchive(ctx, ws.client, team.ID, args[0], out)
		if err != nil {
			if hoard.IsNotFound(err) {
				return printer.Error(
					fmt.Sprintf("mission '%s' not found", args[0]),
					"No completed mission of this team matches that cycle or ID.",
					[]string{"List completed missions:\n  sortie hoard"},
				)
			}
			return printer.Error("cannot show mission", err.Error(), nil)
		}
		return nil
	}

	sinceMS, untilMS, err := timespec.ParseRange(hoardSince, hoardUntil, time.Now())
	if err != nil {
		return printer.Error(
			"invalid time filter",
			err.Error(),
			[]string{"Use duration format like '1h30m' or RFC3339 like '2026-10-29T13:00:00Z'"},
		)
	}

	filters := &hoard.FilterCriteria{
		SinceTimestampMs: sinceMS,
		UntilTimestampMs: untilMS,
		MissionGlob:      hoardMission,
	}
	if hoardMember != "" {
		if filters.MemberID, err = ws.resolveMember(hoardMember); err != nil {
			return err
		}
	}

	if err := hoard.ListArchives(ctx, ws.client, team.ID, team.Name, outputFormat, filters, out); err != nil {
		return fmt.Errorf("failed to list missions: %w", err)
	}
	return nil
}

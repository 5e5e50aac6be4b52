package commands

import (
	"fmt"
	"time"

	"github.com/dyluth/sortie/internal/printer"
	"github.com/spf13/cobra"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show who changed what in the team",
	Long: `Show the team's audit history, oldest first.

Every board and mission change is recorded with its actor. The history
survives redeploys.`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 30, "Number of recent entries to show (0 for all)")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	entries, err := ws.client.ListAudit(ctx, ws.view.TeamID, auditLimit)
	if err != nil {
		return fmt.Errorf("failed to read audit history: %w", err)
	}
	if len(entries) == 0 {
		printer.Info("No activity recorded yet\n")
		return nil
	}
	for _, e := range entries {
		printer.Faint("%s ", time.UnixMilli(e.AtMs).Local().Format("2006-01-02 15:04"))
		printer.Info("%-16s %-12s %s\n", e.Action, displayName(ws, e.ActorID), e.Detail)
	}
	return nil
}

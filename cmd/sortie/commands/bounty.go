package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/sortie/internal/printer"
	"github.com/dyluth/sortie/internal/resolver"
	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var bountyCmd = &cobra.Command{
	Use:   "bounty",
	Short: "Track side quests that earn XP at mission completion",
	Long: `Track bounties: side quests outside the board.

Every bounty of the current cycle completed by a member earns that member
bounty XP when the mission is completed.`,
}

var bountyPostCmd = &cobra.Command{
	Use:   "post TITLE",
	Short: "Post a bounty for the current cycle",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBountyPost,
}

var bountyDoneCmd = &cobra.Command{
	Use:   "done BOUNTY",
	Short: "Claim a bounty as completed by you",
	Args:  cobra.ExactArgs(1),
	RunE:  runBountyDone,
}

var bountyListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the bounties of the current cycle",
	Args:    cobra.NoArgs,
	RunE:    runBountyList,
}

func init() {
	bountyCmd.AddCommand(bountyPostCmd, bountyDoneCmd, bountyListCmd)
	rootCmd.AddCommand(bountyCmd)
}

func runBountyPost(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	b := &blackboard.Bounty{
		ID:     uuid.New().String(),
		TeamID: ws.view.TeamID,
		Title:  strings.Join(args, " "),
		Cycle:  ws.view.Store.Team().Cycle,
	}
	if err := ws.client.CreateBounty(ctx, b); err != nil {
		return printer.Error("cannot post bounty", err.Error(), nil)
	}
	printer.Success("Posted bounty %s %s\n", resolver.ShortID(b.ID), b.Title)
	return nil
}

func runBountyDone(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	bounties, err := currentBounties(ctx, ws)
	if err != nil {
		return err
	}
	var matches []*blackboard.Bounty
	ref := strings.ToLower(args[0])
	for _, b := range bounties {
		if b.ID == ref || (len(ref) >= resolver.MinShortIDLength && strings.HasPrefix(b.ID, ref)) {
			matches = append(matches, b)
		}
	}
	if len(matches) != 1 {
		return printer.Error(
			fmt.Sprintf("bounty '%s' not found", args[0]),
			fmt.Sprintf("%d open bounties of this cycle match.", len(matches)),
			[]string{"List bounties:\n  sortie bounty list"},
		)
	}
	if matches[0].CompletedBy != "" {
		return printer.Error("bounty already claimed", fmt.Sprintf("%s was completed by %s.", matches[0].Title, displayName(ws, matches[0].CompletedBy)), nil)
	}

	b, err := ws.client.CompleteBounty(ctx, matches[0].ID, ws.view.MemberID)
	if err != nil {
		return fmt.Errorf("failed to complete bounty: %w", err)
	}
	printer.Success("Claimed %s\n", b.Title)
	return nil
}

func runBountyList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	bounties, err := currentBounties(ctx, ws)
	if err != nil {
		return err
	}
	if len(bounties) == 0 {
		printer.Info("No bounties this cycle\n")
		return nil
	}
	for _, b := range bounties {
		status := "open"
		if b.CompletedBy != "" {
			status = "done by " + displayName(ws, b.CompletedBy)
		}
		printer.Faint("%s ", resolver.ShortID(b.ID))
		printer.Info("%s [%s]\n", b.Title, status)
	}
	return nil
}

func currentBounties(ctx context.Context, ws *workspace) ([]*blackboard.Bounty, error) {
	all, err := ws.client.ListBounties(ctx, ws.view.TeamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bounties: %w", err)
	}
	cycle := ws.view.Store.Team().Cycle
	var bounties []*blackboard.Bounty
	for _, b := range all {
		if b.Cycle == cycle {
			bounties = append(bounties, b)
		}
	}
	return bounties, nil
}

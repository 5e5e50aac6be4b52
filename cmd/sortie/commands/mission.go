package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/dyluth/sortie/internal/mission"
	"github.com/dyluth/sortie/internal/printer"
	"github.com/dyluth/sortie/internal/resolver"
	"github.com/dyluth/sortie/internal/session"
	"github.com/dyluth/sortie/internal/timespec"
	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/spf13/cobra"
)

var (
	missionClear    bool
	missionFollow   bool
	missionGoal     string
	missionDeadline string
)

var missionCmd = &cobra.Command{
	Use:   "mission",
	Short: "Schedule, track and complete the team's mission",
	Long: `Schedule, track and complete the team's mission.

A mission moves through four phases: unscheduled (no deadline),
scheduled (counting down), overtime (deadline passed) and completed.
Scheduling, completing and redeploying are leader only.`,
}

var missionScheduleCmd = &cobra.Command{
	Use:   "schedule [DEADLINE]",
	Short: "Set or clear the mission deadline (leader only)",
	Long: `Set the mission deadline, or clear it with --clear.

DEADLINE is a duration from now ("90m", "36h") or an RFC3339 time.

Examples:
  sortie mission schedule 48h
  sortie mission schedule 2026-11-01T18:00:00Z
  sortie mission schedule --clear`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMissionSchedule,
}

var missionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the mission countdown",
	Long: `Show the mission countdown.

With --follow the countdown keeps ticking, follows deadline changes made
by the leader, and prints the completion summary when the mission ends.`,
	Args: cobra.NoArgs,
	RunE: runMissionStatus,
}

var missionCompleteCmd = &cobra.Command{
	Use:   "complete",
	Short: "Complete the mission and award XP (leader only)",
	Long: `Complete the current mission cycle and award XP.

Each member earns XP for their done tasks and completed bounties, plus a
completion bonus. Completing an already completed cycle shows the stored
summary again and awards nothing.`,
	Args: cobra.NoArgs,
	RunE: runMissionComplete,
}

var missionRedeployCmd = &cobra.Command{
	Use:   "redeploy NAME",
	Short: "Start the next mission cycle (leader only)",
	Long: `Start the next mission cycle with a new mission.

The board is cleared. Team, members, XP, chat and the audit history are
kept. Completed missions stay available through 'sortie hoard'.`,
	Args: cobra.ExactArgs(1),
	RunE: runMissionRedeploy,
}

func init() {
	missionScheduleCmd.Flags().BoolVar(&missionClear, "clear", false, "Remove the deadline")
	missionStatusCmd.Flags().BoolVarP(&missionFollow, "follow", "f", false, "Keep the countdown running")
	missionRedeployCmd.Flags().StringVar(&missionGoal, "goal", "", "Goal of the new mission")
	missionRedeployCmd.Flags().StringVar(&missionDeadline, "deadline", "", "Deadline of the new mission (duration or RFC3339)")

	missionCmd.AddCommand(missionScheduleCmd, missionStatusCmd, missionCompleteCmd, missionRedeployCmd)
	rootCmd.AddCommand(missionCmd)
}

func runMissionSchedule(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if missionClear == (len(args) == 1) {
		return printer.Error(
			"deadline required",
			"Give either a deadline or --clear.",
			[]string{"sortie mission schedule 48h", "sortie mission schedule --clear"},
		)
	}

	var deadline time.Time
	if !missionClear {
		var err error
		if deadline, err = timespec.ParseDeadline(args[0], time.Now()); err != nil {
			return printer.Error("invalid deadline", err.Error(), []string{"Use a duration like '48h' or RFC3339 like '2026-11-01T18:00:00Z'"})
		}
	}

	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	if missionClear {
		err = ws.view.Mission.ClearDeadline(ctx)
	} else {
		err = ws.view.Mission.SetDeadline(ctx, deadline)
	}
	if err != nil {
		return missionError(err, "schedule the mission")
	}

	printer.Success("%s\n", ws.view.Mission.StatusLine())
	return nil
}

func runMissionStatus(cmd *cobra.Command, args []string) error {
	if missionFollow {
		return followMission(cmd)
	}

	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	team := ws.view.Store.Team()
	printer.Heading("%s (cycle %d)", orUnnamed(team.MissionName), team.Cycle)
	if team.MissionGoal != "" {
		printer.Info("Goal: %s\n", team.MissionGoal)
	}
	if team.DeadlineMs != nil {
		printer.Info("Deadline: %s\n", time.UnixMilli(*team.DeadlineMs).Local().Format(time.RFC1123))
	}
	printer.Info("%s\n", ws.view.Mission.StatusLine())
	return nil
}

// followMission renders the countdown on one line until interrupted.
func followMission(cmd *cobra.Command) error {
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
		return printer.Error("cannot follow the mission", err.Error(), []string{"Check the team and member in " + configPath})
	}
	defer sess.Close()

	var shown *mission.Summary
	sess.Mission().Countdown(ctx, func(mission.Tick) {
		printer.Printf("\r\033[K%s", sess.Mission().StatusLine())
		if s := sess.Mission().Summary(); s != nil && s != shown {
			shown = s
			printer.Println()
			printSummary(s, sess.Members())
		}
	})
	printer.Println()
	return nil
}

func runMissionComplete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	summary, err := ws.view.Mission.Complete(ctx)
	if err != nil {
		return missionError(err, "complete the mission")
	}
	printer.Success("Mission complete\n")
	printSummary(summary, ws.view.Store.Members())
	return nil
}

func runMissionRedeploy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var deadline *time.Time
	if missionDeadline != "" {
		d, err := timespec.ParseDeadline(missionDeadline, time.Now())
		if err != nil {
			return printer.Error("invalid deadline", err.Error(), []string{"Use a duration like '48h' or RFC3339 like '2026-11-01T18:00:00Z'"})
		}
		deadline = &d
	}

	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.view.Mission.Redeploy(ctx, args[0], missionGoal, deadline); err != nil {
		return missionError(err, "redeploy")
	}
	team := ws.view.Store.Team()
	printer.Success("Squad redeployed on %s (cycle %d)\n", team.MissionName, team.Cycle)
	return nil
}

func printSummary(s *mission.Summary, members []*blackboard.Member) {
	names := make(map[string]string, len(members))
	for _, m := range members {
		names[m.ID] = m.Name
	}

	printer.Heading("🎉 %s (cycle %d): %d XP", orUnnamed(s.MissionName), s.Cycle, s.TotalXP)
	ids := make([]string, 0, len(s.Awards))
	for id := range s.Awards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if s.Awards[ids[i]] != s.Awards[ids[j]] {
			return s.Awards[ids[i]] > s.Awards[ids[j]]
		}
		return ids[i] < ids[j]
	})
	for _, id := range ids {
		name, ok := names[id]
		if !ok {
			name = resolver.ShortID(id)
		}
		printer.Info("  %-20s +%d XP\n", name, s.Awards[id])
	}
}

func missionError(err error, action string) error {
	switch {
	case errors.Is(err, mission.ErrNotLeader):
		return printer.Error(fmt.Sprintf("cannot %s", action), "Only the team leader can do that.", nil)
	case errors.Is(err, mission.ErrNoMission):
		return printer.Error(fmt.Sprintf("cannot %s", action), "The team has no mission loaded.", nil)
	}
	return printer.Error(fmt.Sprintf("cannot %s", action), err.Error(), nil)
}

func orUnnamed(name string) string {
	if name == "" {
		return "Unnamed mission"
	}
	return name
}

package commands

import (
	"fmt"
	"time"

	"github.com/dyluth/sortie/internal/board"
	"github.com/dyluth/sortie/internal/presence"
	"github.com/dyluth/sortie/internal/printer"
	"github.com/dyluth/sortie/internal/timespec"
	"github.com/dyluth/sortie/pkg/blackboard"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	teamName     string
	teamLeader   string
	teamAvatar   string
	teamMission  string
	teamGoal     string
	teamDeadline string

	joinName   string
	joinAvatar string

	settingsAllowCreate bool
)

var teamCmd = &cobra.Command{
	Use:   "team",
	Short: "Create, join and inspect a team",
}

var teamCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a team and become its leader",
	Long: `Create a team with you as its Leader.

The team starts on mission cycle 1. Share the printed invite code so
others can join with 'sortie team join'.

Examples:
  sortie team create --name "Red Squadron" --leader Ada
  sortie team create --name Apollo --leader Gene --mission "Lunar landing" --deadline 48h`,
	Args: cobra.NoArgs,
	RunE: runTeamCreate,
}

var teamJoinCmd = &cobra.Command{
	Use:   "join CODE",
	Short: "Join a team with an invite code",
	Args:  cobra.ExactArgs(1),
	RunE:  runTeamJoin,
}

var teamShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the team, its mission and who is online",
	Args:  cobra.NoArgs,
	RunE:  runTeamShow,
}

var teamSettingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Change team permissions (leader only)",
	Long: `Change team permissions. Leader only.

  --allow-task-creation   let every member create tasks, not just the leader`,
	Args: cobra.NoArgs,
	RunE: runTeamSettings,
}

func init() {
	teamCreateCmd.Flags().StringVar(&teamName, "name", "", "Team name (required)")
	teamCreateCmd.Flags().StringVar(&teamLeader, "leader", "", "Your display name (required)")
	teamCreateCmd.Flags().StringVar(&teamAvatar, "avatar", "", "Your avatar (emoji or URL)")
	teamCreateCmd.Flags().StringVar(&teamMission, "mission", "", "Name of the first mission")
	teamCreateCmd.Flags().StringVar(&teamGoal, "goal", "", "Goal of the first mission")
	teamCreateCmd.Flags().StringVar(&teamDeadline, "deadline", "", "Mission deadline (duration from now or RFC3339)")
	_ = teamCreateCmd.MarkFlagRequired("name")
	_ = teamCreateCmd.MarkFlagRequired("leader")

	teamJoinCmd.Flags().StringVar(&joinName, "name", "", "Your display name (required)")
	teamJoinCmd.Flags().StringVar(&joinAvatar, "avatar", "", "Your avatar (emoji or URL)")
	_ = teamJoinCmd.MarkFlagRequired("name")

	teamSettingsCmd.Flags().BoolVar(&settingsAllowCreate, "allow-task-creation", false, "Let every member create tasks")

	teamCmd.AddCommand(teamCreateCmd, teamJoinCmd, teamShowCmd, teamSettingsCmd)
	rootCmd.AddCommand(teamCmd)
}

func runTeamCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	now := time.Now()
	team := &blackboard.Team{
		ID:          uuid.New().String(),
		Name:        teamName,
		InviteCode:  blackboard.NewInviteCode(),
		MissionName: teamMission,
		MissionGoal: teamGoal,
		CreatedAtMs: now.UnixMilli(),
	}
	if teamDeadline != "" {
		deadline, err := timespec.ParseDeadline(teamDeadline, now)
		if err != nil {
			return printer.Error("invalid deadline", err.Error(), []string{"Use a duration like '48h' or RFC3339 like '2026-11-01T18:00:00Z'"})
		}
		ms := deadline.UnixMilli()
		team.DeadlineMs = &ms
	}
	leader := &blackboard.Member{
		ID:       uuid.New().String(),
		Name:     teamLeader,
		Avatar:   teamAvatar,
		Badges:   []string{},
		JoinedMs: now.UnixMilli(),
	}

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.CreateTeam(ctx, team, leader); err != nil {
		return printer.Error("failed to create team", err.Error(), nil)
	}
	if err := saveMembership(team.ID, leader.ID); err != nil {
		return err
	}

	printer.Success("Created team %s\n", team.Name)
	printer.Info("  Invite code: %s\n", team.InviteCode)
	printer.Info("  Leader:      %s\n", leader.Name)
	printer.Info("\nShare the code:\n")
	printer.Step("sortie team join %s --name <their-name>\n", team.InviteCode)
	return nil
}

func runTeamJoin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	code := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	team, err := client.FindTeamByInvite(ctx, code)
	if err != nil {
		if blackboard.IsNotFound(err) {
			return printer.Error(
				fmt.Sprintf("invite code '%s' not found", code),
				fmt.Sprintf("No team in namespace '%s' uses that code.", cfg.Namespace),
				[]string{"Check the code with your team leader", "Check the namespace in " + configPath},
			)
		}
		return fmt.Errorf("failed to look up invite code: %w", err)
	}

	member := &blackboard.Member{
		ID:       uuid.New().String(),
		TeamID:   team.ID,
		Name:     joinName,
		Avatar:   joinAvatar,
		Role:     blackboard.RoleMember,
		Badges:   []string{},
		JoinedMs: time.Now().UnixMilli(),
	}
	if err := client.AddMember(ctx, member); err != nil {
		return printer.Error("failed to join team", err.Error(), nil)
	}
	if err := saveMembership(team.ID, member.ID); err != nil {
		return err
	}

	printer.Success("Joined %s as %s\n", team.Name, member.Name)
	return nil
}

func runTeamShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	team := ws.view.Store.Team()
	printer.Heading("%s", team.Name)
	printer.Info("Invite code: %s\n", team.InviteCode)
	if team.MissionGoal != "" {
		printer.Info("Goal:        %s\n", team.MissionGoal)
	}
	if team.Settings.AllowTaskCreation {
		printer.Info("Task creation: every member\n")
	} else {
		printer.Info("Task creation: leader only\n")
	}
	printer.Info("%s\n\n", ws.view.Mission.StatusLine())

	tracker := presence.NewTracker()
	if online, err := ws.client.PresenceSnapshot(ctx, team.ID, ws.cfg.Presence.TTL); err == nil {
		tracker.Sync(online)
	} else {
		printer.Warning("Presence unavailable: %v\n", err)
	}
	printer.Roster(tracker.Decorate(ws.view.Store.Members()))
	return nil
}

func runTeamSettings(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if !cmd.Flags().Changed("allow-task-creation") {
		return printer.Error("nothing to change", "No setting flag was given.", []string{"sortie team settings --allow-task-creation=true"})
	}

	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	team := ws.view.Store.Team()
	if !board.IsLeader(team, ws.view.MemberID) {
		return printer.Error("cannot change settings", "Only the team leader can change team settings.", nil)
	}

	settings := team.Settings
	settings.AllowTaskCreation = settingsAllowCreate
	if _, err := ws.client.UpdateTeamSettings(ctx, team.ID, settings); err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	if err := ws.client.AppendAudit(ctx, &blackboard.AuditEntry{
		ID:      uuid.New().String(),
		TeamID:  team.ID,
		ActorID: ws.view.MemberID,
		Action:  "team.settings",
		Detail:  fmt.Sprintf("allow_task_creation=%t", settingsAllowCreate),
		AtMs:    time.Now().UnixMilli(),
	}); err != nil {
		printer.Warning("Settings saved but the audit entry failed: %v\n", err)
	}

	if settingsAllowCreate {
		printer.Success("Every member can now create tasks\n")
	} else {
		printer.Success("Only the leader can create tasks now\n")
	}
	return nil
}

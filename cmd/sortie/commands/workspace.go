package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dyluth/sortie/internal/config"
	"github.com/dyluth/sortie/internal/printer"
	"github.com/dyluth/sortie/internal/resolver"
	"github.com/dyluth/sortie/internal/session"
	"github.com/dyluth/sortie/pkg/blackboard"
)

// loadConfig reads .env, sortie.yml and the environment overlay, in that order.
func loadConfig() (*config.SortieConfig, error) {
	config.LoadDotEnv(envFile)

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Fix %s, or recreate it:\n  sortie init --force", configPath)},
		)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, printer.Error(
			"invalid environment override",
			err.Error(),
			[]string{"Check the SORTIE_* variables in your shell and in " + envFile},
		)
	}
	return cfg, nil
}

// connect opens a blackboard client and verifies Redis is reachable.
func connect(ctx context.Context, cfg *config.SortieConfig) (*blackboard.Client, error) {
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return nil, printer.Error("invalid redis_url", err.Error(), []string{"Use a URL like redis://localhost:6379/0"})
	}

	client, err := blackboard.NewClient(redisOpts, cfg.Namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to create blackboard client: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", cfg.RedisURL),
			map[string]string{"namespace": cfg.Namespace},
			[]string{
				"Start a local Redis:\n  docker run -d -p 6379:6379 redis:7-alpine",
				fmt.Sprintf("Point sortie at another server:\n  export %s=redis://host:6379/0", config.EnvRedisURL),
			},
		)
	}
	return client, nil
}

// workspace is what a one-shot command needs: configuration, a connected client and a
// fresh view of the current team.
type workspace struct {
	cfg    *config.SortieConfig
	client *blackboard.Client
	view   *session.View
}

func openWorkspace(ctx context.Context) (*workspace, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Team == "" || cfg.Member == "" {
		return nil, printer.Error(
			"no team selected",
			"This workspace has not created or joined a team yet.",
			[]string{
				"Create a team:\n  sortie team create --name <team> --leader <your-name>",
				"Join one with an invite code:\n  sortie team join <CODE> --name <your-name>",
			},
		)
	}

	client, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	view, err := session.Load(ctx, client, session.Options{TeamID: cfg.Team, MemberID: cfg.Member, Config: cfg})
	if err != nil {
		client.Close()
		switch {
		case errors.Is(err, session.ErrNotMember):
			return nil, printer.Error(
				"not a member of this team",
				fmt.Sprintf("Member %s is not on team %s.", cfg.Member, cfg.Team),
				[]string{"Join the team again:\n  sortie team join <CODE> --name <your-name>"},
			)
		case blackboard.IsNotFound(err):
			return nil, printer.ErrorWithContext(
				"team not found",
				"The team recorded in the configuration does not exist in this namespace.",
				map[string]string{"team": cfg.Team, "namespace": cfg.Namespace},
				[]string{fmt.Sprintf("Check the namespace in %s", configPath)},
			)
		}
		return nil, fmt.Errorf("failed to load team: %w", err)
	}

	return &workspace{cfg: cfg, client: client, view: view}, nil
}

func (w *workspace) Close() error {
	return w.client.Close()
}

// names maps member IDs to display names.
func (w *workspace) names() map[string]string {
	names := make(map[string]string)
	for _, m := range w.view.Store.Members() {
		names[m.ID] = m.Name
	}
	return names
}

func (w *workspace) resolveTask(ctx context.Context, ref string) (string, error) {
	taskID, err := resolver.ResolveTaskID(ctx, w.client, w.view.TeamID, ref)
	if err == nil {
		return taskID, nil
	}
	if resolver.IsNotFoundError(err) {
		return "", printer.Error(
			fmt.Sprintf("task '%s' not found", ref),
			"No task on the board has that ID or prefix.",
			[]string{"List the board:\n  sortie task list"},
		)
	}
	var ambig *resolver.AmbiguousError
	if errors.As(err, &ambig) {
		fmt.Fprintln(os.Stderr, resolver.FormatAmbiguousError(ambig))
		return "", fmt.Errorf("ambiguous short ID")
	}
	return "", printer.Error("invalid task ID", err.Error(), nil)
}

// resolveMember returns "" for "none" so assignments can be cleared.
func (w *workspace) resolveMember(ref string) (string, error) {
	if strings.EqualFold(ref, "none") || ref == "" {
		return "", nil
	}
	m, err := resolver.ResolveMember(w.view.Store.Members(), ref)
	if err != nil {
		return "", printer.Error(
			fmt.Sprintf("member '%s' not found", ref),
			err.Error(),
			[]string{"Show the roster:\n  sortie team show"},
		)
	}
	return m.ID, nil
}

// saveMembership records the team and member in the configuration file. The file is
// re-read so environment overrides are not persisted.
func saveMembership(teamID, memberID string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("failed to reload %s: %w", configPath, err)
	}
	cfg.Team = teamID
	cfg.Member = memberID
	return cfg.Save(configPath)
}

// permissionError turns guard failures into a printer error with the given advice.
func permissionError(err error, action string) error {
	return printer.Error(
		fmt.Sprintf("cannot %s", action),
		err.Error(),
		[]string{"Ask the team leader, or the task's assignee or reviewer"},
	)
}

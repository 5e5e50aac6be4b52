package commands

import (
	"fmt"
	"os"

	"github.com/dyluth/sortie/internal/config"
	"github.com/dyluth/sortie/internal/printer"
	"github.com/spf13/cobra"
)

var (
	forceInit     bool
	initRedisURL  string
	initNamespace string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sortie workspace",
	Long: `Initialize a sortie workspace with a default configuration.

Creates sortie.yml pointing at a Redis server and a namespace. Team and
member are filled in later by 'sortie team create' or 'sortie team join'.

Use --force to overwrite an existing configuration (WARNING: forgets the
current team membership).`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing configuration")
	initCmd.Flags().StringVar(&initRedisURL, "redis-url", "", "Redis URL (default redis://localhost:6379/0)")
	initCmd.Flags().StringVar(&initNamespace, "namespace", "", "Deployment namespace (default \"default\")")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !forceInit {
		return printer.Error(
			fmt.Sprintf("%s already exists", configPath),
			"This directory already holds a sortie workspace.",
			[]string{
				"Keep using it:\n  sortie team show",
				"Start over:\n  sortie init --force",
			},
		)
	}

	cfg := config.Default()
	if initRedisURL != "" {
		cfg.RedisURL = initRedisURL
	}
	if initNamespace != "" {
		cfg.Namespace = initNamespace
	}
	if err := cfg.Validate(); err != nil {
		return printer.Error("invalid configuration", err.Error(), nil)
	}

	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	printer.Success("Created %s\n", configPath)
	printer.Info("\nNext steps:\n")
	printer.Step("sortie team create --name <team> --leader <your-name>\n")
	printer.Step("sortie team join <CODE> --name <your-name>\n")
	return nil
}

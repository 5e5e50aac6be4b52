package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/sortie/internal/api"
	"github.com/dyluth/sortie/internal/printer"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API for this namespace",
	Long: `Serve the HTTP API for every team in this namespace.

Callers identify themselves with the X-Member-ID header. The API applies
the same board and mission rules as the CLI, re-checked against the
current rows on every request.

The address defaults to api.addr in sortie.yml (":8080").`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides api.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.API.Addr = serveAddr
	}

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	printer.Info("Serving namespace %s on %s\n", cfg.Namespace, cfg.API.Addr)
	return api.NewServer(client, cfg, api.Options{}).ListenAndServe(ctx)
}

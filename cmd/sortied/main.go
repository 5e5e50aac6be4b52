package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/sortie/internal/api"
	"github.com/dyluth/sortie/internal/config"
	"github.com/dyluth/sortie/pkg/blackboard"
)

func main() {
	// 1. Load configuration: optional file, then .env and the process environment
	config.LoadDotEnv(".env")

	path := os.Getenv(config.EnvConfig)
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load %s: %v\n", path, err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid environment configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Create blackboard client
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	bbClient, err := blackboard.NewClient(redisOpts, cfg.Namespace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create blackboard client: %v\n", err)
		os.Exit(1)
	}
	defer bbClient.Close()

	// 3. Verify Redis connectivity
	if err := bbClient.Ping(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible at %s: %v\n", cfg.RedisURL, err)
		os.Exit(1)
	}

	fmt.Printf("sortied starting for namespace '%s' on %s\n", cfg.Namespace, cfg.API.Addr)

	// 4. Serve until SIGINT or SIGTERM, then shut down gracefully
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := api.NewServer(bbClient, cfg, api.Options{}).ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "sortied error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("sortied stopped")
}

// README: drivebid entry point: API server, intake worker, migrations and dead-letter tooling.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var configPath string
	rootCmd := &cobra.Command{
		Use:           "drivebid",
		Short:         "Vehicle rental bid intake and booking lifecycle",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to an optional YAML config file")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		workerCmd(&configPath),
		migrateCmd(&configPath),
		dlqCmd(&configPath),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

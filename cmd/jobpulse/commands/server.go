package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/server"
)

// ServerCmd runs the queue, scheduler and REST API
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Run the import queue, scheduler and REST API",
	Long: `Start the jobpulse server: the worker pool drains the import queue, the
scheduler submits a run every import.interval_seconds, and the REST API under
/api/import serves the dashboard.

The config file in use is watched; interval and source changes apply
without a restart.`,
	RunE: runServer,
}

var (
	serverDBPath  string
	serverPort    int
	serverNoWatch bool
)

func init() {
	ServerCmd.Flags().StringVar(&serverDBPath, "db-path", "", "Database path (overrides database.path)")
	ServerCmd.Flags().IntVar(&serverPort, "port", 0, "Listen port (overrides server.port)")
	ServerCmd.Flags().BoolVar(&serverNoWatch, "no-watch", false, "Do not hot-reload the config file")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serverPort > 0 {
		cfg.Server.Port = &serverPort
	}

	database, dbPath, err := openDatabase(cfg, serverDBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	configPath := ""
	if !serverNoWatch {
		configPath = am.ConfigPath()
	}
	printStartupBanner(cfg, dbPath, configPath)

	srv, err := server.New(cfg, database, logger.ComponentLogger("server"))
	if err != nil {
		return errors.Wrap(err, "failed to create server")
	}
	if configPath != "" {
		if err := srv.WatchConfig(configPath); err != nil {
			pterm.Warning.Printfln("Config hot reload disabled: %v", err)
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			return errors.Wrap(err, "server stopped")
		}
		return nil
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- srv.Stop(ctx)
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return errors.Wrap(err, "shutdown error")
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}

func shutdownTimeout(cfg *am.Config) time.Duration {
	if cfg.Server.ShutdownTimeoutSeconds > 0 {
		return time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

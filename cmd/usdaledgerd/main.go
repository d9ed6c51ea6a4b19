package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"usdaledger/api"
	"usdaledger/ledger"
)

// version is set by the release pipeline via -ldflags; left as a literal
// default for local builds, matching cmd/synnergy's plain root command.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{Use: "usdaledgerd"}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the daemon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

// migrateCmd is a stub: the in-memory store has no schema to migrate, and
// a real relational store is an out-of-scope external collaborator. It
// exists so operators scripting against this CLI tree have a stable
// no-op to call until a durable store lands.
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply store schema migrations (no-op for the in-memory store)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("no schema migrations required: the in-memory store has no schema")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the ledger HTTP/WebSocket daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional .env file to load before reading the environment")
	return cmd
}

func runServe(envFile string) error {
	log := logrus.New()

	cfg, err := ledger.LoadConfig(envFile, log)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store := ledger.NewMemStore(log)
	bus := ledger.NewEventBus(log)
	batcher := ledger.NewBatcher(store, bus, log, cfg.BatchMax, cfg.BatchPeriod)
	janitor := ledger.NewJanitor(store, bus, log, cfg.SubmitDeadline)
	engine := ledger.NewEngine(store, batcher, bus, log, cfg.IssuerPublicKey, cfg.SubmitDeadline)

	go batcher.RunSealTicker()
	go janitor.Run()

	server := api.NewServer(cfg.HTTPAddr, engine, log)
	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- server.ListenAndServe() }()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		if err != nil {
			log.WithError(err).Error("api server exited")
		}
	case sig := <-stopCh:
		log.WithField("signal", sig).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("api server shutdown")
	}

	batcher.Stop()
	janitor.Stop()
	return nil
}

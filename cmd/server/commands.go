package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/tillsync/server/internal/config"
	"github.com/tillsync/server/internal/handlers"
	"github.com/tillsync/server/internal/observability"
	"github.com/tillsync/server/internal/repository"
	"github.com/tillsync/server/internal/server"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tillsync",
	Short: "tillsync - synchronization server for point-of-sale terminals",
	Long: `tillsync keeps catalog and operational data in step across the
terminals of a store. Run "tillsync serve" to start the HTTP API.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func loadConfig(_ *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		telemetry, err := observability.Initialize(ctx, observability.NewConfig("tillsync-server", handlers.Version))
		if err != nil {
			observability.Warnf("Telemetry initialization failed: %v", err)
		}

		app, err := server.Build(ctx, cfg)
		if err != nil {
			return fmt.Errorf("initialize server: %w", err)
		}
		defer app.Close()

		srv := &http.Server{
			Addr:         cfg.ServerAddress,
			Handler:      app.Handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			observability.WithFields(map[string]interface{}{
				"address": cfg.ServerAddress,
				"version": handlers.Version,
			}).Info("tillsync server starting")

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		// Graceful shutdown
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case err := <-errCh:
			return fmt.Errorf("server error: %w", err)
		}

		observability.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		if telemetry != nil {
			if err := telemetry.Shutdown(shutdownCtx); err != nil {
				observability.Warnf("Telemetry shutdown failed: %v", err)
			}
		}

		observability.Info("Server stopped")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|version]",
	Short:     "Manage the database schema",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "version"},
	RunE: func(cmd *cobra.Command, args []string) error {
		action := "up"
		if len(args) == 1 {
			action = args[0]
		}

		db, dialect, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		m, err := repository.NewMigrator(db, dialect)
		if err != nil {
			return err
		}

		switch action {
		case "down":
			err = m.Down()
		case "up":
			err = m.Up()
		}
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate %s: %w", action, err)
		}

		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Fprintln(cmd.OutOrStdout(), "schema version: none")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d (dirty: %t)\n", version, dirty)
		return nil
	},
}

var includeTerminal bool

var resetCmd = &cobra.Command{
	Use:   "reset <terminalId|ALL>",
	Short: "Delete a terminal's operational data",
	Long: `Deletes transactions, inventory ledger rows, Z-reports, cash movements,
receptions, queued items and logged errors for one terminal, or for every
terminal when ALL is given. Stock balances are reverted to match.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := server.Build(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		resp, err := app.Services.Reset.Reset(cmd.Context(), args[0], includeTerminal)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

var terminalsCmd = &cobra.Command{
	Use:   "terminals",
	Short: "List registered terminals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := server.Build(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		terminals, err := app.Services.Sessions.ListTerminals(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TERMINAL\tSTATUS\tLAST SEEN\tIP")
		for _, t := range terminals {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.TerminalID, t.Status, t.LastSeen, t.IPAddress)
		}
		return w.Flush()
	},
}

var hashPinCmd = &cobra.Command{
	Use:   "hash-pin <pin>",
	Short: "Print the bcrypt hash to use as MANAGER_PIN_HASH",
	Args:  cobra.ExactArgs(1),
	// no configuration needed
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(hash))
		return nil
	},
}

func openDB() (*sql.DB, repository.Dialect, error) {
	if cfg.UsePostgres() {
		db, err := repository.NewPostgresDB(cfg.DatabaseURL)
		return db, repository.DialectPostgres, err
	}
	db, err := repository.NewSQLiteDB(cfg.DatabasePath)
	return db, repository.DialectSQLite, err
}

func init() {
	resetCmd.Flags().BoolVar(&includeTerminal, "include-terminal", false, "also remove the terminal and revoke its tokens")

	rootCmd.AddCommand(serveCmd, migrateCmd, resetCmd, terminalsCmd, hashPinCmd)
}

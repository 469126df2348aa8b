package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"todo-task/backend/internal/app"
	"todo-task/backend/internal/config"
	"todo-task/backend/internal/database"
	"todo-task/backend/internal/store"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "todo",
		Short:        "Realtime task manager server",
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCmd(), newMigrateCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web app and the task API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return serve(cfg, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides HOST and PORT")
	return cmd
}

func serve(cfg *config.Config, addr string) error {
	logger := log.Default()

	a, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start app: %w", err)
	}
	a.Start()

	srv := a.Server()
	if addr != "" {
		srv.Addr = addr
	}

	go func() {
		logger.Printf("[app] listening on %s (store=%s, database=%s)", srv.Addr, cfg.Store.Driver, cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("[app] server error: %v", err)
			a.Close()
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				logger.Println("[app] shutting down server...")
				return srv.Shutdown(ctx)
			},
			"app": func(ctx context.Context) error {
				return a.Close()
			},
		},
	)

	code := <-wait
	logger.Printf("[app] exited with code %d", code)
	os.Exit(code)
	return nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := migrate(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

// migrate applies the auth tables, plus the record table when tasks live in the database.
func migrate(cfg *config.Config) error {
	pool, err := database.NewDatabasePool(app.PoolConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.Migrate(pool.DB); err != nil {
		return err
	}
	if cfg.Store.Driver == "sql" {
		s, err := store.NewSQLStore(pool.DB, nil)
		if err != nil {
			return err
		}
		return s.Close()
	}
	return nil
}

// vibespace is the VibeSpace social network server.
//
// It reads configuration from config.json (or --config), connects to
// PostgreSQL, applies pending schema migrations and serves the JSON API
// together with the live notification WebSocket.
//
// Usage:
//
//	vibespace serve                      # migrate, then start the server
//	vibespace migrate up                 # apply pending migrations only
//	vibespace migrate status             # show schema version
//	vibespace migrate to 6               # move the schema to a version
//	vibespace user role alice admin      # bootstrap staff accounts
//	vibespace version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/primal-host/vibespace/internal/config"
	"github.com/primal-host/vibespace/internal/database"
	"github.com/primal-host/vibespace/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "vibespace",
		Short:         "VibeSpace social network server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.json", "path to the JSON config file")
	root.AddCommand(serveCmd(), migrateCmd(), userCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vibespace:", err)
		os.Exit(1)
	}
}

// app is what every subcommand needs: configuration, a logger and an
// open database.
type app struct {
	cfg *config.Config
	log *zap.Logger
	db  *database.DB
}

// setup loads the configuration and connects to PostgreSQL. The caller
// closes the returned app.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log.Info("config loaded",
		zap.String("listen", cfg.ListenAddr),
		zap.String("db", cfg.DBConn+"/"+cfg.DBName),
		zap.String("media", cfg.Media.Driver))

	db, err := database.Open(ctx, cfg.ConnString(), log.Named("database"))
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	return &app{cfg: cfg, log: log, db: db}, nil
}

func (a *app) Close() {
	a.db.Close()
	_ = a.log.Sync()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

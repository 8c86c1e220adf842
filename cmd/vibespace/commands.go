package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/primal-host/vibespace/internal/account"
	"github.com/primal-host/vibespace/internal/auth"
	"github.com/primal-host/vibespace/internal/config"
	"github.com/primal-host/vibespace/internal/database"
	"github.com/primal-host/vibespace/internal/media"
	"github.com/primal-host/vibespace/internal/moderation"
	"github.com/primal-host/vibespace/internal/notify"
	"github.com/primal-host/vibespace/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Apply pending migrations and start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.db.MigrateUp(); err != nil {
				return err
			}
			status, err := a.db.MigrateStatus()
			if err != nil {
				return err
			}
			a.log.Info("schema ready", zap.Uint("version", status.Current))

			mediaStore, err := newMediaStore(ctx, a.cfg.Media)
			if err != nil {
				return err
			}

			hub := notify.NewHub(a.log.Named("hub"))
			jwtMgr := auth.NewJWTManager(a.cfg.JWTSecret, a.cfg.Issuer)
			srv := server.New(a.cfg, a.db, mediaStore, hub, jwtMgr, a.log.Named("server"))

			a.log.Info("vibespace starting", zap.String("version", server.Version))
			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("server: %w", err)
			}
			a.log.Info("vibespace stopped")
			return nil
		},
	}
}

// newMediaStore builds the configured media backend.
func newMediaStore(ctx context.Context, cfg config.MediaConfig) (media.Store, error) {
	switch cfg.Driver {
	case config.MediaDriverMemory:
		return media.NewMemoryStore(), nil
	default:
		return media.NewS3Store(ctx, cfg)
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.db.MigrateUp(); err != nil {
				return err
			}
			return printStatus(cmd, a.db)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "to <version>",
		Short: "Migrate up or down to a specific schema version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.db.MigrateTo(uint(version)); err != nil {
				return err
			}
			return printStatus(cmd, a.db)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current and latest schema versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return printStatus(cmd, a.db)
		},
	})
	return cmd
}

func printStatus(cmd *cobra.Command, db *database.DB) error {
	status, err := db.MigrateStatus()
	if err != nil {
		return err
	}
	state := "up to date"
	switch {
	case status.Dirty:
		state = "dirty"
	case !status.UpToDate():
		state = fmt.Sprintf("%d pending", status.Latest-status.Current)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d of %d (%s)\n", status.Current, status.Latest, state)
	return nil
}

// userCmd holds operator commands that act on accounts directly, for
// tasks the HTTP API cannot do before any staff account exists.
func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Operator account commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "role <username> <user|moderator|admin>",
		Short: "Set an account's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := account.NewStore(a.db).GetByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			u, err = moderation.NewStore(a.db).SetRole(ctx, moderation.Actor{Admin: true}, u.ID, args[1],
				"set from the command line")
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(u.Profile())
		},
	})
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "vibespace", server.Version)
		},
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/bootstrap"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data/cryptoutil"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/migrate"
)

func newMigrateCmd(app *adminApp) *cobra.Command {
	var (
		timeout time.Duration
		status  bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !bootstrap.NeedsPostgres(app.cfg) {
				return errors.New("no postgres backend is configured")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{
				DBConfig: app.cfg.Postgres,
				Logger:   app.logger,
			})
			if err != nil {
				return fmt.Errorf("connect db: %w", err)
			}
			defer db.Close()

			if !status {
				if err := bootstrap.RunMigrations(ctx, db, app.logger); err != nil {
					return err
				}
			}
			applied, err := migrate.Status(ctx, db)
			if err != nil {
				return err
			}
			return printMigrations(cmd.OutOrStdout(), applied)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Overall migration timeout")
	cmd.Flags().BoolVar(&status, "status", false, "Only print migration status")
	return cmd
}

func printMigrations(w io.Writer, list []migrate.Migration) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tAPPLIED")
	for _, m := range list {
		applied := "pending"
		if m.AppliedAt != nil {
			applied = m.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\n", m.Version, applied)
	}
	return tw.Flush()
}

func newSealSecretCmd(app *adminApp) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "seal-secret <value|->",
		Short: "Seal a config value with TRITON_SECRET_KEY",
		Long: "Seal a secret for use in DB_PASSWORD, REDIS_PASSWORD, AGENT_API_KEY or the Slack webhook. " +
			"Pass - to read the value from stdin.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = app.cfg.SecretKey
			}
			if key == "" {
				return errors.New("no key: set TRITON_SECRET_KEY or pass --key")
			}
			box, err := cryptoutil.NewBoxFromString(key)
			if err != nil {
				return err
			}
			value := args[0]
			if value == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				value = strings.TrimRight(string(b), "\r\n")
			}
			if value == "" {
				return errors.New("value is empty")
			}
			sealed, err := box.Seal([]byte(value))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return err
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Secret key (defaults to TRITON_SECRET_KEY)")
	return cmd
}

package main

import (
	"github.com/spf13/cobra"
)

func newSnapshotCmd(app *adminApp) *cobra.Command {
	var (
		subject string
		version int
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print an analytics snapshot (latest unless --version is set)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.container(cmd.Context())
			if err != nil {
				return err
			}
			if version > 0 {
				snap, err := svc.Snapshots.Get(cmd.Context(), subject, version)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snap)
			}
			snap, err := svc.Snapshots.Latest(cmd.Context(), subject)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Subject id")
	cmd.Flags().IntVar(&version, "version", 0, "Snapshot version")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

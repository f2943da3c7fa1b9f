package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

type artifactFlags struct {
	subject string
	kind    string
	version int
}

func (f *artifactFlags) bind(cmd *cobra.Command, versionRequired bool) {
	cmd.Flags().StringVar(&f.subject, "subject", "", "Subject id")
	cmd.Flags().StringVar(&f.kind, "kind", string(model.ArtifactKindValueProposition),
		"Artifact kind (value_proposition, template_set)")
	cmd.Flags().IntVar(&f.version, "version", 0, "Artifact version")
	_ = cmd.MarkFlagRequired("subject")
	if versionRequired {
		_ = cmd.MarkFlagRequired("version")
	}
}

func (f *artifactFlags) ref() (model.ArtifactRef, error) {
	kind := model.ArtifactKind(f.kind)
	if !kind.Valid() {
		return model.ArtifactRef{}, fmt.Errorf("unknown artifact kind %q", f.kind)
	}
	if f.version < 0 {
		return model.ArtifactRef{}, fmt.Errorf("version must be positive, got %d", f.version)
	}
	return model.ArtifactRef{SubjectID: f.subject, Kind: kind, Version: f.version}, nil
}

func newArtifactsCmd(app *adminApp) *cobra.Command {
	var flags artifactFlags
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "List artifact versions, or show one with --version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := flags.ref()
			if err != nil {
				return err
			}
			svc, err := app.container(cmd.Context())
			if err != nil {
				return err
			}
			if ref.Version == 0 {
				versions, err := svc.Artifacts.ListVersions(cmd.Context(), ref.SubjectID, ref.Kind)
				if err != nil {
					return err
				}
				return printArtifactVersions(cmd.OutOrStdout(), versions)
			}
			a, err := svc.Artifacts.Get(cmd.Context(), ref)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a)
		},
	}
	flags.bind(cmd, false)
	return cmd
}

func newSubmitReviewCmd(app *adminApp) *cobra.Command {
	var flags artifactFlags
	cmd := &cobra.Command{
		Use:   "submit-review",
		Short: "Move a draft artifact version to in_review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := flags.ref()
			if err != nil {
				return err
			}
			svc, err := app.container(cmd.Context())
			if err != nil {
				return err
			}
			a, err := svc.Artifacts.SubmitForReview(cmd.Context(), ref)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a)
		},
	}
	flags.bind(cmd, true)
	return cmd
}

func newReviewCmd(app *adminApp) *cobra.Command {
	var (
		flags   artifactFlags
		section string
	)
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Mark one section of an in_review artifact as reviewed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := flags.ref()
			if err != nil {
				return err
			}
			svc, err := app.container(cmd.Context())
			if err != nil {
				return err
			}
			a, err := svc.Artifacts.MarkSectionReviewed(cmd.Context(), ref, section)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a)
		},
	}
	flags.bind(cmd, true)
	cmd.Flags().StringVar(&section, "section", "", "Section name")
	_ = cmd.MarkFlagRequired("section")
	return cmd
}

func newApproveCmd(app *adminApp) *cobra.Command {
	var flags artifactFlags
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve an in_review artifact whose sections are all reviewed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := flags.ref()
			if err != nil {
				return err
			}
			svc, err := app.container(cmd.Context())
			if err != nil {
				return err
			}
			a, err := svc.Artifacts.Approve(cmd.Context(), ref)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a)
		},
	}
	flags.bind(cmd, true)
	return cmd
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

func newSubmitCmd(app *adminApp) *cobra.Command {
	var (
		kind        string
		subject     string
		payload     string
		payloadFile string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job and print it",
		Long: "Submit a job for (kind, subject). Resubmitting identical parameters while the job " +
			"is pending or processing returns the same job.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readPayload(payload, payloadFile)
			if err != nil {
				return err
			}
			svc, err := app.container(cmd.Context())
			if err != nil {
				return err
			}
			job, err := svc.Jobs.Submit(cmd.Context(), &model.SubmitJobRequest{
				Kind:      model.JobKind(kind),
				SubjectID: subject,
				Payload:   raw,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Job kind (derive-artifact, refine-artifact, generate-templates, generate-analytics)")
	cmd.Flags().StringVar(&subject, "subject", "", "Subject (client or prospect) id")
	cmd.Flags().StringVar(&payload, "payload", "", "Inline JSON payload")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "Path to a JSON payload file")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("subject")
	cmd.MarkFlagsMutuallyExclusive("payload", "payload-file")
	return cmd
}

func readPayload(inline, path string) (json.RawMessage, error) {
	raw := []byte(inline)
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		raw = b
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func newStatusCmd(app *adminApp) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print a job's status, progress and error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.container(cmd.Context())
			if err != nil {
				return err
			}
			job, err := svc.Jobs.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

func newCancelCmd(app *adminApp) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.container(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.Jobs.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			job, err := svc.Jobs.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

func newJobsCmd(app *adminApp) *cobra.Command {
	var (
		subject string
		kind    string
		status  string
		limit   int
		offset  int
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List a subject's jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := model.JobListOptions{SubjectID: subject, Limit: limit, Offset: offset}
			if kind != "" {
				k := model.JobKind(kind)
				if !k.Valid() {
					return fmt.Errorf("unknown job kind %q", kind)
				}
				opts.Kind = &k
			}
			if status != "" {
				s := model.JobStatus(status)
				if !s.Valid() {
					return fmt.Errorf("unknown job status %q", status)
				}
				opts.Status = &s
			}
			svc, err := app.container(cmd.Context())
			if err != nil {
				return err
			}
			jobs, err := svc.Jobs.ListBySubject(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJobs(cmd.OutOrStdout(), jobs)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Subject id")
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by job kind")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

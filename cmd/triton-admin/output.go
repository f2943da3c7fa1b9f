package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJobs(w io.Writer, jobs []*model.Job) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tSTAGE\tPROGRESS\tCREATED\tERROR")
	for _, j := range jobs {
		errKind := ""
		if j.Error != nil {
			errKind = j.Error.Kind
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%s\t%s\n",
			j.ID, j.Kind, j.Status, j.Progress.Stage, j.Progress.Percent,
			j.CreatedAt.Format(time.RFC3339), errKind)
	}
	return tw.Flush()
}

func printArtifactVersions(w io.Writer, versions []*model.Artifact) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tROUND\tREVIEWED\tSOURCE JOB\tCREATED")
	for _, a := range versions {
		reviewed := 0
		for _, ok := range a.Sections {
			if ok {
				reviewed++
			}
		}
		source := "-"
		if a.SourceJobID != nil {
			source = *a.SourceJobID
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d/%d\t%s\t%s\n",
			a.Version, a.ApprovalState, a.FeedbackRound, reviewed, len(a.Sections),
			source, a.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

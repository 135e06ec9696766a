package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"archivist/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Advance every job one step and create jobs for new requests",
		Long: "Run performs one scheduled pass: it repairs interrupted moves, " +
			"finishes declined jobs, starts approved jobs, offers running files to " +
			"the archive sink, and turns newly tagged items into jobs awaiting review.\n\n" +
			"Exit status is 2 when another run holds the lock.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnvironment(cmd, func(env *environment) error {
				report, err := env.engine.Run(cmd.Context())
				if report.RunID != "" {
					printRunReport(cmd.OutOrStdout(), report)
				}
				return err
			})
		},
	}
}

func printRunReport(out io.Writer, report workflow.RunReport) {
	fmt.Fprintf(out, "Run %s\n", report.RunID)
	lines := []struct {
		label string
		ids   []string
	}{
		{"Reconciled", fixIDs(report)},
		{"Reopened", report.Reopened},
		{"Declined", report.Declined},
		{"Started", report.Started},
		{"Finished", report.Finished},
		{"Failed", report.Failed},
		{"Waiting", report.Waiting},
		{"Created", report.Created},
	}
	for _, line := range lines {
		if len(line.ids) == 0 {
			continue
		}
		fmt.Fprintf(out, "  %-11s %d (%s)\n", line.label+":", len(line.ids), strings.Join(line.ids, ", "))
	}
	if n := len(report.Committed); n > 0 {
		fmt.Fprintf(out, "  %-11s %d file(s)\n", "Committed:", n)
	}
	for _, skipped := range report.Skipped {
		fmt.Fprintf(out, "  Skipped item %d: %v\n", skipped.Request.ItemID, skipped.Err)
	}
	if report.Reminded > 0 {
		fmt.Fprintf(out, "  %-11s %d job(s) awaiting review\n", "Reminded:", report.Reminded)
	}
	for _, alert := range report.Alerts {
		fmt.Fprintf(out, "  ALERT %s\n", alert)
	}
}

func fixIDs(report workflow.RunReport) []string {
	ids := make([]string, 0, len(report.Reconcile.Fixes)+len(report.Reconcile.Corrupt))
	for _, fix := range report.Reconcile.Fixes {
		ids = append(ids, fix.ID)
	}
	for _, corrupt := range report.Reconcile.Corrupt {
		ids = append(ids, corrupt.ID)
	}
	return ids
}

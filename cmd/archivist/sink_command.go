package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"archivist/internal/register"
	"archivist/internal/sink"
)

type sinkStatus struct {
	Path     string `json:"path"`
	Sink     string `json:"sink"`
	Status   string `json:"status"`
	Target   string `json:"target,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Register string `json:"register,omitempty"`
	Job      string `json:"job,omitempty"`
}

func newSinkCommand(ctx *commandContext) *cobra.Command {
	sinkCmd := &cobra.Command{
		Use:   "sink",
		Short: "Inspect the archive destination",
	}
	sinkCmd.AddCommand(newSinkStatusCommand(ctx))
	return sinkCmd
}

func newSinkStatusCommand(ctx *commandContext) *cobra.Command {
	var jobID string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [path...]",
		Short: "Show how far the sink has taken each file",
		Long: "Queries the configured sink for each path without copying or linking anything. " +
			"With --job the files of that job are queried as well.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnvironment(cmd, func(env *environment) error {
				paths := append([]string(nil), args...)
				if id := strings.TrimSpace(jobID); id != "" {
					job, _, err := env.jobs.Read(id)
					if err != nil {
						return err
					}
					paths = append(paths, job.Paths()...)
				}
				if len(paths) == 0 {
					return errors.New("give at least one path or --job")
				}

				claims, err := env.register.LookupAll(cmd.Context(), paths)
				if err != nil {
					return err
				}

				var firstErr error
				statuses := make([]sinkStatus, 0, len(paths))
				for _, path := range paths {
					row := sinkStatus{Path: path, Sink: env.sink.Name()}
					res, err := env.sink.Status(cmd.Context(), path)
					if err != nil {
						row.Status = "Unknown"
						row.Detail = err.Error()
						if firstErr == nil {
							firstErr = fmt.Errorf("%s: %w", path, err)
						}
					} else {
						row.Status = string(res.Status)
						row.Target = res.Target
						row.Detail = res.Detail
					}
					if canonical, err := register.Canonical(path); err == nil {
						if entry, ok := claims[canonical]; ok {
							row.Register = string(entry.Status)
							row.Job = entry.JobID
						}
					}
					statuses = append(statuses, row)
				}

				if jsonOutput {
					if err := writeJSON(cmd, statuses); err != nil {
						return err
					}
					return firstErr
				}
				printer := newStatusPrinter(cmd.OutOrStdout())
				rows := make([][]string, 0, len(statuses))
				for _, s := range statuses {
					status := printer.paint(sinkStatusKind(sink.Status(s.Status)), s.Status)
					rows = append(rows, []string{s.Path, status, s.Register, s.Job, s.Detail})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"File", "Sink", "Register", "Job", "Detail"},
					rows,
					nil,
				))
				return firstErr
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Also query every file of this job")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON output")
	return cmd
}

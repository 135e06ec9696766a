package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"archivist/internal/jobs"
	"archivist/internal/register"
)

type jobSummary struct {
	ID      string         `json:"id"`
	State   jobs.State     `json:"state"`
	User    string         `json:"user"`
	Owner   string         `json:"owner"`
	Files   int            `json:"files"`
	Counts  map[string]int `json:"counts"`
	Size    string         `json:"size"`
	Created time.Time      `json:"created"`
	Overdue bool           `json:"overdue,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect archive jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var stateFlags []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs by state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			states, err := parseStates(stateFlags)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := jobs.Open(cfg.Paths.JobRoot)
			if err != nil {
				return err
			}
			summaries, err := collectSummaries(store, states, time.Now())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, summaries)
			}
			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			rows := make([][]string, 0, len(summaries))
			for _, s := range summaries {
				state := string(s.State)
				if s.Overdue {
					state += " (overdue)"
				}
				rows = append(rows, []string{
					s.ID, state, s.User, s.Owner,
					strconv.Itoa(s.Files), s.Size, s.Created.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "State", "User", "Owner", "Files", "Size", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&stateFlags, "state", "s", nil, "Only list jobs in these states")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func collectSummaries(store *jobs.Store, states []jobs.State, now time.Time) ([]jobSummary, error) {
	var out []jobSummary
	for _, state := range states {
		ids, err := store.List(state)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			job, err := store.ReadAt(state, id)
			var corrupt *jobs.CorruptRecordError
			if errors.As(err, &corrupt) {
				out = append(out, jobSummary{ID: id, State: state, Error: "unreadable record"})
				continue
			}
			if err != nil {
				return nil, err
			}
			counts := make(map[string]int)
			for status, n := range job.Counts() {
				counts[string(status)] = n
			}
			out = append(out, jobSummary{
				ID:      id,
				State:   state,
				User:    job.Info.UserName,
				Owner:   job.Info.OwnerName,
				Files:   len(job.Files),
				Counts:  counts,
				Size:    job.Info.TotalSize,
				Created: job.Info.Created,
				Overdue: state == jobs.StateNew && job.Overdue(now),
				Error:   job.Info.Error,
			})
		}
	}
	return out, nil
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := jobs.Open(cfg.Paths.JobRoot)
			if err != nil {
				return err
			}
			job, state, err := store.Read(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			info := job.Info
			fmt.Fprintf(out, "Job %s\n", job.ID)
			fmt.Fprintf(out, "  %-12s %s\n", "State:", state)
			if info.Status != state {
				fmt.Fprintf(out, "  %-12s %s (repaired by the next run)\n", "Status:", info.Status)
			}
			fmt.Fprintf(out, "  %-12s %s (%d)\n", "Requested by:", info.UserName, info.UserID)
			fmt.Fprintf(out, "  %-12s %s (%d)\n", "Owner:", info.OwnerName, info.OwnerID)
			fmt.Fprintf(out, "  %-12s %s\n", "Created:", info.Created.Local().Format(time.RFC3339))
			fmt.Fprintf(out, "  %-12s %s\n", "Expiry:", info.Expiry.Local().Format(time.RFC3339))
			fmt.Fprintf(out, "  %-12s %s\n", "Size:", info.TotalSize)
			if info.Complete != nil {
				fmt.Fprintf(out, "  %-12s %s\n", "Complete:", info.Complete.Local().Format(time.RFC3339))
			}
			if info.Error != "" {
				fmt.Fprintf(out, "  %-12s %s\n", "Error:", info.Error)
			}

			if len(job.Items) > 0 {
				rows := make([][]string, 0, len(job.Items))
				for _, item := range job.Items {
					rows = append(rows, []string{item.Key, yesNo(item.Included)})
				}
				fmt.Fprintln(out, renderTable([]string{"Item", "Included"}, rows, nil))
			}
			claims, err := jobClaims(cmd.Context(), cfg.Paths.RegisterDB, job.ID)
			if err != nil {
				return err
			}
			printer := newStatusPrinter(out)
			rows := make([][]string, 0, len(job.Files))
			for _, path := range job.Paths() {
				attempts := ""
				if n := job.Attempts[path]; n > 0 {
					attempts = strconv.Itoa(n)
				}
				claim := ""
				if canonical, err := register.Canonical(path); err == nil {
					if entry, ok := claims[canonical]; ok {
						claim = string(entry.Status)
						delete(claims, canonical)
					}
				}
				status := job.Files[path]
				rows = append(rows, []string{path, printer.paint(fileStatusKind(status), string(status)), claim, attempts, job.Reasons[path]})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"File", "Status", "Register", "Attempts", "Reason"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			// Entries left over belong to the job but name no file in its record.
			for _, path := range slices.Sorted(maps.Keys(claims)) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: register %s entry %s is not listed in the job\n", claims[path].Status, path)
			}
			return nil
		},
	}
}

// jobClaims maps the register entries owned by jobID by path.
func jobClaims(ctx context.Context, dbPath, jobID string) (map[string]register.Entry, error) {
	reg, err := register.Open(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open register: %w", err)
	}
	defer reg.Close()
	entries, err := reg.ForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	claims := make(map[string]register.Entry, len(entries))
	for _, entry := range entries {
		claims[entry.Path] = entry
	}
	return claims, nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

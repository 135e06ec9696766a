package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"archivist/internal/arklog"
	"archivist/internal/register"
)

func newRegisterCommand(ctx *commandContext) *cobra.Command {
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Inspect the archive register",
	}
	registerCmd.AddCommand(newRegisterStatusCommand(ctx))
	registerCmd.AddCommand(newRegisterReportCommand(ctx))
	return registerCmd
}

func newRegisterStatusCommand(ctx *commandContext) *cobra.Command {
	var showPending bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check register consistency and list pending claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnvironment(cmd, func(env *environment) error {
				out := cmd.OutOrStdout()
				health, err := env.register.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				printer := newStatusPrinter(out)
				printer.section("Register")
				printer.line("Database", statusInfo, health.Path)
				printer.line("Integrity", passFail(health.Integrity == "ok"), health.Integrity)
				printer.line("Overlap", passFail(health.Overlap == 0), fmt.Sprintf("%d path(s) in both tables", health.Overlap))
				printer.line("Pending", statusInfo, strconv.Itoa(health.Stats.Pending))
				printer.line("Archived", statusInfo, strconv.Itoa(health.Stats.Archived))

				if showPending && health.Stats.Pending > 0 {
					entries, err := env.register.Pending(cmd.Context())
					if err != nil {
						return err
					}
					rows := make([][]string, 0, len(entries))
					for _, entry := range entries {
						rows = append(rows, []string{entry.Path, entry.JobID, entry.ClaimedAt.Local().Format("2006-01-02 15:04")})
					}
					fmt.Fprintln(out, renderTable([]string{"Path", "Job", "Claimed"}, rows, nil))
				}
				if !health.OK() {
					return fmt.Errorf("register %s is inconsistent", health.Path)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showPending, "pending", false, "List pending claims")
	return cmd
}

// sizeTotals accumulates descriptor byte counts per register status.
type sizeTotals struct {
	files   int
	bytes   int64
	unknown int
}

func newRegisterReportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Summarise archived and pending volume",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnvironment(cmd, func(env *environment) error {
				pending, err := env.register.Pending(cmd.Context())
				if err != nil {
					return err
				}
				archived, err := env.register.Archived(cmd.Context())
				if err != nil {
					return err
				}
				writeVolumeReport(cmd.OutOrStdout(), env.arklog, map[register.Status][]register.Entry{
					register.StatusPending:  pending,
					register.StatusArchived: archived,
				})
				return nil
			})
		},
	}
}

func writeVolumeReport(out io.Writer, log *arklog.Log, entries map[register.Status][]register.Entry) {
	printer := message.NewPrinter(language.English)
	rows := make([][]string, 0, 2)
	for _, status := range []register.Status{register.StatusPending, register.StatusArchived} {
		totals := tally(log, entries[status])
		unknown := ""
		if totals.unknown > 0 {
			unknown = printer.Sprintf("%d", totals.unknown)
		}
		rows = append(rows, []string{
			string(status),
			printer.Sprintf("%d", totals.files),
			printer.Sprintf("%d", totals.bytes),
			humanize.IBytes(uint64(totals.bytes)),
			unknown,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Status", "Files", "Bytes", "Size", "No descriptor"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	))
}

// tally sums the source sizes recorded in the archive log. Entries without a
// readable descriptor are counted separately.
func tally(log *arklog.Log, entries []register.Entry) sizeTotals {
	var totals sizeTotals
	for _, entry := range entries {
		totals.files++
		rec, found, err := log.Read(entry.Path)
		if err != nil || !found || rec.Source == nil {
			totals.unknown++
			continue
		}
		totals.bytes += rec.Source.Bytes
	}
	return totals
}

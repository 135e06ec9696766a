package main

import (
	"errors"

	"github.com/spf13/cobra"

	"archivist/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, databases, free space and the archive sink",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			printer := newStatusPrinter(cmd.OutOrStdout())
			printer.section("Preflight")
			results := preflight.RunAll(cmd.Context(), cfg)
			for _, result := range results {
				printer.line(result.Name, passFail(result.Passed), result.Detail)
			}
			if !preflight.AllPassed(results) {
				return errors.New("preflight checks failed")
			}
			return nil
		},
	}
}

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"archivist/internal/jobs"
	"archivist/internal/workflow"
)

func newJobActionCommands(ctx *commandContext) []*cobra.Command {
	approve := &cobra.Command{
		Use:   "approve <job-id>...",
		Short: "Approve jobs awaiting review",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachJob(ctx, cmd, args, "Approved", func(env *environment, id string) error {
				_, err := env.engine.Approve(cmd.Context(), id)
				return err
			})
		},
	}
	decline := &cobra.Command{
		Use:   "decline <job-id>...",
		Short: "Decline jobs awaiting review",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachJob(ctx, cmd, args, "Declined", func(env *environment, id string) error {
				_, err := env.engine.Decline(cmd.Context(), id)
				return err
			})
		},
	}
	reset := &cobra.Command{
		Use:   "reset <job-id>...",
		Short: "Retry the failed files of jobs in Error",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachJob(ctx, cmd, args, "Reset", func(env *environment, id string) error {
				paths, err := env.engine.Reset(cmd.Context(), id)
				if err != nil {
					return err
				}
				for _, path := range paths {
					fmt.Fprintf(cmd.OutOrStdout(), "  re-queued %s\n", path)
				}
				return nil
			})
		},
	}
	return []*cobra.Command{approve, decline, reset}
}

// forEachJob applies fn to every id and keeps going after a failure. The
// first failure is returned once all ids were tried.
func forEachJob(ctx *commandContext, cmd *cobra.Command, args []string, verb string, fn func(*environment, string) error) error {
	return ctx.withEnvironment(cmd, func(env *environment) error {
		var firstErr error
		for _, arg := range args {
			id := strings.TrimSpace(arg)
			if err := fn(env, id); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, id)
		}
		return firstErr
	})
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	var user int64
	var items []string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Withdraw archive requests no job has picked up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(items)
			if err != nil {
				return err
			}
			return ctx.withEnvironment(cmd, func(env *environment) error {
				cleared, err := env.engine.ClearRequests(cmd.Context(), workflow.ClearFilter{LinkedBy: user, Items: ids})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d request(s)\n", len(cleared))
				for _, id := range cleared {
					fmt.Fprintf(cmd.OutOrStdout(), "  item %d\n", id)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&user, "user", 0, "Only clear requests made by this user id")
	cmd.Flags().StringSliceVar(&items, "item", nil, "Only clear these item ids")
	return cmd
}

func parsePositiveIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid item id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseStates(values []string) ([]jobs.State, error) {
	if len(values) == 0 {
		return jobs.AllStates(), nil
	}
	states := make([]jobs.State, 0, len(values))
	for _, value := range values {
		state, ok := jobs.ParseState(value)
		if !ok {
			return nil, fmt.Errorf("unknown job state %q", value)
		}
		states = append(states, state)
	}
	return states, nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360studio/fieldcheck/backend"
)

func checkOutCmd() *cobra.Command {
	var (
		flags       attendanceFlags
		visits      uint32
		tasks       uint32
		outcome     string
		description string
		nextAction  string
	)

	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Check out with a work summary",
		Long: `Checkout transitions the active attendance session to checked-out,
carrying a descriptive summary of the field day. The summary never blocks
submission; only a valid position fix is required.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := parseOutcome(outcome)
			if err != nil {
				return err
			}

			summary := &backend.WorkSummary{
				VisitCount:      visits,
				TasksCompleted:  tasks,
				Outcome:         parsed,
				WorkDescription: description,
				NextAction:      nextAction,
			}
			return runAttendance(cmd, backend.CheckOut, flags, summary)
		},
	}

	addAttendanceFlags(cmd, &flags)
	cmd.Flags().Uint32Var(&visits, "visits", 0, "Number of field visits completed")
	cmd.Flags().Uint32Var(&tasks, "tasks", 0, "Number of tasks completed")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Day outcome (productive, challenging, normal, exceptional, needs_improvement)")
	cmd.Flags().StringVar(&description, "notes", "", "Free-form work description")
	cmd.Flags().StringVar(&nextAction, "next", "", "Planned next action")

	return cmd
}

func parseOutcome(s string) (backend.Outcome, error) {
	switch backend.Outcome(s) {
	case backend.OutcomeUnset, backend.OutcomeProductive, backend.OutcomeChallenging,
		backend.OutcomeNormal, backend.OutcomeExceptional, backend.OutcomeNeedsImprovement:
		return backend.Outcome(s), nil
	default:
		return "", fmt.Errorf("unknown outcome %q", s)
	}
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/c360studio/fieldcheck/backend"
)

func checkInCmd() *cobra.Command {
	var flags attendanceFlags

	cmd := &cobra.Command{
		Use:   "checkin",
		Short: "Check in at the current position",
		Long: `Checkin submits a GPS-verified check-in event, optionally with a
verification photo. The photo is uploaded only after the backend confirms
the attendance record.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAttendance(cmd, backend.CheckIn, flags, nil)
		},
	}

	addAttendanceFlags(cmd, &flags)
	return cmd
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newOngoingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ongoing",
		Short: "Show counts of active and archived exchanges",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOngoing(cmd)
		},
	}
}

func runOngoing(cmd *cobra.Command) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	coord, err := a.coordinator(ctx, coordinatorDeps{messenger: offline{}, announcer: offline{}})
	if err != nil {
		return err
	}
	st, err := coord.Stats(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Active exchanges:   %d\n", st.ActiveSessions)
	fmt.Fprintf(out, "Participants:       %d\n", st.Participants)
	fmt.Fprintf(out, "Archived chats:     %d\n", st.ArchivedChats)
	fmt.Fprintf(out, "Archived exchanges: %d\n", st.ArchivedSessions)
	return nil
}

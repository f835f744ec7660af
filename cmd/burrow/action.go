package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/types"
)

var actionCmd = &cobra.Command{
	Use:   "action ID ACTION",
	Short: "Request a lifecycle action on a workload",
	Long: `Request a lifecycle action on a workload. ACTION is one of:
start, stop, pause, unpause, restart, delete.

The action is queued and runs in the background; follow it with
"burrow workload logs ID".`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := types.ActionKind(strings.ToLower(args[1]))
		if !kind.Valid() {
			return fmt.Errorf("unknown action %q", args[1])
		}
		delay, _ := cmd.Flags().GetDuration("delay")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		a, err := c.SubmitAction(args[0], string(kind), delay)
		if client.IsConflict(err) {
			return fmt.Errorf("cannot %s workload %s: %w", kind, args[0], err)
		}
		if err != nil {
			return fmt.Errorf("failed to submit action: %w", err)
		}

		fmt.Printf("✓ Action %s queued: %s\n", a.Action, a.ID)
		if delay > 0 {
			fmt.Printf("  Runs in: %s\n", delay)
		}
		return nil
	},
}

func init() {
	actionCmd.Flags().Duration("delay", 0, "Postpone execution (e.g. 30s)")
}

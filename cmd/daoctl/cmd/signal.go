package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	signalApprove bool
	signalReject  bool
	signalAction  string
)

var signalCmd = &cobra.Command{
	Use:   "signal <id>",
	Short: "Vote on a proposal",
	Long: `Record an approve or reject vote on a pending proposal. The vote that
reaches the threshold executes the proposal's action in the same step.`,
	Args: cobra.ExactArgs(1),
	RunE: runSignal,
}

func init() {
	rootCmd.AddCommand(signalCmd)
	signalCmd.Flags().BoolVar(&signalApprove, "approve", false, "vote to approve")
	signalCmd.Flags().BoolVar(&signalReject, "reject", false, "vote to reject")
	signalCmd.Flags().StringVar(&signalAction, "action", "", "action reference of the proposal (required)")
	signalCmd.MarkFlagsMutuallyExclusive("approve", "reject")
	signalCmd.MarkFlagsOneRequired("approve", "reject")
	signalCmd.MarkFlagRequired("action")
}

func runSignal(cmd *cobra.Command, args []string) error {
	if err := requireCaller(); err != nil {
		return err
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	res, err := c.Signal(cmd.Context(), id, signalApprove, signalAction)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(res)
	}
	vote := "reject"
	if signalApprove {
		vote = "approve"
	}
	fmt.Fprintf(out, "Recorded %s vote on proposal #%d (%d approvals, %d rejects)\n", vote, id, res.Approvals, res.Rejects)
	if res.Executed {
		fmt.Fprintf(out, "Proposal #%d executed\n", id)
	}
	return nil
}

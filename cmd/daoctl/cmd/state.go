package cmd

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show DAO construction state",
	RunE:  runState,
}

func init() {
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	state, err := c.State(cmd.Context())
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(state)
	}
	table := tablewriter.NewWriter(out)
	table.Header("Field", "Value")
	table.Append("Constructed", fmt.Sprintf("%v", state.Constructed))
	table.Append("Bootstrap", state.BootstrapRef)
	table.Append("Constructed By", string(state.ConstructedBy))
	table.Append("Constructed At", formatTime(state.ConstructedAt))
	table.Append("Proposals", fmt.Sprintf("%d", state.LastProposalID))
	return table.Render()
}

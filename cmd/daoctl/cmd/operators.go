package cmd

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/operator-dao/pkg/api"
	"github.com/psantana5/operator-dao/pkg/models"
)

var operatorsCmd = &cobra.Command{
	Use:     "operators",
	Aliases: []string{"ops"},
	Short:   "Inspect the operator set",
}

var operatorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List operators",
	RunE:  runOperatorsList,
}

var operatorsCheckCmd = &cobra.Command{
	Use:   "check <address>",
	Short: "Check whether an address is an operator",
	Args:  cobra.ExactArgs(1),
	RunE:  runOperatorsCheck,
}

var extensionsCmd = &cobra.Command{
	Use:   "extensions",
	Short: "List registered extensions",
	RunE:  runExtensions,
}

func init() {
	rootCmd.AddCommand(operatorsCmd, extensionsCmd)
	operatorsCmd.AddCommand(operatorsListCmd, operatorsCheckCmd)
}

func runOperatorsList(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ops, err := c.Operators(cmd.Context())
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(ops)
	}
	table := tablewriter.NewWriter(out)
	table.Header("Address", "Added By", "Added At")
	for _, op := range ops {
		source := "bootstrap"
		if op.ProposalID != 0 {
			source = fmt.Sprintf("proposal #%d", op.ProposalID)
		}
		table.Append(string(op.Address), source, formatTime(&op.AddedAt))
	}
	return table.Render()
}

func runOperatorsCheck(cmd *cobra.Command, args []string) error {
	addr, err := models.ParseAddress(args[0])
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	member, err := c.IsOperator(cmd.Context(), addr)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(api.OperatorCheckResponse{Address: addr, IsOperator: member})
	}
	fmt.Fprintln(out, member)
	return nil
}

func runExtensions(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	exts, err := c.Extensions(cmd.Context())
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(exts)
	}
	table := tablewriter.NewWriter(out)
	table.Header("Reference", "Registered At")
	for _, e := range exts {
		table.Append(e.Ref, formatTime(&e.RegisteredAt))
	}
	return table.Render()
}

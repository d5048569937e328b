package cmd

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/operator-dao/pkg/api"
	"github.com/psantana5/operator-dao/pkg/models"
)

var treasuryCmd = &cobra.Command{
	Use:   "treasury",
	Short: "Inspect and fund the treasury",
}

var treasuryBalanceCmd = &cobra.Command{
	Use:   "balance [address]",
	Short: "Show the treasury balance, or an account balance when an address is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTreasuryBalance,
}

var treasuryDepositCmd = &cobra.Command{
	Use:   "deposit <amount>",
	Short: "Fund the treasury from the caller",
	Args:  cobra.ExactArgs(1),
	RunE:  runTreasuryDeposit,
}

var treasuryTransfersCmd = &cobra.Command{
	Use:   "transfers",
	Short: "List executed treasury transfers",
	RunE:  runTreasuryTransfers,
}

func init() {
	rootCmd.AddCommand(treasuryCmd)
	treasuryCmd.AddCommand(treasuryBalanceCmd, treasuryDepositCmd, treasuryTransfersCmd)
}

func runTreasuryBalance(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		addr, err := models.ParseAddress(args[0])
		if err != nil {
			return err
		}
		bal, err := c.Balance(cmd.Context(), addr)
		if err != nil {
			return err
		}
		if IsJSONOutput() {
			return printJSON(api.BalanceResponse{Address: addr, Balance: bal})
		}
		fmt.Fprintf(out, "%s: %d\n", addr, bal)
		return nil
	}

	bal, err := c.TreasuryBalance(cmd.Context())
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(api.TreasuryResponse{Balance: bal})
	}
	fmt.Fprintf(out, "Treasury: %d\n", bal)
	return nil
}

func runTreasuryDeposit(cmd *cobra.Command, args []string) error {
	if err := requireCaller(); err != nil {
		return err
	}
	amount, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[0])
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	bal, err := c.Deposit(cmd.Context(), amount)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(api.TreasuryResponse{Balance: bal})
	}
	fmt.Fprintf(out, "Deposited %d, treasury now holds %d\n", amount, bal)
	return nil
}

func runTreasuryTransfers(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	receipts, err := c.Transfers(cmd.Context())
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(receipts)
	}
	if len(receipts) == 0 {
		fmt.Fprintln(out, "No transfers")
		return nil
	}
	table := tablewriter.NewWriter(out)
	table.Header("ID", "Proposal", "Action", "Recipient", "Amount", "At")
	for _, r := range receipts {
		table.Append(
			r.ID,
			fmt.Sprintf("#%d", r.ProposalID),
			r.ActionRef,
			string(r.Recipient),
			fmt.Sprintf("%d", r.Amount),
			formatTime(&r.CreatedAt),
		)
	}
	return table.Render()
}

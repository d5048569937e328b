package cmd

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/operator-dao/pkg/api"
)

var (
	proposalDescription string
	proposalAction      string
)

// proposalsCmd represents the proposals command
var proposalsCmd = &cobra.Command{
	Use:     "proposals",
	Aliases: []string{"proposal"},
	Short:   "Manage proposals",
}

var proposalsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a proposal",
	Long:  `Create a pending proposal referencing one action in the daemon's catalog.`,
	RunE:  runProposalsCreate,
}

var proposalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List proposals",
	RunE:  runProposalsList,
}

var proposalsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a proposal and its votes",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalsShow,
}

var proposalsApprovedCmd = &cobra.Command{
	Use:   "approved <id>",
	Short: "Report whether a proposal has executed",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalsApproved,
}

func init() {
	rootCmd.AddCommand(proposalsCmd)
	proposalsCmd.AddCommand(proposalsCreateCmd, proposalsListCmd, proposalsShowCmd, proposalsApprovedCmd)

	proposalsCreateCmd.Flags().StringVar(&proposalDescription, "description", "", "proposal description (required, at most 256 characters)")
	proposalsCreateCmd.Flags().StringVar(&proposalAction, "action", "", "action reference, e.g. dp001-add-operator (required)")
	proposalsCreateCmd.MarkFlagRequired("description")
	proposalsCreateCmd.MarkFlagRequired("action")
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid proposal id %q", s)
	}
	return id, nil
}

func runProposalsCreate(cmd *cobra.Command, args []string) error {
	if err := requireCaller(); err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	id, err := c.CreateProposal(cmd.Context(), proposalDescription, proposalAction)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(api.CreateProposalResponse{ID: id})
	}
	fmt.Fprintf(out, "Proposal #%d created (%s)\n", id, proposalAction)
	return nil
}

func runProposalsList(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	proposals, err := c.Proposals(cmd.Context())
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(proposals)
	}
	if len(proposals) == 0 {
		fmt.Fprintln(out, "No proposals")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("ID", "Action", "Status", "Approvals", "Rejects", "Proposer", "Description")
	for _, p := range proposals {
		table.Append(
			fmt.Sprintf("%d", p.ID),
			p.ActionRef,
			string(p.Status),
			fmt.Sprintf("%d", p.Approvals),
			fmt.Sprintf("%d", p.Rejects),
			string(p.Proposer),
			p.Description,
		)
	}
	return table.Render()
}

func runProposalsShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	p, err := c.Proposal(cmd.Context(), id)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(p)
	}
	printProposal(p)
	return nil
}

func printProposal(p *api.ProposalResponse) {
	table := tablewriter.NewWriter(out)
	table.Header("Field", "Value")
	table.Append("ID", fmt.Sprintf("%d", p.ID))
	table.Append("Description", p.Description)
	table.Append("Action", p.ActionRef)
	table.Append("Proposer", string(p.Proposer))
	table.Append("Status", string(p.Status))
	table.Append("Approvals", fmt.Sprintf("%d", p.Approvals))
	table.Append("Rejects", fmt.Sprintf("%d", p.Rejects))
	table.Append("Created At", formatTime(&p.CreatedAt))
	table.Append("Executed At", formatTime(p.ExecutedAt))
	table.Render()

	if len(p.Votes) == 0 {
		return
	}
	fmt.Fprintln(out)
	votes := tablewriter.NewWriter(out)
	votes.Header("Voter", "Vote", "Cast At")
	for _, v := range p.Votes {
		vote := "reject"
		if v.Approve {
			vote = "approve"
		}
		votes.Append(string(v.Voter), vote, formatTime(&v.CastAt))
	}
	votes.Render()
}

func runProposalsApproved(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	approved, err := c.IsProposalApproved(cmd.Context(), id)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(api.ApprovedResponse{ID: id, Approved: approved})
	}
	fmt.Fprintln(out, approved)
	return nil
}

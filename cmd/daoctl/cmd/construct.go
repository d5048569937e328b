package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/operator-dao/pkg/governance"
)

var constructCmd = &cobra.Command{
	Use:   "construct [bootstrap-ref]",
	Short: "Run the one-time DAO bootstrap",
	Long: `Executes the bootstrap action, seeding the operator set and the registered
extensions. Succeeds once per deployment; later calls fail already-constructed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConstruct,
}

func init() {
	rootCmd.AddCommand(constructCmd)
}

func runConstruct(cmd *cobra.Command, args []string) error {
	if err := requireCaller(); err != nil {
		return err
	}
	ref := governance.RefBootstrap
	if len(args) == 1 {
		ref = args[0]
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	ok, err := c.Construct(cmd.Context(), ref)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(map[string]interface{}{"constructed": ok, "bootstrap_ref": ref})
	}
	fmt.Fprintf(out, "DAO constructed with %s\n", ref)
	return nil
}

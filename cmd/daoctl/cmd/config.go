package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/psantana5/operator-dao/pkg/auth"
	"github.com/psantana5/operator-dao/pkg/config"
	"github.com/psantana5/operator-dao/pkg/models"
)

var (
	configInitPath  string
	configInitForce bool
	keyAddress      string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Daemon configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a daemon config template",
	Long: `Writes the reference daemon configuration (threshold 2, three bootstrap
operators, actions dp000..dp003) as YAML. Without --path the template is
printed to stdout.`,
	RunE: runConfigInit,
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Caller API key helpers",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an API key and its callers entry",
	RunE:  runKeysGenerate,
}

func init() {
	rootCmd.AddCommand(configCmd, keysCmd)
	configCmd.AddCommand(configInitCmd)
	keysCmd.AddCommand(keysGenerateCmd)

	configInitCmd.Flags().StringVar(&configInitPath, "path", "", "file to write (e.g. "+config.DefaultPath()+")")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	keysGenerateCmd.Flags().StringVar(&keyAddress, "address", "", "caller address the key belongs to (required)")
	keysGenerateCmd.MarkFlagRequired("address")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if configInitPath == "" {
		return config.WriteYAML(out, cfg)
	}

	if _, err := os.Stat(configInitPath); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configInitPath)
	}
	if err := os.MkdirAll(filepath.Dir(configInitPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(configInitPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := config.WriteYAML(f, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s\n", configInitPath)
	return nil
}

func runKeysGenerate(cmd *cobra.Command, args []string) error {
	addr, err := models.ParseAddress(keyAddress)
	if err != nil {
		return err
	}
	key, hash, err := auth.GenerateKey()
	if err != nil {
		return err
	}

	entry := config.CallerConfig{Address: addr, KeyHash: hash}
	if IsJSONOutput() {
		return printJSON(map[string]interface{}{"api_key": key, "caller": entry})
	}
	fmt.Fprintf(out, "API key (give to the operator, shown once):\n  %s\n\n", key)
	fmt.Fprintf(out, "Add to the daemon callers section:\n  - address: %s\n    key_hash: %q\n", addr, hash)
	return nil
}

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/operator-dao/pkg/client"
	"github.com/psantana5/operator-dao/pkg/models"
	tlsutil "github.com/psantana5/operator-dao/pkg/tls"
)

var (
	serverURL    string
	outputFormat string
	cfgFile      string
	apiKey       string
	caller       string
	caFile       string

	// out is where commands print; tests swap it
	out io.Writer = os.Stdout
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "daoctl",
	Short:         "CLI for the operator DAO",
	Long:          `daoctl talks to a daod governance daemon: create proposals, signal votes, inspect operators and the treasury.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.operator-dao/config)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "daemon URL (default from config or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&caller, "caller", "", "caller address sent as X-Caller-Address")
	rootCmd.PersistentFlags().StringVar(&caFile, "ca", "", "CA certificate to trust for https servers")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".operator-dao"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DAO")
	viper.AutomaticEnv()
	viper.BindEnv("server_url", "DAO_SERVER_URL")
	viper.BindEnv("api_key", "DAO_API_KEY")
	viper.BindEnv("caller", "DAO_CALLER")
	viper.BindEnv("ca_file", "DAO_CA_FILE")

	// A missing config file is fine; flags and env still apply
	_ = viper.ReadInConfig()

	if serverURL == "" {
		serverURL = viper.GetString("server_url")
	}
	if apiKey == "" {
		apiKey = viper.GetString("api_key")
	}
	if caller == "" {
		caller = viper.GetString("caller")
	}
	if caFile == "" {
		caFile = viper.GetString("ca_file")
	}
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// newClient builds a daemon client from the global flags
func newClient() (*client.Client, error) {
	opts := []client.Option{client.WithAPIKey(apiKey)}
	if caller != "" {
		addr, err := models.ParseAddress(caller)
		if err != nil {
			return nil, fmt.Errorf("--caller: %w", err)
		}
		opts = append(opts, client.WithCaller(addr))
	}
	if strings.HasPrefix(serverURL, "https://") && caFile != "" {
		tlsConfig, err := tlsutil.ClientConfig("", "", caFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithHTTPClient(&http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		}))
	}
	return client.New(serverURL, opts...), nil
}

// requireCaller fails early for commands the daemon would reject anonymously
func requireCaller() error {
	if caller == "" {
		return fmt.Errorf("a caller address is required: pass --caller or set DAO_CALLER")
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

var (
	version string

	// Global flags
	flagAPIURL  string
	flagAPIKey  string
	flagActor   string
	flagContext string
	flagOutput  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "scangate-admin",
	Short: "scangate administration CLI",
	Long: `scangate-admin manages whitelists, incidents and repository scans of a
scangate deployment through its admin API.

Use "scangate-admin config set-context" to configure your connection.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "Override API URL (env: SCANGATE_API_URL)")
	rootCmd.PersistentFlags().StringVar(&flagAPIKey, "api-key", "", "Override admin API key (env: SCANGATE_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&flagActor, "actor", "", "Name recorded on changes (env: SCANGATE_ACTOR)")
	rootCmd.PersistentFlags().StringVarP(&flagContext, "context", "c", "", "Use specific context (env: SCANGATE_CONTEXT)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "Output format: table, wide, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(commentCmd)
}

func initConfig() {
	if flagAPIURL == "" {
		flagAPIURL = os.Getenv("SCANGATE_API_URL")
	}
	if flagAPIKey == "" {
		flagAPIKey = os.Getenv("SCANGATE_API_KEY")
	}
	if flagActor == "" {
		flagActor = os.Getenv("SCANGATE_ACTOR")
	}

	if flagAPIURL == "" || flagAPIKey == "" || flagActor == "" {
		detail := resolveFromConfigFile()
		if flagAPIURL == "" {
			flagAPIURL = detail.APIURL
		}
		if flagAPIKey == "" {
			flagAPIKey = detail.APIKey
		}
		if flagActor == "" {
			flagActor = detail.Actor
		}
	}
	if flagActor == "" {
		flagActor = os.Getenv("USER")
	}
}

func resolveFromConfigFile() ContextDetail {
	ctxName := flagContext
	if ctxName == "" {
		ctxName = os.Getenv("SCANGATE_CONTEXT")
	}

	cfg, err := loadConfig()
	if err != nil {
		return ContextDetail{}
	}
	if ctxName == "" {
		ctxName = cfg.CurrentContext
	}

	ctx := cfg.GetContext(ctxName)
	if ctx == nil {
		return ContextDetail{}
	}

	detail := ctx.Context
	if detail.APIKey == "" && detail.APIKeyFile != "" {
		data, err := os.ReadFile(expandPath(detail.APIKeyFile))
		if err == nil {
			detail.APIKey = strings.TrimSpace(string(data))
		}
	}
	return detail
}

func mustClient() *Client {
	if flagAPIURL == "" {
		fmt.Fprintln(os.Stderr, "Error: API URL not configured. Use --api-url, SCANGATE_API_URL, or 'scangate-admin config set-context'")
		os.Exit(1)
	}
	if flagAPIKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key not configured. Use --api-key, SCANGATE_API_KEY, or 'scangate-admin config set-context'")
		os.Exit(1)
	}
	return NewClient(flagAPIURL, flagAPIKey, flagActor, flagVerbose)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("scangate-admin version %s\n", version)
		fmt.Printf("  Go:       %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display service readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := mustClient()
		data, err := client.Get("/ready")
		// /ready answers 503 with the same body when a dependency is down.
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
			data, err = apiErr.Body, nil
		}
		if err != nil {
			return fmt.Errorf("connection failed: %w", err)
		}

		var resp ReadyResponse
		if err := unmarshal(data, &resp); err != nil {
			return err
		}
		if render(resp) {
			return nil
		}

		fmt.Printf("scangate\n")
		fmt.Printf("  API URL:  %s\n", flagAPIURL)
		fmt.Printf("  Status:   %s\n", resp.Status)
		fmt.Printf("  Actor:    %s\n\n", dash(flagActor))
		t := newTable("DEPENDENCY", "STATUS", "DURATION", "ERROR")
		for name, c := range resp.Checks {
			t.AddRow(name, c.Status, dash(c.Duration), dash(c.Error))
		}
		t.Flush()
		return nil
	},
}

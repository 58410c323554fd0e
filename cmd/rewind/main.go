package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/app"
	"github.com/ternarybob/rewind/internal/common"
)

var (
	// Command-line flags
	configFiles []string // Later files override earlier ones
	serverPort  int
	serverHost  string
	apiURL      string

	// Global state
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:           "rewind",
	Short:         "Replay recorded agent jobs as a scrubbable timeline",
	Long:          `Rewind caches the audit log, chat transcript and knowledge graph history of a recorded job and replays them in lock-step.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return loadConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().IntVarP(&serverPort, "port", "p", 0, "Server port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverHost, "host", "", "Server host (overrides config)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Audit API base URL (overrides config)")

	rootCmd.AddCommand(serveCmd, syncCmd, renderCmd, clearCmd, jobsCmd, versionCmd)
}

func main() {
	common.InstallCrashHandler("")
	defer common.RecoverWithCrashFile()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration in order:
// defaults -> file1 -> file2 -> ... -> env -> CLI flags, then builds the logger
func loadConfig() error {
	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("rewind.toml"); err == nil {
			configFiles = append(configFiles, "rewind.toml")
		} else if _, err := os.Stat("deployments/local/rewind.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/rewind.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration %v: %w", configFiles, err)
	}

	common.ApplyFlagOverrides(config, serverPort, serverHost, apiURL)
	if err := config.Validate(); err != nil {
		return err
	}

	logger = common.InitLogger(config)

	logger.Debug().
		Strs("config_files", configFiles).
		Str("api", config.API.BaseURL).
		Bool("cache_enabled", config.Storage.Badger.Enabled).
		Str("badger_path", config.Storage.Badger.Path).
		Str("log_level", config.Logging.Level).
		Msg("Resolved configuration")
	return nil
}

// openApp builds the application for one-shot commands, without the poller
func openApp() (*app.App, error) {
	config.Poll.Enabled = false
	application, err := app.New(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return application, nil
}

// Package cli defines the coordbus command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CodingButter/team-dashboard-sub004/pkg/config"
)

var (
	// Version information (set by build)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// Global flags
	cfgFile string
	verbose bool

	// Loaded configuration
	busConfig *config.SystemConfig
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "coordbus",
	Short: "Agent coordination bus",
	Long: `coordbus routes messages, task handoffs, and batch operations
between agents, enforcing per-tenant subscription quotas and
per-agent rate limits.

Run the bus:
  coordbus serve

Inspect configuration:
  coordbus config`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		busConfig = cfg
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

// versionCmd shows version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("coordbus %s\n", Version)
		fmt.Printf("Build: %s\n", BuildTime)
		fmt.Printf("Commit: %s\n", GitCommit)
	},
}

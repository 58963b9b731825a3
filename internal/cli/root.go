// Package cli holds the cobra commands of the outreach binary.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"outreach-relay-go/internal/app"
	"outreach-relay-go/internal/config"
	"outreach-relay-go/internal/metrics"
)

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "outreach",
		Short:         "Campaign email distribution engine",
		Long:          "Distributes campaign emails across a pool of rate-limited sending accounts and delivers them from a scheduled queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("db-driver", "", "Database driver: mysql, postgres or memory")
	viper.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("database.driver", root.PersistentFlags().Lookup("db-driver"))

	root.AddCommand(
		newServeCommand(),
		newDistributeCommand(),
		newSeedCommand(),
		newPurgeCommand(),
		newGmailTokenCommand(),
	)
	return root
}

// Execute runs the root command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	app.ConfigureLogging(cfg.Log.Level)
	return cfg, nil
}

// openApp wires the engine for a one-shot command
func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, metrics.NewUnregistered())
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jordanhubbard/arcfork/internal/logging"
	"github.com/jordanhubbard/arcfork/pkg/config"
)

const version = "0.3.0"

var (
	configPath  string
	personaName string
	useLatest   bool
	verbose     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "arcfork",
		Short: "arcfork - a self-branching social persona",
		Long: `arcfork runs an autonomous persona that posts, answers mentions and
periodically rewrites itself into a new versioned persona file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("ARCFORK_CONFIG"), "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newChatCommand())
	rootCmd.AddCommand(newPersonasCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func addPersonaFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&personaName, "persona", "p", "", "Persona lookup name, e.g. nova or nova.v3 (overrides persona.name)")
	cmd.Flags().BoolVar(&useLatest, "latest", false, "Resolve the persona to its highest saved version")
}

// loadConfig reads the config file and builds the process logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if personaName != "" {
		cfg.Persona.Name = personaName
	}
	if verbose {
		cfg.Logging.Level = logging.LogLevelDebug
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "arcfork v%s\n", version)
		},
	}
}

package main

import (
	"fmt"
	"os"

	"chatgraph/core"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chatgraph",
	Short: "chatgraph is a streaming tool-calling chat agent",
	Long: `chatgraph runs a conversational agent that can call tools, keeps each
thread's state in a checkpoint store and streams progress over SSE.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML config file (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (overrides LOG_LEVEL)")
}

// loadConfig loads the configuration, applying persistent flag overrides,
// and initializes the logger.
func loadConfig(cmd *cobra.Command) (*core.Config, *logrus.Logger, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := os.Setenv("CONFIG_FILE", path); err != nil {
			return nil, nil, err
		}
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		if err := os.Setenv("LOG_LEVEL", level); err != nil {
			return nil, nil, err
		}
	}

	config, err := core.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return config, core.InitializeLogger(config), nil
}

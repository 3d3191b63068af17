package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"chatgraph/agent"
	"chatgraph/core"
	"chatgraph/stream"

	"github.com/spf13/cobra"
)

const cliUser = "cli"

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Run one message and stream the frames to stdout",
	Long: `Runs a single execution without the HTTP server. Frames are written to
stdout in the same SSE format the server uses. Pass --thread to continue a
previous conversation stored in the configured backends.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().String("thread", "", "Thread to continue (a new one is created when empty)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	config, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	deps, closeDeps, err := core.BuildDependencies(ctx, config, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeDeps() }()

	engine, err := core.NewEngine(config, logger, deps)
	if err != nil {
		return err
	}
	defer engine.Close()

	threadID, _ := cmd.Flags().GetString("thread")
	turn, err := engine.Prepare(ctx, cliUser, core.ChatRequest{
		ThreadID:   threadID,
		NewMessage: strings.Join(args, " "),
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, config.RequestTimeout)
	defer cancel()

	transport := stream.NewTransport(cmd.OutOrStdout(),
		stream.WithHighWaterMark(config.StreamHighWaterMark),
		stream.WithTransportLogger(logger))
	result := turn.Run(runCtx, transport)
	if err := transport.Close(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "thread %s finished in state %s after %d tool cycles\n",
		turn.ThreadID, result.State, result.Cycles)
	if result.State != agent.StateDone {
		return result.Err
	}
	return nil
}

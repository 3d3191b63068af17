package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatgraph/auth"
	"chatgraph/core"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Starts the chat server exposing the streaming chat API, thread management and metrics.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("port", "", "Port to listen on (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	config, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		config.Port = port
	}
	logger.WithField("version", core.Version).Info("Starting chatgraph server")

	ctx := cmd.Context()
	deps, closeDeps, err := core.BuildDependencies(ctx, config, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return err
	}
	defer func() {
		if err := closeDeps(); err != nil {
			logger.WithError(err).Warn("Failed to close dependencies cleanly")
		}
	}()

	engine, err := core.NewEngine(config, logger, deps)
	if err != nil {
		logger.WithError(err).Error("Failed to create engine")
		return err
	}
	defer engine.Close()

	var verifier auth.TokenVerifier
	if config.AuthJWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(config.AuthJWTSecret))
	} else {
		logger.Warn("AUTH_JWT_SECRET not set, every request is served as the anonymous user")
	}
	server := core.NewServer(config, logger, engine, auth.NewAuthenticator(verifier))

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		ExposeHeaders: []string{"X-Execution-ID", "X-Thread-ID"},
	}))
	server.RegisterRoutes(e)

	go func() {
		logger.WithField("port", config.Port).Info("Starting server")
		if err := e.Start(fmt.Sprintf(":%s", config.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	server.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to gracefully shutdown server")
		return err
	}
	logger.Info("Server shutdown complete")
	return nil
}

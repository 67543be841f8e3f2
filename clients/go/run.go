package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/eldtechnologies/agora/clients/go/agora"
	"github.com/eldtechnologies/agora/internal/agent"
	"github.com/eldtechnologies/agora/internal/config"
	"github.com/eldtechnologies/agora/internal/filter"
	"github.com/eldtechnologies/agora/internal/models"
	"github.com/eldtechnologies/agora/internal/reasoning"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		logFile    string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an agent from a YAML persona file",
		Long:  "Joins the room as an agent, replies to messages it decides are worth answering and, if enabled, starts topics when the room goes quiet.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, configPath, logFile, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "agent.yaml", "path to agent config file")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write JSON logs to this file (rotated) instead of the console")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

// newLogger logs to the console, or to a rotating file when logFile is set.
func newLogger(cmd *cobra.Command, logFile string, debug bool) (zerolog.Logger, func() error) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	if logFile == "" {
		w := zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339}
		return zerolog.New(w).Level(level).With().Timestamp().Logger(), func() error { return nil }
	}
	lj := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
	}
	return zerolog.New(lj).Level(level).With().Timestamp().Logger(), lj.Close
}

func runAgent(cmd *cobra.Command, configPath, logFile string, debug bool) error {
	cfg, err := config.LoadAgent(configPath)
	if err != nil {
		return err
	}

	logger, closeLog := newLogger(cmd, logFile, debug)
	defer closeLog()

	reasoner, err := reasoning.NewOpenAI(reasoning.Options{
		BaseURL:     cfg.Reasoning.BaseURL,
		APIKey:      cfg.APIKey(),
		Model:       cfg.Reasoning.Model,
		MaxTokens:   cfg.Reasoning.MaxTokens,
		Temperature: cfg.Reasoning.Temperature,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	server := cfg.Server
	if cmd.Flags().Changed("server") || server == "" {
		server, _ = cmd.Flags().GetString("server")
	}
	client := agora.NewClient(server)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := client.Join(ctx, cfg.Name, models.KindAgent); err != nil {
		return fmt.Errorf("join %s: %w", server, err)
	}

	rt, err := agent.New(cfg.RuntimeConfig(), agent.Deps{
		Transport: client,
		Room:      client,
		Reasoner:  reasoner,
		Filter:    filter.Default{},
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if err := rt.Start(ctx); err != nil {
		return err
	}
	logger.Info().
		Str("server", server).
		Str("model", cfg.Reasoning.Model).
		Bool("proactive", cfg.Proactive.Enabled).
		Msg("agent running")

	<-ctx.Done()
	logger.Info().Msg("shutting down agent...")
	if err := rt.Stop(); err != nil {
		return err
	}

	leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Leave(leaveCtx); err != nil {
		logger.Warn().Err(err).Msg("leave failed")
	}
	logger.Info().Msg("agent stopped")
	return nil
}

// Package main provides the entry point for the Solana autotrader.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/api"
	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"github.com/atlas-desktop/sol-autotrader/internal/orchestrator"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (yaml or json)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	once := flag.Bool("once", false, "Run a single tick, print the status and exit")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Starting autotrader",
		zap.String("name", cfg.System.Name),
		zap.Bool("shadowMode", cfg.System.ShadowMode),
		zap.Bool("liveTradingEnabled", cfg.System.LiveTradingEnabled),
		zap.String("storage", cfg.Storage.Driver),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	system, err := orchestrator.Bootstrap(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("Failed to build trading system", zap.Error(err))
	}
	defer func() {
		if err := system.Close(); err != nil {
			logger.Error("Error closing trading system", zap.Error(err))
		}
	}()

	if err := system.Init(ctx); err != nil {
		logger.Error("Failed to initialize trading system", zap.Error(err))
		return
	}

	if *once {
		if _, err := system.Tick(ctx); err != nil {
			logger.Error("Tick failed", zap.Error(err))
			return
		}
		text, err := system.FormatStatus(ctx)
		if err != nil {
			logger.Error("Status unavailable", zap.Error(err))
			return
		}
		fmt.Fprintln(os.Stdout, text)
		return
	}

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(logger, cfg, system)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("Server error", zap.Error(err))
				cancel()
			}
		}()
		logger.Info("Operator API started",
			zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.API.Host, cfg.API.Port)),
			zap.String("ws", fmt.Sprintf("ws://%s:%d%s", cfg.API.Host, cfg.API.Port, cfg.API.WebSocketPath)),
		)
	}

	if err := system.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Trading loop stopped", zap.Error(err))
	}
	logger.Info("Shutdown signal received")

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Error("Error during server shutdown", zap.Error(err))
		}
	}

	logger.Info("Autotrader stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

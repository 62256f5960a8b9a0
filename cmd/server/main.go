// Package main is the entry point for the chat server.
//
// main stays minimal: read configuration, build the logger and the
// upstream clients, hand them to internal/server and start it. All actual
// logic lives in the internal packages.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/gemix-chat/internal/config"
	"github.com/sakif/gemix-chat/internal/llm"
	"github.com/sakif/gemix-chat/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if !cfg.EnvFileLoaded {
		logger.Debug("no .env file found, using process environment only")
	}
	if cfg.GeneratedSecret {
		logger.Warn("JWT_SECRET not set; using a random secret, sessions will not survive a restart")
	}

	// Ensure the data directory exists (like `mkdir -p`).
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	backends := server.Backends{}

	// Gemini serves chat, titles and captions. Without a key the server
	// still starts; those features degrade to placeholders.
	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			logger.Error("failed to create Gemini client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer gemini.Close()
		backends.Chat, backends.Summarizer, backends.Captioner = gemini, gemini, gemini
	} else {
		logger.Warn("GEMINI_API_KEY not set; chat replies and captions are unavailable")
	}

	if cfg.HFToken != "" {
		images, err := llm.NewHFImageClient(ctx, cfg.HFToken, cfg.ImageModelURL, logger)
		if err != nil {
			logger.Error("failed to create image client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		backends.Images = images
	} else {
		logger.Warn("HF_TOKEN not set; image generation is unavailable")
	}

	srv, err := server.New(server.Config{
		Addr:       cfg.Addr(),
		DBPath:     cfg.DBPath,
		JWTSecret:  cfg.JWTSecret,
		SessionTTL: cfg.SessionTTL,
		BcryptCost: cfg.BcryptCost,
	}, backends, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

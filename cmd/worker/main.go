package main

import (
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/hugh/quanty/internal/tasks"
	"github.com/hugh/quanty/pkg/config"
	"github.com/hugh/quanty/pkg/crypto"
	"github.com/hugh/quanty/pkg/queue"
	"github.com/hugh/quanty/pkg/util"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	logger.Info("starting quanty worker", "concurrency", cfg.Worker.Concurrency)

	srv := queue.NewServer(&cfg.Redis, cfg.Worker.Concurrency)

	var opts []tasks.Option
	if cfg.Queue.EncryptionKey != "" {
		enc, err := crypto.NewEncryptor(cfg.Queue.EncryptionKey)
		if err != nil {
			logger.Error("failed to configure queue encryption", "error", err)
			os.Exit(1)
		}
		opts = append(opts, tasks.WithSealer(enc))
	}
	// TODO: replace LogMailer with an SMTP mailer once delivery settings exist in config.
	handler := tasks.NewHandler(tasks.NewLogMailer(logger), logger, opts...)

	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	logger.Info("worker started, waiting for tasks...")

	// Run blocks until SIGINT or SIGTERM and then drains in-flight tasks.
	if err := srv.Run(mux); err != nil {
		logger.Error("worker error", "error", err)
		os.Exit(1)
	}

	logger.Info("worker stopped")
}

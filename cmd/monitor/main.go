package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"pvz-monitor/internal/app"
	"pvz-monitor/internal/infra/config"
	"pvz-monitor/internal/infra/logger"
	"pvz-monitor/internal/infra/pr"
)

func main() {
	// envPath определяет расположение .env с секретами и настройками сервиса.
	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// Уровень и файловый сток с ротацией; предупреждения конфигурации выводим
	// уже настроенным логгером.
	logger.Init(config.Env().LogLevel, config.Env().LogPath)
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	// Контекст с обработкой системных сигналов (Ctrl+C/SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New()
	if err := a.Run(ctx); err != nil {
		stop()
		logger.Fatal("service run failed", zap.Error(err))
	}

	if err := logger.Sync(); err != nil {
		pr.ErrPrintf("logger sync: %v\n", err)
	}
	logger.Info("Graceful shutdown complete")
}

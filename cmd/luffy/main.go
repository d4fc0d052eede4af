package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sunil55999/Luffy/internal/app"
	"github.com/sunil55999/Luffy/internal/infra/config"
	"github.com/sunil55999/Luffy/internal/infra/logger"
	"github.com/sunil55999/Luffy/internal/infra/pr"
)

func main() {
	if err := pr.Init(); err != nil {
		logger.Fatal("failed to assigning stdout and stderr", zap.Error(err))
	}

	// envPath определяет расположение .env с секретами и общими настройками.
	envPath := flag.String("env", "assets/.env", "path to .env file")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	env := config.Env()

	// logger.Init задаёт уровень, SetWriters направляет вывод в подсистему pr,
	// чтобы логи не ломали строку ввода консоли.
	logger.Init(env.LogLevel)
	logger.SetWriters(pr.Stdout(), pr.Stderr())
	if env.LogFile != "" {
		logger.ConfigureFile(logger.FileConfig{
			Path:       env.LogFile,
			Level:      env.LogFileLevel,
			MaxSizeMB:  env.LogFileMaxSize,
			MaxBackups: env.LogFileMaxBackups,
			MaxAgeDays: env.LogFileMaxAge,
			Compress:   env.LogFileCompress,
		})
	}
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	// Контекст с обработкой системных сигналов (Ctrl+C/SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// stop передаётся внутрь как общая CancelFunc: команда exit в консоли и
	// фатальные ошибки подсистем останавливают приложение тем же путём.
	a := app.NewApp(ctx, stop)
	if iniErr := a.Init(); iniErr != nil {
		stop()
		logger.Fatal("app init failed", zap.Error(iniErr))
	}

	if runErr := a.Run(); runErr != nil {
		stop()
		logger.Fatal("app run failed", zap.Error(runErr))
	}
	stop()
	logger.Info("Graceful shutdown complete")
}

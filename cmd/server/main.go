package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/koopa0/system-design/14-buzzer-room/internal"
)

func main() {
	// 讀取 .env（不存在時忽略）
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "讀取 .env 失敗: %v\n", err)
	}

	defaults := internal.DefaultConfig()

	cmd := &cli.Command{
		Name:  "buzzer-server",
		Usage: "即時搶答房間服務器",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   defaults.Port,
				Usage:   "服務器端口",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   defaults.LogLevel,
				Usage:   "日誌級別 (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   defaults.LogFormat,
				Usage:   "日誌格式 (text, json)",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "static-dir",
				Usage:   "主持人/參賽者頁面目錄",
				Sources: cli.EnvVars("STATIC_DIR"),
			},
			&cli.DurationFlag{
				Name:    "reopen-cooldown",
				Value:   defaults.Room.ReopenCooldown,
				Usage:   "單一勝者 + 多次搶答模式的自動重開冷卻時間",
				Sources: cli.EnvVars("REOPEN_COOLDOWN"),
			},
			&cli.StringSliceFlag{
				Name:    "allowed-origins",
				Usage:   "允許的 WebSocket Origin（預設全部允許）",
				Sources: cli.EnvVars("ALLOWED_ORIGINS"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := internal.DefaultConfig()
			cfg.Port = int(cmd.Int("port"))
			cfg.LogLevel = cmd.String("log-level")
			cfg.LogFormat = cmd.String("log-format")
			cfg.StaticDir = cmd.String("static-dir")
			cfg.Room.ReopenCooldown = cmd.Duration("reopen-cooldown")
			cfg.WebSocket.AllowedOrigins = cmd.StringSlice("allowed-origins")
			return run(ctx, cfg)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "服務器錯誤: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *internal.Config) error {
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// Hub 是廣播閘道，Router 是事件處理器，兩者透過 SetDispatcher 互相連結
	hub := internal.NewWebSocketHub(cfg.WebSocket, logger)
	manager := internal.NewManager(cfg.Room, hub, logger)
	router := internal.NewRouter(manager, hub, logger)
	hub.SetDispatcher(router)

	handler := internal.NewHandler(manager, hub, cfg.StaticDir, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("搶答服務器啟動",
			"port", cfg.Port,
			"log_level", cfg.LogLevel,
			"log_format", cfg.LogFormat,
			"static_dir", cfg.StaticDir,
			"reopen_cooldown", cfg.Room.ReopenCooldown)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中斷信號
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("服務器啟動失敗: %w", err)
	case <-ctx.Done():
	}

	logger.Info("收到關閉信號，開始優雅關閉...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 先通知所有房間關閉，再切斷連接
	manager.Stop()
	hub.Stop()

	logger.Info("服務器已關閉")
	return nil
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug",
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koopa0/system-design/02-tictactoe-rooms/internal"
)

func main() {
	// 環境變數為預設值，命令行參數可覆寫
	cfg, err := internal.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.IntVar(&cfg.Port, "port", cfg.Port, "服務器端口")
	flag.IntVar(&cfg.MaxRooms, "max-rooms", cfg.MaxRooms, "最大房間數")
	flag.DurationVar(&cfg.SlotTTL, "slot-ttl", cfg.SlotTTL, "斷線座位保留時間（0 表示永久保留）")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "日誌級別 (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "日誌格式 (text, json)")
	flag.StringVar(&cfg.StaticDir, "static-dir", cfg.StaticDir, "靜態檔案目錄（客戶端頁面）")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// 設置日誌
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// WebSocket Hub 同時是房間的廣播端
	wsHub := internal.NewWebSocketHub(logger)

	// 創建房間池
	manager := internal.NewManager(cfg.ManagerConfig(), wsHub, logger)

	// 連線協調者
	coord := internal.NewCoordinator(manager, wsHub, logger)

	// 創建 HTTP 處理器
	handler := internal.NewHandler(manager, wsHub, logger)

	// 設置路由
	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes(cfg.StaticDir))
	mux.HandleFunc("GET /ws", wsHub.ServeWS(coord))

	// 創建 HTTP 服務器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 啟動服務器
	go func() {
		logger.Info("井字棋房間服務器啟動",
			"port", cfg.Port,
			"max_rooms", cfg.MaxRooms,
			"slot_ttl", cfg.SlotTTL,
			"log_level", cfg.LogLevel,
			"log_format", cfg.LogFormat)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("收到關閉信號，開始優雅關閉...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 停止房間管理器
	manager.Stop()

	// 停止 WebSocket Hub
	wsHub.Stop()

	logger.Info("服務器已關閉")
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
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

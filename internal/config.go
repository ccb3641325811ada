package internal

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config 服務設定
//
// 先從環境變數載入，命令行參數可覆寫。
type Config struct {
	Port            int           `env:"TTT_PORT"             envDefault:"8080"`
	MaxRooms        int           `env:"TTT_MAX_ROOMS"        envDefault:"5"`
	SlotTTL         time.Duration `env:"TTT_SLOT_TTL"         envDefault:"0s"`
	CleanupInterval time.Duration `env:"TTT_CLEANUP_INTERVAL" envDefault:"1m"`
	LogLevel        string        `env:"TTT_LOG_LEVEL"        envDefault:"info"`
	LogFormat       string        `env:"TTT_LOG_FORMAT"       envDefault:"text"`
	StaticDir       string        `env:"TTT_STATIC_DIR"`
}

// LoadConfig 從環境變數載入設定
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate 檢查設定
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("端口無效: %d", c.Port))
	}
	if c.MaxRooms <= 0 {
		errs = append(errs, fmt.Errorf("房間數上限必須大於 0: %d", c.MaxRooms))
	}
	if c.SlotTTL < 0 {
		errs = append(errs, fmt.Errorf("座位保留時間不可為負: %s", c.SlotTTL))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("清理間隔必須大於 0: %s", c.CleanupInterval))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("日誌格式無效: %s", c.LogFormat))
	}
	return errors.Join(errs...)
}

// ManagerConfig 轉換為房間池設定
func (c Config) ManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxRooms:        c.MaxRooms,
		SlotTTL:         c.SlotTTL,
		CleanupInterval: c.CleanupInterval,
	}
}

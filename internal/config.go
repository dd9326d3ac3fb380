package internal

import (
	"time"
)

// Config 搶答服務配置
type Config struct {
	// HTTP 服務端口
	Port int

	// 日誌級別與格式
	LogLevel  string
	LogFormat string

	// 靜態檔案目錄（主持人/參賽者頁面），空字串表示不提供
	StaticDir string

	Room      RoomConfig
	WebSocket WebSocketConfig
}

// RoomConfig 房間狀態機配置
type RoomConfig struct {
	// 多次搶答 + 單一勝者模式下，鎖定後自動重新開放的冷卻時間
	ReopenCooldown time.Duration

	// 伺服器時鐘，nil 時使用 time.Now（測試時可替換）
	Now func() time.Time
}

// WebSocketConfig WebSocket 連接配置
type WebSocketConfig struct {
	// 允許的 Origin，空表示全部允許
	AllowedOrigins []string

	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64

	// 每個連接的發送緩衝
	SendBuffer int
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	return &Config{
		Port:      3000,
		LogLevel:  "info",
		LogFormat: "text",
		Room: RoomConfig{
			ReopenCooldown: 5 * time.Second,
		},
		WebSocket: WebSocketConfig{
			WriteWait:      10 * time.Second,
			PongWait:       60 * time.Second,
			PingPeriod:     54 * time.Second, // 必須小於 PongWait
			MaxMessageSize: 4096,
			SendBuffer:     256,
		},
	}
}

func (c RoomConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

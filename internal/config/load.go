package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Load reads forumcast's configuration from the process environment (§6),
// optionally preloading a .env file first. godotenv.Load's error is
// intentionally discarded: a missing .env file is the normal case in any
// deployment that sets its environment some other way (systemd unit,
// container runtime, CI), and os.Getenv below falls back to hardcoded
// defaults for anything still unset either way.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		APIID:    envInt("API_ID", 0),
		APIHash:  os.Getenv("API_HASH"),
		BotToken: os.Getenv("BOT_TOKEN"),

		DatabasePath: envString("DATABASE_PATH", "data/forumcast.db"),
		SessionsDir:  envString("SESSIONS_DIR", "sessions"),

		NotifyChatID: envInt64("NOTIFY_CHAT_ID", 0),

		MonitorIntervalSeconds: envInt("MONITOR_INTERVAL_SECONDS", 60),
		StandbyRefreshSeconds:  envInt("STANDBY_REFRESH_SECONDS", 120),
		RecoveryMaxRetry:       envInt("RECOVERY_MAX_RETRY", 3),

		PanelPassword:          os.Getenv("PANEL_PASSWORD"),
		PanelSessionTTLSeconds: envInt("PANEL_SESSION_TTL_SECONDS", 86400),
		PanelAddr:              envString("PANEL_ADDR", ":8080"),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

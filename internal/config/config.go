package config

import (
	"errors"
	"os"
	"strconv"
)

type Config struct {
	Port               string
	Env                string
	RingTimeoutSeconds int
	FCMProjectID       string
	FCMCredentialsFile string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// Load 从环境变量加载配置，缺省值适用于本地开发。
func Load() Config {
	port := getenv("APP_PORT", "3001")
	env := getenv("APP_ENV", "dev")
	ringStr := getenv("RING_TIMEOUT_SECONDS", "30")
	ring, _ := strconv.Atoi(ringStr)
	if ring <= 0 {
		ring = 30
	}
	return Config{
		Port:               port,
		Env:                env,
		RingTimeoutSeconds: ring,
		FCMProjectID:       getenv("FCM_PROJECT_ID", ""),
		FCMCredentialsFile: getenv("GOOGLE_APPLICATION_CREDENTIALS", ""),
	}
}

// Validate 校验启动前的硬性约束。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port must not be empty")
	}
	if cfg.RingTimeoutSeconds <= 0 {
		return errors.New("ring timeout must be positive")
	}
	// 配了凭证却没配项目 ID 无法构造 FCM 端点
	if cfg.FCMCredentialsFile != "" && cfg.FCMProjectID == "" {
		return errors.New("FCM_PROJECT_ID required when GOOGLE_APPLICATION_CREDENTIALS is set")
	}
	return nil
}

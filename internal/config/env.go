package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides 列出允许通过环境变量覆盖的字段，容器部署时无需改写 config.toml。
type envOverrides struct {
	ListenPort   int    `env:"ASTRA_EDGE_LISTEN_PORT"`
	LogLevel     string `env:"ASTRA_EDGE_LOG_LEVEL"`
	StoragePath  string `env:"ASTRA_EDGE_STORAGE_PATH"`
	Origin       string `env:"ASTRA_EDGE_ORIGIN"`
	CacheVersion string `env:"ASTRA_EDGE_CACHE_VERSION"`
}

// applyEnvOverrides 在文件配置之上叠加环境变量，空值不覆盖。
func applyEnvOverrides(cfg *Config) error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("解析环境变量失败: %w", err)
	}

	if overrides.ListenPort != 0 {
		cfg.Global.ListenPort = overrides.ListenPort
	}
	if v := strings.TrimSpace(overrides.LogLevel); v != "" {
		cfg.Global.LogLevel = v
	}
	if v := strings.TrimSpace(overrides.StoragePath); v != "" {
		cfg.Global.StoragePath = v
	}
	if v := strings.TrimSpace(overrides.Origin); v != "" {
		cfg.Global.Origin = v
	}
	if v := strings.TrimSpace(overrides.CacheVersion); v != "" {
		cfg.Global.CacheVersion = v
	}
	return nil
}

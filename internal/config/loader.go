package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 默认规则与静态资源清单，和站点首次部署时的 sw 配置保持一致。
var (
	defaultStaticAssets = []string{
		"/",
		"/index.html",
		"/styles.css",
		"/script.js",
		"/performance-optimizations.js",
		"/manifest.json",
	}
	defaultNetworkFirst = []string{"/api/", "/chat/", "/analytics/"}
	defaultCacheFirst   = []string{
		".js", ".css", ".woff2", ".woff", ".ttf", ".ico",
		".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp",
	}
	defaultImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}
)

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量覆盖与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	applyGlobalDefaults(&cfg.Global)
	applyRoutingDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("CachePrefix", "astra")
	v.SetDefault("CacheVersion", "v1")
	v.SetDefault("SkipWaiting", true)
	v.SetDefault("PeriodicSyncInterval", "0s")
	v.SetDefault("NotificationLimit", 50)
	v.SetDefault("StaticAssets", defaultStaticAssets)
	v.SetDefault("Routing.NetworkFirst", defaultNetworkFirst)
	v.SetDefault("Routing.CacheFirst", defaultCacheFirst)
	v.SetDefault("Routing.ImageExtensions", defaultImageExtensions)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if strings.TrimSpace(g.CachePrefix) == "" {
		g.CachePrefix = "astra"
	}
	if strings.TrimSpace(g.CacheVersion) == "" {
		g.CacheVersion = "v1"
	}
	if g.NotificationLimit == 0 {
		g.NotificationLimit = 50
	}
}

// applyRoutingDefaults 统一规则大小写，扩展名按小写匹配。
func applyRoutingDefaults(cfg *Config) {
	if len(cfg.StaticAssets) == 0 {
		cfg.StaticAssets = append([]string(nil), defaultStaticAssets...)
	}
	if len(cfg.Routing.NetworkFirst) == 0 {
		cfg.Routing.NetworkFirst = append([]string(nil), defaultNetworkFirst...)
	}
	if len(cfg.Routing.CacheFirst) == 0 {
		cfg.Routing.CacheFirst = append([]string(nil), defaultCacheFirst...)
	}
	if len(cfg.Routing.ImageExtensions) == 0 {
		cfg.Routing.ImageExtensions = append([]string(nil), defaultImageExtensions...)
	}
	cfg.Routing.CacheFirst = lowerAll(cfg.Routing.CacheFirst)
	cfg.Routing.ImageExtensions = lowerAll(cfg.Routing.ImageExtensions)
}

func lowerAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.ToLower(strings.TrimSpace(item)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

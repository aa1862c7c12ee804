package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 分区类型，与版本号一起组成最终的分区名。
const (
	PartitionStatic  = "static"
	PartitionDynamic = "dynamic"
)

// GlobalConfig 描述全局运行时行为。
type GlobalConfig struct {
	ListenPort           int      `mapstructure:"ListenPort"`
	LogLevel             string   `mapstructure:"LogLevel"`
	LogFilePath          string   `mapstructure:"LogFilePath"`
	LogMaxSize           int      `mapstructure:"LogMaxSize"`
	LogMaxBackups        int      `mapstructure:"LogMaxBackups"`
	LogCompress          bool     `mapstructure:"LogCompress"`
	StoragePath          string   `mapstructure:"StoragePath"`
	Origin               string   `mapstructure:"Origin"`
	UpstreamTimeout      Duration `mapstructure:"UpstreamTimeout"`
	CachePrefix          string   `mapstructure:"CachePrefix"`
	CacheVersion         string   `mapstructure:"CacheVersion"`
	SkipWaiting          bool     `mapstructure:"SkipWaiting"`
	PeriodicSyncInterval Duration `mapstructure:"PeriodicSyncInterval"`
	NotificationLimit    int      `mapstructure:"NotificationLimit"`
}

// RoutingConfig 定义请求分类规则，按 NetworkFirst → CacheFirst → HTML 的顺序匹配。
type RoutingConfig struct {
	NetworkFirst    []string `mapstructure:"NetworkFirst"`
	CacheFirst      []string `mapstructure:"CacheFirst"`
	ImageExtensions []string `mapstructure:"ImageExtensions"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global       GlobalConfig  `mapstructure:",squash"`
	Routing      RoutingConfig `mapstructure:"Routing"`
	StaticAssets []string      `mapstructure:"StaticAssets"`
}

// PartitionName 返回指定类型在当前版本下的分区名，例如 astra-static-v1。
func (g GlobalConfig) PartitionName(kind string) string {
	return fmt.Sprintf("%s-%s-%s", g.CachePrefix, kind, g.CacheVersion)
}

// StaticPartition 返回当前版本的 static 分区名。
func (c *Config) StaticPartition() string {
	return c.Global.PartitionName(PartitionStatic)
}

// DynamicPartition 返回当前版本的 dynamic 分区名。
func (c *Config) DynamicPartition() string {
	return c.Global.PartitionName(PartitionDynamic)
}

// RoutingSummary 输出规则数量摘要，供启动日志使用。
func (c *Config) RoutingSummary() map[string]int {
	return map[string]int{
		"network_first": len(c.Routing.NetworkFirst),
		"cache_first":   len(c.Routing.CacheFirst),
		"images":        len(c.Routing.ImageExtensions),
		"static_assets": len(c.StaticAssets),
	}
}

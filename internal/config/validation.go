package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if err := validateOrigin(g.Origin); err != nil {
		return fmt.Errorf("Global.Origin: %w", err)
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if err := validateNameSegment(g.CachePrefix); err != nil {
		return newFieldError("Global.CachePrefix", err.Error())
	}
	if err := validateNameSegment(g.CacheVersion); err != nil {
		return newFieldError("Global.CacheVersion", err.Error())
	}
	if g.PeriodicSyncInterval.DurationValue() < 0 {
		return newFieldError("Global.PeriodicSyncInterval", "不能为负数")
	}
	if g.NotificationLimit < 0 {
		return newFieldError("Global.NotificationLimit", "不能为负数")
	}

	if len(c.StaticAssets) == 0 {
		return errors.New("StaticAssets 至少需要一个资源")
	}
	seen := map[string]struct{}{}
	for i, asset := range c.StaticAssets {
		if !strings.HasPrefix(asset, "/") {
			return newFieldError(listField("StaticAssets", i), "必须以 / 开头")
		}
		if _, exists := seen[asset]; exists {
			return newFieldError(listField("StaticAssets", i), "重复")
		}
		seen[asset] = struct{}{}
	}

	for i, prefix := range c.Routing.NetworkFirst {
		if !strings.HasPrefix(prefix, "/") {
			return newFieldError(listField("Routing.NetworkFirst", i), "路径前缀必须以 / 开头")
		}
	}
	for i, ext := range c.Routing.CacheFirst {
		if !strings.HasPrefix(ext, ".") {
			return newFieldError(listField("Routing.CacheFirst", i), "扩展名必须以 . 开头")
		}
	}
	for i, ext := range c.Routing.ImageExtensions {
		if !strings.HasPrefix(ext, ".") {
			return newFieldError(listField("Routing.ImageExtensions", i), "扩展名必须以 . 开头")
		}
	}

	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	return nil
}

// validateNameSegment 约束分区名片段，它们会直接成为磁盘目录名。
func validateNameSegment(value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(value, `/\ `) {
		return errors.New("不允许包含路径分隔符或空格")
	}
	if value == "." || value == ".." {
		return errors.New("非法名称")
	}
	return nil
}

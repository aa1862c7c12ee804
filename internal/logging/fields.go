package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供策略/分区/命中状态字段，供代理请求日志复用。
func RequestFields(strategy, partition, method, url string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"strategy":  strategy,
		"partition": partition,
		"method":    method,
		"url":       url,
		"cache_hit": cacheHit,
	}
}

// TriggerFields 描述后台触发器（sync/periodicsync/push）的公共字段。
func TriggerFields(trigger, tag string) logrus.Fields {
	return logrus.Fields{
		"action":  "background",
		"trigger": trigger,
		"tag":     tag,
	}
}

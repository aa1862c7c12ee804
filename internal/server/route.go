package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/astra-edge/astra-edge/internal/config"
	"github.com/astra-edge/astra-edge/internal/engine"
	"github.com/astra-edge/astra-edge/internal/strategy"
)

// Classifier 选择请求使用的策略，通常由 engine.Engine 实现。
type Classifier interface {
	Classify(req *engine.Request) strategy.Kind
}

// Route 聚合单个请求解析后的源站地址、引擎请求与策略，供代理层直接复用。
type Route struct {
	// ListenPort 记录当前监听端口，便于日志/转发头输出。
	ListenPort int
	// Request 的 URL 已按源站解析为绝对地址，同时作为缓存 Key。
	Request *engine.Request
	// Strategy 是分类结果，passthrough 表示不经过缓存。
	Strategy strategy.Kind
}

// Resolver 把入站请求映射到源站 URL 并完成分类，启动阶段创建一次并复用。
type Resolver struct {
	origin     *url.URL
	classifier Classifier
	listenPort int
}

// NewResolver 解析配置中的源站地址。
func NewResolver(cfg *config.Config, classifier Classifier) (*Resolver, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}
	origin, err := url.Parse(cfg.Global.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("origin must be absolute: %s", cfg.Global.Origin)
	}
	return &Resolver{origin: origin, classifier: classifier, listenPort: cfg.Global.ListenPort}, nil
}

// Origin 返回源站地址副本。
func (r *Resolver) Origin() *url.URL {
	clone := *r.origin
	return &clone
}

// Resolve 构造 engine.Request：路径与查询串拼接到源站，并补齐 X-Forwarded-* 头。
func (r *Resolver) Resolve(c fiber.Ctx) *Route {
	uri := c.Request().URI()
	target := r.ResolvePath(string(uri.Path()), string(uri.QueryString()))

	header := fiberHeadersAsHTTP(c)
	header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := header.Get("X-Forwarded-For"); prior != "" {
			header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			header.Set("X-Forwarded-For", ip)
		}
	}
	header.Set("X-Forwarded-Proto", c.Scheme())

	req := &engine.Request{
		Method: strings.ToUpper(c.Method()),
		URL:    target,
		Header: header,
		Body:   append([]byte(nil), c.Body()...),
	}
	return &Route{
		ListenPort: r.listenPort,
		Request:    req,
		Strategy:   r.classifier.Classify(req),
	}
}

// ResolvePath 把站内路径解析为源站绝对 URL，与安装阶段生成的缓存 Key 一致。
func (r *Resolver) ResolvePath(rawPath, rawQuery string) *url.URL {
	relative := &url.URL{Path: normalizeRequestPath(rawPath)}
	if rawQuery != "" {
		relative.RawQuery = rawQuery
	}
	return r.origin.ResolveReference(relative)
}

// normalizeRequestPath 清理 . / .. 片段，但保留结尾的 /，前缀规则依赖它。
func normalizeRequestPath(raw string) string {
	if raw == "" {
		return "/"
	}
	clean := path.Clean("/" + raw)
	if clean != "/" && strings.HasSuffix(raw, "/") {
		clean += "/"
	}
	return clean
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

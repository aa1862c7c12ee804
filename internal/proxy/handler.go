package proxy

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/astra-edge/astra-edge/internal/cache"
	"github.com/astra-edge/astra-edge/internal/engine"
	"github.com/astra-edge/astra-edge/internal/logging"
	"github.com/astra-edge/astra-edge/internal/server"
	"github.com/astra-edge/astra-edge/internal/strategy"
)

const (
	headerStrategy = "X-Astra-Strategy"
	headerCacheHit = "X-Astra-Cache-Hit"
)

// Runner executes a strategy; *engine.Engine implements it.
type Runner interface {
	Run(ctx context.Context, kind strategy.Kind, req *engine.Request) (engine.Result, error)
}

// Handler 把 Route 交给缓存引擎，并把结果写回 Fiber 响应。
type Handler struct {
	runner Runner
	logger *logrus.Logger
}

// NewHandler constructs a handler over the engine.
func NewHandler(runner Runner, logger *logrus.Logger) *Handler {
	return &Handler{
		runner: runner,
		logger: logger,
	}
}

// Handle runs route.Strategy and writes the response, or a JSON error when
// the strategy produced none.
func (h *Handler) Handle(c fiber.Ctx, route *server.Route) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := h.runner.Run(ctx, route.Strategy, route.Request)
	if err != nil {
		h.logResult(route, result, requestID, started, err)
		c.Set(headerStrategy, string(route.Strategy))
		if errors.Is(err, engine.ErrCache) {
			return h.writeError(c, fiber.StatusInternalServerError, "cache_failed")
		}
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	h.logResult(route, result, requestID, started, nil)
	return h.writeSnapshot(c, result)
}

func (h *Handler) writeSnapshot(c fiber.Ctx, result engine.Result) error {
	snapshot := result.Response
	if snapshot == nil {
		snapshot = &cache.Snapshot{Status: http.StatusNoContent}
	}
	copyResponseHeaders(c, snapshot.Header)
	c.Set(headerStrategy, string(result.Strategy))
	c.Set(headerCacheHit, strconv.FormatBool(result.CacheHit()))
	c.Status(snapshot.Status)
	return c.Send(snapshot.Body)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.Route,
	result engine.Result,
	requestID string,
	started time.Time,
	err error,
) {
	if h.logger == nil {
		return
	}
	fields := logging.RequestFields(
		string(route.Strategy),
		result.Partition,
		route.Request.Method,
		route.Request.URL.String(),
		result.CacheHit(),
	)
	fields["action"] = "proxy"
	fields["source"] = string(result.Source)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if result.Response != nil {
		fields["origin_status"] = result.Response.Status
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// copyResponseHeaders skips hop-by-hop fields and Content-Length, which
// Fiber derives from the body it sends.
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}

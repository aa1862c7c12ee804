package proxy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/astra-edge/astra-edge/internal/logging"
	"github.com/astra-edge/astra-edge/internal/server"
	"github.com/astra-edge/astra-edge/internal/strategy"
)

// Forwarder 根据 Route 的策略选择对应的 handler，未注册时回退到构造时注入的 handler。
type Forwarder struct {
	defaultHandler server.ProxyHandler
	logger         *logrus.Logger
	handlers       sync.Map
}

// NewForwarder 创建 Forwarder，defaultHandler 可为空。
func NewForwarder(defaultHandler server.ProxyHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		defaultHandler: defaultHandler,
		logger:         logger,
	}
}

// Handle 实现 server.ProxyHandler，根据 route.Strategy 选择 handler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.Route) error {
	requestID := server.RequestID(c)
	handler := f.lookup(route)
	if handler == nil {
		return f.respondMissingHandler(c, route, requestID)
	}
	return f.invokeHandler(c, route, handler, requestID)
}

func (f *Forwarder) respondMissingHandler(c fiber.Ctx, route *server.Route, requestID string) error {
	f.logStrategyError(route, "strategy_handler_missing", nil, requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "strategy_handler_missing"})
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, route *server.Route, handler server.ProxyHandler, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, route, r, requestID)
		}
	}()
	return handler.Handle(c, route)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, route *server.Route, recovered interface{}, requestID string) error {
	f.logStrategyError(route, "strategy_handler_panic", fmt.Errorf("panic: %v", recovered), requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "strategy_handler_panic"})
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logStrategyError(route *server.Route, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := routeFields(route, requestID)
	fields["action"] = "proxy"
	fields["error"] = code
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("strategy handler unavailable")
}

func (f *Forwarder) lookup(route *server.Route) server.ProxyHandler {
	if route != nil {
		if value, ok := f.handlers.Load(normalizeKind(route.Strategy)); ok {
			if handler, ok := value.(server.ProxyHandler); ok {
				return handler
			}
		}
	}
	return f.defaultHandler
}

func normalizeKind(kind strategy.Kind) strategy.Kind {
	return strategy.Kind(strings.ToLower(strings.TrimSpace(string(kind))))
}

func routeFields(route *server.Route, requestID string) logrus.Fields {
	var fields logrus.Fields
	if route == nil || route.Request == nil || route.Request.URL == nil {
		fields = logging.RequestFields("", "", "", "", false)
	} else {
		fields = logging.RequestFields(
			string(route.Strategy),
			"",
			route.Request.Method,
			route.Request.URL.String(),
			false,
		)
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

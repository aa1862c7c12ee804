package proxy

import (
	"bytes"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/astra-edge/astra-edge/internal/engine"
	"github.com/astra-edge/astra-edge/internal/server"
	"github.com/astra-edge/astra-edge/internal/strategy"
)

const requestIDKey = "_astra_request_id"

func TestForwarderMissingHandler(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "missing-req")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	forwarder := NewForwarder(nil, logger)
	route := testRoute(strategy.CacheFirst)

	if err := forwarder.Handle(ctx, route); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for missing handler, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, "strategy_handler_missing") {
		t.Fatalf("expected error body to mention strategy_handler_missing, got %s", body)
	}
	if !strings.Contains(logBuf.String(), "strategy_handler_missing") {
		t.Fatalf("expected log to mention strategy_handler_missing, got %s", logBuf.String())
	}
	if got := string(ctx.Response().Header.Peek("X-Request-ID")); got != "missing-req" {
		t.Fatalf("expected request id header missing-req, got %s", got)
	}
	if !strings.Contains(logBuf.String(), "missing-req") {
		t.Fatalf("expected log to include request id, got %s", logBuf.String())
	}
}

func TestForwarderHandlerPanic(t *testing.T) {
	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	forwarder := NewForwarder(nil, logger)
	forwarder.MustRegister(StrategyRegistration{
		Kind: strategy.NetworkFirst,
		Handler: server.ProxyHandlerFunc(func(fiber.Ctx, *server.Route) error {
			panic("boom")
		}),
	})

	app := fiber.New()
	defer app.Shutdown()
	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "panic-req")

	if err := forwarder.Handle(ctx, testRoute(strategy.NetworkFirst)); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for handler panic, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, "strategy_handler_panic") {
		t.Fatalf("expected error body to mention strategy_handler_panic, got %s", body)
	}
	if !strings.Contains(logBuf.String(), "strategy_handler_panic") {
		t.Fatalf("expected log to mention strategy_handler_panic, got %s", logBuf.String())
	}
	if got := string(ctx.Response().Header.Peek("X-Request-ID")); got != "panic-req" {
		t.Fatalf("expected request id header panic-req, got %s", got)
	}
}

func TestForwarderFallsBackToDefault(t *testing.T) {
	called := ""
	forwarder := NewForwarder(server.ProxyHandlerFunc(func(c fiber.Ctx, route *server.Route) error {
		called = string(route.Strategy)
		return c.SendStatus(fiber.StatusNoContent)
	}), logrus.New())

	app := fiber.New()
	defer app.Shutdown()
	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)

	if err := forwarder.Handle(ctx, testRoute(strategy.StaleWhileRevalidate)); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if called != string(strategy.StaleWhileRevalidate) {
		t.Fatalf("default handler not used, got %q", called)
	}
}

func TestStrategyRegistrationValidation(t *testing.T) {
	forwarder := NewForwarder(nil, nil)
	noop := server.ProxyHandlerFunc(func(fiber.Ctx, *server.Route) error { return nil })

	if err := forwarder.Register(StrategyRegistration{Kind: "edge-side-includes", Handler: noop}); err == nil {
		t.Fatalf("expected unknown strategy to be rejected")
	}
	if err := forwarder.Register(StrategyRegistration{Kind: strategy.CacheFirst}); err == nil {
		t.Fatalf("expected missing handler to be rejected")
	}
	if err := forwarder.Register(StrategyRegistration{Kind: strategy.CacheFirst, Handler: noop}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := forwarder.Register(StrategyRegistration{Kind: strategy.CacheFirst, Handler: noop}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func testRoute(kind strategy.Kind) *server.Route {
	u, _ := url.Parse("https://astra.example.org/styles.css")
	return &server.Route{
		ListenPort: 5000,
		Request:    engine.NewGetRequest(u),
		Strategy:   kind,
	}
}

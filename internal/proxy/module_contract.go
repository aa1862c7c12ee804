package proxy

import (
	"errors"
	"fmt"

	"github.com/astra-edge/astra-edge/internal/server"
	"github.com/astra-edge/astra-edge/internal/strategy"
)

// StrategyHandler is the runtime contract each strategy must provide to
// serve requests. It aligns with server.ProxyHandler.
type StrategyHandler = server.ProxyHandler

// StrategyRegistration captures a strategy kind and its handler for safe
// registration.
type StrategyRegistration struct {
	Kind    strategy.Kind
	Handler StrategyHandler
}

// ErrStrategyHandlerExists indicates a handler has already been registered for the kind.
var ErrStrategyHandlerExists = errors.New("strategy handler already registered")

// Validate ensures the kind is registered and a handler is present.
func (r StrategyRegistration) Validate() error {
	if r.Kind == "" {
		return errors.New("strategy kind required")
	}
	if _, ok := strategy.Resolve(r.Kind); !ok {
		return fmt.Errorf("strategy %s is not registered", r.Kind)
	}
	if r.Handler == nil {
		return errors.New("strategy handler required")
	}
	return nil
}

// Register binds a handler to a strategy kind on this forwarder.
func (f *Forwarder) Register(reg StrategyRegistration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	if _, loaded := f.handlers.LoadOrStore(normalizeKind(reg.Kind), reg.Handler); loaded {
		return fmt.Errorf("%w: %s", ErrStrategyHandlerExists, reg.Kind)
	}
	return nil
}

// MustRegister panics when registration fails; suitable for startup wiring.
func (f *Forwarder) MustRegister(reg StrategyRegistration) {
	if err := f.Register(reg); err != nil {
		panic(err)
	}
}

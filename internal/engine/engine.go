package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/astra-edge/astra-edge/internal/cache"
	"github.com/astra-edge/astra-edge/internal/logging"
	"github.com/astra-edge/astra-edge/internal/strategy"
)

const defaultRevalidateTimeout = 30 * time.Second

// Options wires an Engine.
type Options struct {
	Store    cache.Store
	Fetcher  Fetcher
	Rules    strategy.RuleSet
	Names    NameSource
	Logger   *logrus.Logger
	Observer Observer

	// RevalidateTimeout bounds the background refresh started by
	// stale-while-revalidate once it is detached from the caller.
	RevalidateTimeout time.Duration
}

// Engine classifies requests and runs the matching strategy.
type Engine struct {
	store    cache.Store
	fetcher  Fetcher
	rules    strategy.RuleSet
	names    NameSource
	logger   *logrus.Logger
	observer Observer

	revalidateTimeout time.Duration
	inflight          sync.WaitGroup
}

// New validates options and builds an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Names == nil {
		return nil, errors.New("partition names are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	timeout := opts.RevalidateTimeout
	if timeout <= 0 {
		timeout = defaultRevalidateTimeout
	}
	return &Engine{
		store:             opts.Store,
		fetcher:           opts.Fetcher,
		rules:             opts.Rules,
		names:             opts.Names,
		logger:            logger,
		observer:          observer,
		revalidateTimeout: timeout,
	}, nil
}

// Rules returns the classification rules.
func (e *Engine) Rules() strategy.RuleSet {
	return e.rules
}

// Names returns the partitions currently in control.
func (e *Engine) Names() Names {
	return e.names.Names()
}

// Classify picks the strategy for a request.
func (e *Engine) Classify(req *Request) strategy.Kind {
	if req == nil {
		return strategy.Passthrough
	}
	return e.rules.Classify(req.Method, req.URL, req.Header)
}

// Serve classifies and runs a request.
func (e *Engine) Serve(ctx context.Context, req *Request) (Result, error) {
	return e.Run(ctx, e.Classify(req), req)
}

// Run executes a specific strategy. An error means no response could be
// produced; it wraps ErrNetwork or ErrCache.
func (e *Engine) Run(ctx context.Context, kind strategy.Kind, req *Request) (Result, error) {
	if req == nil || req.URL == nil {
		return Result{Strategy: kind}, errors.New("request url is required")
	}

	var (
		result Result
		err    error
	)
	switch kind {
	case strategy.NetworkFirst:
		result, err = e.networkFirst(ctx, req)
	case strategy.CacheFirst:
		result, err = e.cacheFirst(ctx, req)
	case strategy.StaleWhileRevalidate:
		result, err = e.staleWhileRevalidate(ctx, req)
	case strategy.NetworkWithCacheFallback:
		result, err = e.networkWithCacheFallback(ctx, req)
	case strategy.Passthrough:
		result, err = e.passthrough(ctx, req)
	default:
		return Result{Strategy: kind}, fmt.Errorf("unknown strategy %q", kind)
	}
	result.Strategy = kind

	if err != nil {
		e.observer.ObserveFailure(kind, failureReason(err))
		return result, err
	}
	e.observer.ObserveResult(kind, result.Source)
	return result, nil
}

// Wait blocks until background revalidations finish.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

func (e *Engine) fetch(ctx context.Context, req *Request) (*cache.Snapshot, error) {
	snapshot, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		if errors.Is(err, ErrNetwork) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	if snapshot == nil {
		return nil, fmt.Errorf("%w: empty response", ErrNetwork)
	}
	return snapshot, nil
}

// put writes a cacheable response into the named partition and reports
// whether it did. Partial responses and ranged requests are never stored
// because the key carries no range.
func (e *Engine) put(ctx context.Context, partition string, req *Request, snapshot *cache.Snapshot) (bool, error) {
	if !snapshot.Cacheable() || req.Header.Get("Range") != "" {
		return false, nil
	}
	part, err := e.store.Open(ctx, partition)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCache, err)
	}
	stored, err := cache.NewWriter(part).Store(ctx, req.Key(), snapshot)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCache, err)
	}
	return stored, nil
}

// matchPartition looks up one partition without creating it. A miss
// returns (nil, nil).
func (e *Engine) matchPartition(ctx context.Context, partition string, req *Request) (*cache.Entry, error) {
	part, err := e.store.Lookup(ctx, partition)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}
	entry, err := part.Match(ctx, req.Key())
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}
	return entry, nil
}

// matchAny looks up every partition. A miss returns (nil, "", nil).
func (e *Engine) matchAny(ctx context.Context, req *Request) (*cache.Entry, string, error) {
	entry, name, err := e.store.Match(ctx, req.Key())
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("%w: %w", ErrCache, err)
	}
	return entry, name, nil
}

func (e *Engine) logFallback(kind strategy.Kind, partition string, req *Request, hit bool, err error) {
	fields := logging.RequestFields(string(kind), partition, req.Method, req.URL.String(), hit)
	fields["action"] = "strategy"
	if err != nil {
		fields["error"] = err.Error()
	}
	e.logger.WithFields(fields).Debug("network failed, trying cache")
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrCache):
		return "cache"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "other"
	}
}

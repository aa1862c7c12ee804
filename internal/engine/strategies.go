package engine

import (
	"context"
	"fmt"

	"github.com/astra-edge/astra-edge/internal/cache"
	"github.com/astra-edge/astra-edge/internal/logging"
	"github.com/astra-edge/astra-edge/internal/strategy"
)

// networkFirst: origin, then the dynamic copy, then the synthetic 503.
func (e *Engine) networkFirst(ctx context.Context, req *Request) (Result, error) {
	dynamic := e.names.Names().Dynamic

	snapshot, err := e.fetch(ctx, req)
	if err == nil {
		if _, err := e.put(ctx, dynamic, req, snapshot); err != nil {
			return Result{}, err
		}
		return Result{Source: SourceNetwork, Partition: dynamic, Response: snapshot}, nil
	}

	entry, cacheErr := e.matchPartition(ctx, dynamic, req)
	e.logFallback(strategy.NetworkFirst, dynamic, req, entry != nil, err)
	if cacheErr != nil {
		return Result{}, cacheErr
	}
	if entry != nil {
		return Result{Source: SourceCache, Partition: dynamic, Response: entry.Snapshot}, nil
	}
	return Result{Source: SourceSynthetic, Response: OfflineResponse()}, nil
}

// cacheFirst: any partition, then origin into static, then the image
// placeholder. Non-image failures propagate.
func (e *Engine) cacheFirst(ctx context.Context, req *Request) (Result, error) {
	entry, name, err := e.matchAny(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if entry != nil {
		return Result{Source: SourceCache, Partition: name, Response: entry.Snapshot}, nil
	}

	static := e.names.Names().Static
	snapshot, err := e.fetch(ctx, req)
	if err != nil {
		if e.rules.IsImage(req.URL) {
			fields := logging.RequestFields(string(strategy.CacheFirst), static, req.Method, req.URL.String(), false)
			fields["action"] = "strategy"
			fields["error"] = err.Error()
			e.logger.WithFields(fields).Debug("image unavailable, serving placeholder")
			return Result{Source: SourceSynthetic, Response: ImagePlaceholder()}, nil
		}
		return Result{}, err
	}
	if _, err := e.put(ctx, static, req, snapshot); err != nil {
		return Result{}, err
	}
	return Result{Source: SourceNetwork, Partition: static, Response: snapshot}, nil
}

type revalidation struct {
	snapshot *cache.Snapshot
	err      error
}

// staleWhileRevalidate answers from the dynamic partition when it can and
// always refreshes it from origin. The refresh outlives the caller.
func (e *Engine) staleWhileRevalidate(ctx context.Context, req *Request) (Result, error) {
	dynamic := e.names.Names().Dynamic
	entry, err := e.matchPartition(ctx, dynamic, req)
	if err != nil {
		return Result{}, err
	}

	done := make(chan revalidation, 1)
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.revalidateTimeout)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer cancel()
		done <- e.revalidate(bgCtx, dynamic, req)
	}()

	if entry != nil {
		return Result{Source: SourceCache, Partition: dynamic, Response: entry.Snapshot}, nil
	}

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %w", ErrNetwork, ctx.Err())
	case outcome := <-done:
		if outcome.err != nil {
			return Result{}, outcome.err
		}
		return Result{Source: SourceNetwork, Partition: dynamic, Response: outcome.snapshot}, nil
	}
}

func (e *Engine) revalidate(ctx context.Context, partition string, req *Request) revalidation {
	fields := logging.RequestFields(string(strategy.StaleWhileRevalidate), partition, req.Method, req.URL.String(), false)
	fields["action"] = "revalidate"

	snapshot, err := e.fetch(ctx, req)
	if err != nil {
		e.observer.ObserveRevalidation(false, err)
		fields["error"] = err.Error()
		e.logger.WithFields(fields).Debug("revalidate fetch failed")
		return revalidation{err: err}
	}

	// A failed write only costs the next request its fresh copy.
	stored, storeErr := e.put(ctx, partition, req, snapshot)
	e.observer.ObserveRevalidation(stored, storeErr)
	if storeErr != nil {
		fields["error"] = storeErr.Error()
		e.logger.WithFields(fields).Warn("revalidate store failed")
	}
	return revalidation{snapshot: snapshot}
}

// networkWithCacheFallback: origin into dynamic, then any partition.
func (e *Engine) networkWithCacheFallback(ctx context.Context, req *Request) (Result, error) {
	dynamic := e.names.Names().Dynamic

	snapshot, err := e.fetch(ctx, req)
	if err == nil {
		if _, err := e.put(ctx, dynamic, req, snapshot); err != nil {
			return Result{}, err
		}
		return Result{Source: SourceNetwork, Partition: dynamic, Response: snapshot}, nil
	}

	entry, name, cacheErr := e.matchAny(ctx, req)
	e.logFallback(strategy.NetworkWithCacheFallback, name, req, entry != nil, err)
	if cacheErr != nil {
		return Result{}, cacheErr
	}
	if entry != nil {
		return Result{Source: SourceCache, Partition: name, Response: entry.Snapshot}, nil
	}
	return Result{}, err
}

// passthrough forwards untouched and never touches the store.
func (e *Engine) passthrough(ctx context.Context, req *Request) (Result, error) {
	snapshot, err := e.fetch(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return Result{Source: SourceNetwork, Response: snapshot}, nil
}

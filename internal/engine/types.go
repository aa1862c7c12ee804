package engine

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/astra-edge/astra-edge/internal/cache"
	"github.com/astra-edge/astra-edge/internal/strategy"
)

// ErrNetwork marks a transport-level failure reaching the origin.
var ErrNetwork = errors.New("network unavailable")

// ErrCache marks a cache store read or write failure.
var ErrCache = errors.New("cache store failure")

// Fetcher reaches the origin. Any HTTP response, whatever its status, is a
// successful fetch; only transport failures return an error.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.Snapshot, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*cache.Snapshot, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*cache.Snapshot, error) {
	return f(ctx, req)
}

// Request is the engine's view of an intercepted request. URL is absolute.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// NewGetRequest builds a GET request for an absolute URL.
func NewGetRequest(u *url.URL) *Request {
	return &Request{Method: http.MethodGet, URL: u, Header: http.Header{}}
}

// Key returns the cache key of the request.
func (r *Request) Key() cache.Key {
	return cache.NewKey(r.Method, r.URL.String())
}

// Names are the two partitions of the generation currently in control.
type Names struct {
	Static  string `json:"static"`
	Dynamic string `json:"dynamic"`
}

// NameSource reports the current partition names.
type NameSource interface {
	Names() Names
}

// FixedNames is a NameSource that never changes.
type FixedNames Names

// Names implements NameSource.
func (n FixedNames) Names() Names {
	return Names(n)
}

// Source tells where a response came from.
type Source string

const (
	SourceNetwork   Source = "network"
	SourceCache     Source = "cache"
	SourceSynthetic Source = "synthetic"
)

// Result is a response plus how it was produced.
type Result struct {
	Strategy  strategy.Kind
	Source    Source
	Partition string
	Response  *cache.Snapshot
}

// CacheHit reports whether the response was read from a partition.
func (r Result) CacheHit() bool {
	return r.Source == SourceCache
}

// Observer receives per-request outcomes, typically for metrics.
type Observer interface {
	ObserveResult(kind strategy.Kind, source Source)
	ObserveFailure(kind strategy.Kind, reason string)
	ObserveRevalidation(stored bool, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveResult(strategy.Kind, Source)  {}
func (nopObserver) ObserveFailure(strategy.Kind, string) {}
func (nopObserver) ObserveRevalidation(bool, error)      {}

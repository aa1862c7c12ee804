package engine

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/astra-edge/astra-edge/internal/cache"
	"github.com/astra-edge/astra-edge/internal/strategy"
)

const testOrigin = "https://astra.example.org"

var testNames = Names{Static: "astra-static-v1", Dynamic: "astra-dynamic-v1"}

// fakeOrigin serves canned bodies keyed by path and counts calls.
type fakeOrigin struct {
	mu      sync.Mutex
	offline bool
	status  map[string]int
	bodies  map[string]string
	calls   map[string]int
	gate    chan struct{}
}

func newFakeOrigin() *fakeOrigin {
	return &fakeOrigin{
		status: map[string]int{},
		bodies: map[string]string{},
		calls:  map[string]int{},
	}
}

func (o *fakeOrigin) set(path, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bodies[path] = body
}

func (o *fakeOrigin) setStatus(path string, status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status[path] = status
}

func (o *fakeOrigin) setOffline(offline bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offline = offline
}

func (o *fakeOrigin) count(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[path]
}

func (o *fakeOrigin) Fetch(ctx context.Context, req *Request) (*cache.Snapshot, error) {
	o.mu.Lock()
	gate := o.gate
	o.mu.Unlock()
	if gate != nil {
		<-gate
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[req.URL.Path]++
	if o.offline {
		return nil, errors.New("dial tcp: connection refused")
	}
	status := o.status[req.URL.Path]
	if status == 0 {
		status = http.StatusOK
	}
	header := http.Header{}
	header.Set("Content-Type", "text/plain")
	header.Set("X-Origin-Path", req.URL.Path)
	return &cache.Snapshot{Status: status, Header: header, Body: []byte(o.bodies[req.URL.Path])}, nil
}

func newTestEngine(t *testing.T, origin Fetcher) (*Engine, cache.Store) {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	return newEngineWithStore(t, store, origin), store
}

func newEngineWithStore(t *testing.T, store cache.Store, origin Fetcher) *Engine {
	t.Helper()
	eng, err := New(Options{
		Store:   store,
		Fetcher: origin,
		Rules: strategy.NewRuleSet(
			[]string{"/api/", "/chat/", "/analytics/"},
			[]string{".js", ".css", ".woff2", ".png", ".jpg", ".svg"},
			[]string{".jpg", ".jpeg", ".png", ".gif", ".webp"},
		),
		Names: FixedNames(testNames),
	})
	require.NoError(t, err)
	t.Cleanup(eng.Wait)
	return eng
}

func getRequest(t *testing.T, path string, accept string) *Request {
	t.Helper()
	u, err := url.Parse(testOrigin + path)
	require.NoError(t, err)
	req := NewGetRequest(u)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return req
}

func seed(t *testing.T, store cache.Store, partition string, req *Request, body string) {
	t.Helper()
	part, err := store.Open(context.Background(), partition)
	require.NoError(t, err)
	header := http.Header{}
	header.Set("Content-Type", "text/plain")
	require.NoError(t, part.Put(context.Background(), req.Key(), &cache.Snapshot{
		Status: http.StatusOK,
		Header: header,
		Body:   []byte(body),
	}))
}

func stored(t *testing.T, store cache.Store, partition string, req *Request) *cache.Entry {
	t.Helper()
	part, err := store.Open(context.Background(), partition)
	require.NoError(t, err)
	entry, err := part.Match(context.Background(), req.Key())
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	require.NoError(t, err)
	return entry
}

func TestNewRequiresCollaborators(t *testing.T) {
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = New(Options{Fetcher: newFakeOrigin(), Names: FixedNames(testNames)})
	require.Error(t, err)
	_, err = New(Options{Store: store, Names: FixedNames(testNames)})
	require.Error(t, err)
	_, err = New(Options{Store: store, Fetcher: newFakeOrigin()})
	require.Error(t, err)
}

func TestNetworkFirstStoresSuccessInDynamic(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("/api/chat", "fresh")
	eng, store := newTestEngine(t, origin)
	req := getRequest(t, "/api/chat", "")

	result, err := eng.Serve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, strategy.NetworkFirst, result.Strategy)
	require.Equal(t, SourceNetwork, result.Source)
	require.Equal(t, "fresh", string(result.Response.Body))

	entry := stored(t, store, testNames.Dynamic, req)
	require.NotNil(t, entry)
	require.Equal(t, "fresh", string(entry.Snapshot.Body))
	require.Nil(t, stored(t, store, testNames.Static, req))
}

func TestNetworkFirstOfflineServesDynamicCopy(t *testing.T) {
	origin := newFakeOrigin()
	origin.setOffline(true)
	eng, store := newTestEngine(t, origin)
	req := getRequest(t, "/api/chat", "")
	seed(t, store, testNames.Dynamic, req, "earlier")

	result, err := eng.Serve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.CacheHit())
	require.Equal(t, "earlier", string(result.Response.Body))
}

func TestNetworkFirstOfflineWithoutCopyReturns503(t *testing.T) {
	origin := newFakeOrigin()
	origin.setOffline(true)
	eng, store := newTestEngine(t, origin)
	req := getRequest(t, "/api/chat", "")
	// A static copy must not satisfy network-first.
	seed(t, store, testNames.Static, req, "static copy")

	result, err := eng.Serve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, SourceSynthetic, result.Source)
	require.Equal(t, http.StatusServiceUnavailable, result.Response.Status)
	require.Equal(t, "Offline - Please check your connection", string(result.Response.Body))
}

func TestNetworkFirstDoesNotStoreNonOK(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("/api/missing", "nope")
	origin.setStatus("/api/missing", http.StatusNotFound)
	eng, store := newTestEngine(t, origin)
	req := getRequest(t, "/api/missing", "")

	result, err := eng.Serve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, result.Response.Status)
	require.Nil(t, stored(t, store, testNames.Dynamic, req))
}

func TestCacheFirstHitNeverTouchesNetwork(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("/styles.css", "from origin")
	eng, store := newTestEngine(t, origin)
	req := getRequest(t, "/styles.css", "")
	seed(t, store, testNames.Static, req, "body{}")

	for i := 0; i < 3; i++ {
		result, err := eng.Serve(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, strategy.CacheFirst, result.Strategy)
		require.Equal(t, "body{}", string(result.Response.Body))
		require.Equal(t, testNames.Static, result.Partition)
	}
	require.Zero(t, origin.count("/styles.css"))
}

func TestCacheFirstLooksUpEveryPartition(t *testing.T) {
	origin := newFakeOrigin()
	eng, store := newTestEngine(t, origin)
	req := getRequest(t, "/script.js", "")
	seed(t, store, "astra-static-v0", req, "old build")

	result, err := eng.Serve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "astra-static-v0", result.Partition)
	require.Equal(t, "old build", string(result.Response.Body))
	require.Zero(t, origin.count("/script.js"))
}

func TestCacheFirstMissStoresInStatic(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("/styles.css", "body{}")
	eng, store := newTestEngine(t, origin)
	req := getRequest(t, "/styles.css", "")

	result, err := eng.Serve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, SourceNetwork, result.Source)

	entry := stored(t, store, testNames.Static, req)
	require.NotNil(t, entry)
	require.Equal(t, "body{}", string(entry.Snapshot.Body))
	require.Equal(t, "/styles.css", entry.Snapshot.Header.Get("X-Origin-Path"))
}

func TestCacheFirstImageFailureReturnsPlaceholder(t *testing.T) {
	origin := newFakeOrigin()
	origin.setOffline(true)
	eng, store := newTestEngine(t, origin)
	req := getRequest(t, "/hero.jpg", "")

	result, err := eng.Serve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, SourceSynthetic, result.Source)
	require.Equal(t, http.StatusOK, result.Response.Status)
	require.Equal(t, "image/svg+xml", result.Response.Header.Get("Content-Type"))
	require.Empty(t, result.Response.Body)
	require.Nil(t, stored(t, store, testNames.Static, req))
}

func TestCacheFirstNonImageFailurePropagates(t *testing.T) {
	origin := newFakeOrigin()
	origin.setOffline(true)
	eng, _ := newTestEngine(t, origin)

	// .svg is cache-first but not in the image placeholder set.
	for _, path := range []string{"/script.js", "/logo.svg"} {
		_, err := eng.Serve(context.Background(), getRequest(t, path, ""))
		require.ErrorIs(t, err, ErrNetwork, path)
	}
}

func TestStaleWhileRevalidateReturnsCachedThenRefreshes(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("/about", "<p>new</p>")
	origin.gate = make(chan struct{})
	eng, store := newTestEngine(t, origin)
	req := getRequest(t, "/about", "text/html")
	seed(t, store, testNames.Dynamic, req, "<p>old</p>")

	result, err := eng.Serve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, strategy.StaleWhileRevalidate, result.Strategy)
	require.Equal(t, "<p>old</p>", string(result.Response.Body))

	// The refresh is still blocked on the origin, so the partition holds old bytes.
	require.Equal(t, "<p>old</p>", string(stored(t, store, testNames.Dynamic, req).Snapshot.Body))

	close(origin.gate)
	eng.Wait()
	require.Equal(t, "<p>new</p>", string(stored(t, store, testNames.Dynamic, req).Snapshot.Body))
}

func TestStaleWhileRevalidateEmptyCacheWaitsForNetwork(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("/", "<html>home</html>")
	eng, store := newTestEngine(t, origin)
	req := getRequest(t, "/", "text/html,application/xhtml+xml")

	result, err := eng.Serve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, SourceNetwork, result.Source)
	require.Equal(t, "<html>home</html>", string(result.Response.Body))

	eng.Wait()
	require.NotNil(t, stored(t, store, testNames.Dynamic, req))
}

func TestStaleWhileRevalidateEmptyCacheOfflinePropagates(t *testing.T) {
	origin := newFakeOrigin()
	origin.setOffline(true)
	eng, _ := newTestEngine(t, origin)

	_, err := eng.Serve(context.Background(), getRequest(t, "/about", "text/html"))
	require.ErrorIs(t, err, ErrNetwork)
}

func TestStaleWhileRevalidateSurvivesCallerCancel(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("/about", "<p>new</p>")
	eng, store := newTestEngine(t, origin)
	req := getRequest(t, "/about", "text/html")
	seed(t, store, testNames.Dynamic, req, "<p>old</p>")

	ctx, cancel := context.WithCancel(context.Background())
	_, err := eng.Serve(ctx, req)
	require.NoError(t, err)
	cancel()

	eng.Wait()
	require.Equal(t, "<p>new</p>", string(stored(t, store, testNames.Dynamic, req).Snapshot.Body))
}

func TestNetworkWithCacheFallback(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("/feed", "v2")
	eng, store := newTestEngine(t, origin)
	req := getRequest(t, "/feed", "application/json")

	result, err := eng.Serve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, strategy.NetworkWithCacheFallback, result.Strategy)
	require.Equal(t, "v2", string(stored(t, store, testNames.Dynamic, req).Snapshot.Body))

	origin.setOffline(true)
	result, err = eng.Serve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.CacheHit())
	require.Equal(t, "v2", string(result.Response.Body))

	_, err = eng.Serve(context.Background(), getRequest(t, "/other", ""))
	require.ErrorIs(t, err, ErrNetwork)
}

func TestNetworkWithCacheFallbackUsesAnyPartition(t *testing.T) {
	origin := newFakeOrigin()
	origin.setOffline(true)
	eng, store := newTestEngine(t, origin)
	req := getRequest(t, "/manifest.json", "")
	seed(t, store, testNames.Static, req, `{"name":"ASTRA"}`)

	result, err := eng.Serve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, testNames.Static, result.Partition)
}

func TestPassthroughNeverTouchesStore(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("/api/contact", "accepted")
	eng, store := newTestEngine(t, origin)
	req := getRequest(t, "/api/contact", "")
	req.Method = http.MethodPost

	result, err := eng.Serve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, strategy.Passthrough, result.Strategy)
	require.Equal(t, "accepted", string(result.Response.Body))

	names, err := store.Names(context.Background())
	require.NoError(t, err)
	require.Empty(t, names)
}

type brokenStore struct {
	cache.Store
}

func (brokenStore) Open(context.Context, string) (cache.Partition, error) {
	return nil, errors.New("disk full")
}

func TestCacheWriteFailurePropagates(t *testing.T) {
	base, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	origin := newFakeOrigin()
	origin.set("/api/chat", "fresh")
	eng := newEngineWithStore(t, brokenStore{Store: base}, origin)

	_, err = eng.Serve(context.Background(), getRequest(t, "/api/chat", ""))
	require.ErrorIs(t, err, ErrCache)
}

func TestFirstVisitThenOfflineScenario(t *testing.T) {
	origin := newFakeOrigin()
	origin.set("/styles.css", "body{color:#fff}")
	eng, _ := newTestEngine(t, origin)

	first, err := eng.Serve(context.Background(), getRequest(t, "/styles.css", ""))
	require.NoError(t, err)
	require.Equal(t, SourceNetwork, first.Source)
	require.Equal(t, 1, origin.count("/styles.css"))

	origin.setOffline(true)
	second, err := eng.Serve(context.Background(), getRequest(t, "/styles.css", ""))
	require.NoError(t, err)
	require.Equal(t, SourceCache, second.Source)
	require.Equal(t, first.Response.Body, second.Response.Body)
	require.Equal(t, 1, origin.count("/styles.css"))
}

type recordingObserver struct {
	mu       sync.Mutex
	results  []Source
	failures []string
}

func (r *recordingObserver) ObserveResult(_ strategy.Kind, source Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, source)
}

func (r *recordingObserver) ObserveFailure(_ strategy.Kind, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, reason)
}

func (r *recordingObserver) ObserveRevalidation(bool, error) {}

func TestObserverSeesOutcomes(t *testing.T) {
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	origin := newFakeOrigin()
	origin.setOffline(true)
	observer := &recordingObserver{}
	eng, err := New(Options{
		Store:    store,
		Fetcher:  origin,
		Rules:    strategy.NewRuleSet([]string{"/api/"}, []string{".js"}, nil),
		Names:    FixedNames(testNames),
		Observer: observer,
	})
	require.NoError(t, err)

	_, _ = eng.Serve(context.Background(), getRequest(t, "/api/x", ""))
	_, _ = eng.Serve(context.Background(), getRequest(t, "/app.js", ""))

	require.Equal(t, []Source{SourceSynthetic}, observer.results)
	require.Equal(t, []string{"network"}, observer.failures)
}

// sessionOrigin answers every path with a per-user cookie and, for ranged
// requests, a 206 slice of the full body.
type sessionOrigin struct {
	mu      sync.Mutex
	offline bool
	body    string
}

func (o *sessionOrigin) setOffline(offline bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offline = offline
}

func (o *sessionOrigin) Fetch(_ context.Context, req *Request) (*cache.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.offline {
		return nil, errors.New("dial tcp: connection refused")
	}
	header := http.Header{}
	header.Set("Content-Type", "application/octet-stream")
	header.Add("Set-Cookie", "session=alice-secret; HttpOnly")
	header.Add("Set-Cookie2", "legacy=alice")
	if req.Header.Get("Range") == "bytes=0-3" {
		header.Set("Content-Range", "bytes 0-3/16")
		return &cache.Snapshot{Status: http.StatusPartialContent, Header: header, Body: []byte(o.body[:4])}, nil
	}
	return &cache.Snapshot{Status: http.StatusOK, Header: header, Body: []byte(o.body)}, nil
}

func TestCachedReplayDropsSetCookie(t *testing.T) {
	origin := &sessionOrigin{body: "alice data"}
	eng, store := newTestEngine(t, origin)

	first, err := eng.Serve(context.Background(), getRequest(t, "/api/me", ""))
	require.NoError(t, err)
	require.Equal(t, SourceNetwork, first.Source)
	require.Equal(t, "session=alice-secret; HttpOnly", first.Response.Header.Get("Set-Cookie"))

	entry := stored(t, store, testNames.Dynamic, getRequest(t, "/api/me", ""))
	require.NotNil(t, entry)
	require.Empty(t, entry.Snapshot.Header.Values("Set-Cookie"))
	require.Empty(t, entry.Snapshot.Header.Values("Set-Cookie2"))
	require.Equal(t, "application/octet-stream", entry.Snapshot.Header.Get("Content-Type"))

	origin.setOffline(true)
	second, err := eng.Serve(context.Background(), getRequest(t, "/api/me", ""))
	require.NoError(t, err)
	require.True(t, second.CacheHit())
	require.Equal(t, "alice data", string(second.Response.Body))
	require.Empty(t, second.Response.Header.Values("Set-Cookie"))
}

func TestRangedRequestIsNeverStored(t *testing.T) {
	origin := &sessionOrigin{body: "0123456789abcdef"}
	eng, store := newTestEngine(t, origin)

	ranged := getRequest(t, "/hero.jpg", "")
	ranged.Header.Set("Range", "bytes=0-3")
	partial, err := eng.Serve(context.Background(), ranged)
	require.NoError(t, err)
	require.Equal(t, http.StatusPartialContent, partial.Response.Status)
	require.Equal(t, "0123", string(partial.Response.Body))
	require.Nil(t, stored(t, store, testNames.Static, getRequest(t, "/hero.jpg", "")))

	full, err := eng.Serve(context.Background(), getRequest(t, "/hero.jpg", ""))
	require.NoError(t, err)
	require.Equal(t, SourceNetwork, full.Source)
	require.Equal(t, http.StatusOK, full.Response.Status)
	require.Len(t, full.Response.Body, 16)

	origin.setOffline(true)
	cached, err := eng.Serve(context.Background(), getRequest(t, "/hero.jpg", ""))
	require.NoError(t, err)
	require.True(t, cached.CacheHit())
	require.Equal(t, "0123456789abcdef", string(cached.Response.Body))
}

func TestPartialResponseWithoutRangeIsNotStored(t *testing.T) {
	eng, store := newTestEngine(t, FetcherFunc(func(context.Context, *Request) (*cache.Snapshot, error) {
		return &cache.Snapshot{Status: http.StatusPartialContent, Header: http.Header{}, Body: []byte("0123")}, nil
	}))
	req := getRequest(t, "/api/stream", "")

	result, err := eng.Serve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusPartialContent, result.Response.Status)
	require.Nil(t, stored(t, store, testNames.Dynamic, req))
}

func TestOfflineLookupDoesNotCreatePartitions(t *testing.T) {
	origin := newFakeOrigin()
	origin.setOffline(true)
	eng, store := newTestEngine(t, origin)

	result, err := eng.Serve(context.Background(), getRequest(t, "/api/chat", ""))
	require.NoError(t, err)
	require.Equal(t, SourceSynthetic, result.Source)

	_, err = eng.Serve(context.Background(), getRequest(t, "/", "text/html"))
	require.Error(t, err)
	eng.Wait()

	names, err := store.Names(context.Background())
	require.NoError(t, err)
	require.Empty(t, names)
}

package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/astra-edge/astra-edge/internal/cache"
	"github.com/astra-edge/astra-edge/internal/engine"
)

// OriginFetcher implements engine.Fetcher over the shared origin client.
type OriginFetcher struct {
	client *http.Client
}

// NewOriginFetcher wraps client.
func NewOriginFetcher(client *http.Client) *OriginFetcher {
	return &OriginFetcher{client: client}
}

// Fetch sends req to the origin and buffers the full response. Any HTTP
// status is a successful fetch; transport errors wrap engine.ErrNetwork.
func (f *OriginFetcher) Fetch(ctx context.Context, req *engine.Request) (*cache.Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build origin request: %w", err)
	}
	CopyHeaders(httpReq.Header, req.Header)
	// 由 Transport 协商压缩并透明解压，缓存中保存的始终是原始正文。
	httpReq.Header.Del("Accept-Encoding")
	httpReq.Header.Del("Host")
	httpReq.Host = req.URL.Host

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrNetwork, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", engine.ErrNetwork, err)
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	return &cache.Snapshot{
		Status: resp.StatusCode,
		Header: header,
		Body:   payload,
	}, nil
}

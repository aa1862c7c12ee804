package engine

import (
	"net/http"

	"github.com/astra-edge/astra-edge/internal/cache"
	"github.com/astra-edge/astra-edge/internal/strategy"
)

// OfflineResponse is returned by network-first when the origin is unreachable
// and the dynamic partition has no copy.
func OfflineResponse() *cache.Snapshot {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return &cache.Snapshot{
		Status: http.StatusServiceUnavailable,
		Header: header,
		Body:   []byte(strategy.OfflineMessage),
	}
}

// ImagePlaceholder stands in for an image that is neither cached nor
// reachable.
func ImagePlaceholder() *cache.Snapshot {
	header := http.Header{}
	header.Set("Content-Type", "image/svg+xml")
	return &cache.Snapshot{
		Status: http.StatusOK,
		Header: header,
		Body:   []byte{},
	}
}

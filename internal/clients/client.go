// package clients implements the per-service protocol adapters. Each
// service hides its authentication scheme, API grammar and stream
// protection behind the same Client interface; everything above this
// package is service-agnostic.
package clients

import (
	"context"
	"encoding/json"

	"github.com/nathom/streamrip-sub000/internal/urls"
)

// Client is the uniform surface of one streaming service.
type Client interface {
	// Source names the service ("qobuz", "deezer", "tidal", "soundcloud").
	Source() string
	// MaxQuality is the highest universal quality tier the service can
	// serve with the current account.
	MaxQuality() int
	// Login authenticates using the credentials in the config section and
	// caches any session material it discovers (app ids, tokens).
	Login(ctx context.Context) error
	// LoggedIn reports whether Login completed successfully.
	LoggedIn() bool
	// GetMetadata fetches the full raw metadata document for an item.
	// Paginated listings are followed to exhaustion before returning.
	GetMetadata(ctx context.Context, id string, mediaType urls.MediaType) (json.RawMessage, error)
	// Search returns raw result documents for a query, at most limit.
	Search(ctx context.Context, mediaType urls.MediaType, query string, limit int) ([]json.RawMessage, error)
	// GetDownloadable resolves an item id and requested quality tier into
	// a ready-to-fetch stream handle.
	GetDownloadable(ctx context.Context, id string, quality int) (Downloadable, error)
}

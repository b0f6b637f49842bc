package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors surfaced by the sync pipeline.
var (
	// ErrExtractionFailed wraps upstream fetch or parse failures. A cycle
	// that hits one aborts before touching the store.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrStoreUnavailable indicates the persisted document is missing or
	// unreadable. Callers recover by starting from an empty document.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrBusy indicates a cycle could not acquire the store before the
	// caller's context expired.
	ErrBusy = errors.New("a sync cycle is already running")
)

// WishlistNotFoundError reports a failed wishlist removal along with the
// current entries, so callers can echo them back to the user.
type WishlistNotFoundError struct {
	Phrase  string
	Entries []string
}

func (e *WishlistNotFoundError) Error() string {
	return fmt.Sprintf("%s not found in wish list. Wish list items are: %s.",
		e.Phrase, strings.Join(e.Entries, ", "))
}

// SearchConfig identifies one upstream search to extract.
type SearchConfig struct {
	Category Category
	URL      string
	// ScriptSelector locates the embedded JSON state node in the returned
	// HTML, e.g. `script[type="application/json"][data-iso-key="_0"]`.
	ScriptSelector string
}

// Extractor fetches an upstream search and returns the raw item records
// embedded in the response.
type Extractor interface {
	Extract(ctx context.Context, search SearchConfig) ([]RawRecord, error)
}

// AvailabilityProber returns the physical copies of an item and their
// per-branch status.
type AvailabilityProber interface {
	Copies(ctx context.Context, itemID string) ([]Copy, error)
}

// Notifier delivers one alert message to an external channel. Failures are
// logged by the caller and never block or roll back a cycle.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// Archiver stores a raw upstream payload and returns a URI for it.
type Archiver interface {
	Archive(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

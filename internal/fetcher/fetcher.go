package fetcher

import (
	"context"

	"github.com/fairwaylabs/coursehound/internal/types"
)

// Fetcher is the capability exposed by the static and dynamic backends.
// Implementations classify their own failures: a returned error is always a
// *types.ScrapingError carrying the retryable flag the manager acts on.
type Fetcher interface {
	// Fetch retrieves and extracts a course record from the target URL.
	Fetch(ctx context.Context, target *types.ScrapingTarget, opts *types.ScrapingOptions) (*types.ProcessingResult, error)

	// Close releases any resources held by the fetcher.
	Close() error

	// Method returns the fetch method this backend implements.
	Method() types.FetchMethod
}

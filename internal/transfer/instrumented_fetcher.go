package transfer

import (
	"context"
	"errors"

	"github.com/italolelis/sgdl/internal/telemetry"
)

// InstrumentedFetcher wraps a Fetcher with telemetry.
type InstrumentedFetcher struct {
	fetcher   Fetcher
	telemetry *telemetry.Telemetry
}

// NewInstrumentedFetcher creates a new instrumented fetcher.
func NewInstrumentedFetcher(fetcher Fetcher, tel *telemetry.Telemetry) *InstrumentedFetcher {
	return &InstrumentedFetcher{
		fetcher:   fetcher,
		telemetry: tel,
	}
}

// Fetch opens the content with telemetry. Full and resumed requests are reported as
// separate operations.
func (f *InstrumentedFetcher) Fetch(ctx context.Context, url string, offset int64) (*Response, error) {
	operation := "fetch"
	if offset > 0 {
		operation = "resume"
	}

	var (
		result   *Response
		fetchErr error
	)

	err := f.telemetry.InstrumentFetchOperation(ctx, operation, func(ctx context.Context) error {
		result, fetchErr = f.fetcher.Fetch(ctx, url, offset)

		// A 416 is an expected answer that the task recovers from.
		if errors.Is(fetchErr, ErrRangeNotSatisfiable) {
			return nil
		}

		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	return result, fetchErr
}

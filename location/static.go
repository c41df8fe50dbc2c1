package location

import (
	"context"
	"fmt"
	"time"
)

// StaticProvider returns a fixed coordinate as a fresh fix. It backs the CLI,
// where the operator supplies coordinates by flag, and stands in for a real
// platform adapter in environments without a location capability.
type StaticProvider struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
}

// Acquire returns a fresh fix stamped at call time.
func (p *StaticProvider) Acquire(ctx context.Context, opts Options) (*Fix, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewError(CodeTimeout, err)
	}
	if p.AccuracyMeters < 0 {
		return nil, NewError(CodeUnavailable, fmt.Errorf("negative accuracy %f", p.AccuracyMeters))
	}
	return &Fix{
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		AccuracyMeters: p.AccuracyMeters,
		CapturedAt:     time.Now(),
	}, nil
}

// Unsupported is a Provider for platforms with no location capability.
// Every acquisition fails with CodeUnsupported.
var Unsupported Provider = ProviderFunc(func(ctx context.Context, opts Options) (*Fix, error) {
	return nil, NewError(CodeUnsupported, nil)
})

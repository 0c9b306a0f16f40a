package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/turmoilwatch/internal/watch"
)

// ErrUnavailable is returned when headless rendering is disabled.
var ErrUnavailable = errors.New("headless fetcher not configured")

// Noop implements watch.Fetcher for deployments without a browser.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always returns ErrUnavailable.
func (Noop) Fetch(_ context.Context, _ watch.FetchRequest) (watch.FetchResponse, error) {
	return watch.FetchResponse{}, ErrUnavailable
}

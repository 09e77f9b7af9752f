// Package capture obtains the roadmap "initial" response together with the cookie header of the
// request that loaded it.
package capture

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned by Next when a source has nothing more to deliver.
var ErrExhausted = errors.New("capture source exhausted")

// Capture is one intercepted initial response.
type Capture struct {
	URL          string
	Body         []byte
	CookieHeader string
	CapturedAt   time.Time
}

// Source yields captured initial responses. Next blocks until a capture is available, the source
// is exhausted, or ctx is done.
type Source interface {
	Next(ctx context.Context) (Capture, error)
	Close() error
}

// Package gateway guards the file lifecycle engine. A request reaches the engine
// only after its signature is authorized and the bucket's lock allows its method.
package gateway

import (
	"context"
	"net/http"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
	"github.com/LeeDigitalWorks/blobgate/pkg/bucket"
)

// Authorizer validates a signed request and returns the bucket it names.
type Authorizer interface {
	Authorize(r *http.Request, errPrefix string, allowed ...string) (bucket.Config, error)
}

// LockChecker fails when method is locked for a bucket.
type LockChecker interface {
	Check(ctx context.Context, bucketID, method string) error
}

type Guard struct {
	auth  Authorizer
	locks LockChecker
}

func NewGuard(auth Authorizer, locks LockChecker) *Guard {
	return &Guard{auth: auth, locks: locks}
}

// Check authorizes r, then applies the bucket lock of the bucket it resolved to.
func (g *Guard) Check(r *http.Request, errPrefix string, allowed ...string) (bucket.Config, error) {
	cfg, err := g.auth.Authorize(r, errPrefix, allowed...)
	if err != nil {
		observe("unauthorized", err)
		return bucket.Config{}, err
	}
	if err := g.locks.Check(r.Context(), cfg.InternalID, r.Method); err != nil {
		observe("locked", err)
		return bucket.Config{}, err
	}
	checksTotal.WithLabelValues("allowed").Inc()
	return cfg, nil
}

func observe(result string, err error) {
	checksTotal.WithLabelValues(result).Inc()
	rejections.WithLabelValues(apierr.IDOf(err)).Inc()
}

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
	"github.com/LeeDigitalWorks/blobgate/pkg/bucket"
	"github.com/LeeDigitalWorks/blobgate/pkg/logger"
)

// RequestIDHeader carries the id assigned to each guarded request.
const RequestIDHeader = "X-Request-Id"

type bucketKey struct{}

// BucketFromContext returns the bucket a guarded handler was authorized for.
func BucketFromContext(ctx context.Context) (bucket.Config, bool) {
	cfg, ok := ctx.Value(bucketKey{}).(bucket.Config)
	return cfg, ok
}

// requestIDs hands out ids of the form <instance prefix><counter>.
type requestIDs struct {
	prefix  string
	counter atomic.Uint64
}

func newRequestIDs() *requestIDs {
	return &requestIDs{prefix: uuid.New().String()[0:8]}
}

func (g *requestIDs) next() string {
	return g.prefix + strconv.FormatUint(g.counter.Add(1), 10)
}

// Middleware runs Check before next. Rejected requests get a JSON error body; the
// authorized bucket and a request-scoped logger are attached to the context.
func (g *Guard) Middleware(errPrefix string, allowed []string, next http.Handler) http.Handler {
	ids := newRequestIDs()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ids.next()
		w.Header().Set(RequestIDHeader, id)

		l := logger.Ctx(r.Context()).With().Str("request_id", id).Logger()
		ctx := logger.WithLogger(r.Context(), &l)

		cfg, err := g.Check(r.WithContext(ctx), errPrefix, allowed...)
		if err != nil {
			l.Debug().Err(err).Str("method", r.Method).Msg("request rejected")
			WriteError(w, err)
			return
		}

		ctx = context.WithValue(ctx, bucketKey{}, cfg)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ErrorResponse is the JSON body of a rejected request.
type ErrorResponse struct {
	ErrorID string `json:"errorId"`
	Message string `json:"message"`
}

// WriteError answers with the status of err's kind. Untyped errors are 500s and
// their message is not exposed.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := ErrorResponse{ErrorID: apierr.InternalErrorID, Message: "internal error"}
	if e, ok := apierr.As(err); ok {
		status = e.HTTPStatusCode()
		body = ErrorResponse{ErrorID: e.ID, Message: e.Message}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn().Err(err).Msg("failed to write error response")
	}
}

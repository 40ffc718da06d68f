package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/kioscopos/backend/internal/observability"
	"github.com/kioscopos/backend/internal/observability/logger"
)

// IdempotencyKeyHeader is supplied by clients on mutating ledger
// requests so a retried submission cannot double-apply an operation.
const IdempotencyKeyHeader = "Idempotency-Key"

type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (cw *captureWriter) WriteHeader(status int) {
	cw.status = status
	cw.ResponseWriter.WriteHeader(status)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	cw.body.Write(b)
	return cw.ResponseWriter.Write(b)
}

// Idempotency replays the stored response for a previously seen
// Idempotency-Key instead of re-running the handler. Requests without
// the header pass through untouched. With a nil client (redis down or
// not configured) it is a no-op; the unique key on the movements table
// still stops duplicates, the client just gets a conflict instead of
// the original response.
func Idempotency(rdb *redis.Client, ttl time.Duration) func(http.Handler) http.Handler {
	log := logger.Named("idempotency")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" || rdb == nil {
				next.ServeHTTP(w, r)
				return
			}

			cacheKey := "idem:" + r.Method + ":" + r.URL.Path + ":" + key
			if raw, err := rdb.Get(r.Context(), cacheKey).Bytes(); err == nil {
				var cached cachedResponse
				if json.Unmarshal(raw, &cached) == nil {
					observability.IdempotencyHits.Inc()
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("X-Idempotency-Hit", "true")
					w.WriteHeader(cached.Status)
					w.Write(cached.Body)
					return
				}
			}

			cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(cw, r)

			// Only replayable outcomes are cached; a 5xx should be retried
			// for real.
			if cw.status >= 500 || cw.body.Len() == 0 {
				return
			}

			raw, err := json.Marshal(cachedResponse{Status: cw.status, Body: cw.body.Bytes()})
			if err != nil {
				return
			}
			// The request context may already be done; storing the replay
			// entry must not depend on it.
			if err := rdb.Set(context.Background(), cacheKey, raw, ttl).Err(); err != nil {
				log.Warn("failed to store idempotency entry", zap.String("key", key), zap.Error(err))
			}
		})
	}
}

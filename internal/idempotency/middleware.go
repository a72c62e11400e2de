package idempotency

import (
	"bytes"
	"net/http"
	"time"
)

const (
	// HeaderKey is the request header clients send to make a mutation
	// replayable. The apply and issue endpoints honor it.
	HeaderKey = "Idempotency-Key"

	// HeaderReplay marks a response that was served from the store
	// instead of re-running the handler.
	HeaderReplay = "X-Idempotency-Replay"

	// DefaultTTL bounds how long a recorded response stays replayable.
	DefaultTTL = 24 * time.Hour
)

// recorder wraps http.ResponseWriter to capture status, headers, and body
// so a successful response can be stored for replay.
type recorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *recorder) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *recorder) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (rw *recorder) snapshotHeaders() map[string]string {
	headers := make(map[string]string, len(rw.ResponseWriter.Header()))
	for key := range rw.ResponseWriter.Header() {
		headers[key] = rw.ResponseWriter.Header().Get(key)
	}
	return headers
}

// Middleware replays recorded responses for repeated Idempotency-Key values.
// Requests without the header pass through untouched. Only 2xx responses are
// recorded, so a client can retry a failed apply with the same key.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			// Scope the key by method and path so the same client key
			// cannot collide across endpoints.
			key := r.Method + ":" + r.URL.Path + ":" + rawKey

			if cached, found := store.Get(r.Context(), key); found {
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set(HeaderReplay, "true")
				w.WriteHeader(cached.StatusCode)
				w.Write(cached.Body)
				return
			}

			rw := &recorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			if rw.statusCode >= 200 && rw.statusCode < 300 {
				store.Set(r.Context(), key, &Response{
					StatusCode: rw.statusCode,
					Headers:    rw.snapshotHeaders(),
					Body:       rw.body.Bytes(),
					CachedAt:   time.Now(),
				}, ttl)
			}
		})
	}
}

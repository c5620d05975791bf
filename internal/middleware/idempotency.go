package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/folioforge/backend/internal/contextkeys"
	"github.com/folioforge/backend/internal/handler"
	"github.com/folioforge/backend/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	// inFlightTTL bounds how long a crashed request can hold its key.
	inFlightTTL = time.Minute
	inFlight    = "processing"
)

// cachedResponse stores the response for idempotent requests.
type cachedResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	Headers    http.Header     `json:"headers"`
}

// captureWriter copies the response body while writing it through.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *captureWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the stored response of a POST/PUT/PATCH carrying an
// Idempotency-Key already seen for the same user, so a double-clicked
// checkout does not open two pending payments. The key is reserved with
// SETNX before the handler runs; a request arriving while the first is still
// in flight gets 409. A nil client disables it.
func Idempotency(client *redis.Client) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if client == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only apply to mutating methods.
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(idempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			log := logger.FromContext(ctx)
			userID, _ := ctx.Value(contextkeys.UserID).(string)
			cacheKey := "idempotency:" + userID + ":" + r.URL.Path + ":" + key

			reserved, err := client.SetNX(ctx, cacheKey, inFlight, inFlightTTL).Result()
			if err != nil {
				// Redis error - proceed without idempotency.
				log.Warn("idempotency reservation failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !reserved {
				replay(w, r, client, cacheKey)
				return
			}

			stored := false
			defer func() {
				if stored {
					return
				}
				// Failed or panicked: free the key so the client can retry.
				if err := client.Del(context.WithoutCancel(ctx), cacheKey).Err(); err != nil {
					log.Warn("idempotency release failed", zap.Error(err))
				}
			}()

			cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(cw, r)

			if cw.status >= 200 && cw.status < 500 {
				response := cachedResponse{
					StatusCode: cw.status,
					Body:       cw.body.Bytes(),
					Headers:    extractResponseHeaders(cw.Header()),
				}
				if err := setCachedResponse(context.WithoutCancel(ctx), client, cacheKey, &response, idempotencyTTL); err != nil {
					log.Warn("idempotency store failed", zap.Error(err))
					return
				}
				stored = true
			}
		})
	}
}

// replay answers a request whose key is already taken: with the stored
// response when the first request finished, with 409 while it is in flight.
func replay(w http.ResponseWriter, r *http.Request, client *redis.Client, cacheKey string) {
	ctx := r.Context()
	cached, err := getCachedResponse(ctx, client, cacheKey)
	if err != nil || cached == nil {
		if err != nil && !errors.Is(err, redis.Nil) {
			logger.FromContext(ctx).Warn("idempotency lookup failed", zap.Error(err))
		}
		w.Header().Set("Retry-After", "1")
		handler.JSON(w, http.StatusConflict, map[string]string{
			"error": "a request with this Idempotency-Key is already in progress",
		})
		return
	}
	for k, v := range cached.Headers {
		for _, val := range v {
			w.Header().Add(k, val)
		}
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}

// getCachedResponse retrieves a cached response from Redis.
func getCachedResponse(ctx context.Context, client *redis.Client, key string) (*cachedResponse, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	if string(data) == inFlight {
		return nil, nil
	}

	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

// setCachedResponse stores a response in Redis.
func setCachedResponse(ctx context.Context, client *redis.Client, key string, response *cachedResponse, ttl time.Duration) error {
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, data, ttl).Err()
}

// extractResponseHeaders keeps only the Content-Type header.
func extractResponseHeaders(h http.Header) http.Header {
	headers := make(http.Header)
	if ct := h.Get("Content-Type"); ct != "" {
		headers.Set("Content-Type", ct)
	}
	return headers
}

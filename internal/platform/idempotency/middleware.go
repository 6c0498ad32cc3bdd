package idempotency

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/southernsense/storefront/internal/platform/auth"
	"github.com/southernsense/storefront/internal/platform/httpx"
	"github.com/southernsense/storefront/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
)

// Logger is the structured event hook used for store failures.
type Logger func(ctx context.Context, event string, fields map[string]any)

type middlewareConfig struct {
	headerName  string
	ttl         time.Duration
	optionalKey bool
	clock       func() time.Time
	logger      Logger
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed responses are replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithOptionalKey lets requests without the header through unguarded.
func WithOptionalKey() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.optionalKey = true
	}
}

// WithLogger injects the event logger.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware replays the first response for a repeated submission and rejects overlapping ones.
// Keys are scoped to the signed-in user or, for guests, the cart session.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		clock:      time.Now,
		logger:     func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = func(context.Context, string, map[string]any) {}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				if cfg.optionalKey {
					next.ServeHTTP(w, r)
					return
				}
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing idempotency key header", http.StatusBadRequest))
				return
			}

			body, err := readAndReplayBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read request body", http.StatusBadRequest))
				return
			}

			requester := extractRequester(ctx)
			scoped := scopedKey(key, requester)
			fingerprint := requestFingerprint(r, body, requester)

			reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock(), cfg.ttl)
			if err != nil {
				if IsFingerprintMismatch(err) {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
					return
				}
				cfg.logger(ctx, "idempotency.reserve.failed", map[string]any{"error": err.Error()})
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusInternalServerError))
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				writeStoredResponse(w, reservation.Record)
				return
			case ReservationStatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "this order is already being submitted", http.StatusConflict))
				return
			}

			recorder := newResponseRecorder(w)
			next.ServeHTTP(recorder, r)

			resp := Response{Status: recorder.Status(), Headers: recorder.header, Body: recorder.body.Bytes()}
			if resp.Status >= http.StatusInternalServerError {
				// Server failures are retryable with the same key.
				if err := store.Release(ctx, scoped); err != nil {
					cfg.logger(ctx, "idempotency.release.failed", map[string]any{"error": err.Error()})
				}
			} else if err := store.SaveResponse(ctx, scoped, fingerprint, resp, cfg.clock(), cfg.ttl); err != nil {
				cfg.logger(ctx, "idempotency.save.failed", map[string]any{"error": err.Error()})
				if err := store.Release(ctx, scoped); err != nil {
					cfg.logger(ctx, "idempotency.release.failed", map[string]any{"error": err.Error()})
				}
			}

			if err := recorder.Commit(); err != nil {
				cfg.logger(ctx, "idempotency.flush.failed", map[string]any{"error": err.Error()})
			}
		})
	}
}

// Cleanup removes expired reservations in batches until none remain or ctx ends.
func Cleanup(ctx context.Context, store Store, now time.Time, batchSize int) (int, error) {
	total := 0
	for {
		removed, err := store.CleanupExpired(ctx, now, batchSize)
		total += removed
		if err != nil || removed == 0 || removed < batchSize {
			return total, err
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func extractRequester(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return "user:" + identity.UID
	}
	if session := requestctx.CartSession(ctx); session != "" {
		return "cart:" + session
	}
	return "anonymous"
}

func scopedKey(key, requester string) string {
	return strings.TrimSpace(key) + "|" + requester
}

func requestFingerprint(r *http.Request, body []byte, requester string) string {
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		requester,
		sha256Hex(body),
	}
	return sha256Hex([]byte(strings.Join(parts, "|")))
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	header := w.Header()
	for name, values := range record.ResponseHeaders {
		header[name] = append([]string(nil), values...)
	}
	header.Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

type responseRecorder struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder(parent http.ResponseWriter) *responseRecorder {
	return &responseRecorder{parent: parent, header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) Commit() error {
	dst := r.parent.Header()
	for name, values := range r.header {
		dst[name] = values
	}
	r.parent.WriteHeader(r.Status())
	if r.body.Len() == 0 {
		return nil
	}
	_, err := r.parent.Write(r.body.Bytes())
	return err
}

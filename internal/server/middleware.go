package server

import (
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
)

// RateLimit configures per-client sliding windows. A limit of zero disables
// that tier.
type RateLimit struct {
	Requests      int
	WriteRequests int
	Window        time.Duration
	// TrustProxy takes the client address from X-Forwarded-For and friends.
	// Only set it behind a proxy that overwrites those headers.
	TrustProxy bool
}

// clientIP is the peer address. Forwarded headers only reach it through
// middleware.RealIP, which is mounted when the proxy is trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func keyByClient(r *http.Request) (string, error) {
	return clientIP(r), nil
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	if w.Header().Get("Retry-After") == "" {
		w.Header().Set("Retry-After", "60")
	}
	respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, try again later", nil))
}

func limitTier(requests int, window time.Duration) func(http.Handler) http.Handler {
	if requests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(keyByClient),
		httprate.WithLimitHandler(rateLimited),
	)
}

// newRateLimitMiddleware counts every request against the general tier and
// write procedures additionally against the write tier.
func newRateLimitMiddleware(cfg RateLimit, writePaths map[string]bool) func(http.Handler) http.Handler {
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	all := limitTier(cfg.Requests, window)
	writes := limitTier(cfg.WriteRequests, window)
	return func(next http.Handler) http.Handler {
		limitedWrites := writes(next)
		return all(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && writePaths[r.URL.Path] {
				limitedWrites.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// newLoggingMiddleware logs one line per request. Bodies are never logged
// since they carry share tokens.
func newLoggingMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic",
						zap.Any("reason", rec),
						zap.ByteString("stack", debug.Stack()),
						zap.String("path", r.URL.Path),
					)
					if ww.Status() == 0 {
						respondStatusError(ww, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil))
					}
				}
				log.Info("http",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("dur", time.Since(start)),
					zap.String("peer", clientIP(r)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

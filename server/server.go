// Package server exposes the HTTP API over live rooms: join and leave, chat, reactions,
// ticker, captions, a websocket event stream, plus health, readiness and metrics. It
// includes permissive CORS for development and injects correlation IDs into request
// contexts for consistent logging.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/bookclub-live/backend/telemetry"
)

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup loop and open websockets.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	authCfg := loadAuthConfig()
	rateLimiterCfg := loadRateLimiterConfig()
	corsCfg := loadCORSConfig()

	slog.Info("initializing in-memory rate limiter",
		slog.Int("requests_per_ip", rateLimiterCfg.requestsPerIP),
		slog.Duration("window", rateLimiterCfg.window))
	rateLimiter := newIPRateLimiter(ctx, rateLimiterCfg)
	limited := func(fn http.HandlerFunc) http.Handler { return rateLimitMiddleware(fn, rateLimiter) }
	admin := func(fn http.HandlerFunc) http.Handler { return adminAuth(limited(fn), authCfg) }

	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(corsCfg),
	}

	handlers := NewHandlers(ctx, deps)

	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", handlers.HandleHealthz)
	mux.HandleFunc("GET /readyz", handlers.HandleReadyz)

	// Session lifecycle
	mux.HandleFunc("POST /rooms/{name}/connect", handlers.HandleConnect)
	mux.HandleFunc("POST /rooms/{name}/disconnect", handlers.HandleDisconnect)

	// Chat and engagement
	mux.Handle("POST /rooms/{name}/messages", limited(handlers.HandleSubmitMessage))
	mux.HandleFunc("GET /rooms/{name}/messages", handlers.HandleListMessages)
	mux.HandleFunc("GET /rooms/{name}/viewers", handlers.HandleViewers)
	mux.HandleFunc("GET /rooms/{name}/history", handlers.HandleHistory)
	mux.Handle("POST /rooms/{name}/reactions", limited(handlers.HandleReact))
	mux.HandleFunc("GET /rooms/{name}/reactions", handlers.HandleListReactions)
	mux.HandleFunc("GET /rooms/{name}/ticker", handlers.HandleTicker)

	// Captions
	mux.HandleFunc("GET /rooms/{name}/captions", handlers.HandleCaptions)
	mux.HandleFunc("POST /rooms/{name}/captions", handlers.HandleCaptions)
	mux.HandleFunc("POST /rooms/{name}/transcripts", handlers.HandleTranscript)

	mux.HandleFunc("GET /rooms/{name}/events", handlers.HandleEvents(upgrader))

	// Admin endpoints
	mux.Handle("GET /admin/rooms", admin(handlers.HandleAdminRooms))
	mux.Handle("DELETE /admin/rooms/{name}", admin(handlers.HandleAdminCloseRoom))

	// Wrap with correlation ID injector and tracing middleware
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker for the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, deps Deps) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     NewMux(ctx, deps),
		ReadTimeout: 5 * time.Second,
		// no WriteTimeout: websocket streams are long-lived and set their own deadlines
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

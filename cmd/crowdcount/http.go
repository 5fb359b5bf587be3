package main

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"crowdcount/internal/metrics"
	"crowdcount/internal/services"
	"crowdcount/internal/stream"
	"crowdcount/internal/ws"
)

type httpDeps struct {
	pipeline services.PipelineStatus
	reporter services.ReportStatus
	window   func() int
	store    services.ReportStore
	auth     services.Authenticator
	hub      *ws.LiveHub
	preview  *stream.Preview
	metrics  *metrics.Metrics
}

// newHTTPHandler mounts the API, live feeds and metrics on one mux
func newHTTPHandler(d httpDeps) http.Handler {
	mux := http.NewServeMux()

	opts := []services.Option{services.WithAuthenticator(d.auth)}
	if d.store != nil {
		opts = append(opts, services.WithReportStore(d.store))
	}
	services.NewAPI(d.pipeline, d.reporter, d.window, opts...).Register(mux)

	mux.Handle("GET /ws/live", ws.NewHandler(d.hub))
	if d.preview != nil {
		mux.Handle("GET /video/stream", d.preview)
		mux.Handle("GET /video/snapshot", stream.NewSnapshotHandler(d.preview))
	}
	mux.Handle("GET /metrics", d.metrics.Handler())

	return logRequests(mux)
}

// handleHTTPServer starts the HTTP server in g and shuts it down gracefully
// when ctx is cancelled.
func handleHTTPServer(ctx context.Context, g *errgroup.Group, addr string, handler http.Handler, logger *log.Logger) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: time.Second * 60}

	g.Go(func() error {
		logger.Printf("HTTP server listening on %q", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Printf("shutting down HTTP server at %q", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Printf("failed to shutdown: %v", err)
		}
		return nil
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("[HTTP] %s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

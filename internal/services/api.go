// Package services implements the HTTP API: probes, status, stored reports
// and login.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"crowdcount/internal/auth"
	"crowdcount/internal/database"
	"crowdcount/internal/middleware"
	"crowdcount/internal/pipeline"
	"crowdcount/internal/reporter"
	"crowdcount/internal/sink"
)

const (
	defaultReportLimit = 100
	maxReportLimit     = 1000
)

// PipelineStatus is the read side of the frame pipeline
type PipelineStatus interface {
	State() pipeline.State
	Stats() pipeline.PipelineStats
}

// ReportStatus is the read side of the reporter
type ReportStatus interface {
	Last() *reporter.Outcome
	Interval() time.Duration
}

// ReportStore lists stored count records
type ReportStore interface {
	ListCountRecords(ctx context.Context, since time.Time, limit int) ([]*database.CountRecord, error)
	TotalPeople(ctx context.Context, since time.Time) (int, error)
}

// Authenticator issues and validates API tokens
type Authenticator interface {
	middleware.TokenValidator
	Authenticate(username, password string) (string, int64, error)
}

// API serves the HTTP endpoints
type API struct {
	pipeline PipelineStatus
	reporter ReportStatus
	window   func() int
	store    ReportStore
	auth     Authenticator
}

// Option configures optional API dependencies
type Option func(*API)

// WithReportStore enables /api/v1/reports
func WithReportStore(store ReportStore) Option {
	return func(a *API) { a.store = store }
}

// WithAuthenticator protects the API routes and enables login
func WithAuthenticator(authn Authenticator) Option {
	return func(a *API) { a.auth = authn }
}

// NewAPI creates the API. window returns the current reporting window size.
func NewAPI(p PipelineStatus, r ReportStatus, window func() int, opts ...Option) *API {
	a := &API{pipeline: p, reporter: r, window: window}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register adds the API routes to mux
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.healthz)
	mux.HandleFunc("GET /readyz", a.readyz)
	mux.HandleFunc("POST /api/v1/auth/login", a.login)

	mux.Handle("GET /api/v1/auth/status", a.identify(http.HandlerFunc(a.authStatus)))
	mux.Handle("GET /api/v1/status", a.protect(auth.ScopeStatus, http.HandlerFunc(a.status)))
	mux.Handle("GET /api/v1/reports", a.protect(auth.ScopeReports, http.HandlerFunc(a.reports)))
}

// protect requires a bearer token granting scope
func (a *API) protect(scope string, h http.Handler) http.Handler {
	if a.auth == nil {
		return h
	}
	return middleware.AuthMiddleware(a.auth)(middleware.RequireScope(a.auth, scope)(h))
}

// identify attaches the caller's claims when a valid token is presented
func (a *API) identify(h http.Handler) http.Handler {
	if a.auth == nil {
		return h
	}
	return middleware.OptionalAuth(a.auth)(h)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	state := a.pipeline.State()
	if state != pipeline.StateRunning {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": string(state)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(state)})
}

// StatusResponse is the body of GET /api/v1/status
type StatusResponse struct {
	State          pipeline.State         `json:"state"`
	Stats          pipeline.PipelineStats `json:"stats"`
	WindowSize     int                    `json:"window_size"`
	ReportInterval float64                `json:"report_interval_seconds"`
	LastReport     *reporter.Outcome      `json:"last_report,omitempty"`
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		State: a.pipeline.State(),
		Stats: a.pipeline.Stats(),
	}
	if a.window != nil {
		resp.WindowSize = a.window()
	}
	if a.reporter != nil {
		resp.ReportInterval = a.reporter.Interval().Seconds()
		resp.LastReport = a.reporter.Last()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReportsResponse is the body of GET /api/v1/reports
type ReportsResponse struct {
	Records     []sink.CountRecord `json:"records"`
	TotalPeople int                `json:"total_people"`
}

func (a *API) reports(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusNotFound, "report history requires the sqlite sink")
		return
	}

	q := r.URL.Query()

	var since time.Time
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}

	limit := defaultReportLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxReportLimit)
	}

	rows, err := a.store.ListCountRecords(r.Context(), since, limit)
	if err != nil {
		log.Printf("[API] Failed to list reports: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	total, err := a.store.TotalPeople(r.Context(), since)
	if err != nil {
		log.Printf("[API] Failed to total reports: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}

	resp := ReportsResponse{Records: make([]sink.CountRecord, 0, len(rows)), TotalPeople: total}
	for _, row := range rows {
		resp.Records = append(resp.Records, sink.FromDatabase(row))
	}
	writeJSON(w, http.StatusOK, resp)
}

// LoginRequest is the body of POST /api/v1/auth/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries an issued token
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	if a.auth == nil || !a.auth.IsEnabled() {
		writeError(w, http.StatusUnauthorized, "Authentication is disabled")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, expiresAt, err := a.auth.Authenticate(req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "Invalid username or password")
		case errors.Is(err, auth.ErrAuthDisabled):
			writeError(w, http.StatusUnauthorized, "Authentication is disabled")
		default:
			log.Printf("[API] Login failed: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to issue token")
		}
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt})
}

// AuthStatusResponse reports whether the caller is authenticated
type AuthStatusResponse struct {
	Enabled       bool    `json:"enabled"`
	Authenticated bool    `json:"authenticated"`
	Username      *string `json:"username,omitempty"`
}

func (a *API) authStatus(w http.ResponseWriter, r *http.Request) {
	resp := AuthStatusResponse{Enabled: a.auth != nil && a.auth.IsEnabled()}
	if claims := middleware.GetUserFromContext(r.Context()); claims != nil {
		username := claims.Username()
		resp.Authenticated = true
		resp.Username = &username
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

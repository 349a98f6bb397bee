package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"quorum.org/internal/meeting"
	"quorum.org/internal/obs"
	"quorum.org/internal/stream"
)

// ReadyProbe reports service readiness (DB ping when Postgres is configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer of the coordination service.
type API struct {
	mux        *http.ServeMux
	svc        meeting.Service
	stream     *stream.Stream
	readyProbe ReadyProbe
	version    string

	rateBurst  int
	ratePerSec int
	bodyLimit  int64
}

// New wires routes for the meeting contract, the operator surface and the
// observability endpoints.
func New(rp ReadyProbe, version string, svc meeting.Service, st *stream.Stream) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		stream:     st,
		readyProbe: rp,
		version:    version,
		rateBurst:  50,
		ratePerSec: 25,
		bodyLimit:  1 << 20,
	}

	// meeting contract
	a.mux.HandleFunc("/meeting", a.handleMeetingCollection)
	a.mux.HandleFunc("/meeting/", a.handleMeetingResource)

	// operator surface
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/admin/meetings", a.handleAdminMeetings)
	a.mux.HandleFunc("/admin/purge", a.handleAdminPurge)

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetLimits overrides middleware budgets (rate limiting and body size).
func (a *API) SetLimits(rateBurst, ratePerSec int, bodyLimit int64) {
	if rateBurst > 0 {
		a.rateBurst = rateBurst
	}
	if ratePerSec > 0 {
		a.ratePerSec = ratePerSec
	}
	if bodyLimit > 0 {
		a.bodyLimit = bodyLimit
	}
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAdminAuth(h)
	h = MaxBodyBytes(h, a.bodyLimit)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- service endpoints ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "quorum-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "quorum-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

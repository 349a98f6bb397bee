package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quorum.org/internal/auth"
	"quorum.org/internal/meeting"
)

const operatorTokenTTL = time.Hour

type tokenRequest struct {
	User  string   `json:"user"`
	Roles []string `json:"roles"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type listMeetingsResponse struct {
	Items []meeting.Summary `json:"items"`
	Count int               `json:"count"`
	AsOf  time.Time         `json:"as_of"`
}

type purgeResponse struct {
	Purged int `json:"purged"`
}

// handleAuthToken mints operator tokens. Dev-grade: any caller may request a
// token when the secret is configured; deployments front this with their own
// identity provider.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !requireJSON(w, r) {
		return
	}
	if !auth.Enabled() {
		writeError(w, r, http.StatusServiceUnavailable, "operator surface disabled")
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.User) == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}

	token, err := auth.GenerateToken(req.User, req.Roles, operatorTokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(operatorTokenTTL),
	})
}

func (a *API) handleAdminMeetings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}

	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, r, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = v
	}

	items, err := a.svc.ListSummaries(r.Context(), limit, offset)
	if err != nil {
		a.handleMeetingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listMeetingsResponse{
		Items: items,
		Count: len(items),
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) handleAdminPurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}

	purged, err := a.svc.PurgeExpired(r.Context())
	if err != nil {
		a.handleMeetingError(w, r, err)
		return
	}

	operator, _ := auth.OperatorFromContext(r.Context())
	a.auditEvent(r.Context(), "admin.purge", operator, map[string]any{
		"purged": purged,
	})
	writeJSON(w, http.StatusOK, purgeResponse{Purged: purged})
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

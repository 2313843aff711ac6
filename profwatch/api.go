package profwatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/vigie/audit"
	"github.com/hazyhaar/vigie/kit"
)

// RegisterHTTP mounts the admin API on the router. Mutating routes and the
// audit trail sit behind basic auth; while admin credentials are
// unconfigured those routes refuse every request.
func (svc *Service) RegisterHTTP(r chi.Router) {
	r.Get("/health", svc.handleHealth)
	r.Get("/api/profiles", svc.handleListProfiles)
	r.Get("/api/changes", svc.handleChanges)
	r.Get("/api/stats", svc.handleStats)

	r.Group(func(r chi.Router) {
		r.Use(svc.requireAdmin)
		r.Post("/api/profiles", svc.handleAddProfile)
		r.Delete("/api/profiles/{url}", svc.handleRemoveProfile)
		r.Post("/api/profiles/{url}/check", svc.handleCheckProfile)
		r.Get("/api/audit", svc.handleAudit)
	})
}

// Routes returns a standalone handler with the admin API mounted.
func (svc *Service) Routes() http.Handler {
	r := chi.NewRouter()
	svc.RegisterHTTP(r)
	return r
}

func (svc *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (svc *Service) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	resp, err := svc.endpoints.listProfiles(r.Context(), nil)
	if err != nil {
		writeError(w, apiStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (svc *Service) handleAddProfile(w http.ResponseWriter, r *http.Request) {
	var req addProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	resp, err := svc.endpoints.addProfile(r.Context(), &req)
	if err != nil {
		writeError(w, apiStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (svc *Service) handleRemoveProfile(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "url"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unescape url: %w", err))
		return
	}
	resp, err := svc.endpoints.removeProfile(r.Context(), &removeProfileRequest{URL: raw})
	if err != nil {
		writeError(w, apiStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (svc *Service) handleCheckProfile(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "url"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unescape url: %w", err))
		return
	}
	resp, err := svc.endpoints.checkProfile(r.Context(), &checkProfileRequest{URL: raw})
	if err != nil {
		writeError(w, apiStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (svc *Service) handleChanges(w http.ResponseWriter, r *http.Request) {
	req := &changeHistoryRequest{
		URL:   r.URL.Query().Get("url"),
		Limit: queryInt(r, "limit", 50),
	}
	resp, err := svc.endpoints.changeHistory(r.Context(), req)
	if err != nil {
		writeError(w, apiStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (svc *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	resp, err := svc.endpoints.stats(r.Context(), nil)
	if err != nil {
		writeError(w, apiStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAudit exposes the audit trail when the configured logger supports
// querying.
func (svc *Service) handleAudit(w http.ResponseWriter, r *http.Request) {
	q, ok := svc.audit.(*audit.SQLiteLogger)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("audit log not configured"))
		return
	}
	entries, err := q.Query(r.Context(), &audit.Filter{
		Action: r.URL.Query().Get("action"),
		Limit:  queryInt(r, "limit", 50),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// requireAdmin guards a route with basic auth against the configured admin
// user and bcrypt password hash. Unconfigured credentials fail closed.
func (svc *Service) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if svc.config.API.AdminUser == "" || svc.config.API.AdminPassHash == "" {
			writeError(w, http.StatusForbidden, errors.New("admin credentials not configured"))
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != svc.config.API.AdminUser ||
			bcrypt.CompareHashAndPassword([]byte(svc.config.API.AdminPassHash), []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="vigie"`)
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r.WithContext(kit.WithUserID(r.Context(), user)))
	})
}

// apiStatus maps service errors onto HTTP status codes.
func apiStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateProfile):
		return http.StatusConflict
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

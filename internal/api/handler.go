// Package api exposes the catalog artifact and on-demand consistency
// verdicts over a read-only HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chdocs/internal/catalog"
	"chdocs/internal/domain"
	"chdocs/internal/monitor"
	"chdocs/internal/verify"
)

// Propagator is the part of the propagation service the API reads from.
type Propagator interface {
	Topology(ctx context.Context) (domain.Topology, error)
	LastCatalog() *catalog.Artifact
	GenerateCatalog(ctx context.Context) (*catalog.Artifact, error)
	VerifyRelation(ctx context.Context, database, name string) (*verify.Report, error)
}

// DriftSource reports the most recent scheduled drift check.
type DriftSource interface {
	Last() *monitor.Status
}

// Handler serves the HTTP endpoints.
type Handler struct {
	svc    Propagator
	drift  DriftSource // nil when no schedule is configured
	logger *slog.Logger
}

// NewHandler creates a Handler. drift may be nil.
func NewHandler(svc Propagator, drift DriftSource, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, drift: drift, logger: logger}
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type verdictBody struct {
	*verify.Report
	Consistent bool `json:"consistent"`
}

type driftBody struct {
	Enabled bool            `json:"enabled"`
	Healthy bool            `json:"healthy"`
	Status  *monitor.Status `json:"status,omitempty"`
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) topology(w http.ResponseWriter, r *http.Request) {
	topo, err := h.svc.Topology(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topo)
}

// catalog serves the last generated artifact, generating one on first use
// or when ?refresh=true is passed.
func (h *Handler) catalog(w http.ResponseWriter, r *http.Request) {
	a := h.svc.LastCatalog()
	if a == nil || r.URL.Query().Get("refresh") == "true" {
		var err error
		if a, err = h.svc.GenerateCatalog(r.Context()); err != nil {
			h.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) verdict(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	name := chi.URLParam(r, "name")
	rep, err := h.svc.VerifyRelation(r.Context(), database, name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verdictBody{Report: rep, Consistent: rep.Consistent()})
}

func (h *Handler) driftStatus(w http.ResponseWriter, _ *http.Request) {
	if h.drift == nil {
		writeJSON(w, http.StatusOK, driftBody{})
		return
	}
	st := h.drift.Last()
	writeJSON(w, http.StatusOK, driftBody{Enabled: true, Healthy: st == nil || st.Healthy(), Status: st})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := httpStatusFromDomainError(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	writeJSON(w, code, errorBody{Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

package collector

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"hls-cmcd/internal/cmcd"
	"hls-cmcd/internal/platform/logger"
	"hls-cmcd/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// Handler exposes collector HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes mounts the collector endpoints on r. Media requests under
// mediaRoot are accepted as CMCD beacons.
func (h *Handler) Routes(r chi.Router, mediaRoot string) {
	r.Get(mediaRoot+"/*", h.Collect)
	r.Head(mediaRoot+"/*", h.Collect)
	r.Route("/sessions/{sid}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/end", h.EndSession)
	})
}

// Collect handles GET|HEAD <media root>/*. CMCD is read from the query
// parameter or, failing that, the CMCD headers.
func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
	data, err := cmcd.FromRequest(r)
	if err != nil {
		h.log.Debug("invalid cmcd payload",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if raw, ok := data[cmcd.KeySessionID].(string); ok {
		logger.Annotate(r.Context(), slog.String("cmcd_sid", raw))
	}
	if ot, ok := data[cmcd.KeyObjectType].(cmcd.ObjectType); ok {
		logger.Annotate(r.Context(), slog.String("cmcd_ot", string(ot)))
	}

	sid, rep, err := h.svc.Ingest(data, r.URL.Path)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingSession):
			w.WriteHeader(http.StatusBadRequest)
		case errors.Is(err, ErrSessionEnded):
			raw, _ := data[cmcd.KeySessionID].(string)
			h.log.Info("report rejected session ended", slog.String("sid", raw))
			w.WriteHeader(http.StatusConflict)
		case errors.Is(err, ErrTooManySessions):
			h.log.Warn("report rejected session limit reached")
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			h.log.Error("record report failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	if rep.BufferStarvation {
		h.log.Info("buffer starvation reported",
			slog.String("sid", string(sid)),
			slog.String("path", rep.Path),
			slog.String("ot", string(rep.ObjectType)))
	} else {
		h.log.Debug("report recorded",
			slog.String("sid", string(sid)),
			slog.String("ot", string(rep.ObjectType)))
	}

	w.WriteHeader(http.StatusNoContent)
	if h.metrics != nil {
		h.metrics.IncReports()
		if rep.BufferStarvation {
			h.metrics.IncStarvationReports()
		}
	}
}

// GetSession handles GET /sessions/{sid}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "sid"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sum, ok := h.svc.Summary(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(sum); err != nil {
		h.log.Error("encode summary failed", slog.String("error", err.Error()))
	}
}

// EndSession handles POST /sessions/{sid}/end.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "sid"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.svc.EndSession(id); err != nil {
		h.log.Error("end session failed", slog.String("sid", string(id)), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.log.Info("session ended", slog.String("sid", string(id)))
	w.WriteHeader(http.StatusOK)
}

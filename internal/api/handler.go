// Package api serves on-demand scoring and stored detection queries over HTTP.
package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"FlowSentry/internal/engine/pipeline"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"
	"FlowSentry/internal/query"
	"FlowSentry/pkg/flowcsv"
)

// MaxBodyBytes bounds the size of a scoring request.
const MaxBodyBytes = 32 << 20

// Handler holds the dependencies for API handlers. querier may be nil, in
// which case the query routes answer 503.
type Handler struct {
	pipeline *pipeline.Pipeline
	querier  query.Querier
}

// NewHandler creates a Handler.
func NewHandler(p *pipeline.Pipeline, q query.Querier) *Handler {
	return &Handler{pipeline: p, querier: q}
}

// Router registers the API routes on a new router.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/detect", h.detectHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/detections/summary", h.summaryHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/detections/host/{ip}", h.hostHandler).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return r
}

// DetectResponse is the body returned by the scoring endpoint.
type DetectResponse struct {
	Records    int               `json:"records"`
	Detections []model.Detection `json:"detections"`
}

// detectHandler scores a JSON array of flow records as one batch.
func (h *Handler) detectHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(body) > MaxBodyBytes {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var records []model.FlowRecord
	if err := json.Unmarshal(body, &records); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}

	flowcsv.Normalize(records)
	dets := h.pipeline.RunBatch(r.Context(), records)
	if dets == nil {
		dets = []model.Detection{}
	}
	logging.Debug().Str("component", "api").Int("records", len(records)).Int("detections", len(dets)).
		Msg("scored request")
	writeJSON(w, http.StatusOK, DetectResponse{Records: len(records), Detections: dets})
}

// summaryHandler aggregates stored detections by reason and class.
func (h *Handler) summaryHandler(w http.ResponseWriter, r *http.Request) {
	if h.querier == nil {
		http.Error(w, "detection store is not configured", http.StatusServiceUnavailable)
		return
	}
	since, err := parseSince(r.URL.Query().Get("since"), time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary, err := h.querier.Summary(r.Context(), since)
	if err != nil {
		logging.Error().Err(err).Str("component", "api").Msg("summary query failed")
		http.Error(w, fmt.Sprintf("failed to query detections: %v", err), http.StatusInternalServerError)
		return
	}
	if summary == nil {
		summary = []query.SummaryRow{}
	}
	writeJSON(w, http.StatusOK, summary)
}

// hostHandler lists stored detections involving one host.
func (h *Handler) hostHandler(w http.ResponseWriter, r *http.Request) {
	if h.querier == nil {
		http.Error(w, "detection store is not configured", http.StatusServiceUnavailable)
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, fmt.Sprintf("invalid limit: %q", s), http.StatusBadRequest)
			return
		}
		limit = n
	}

	dets, err := h.querier.ByHost(r.Context(), mux.Vars(r)["ip"], limit)
	if err != nil {
		logging.Error().Err(err).Str("component", "api").Msg("host query failed")
		http.Error(w, fmt.Sprintf("failed to query detections: %v", err), http.StatusInternalServerError)
		return
	}
	if dets == nil {
		dets = []query.HostDetection{}
	}
	writeJSON(w, http.StatusOK, dets)
}

// parseSince accepts an RFC3339 time or a duration relative to now. Empty
// means no lower bound.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid since: %q, expected RFC3339 time or duration", s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

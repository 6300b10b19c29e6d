package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/wadjakorntonsri/qzone-visitors/pkg/core/services"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/ports"
)

type HTTPHandler struct {
	reports ports.ReportService
	log     *slog.Logger
}

func NewHTTPHandler(reports ports.ReportService, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{reports: reports, log: logger.With("component", "http")}
}

// Health reports liveness
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

// Report serves the memoized current-week report
func (h *HTTPHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.Cached(r.Context())
	if err != nil {
		h.serverError(w, "cached report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Custom serves /api/report/custom?start=&end=&scale=
func (h *HTTPHandler) Custom(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, errStart := strconv.ParseInt(q.Get("start"), 10, 64)
	end, errEnd := strconv.ParseInt(q.Get("end"), 10, 64)
	if errStart != nil || errEnd != nil {
		http.Error(w, "start and end must be unix timestamps", http.StatusBadRequest)
		return
	}

	scale := int64(services.DefaultBucketSeconds)
	if raw := q.Get("scale"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			http.Error(w, "scale must be a positive number of seconds", http.StatusBadRequest)
			return
		}
		scale = v
	}

	report, err := h.reports.Generate(r.Context(), start, end, scale)
	if errors.Is(err, services.ErrTooManyBuckets) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.serverError(w, "custom report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Weekly serves /api/report/weekly?week=<offset>; future weeks clamp to the current one
func (h *HTTPHandler) Weekly(w http.ResponseWriter, r *http.Request) {
	offset := 0
	if raw := r.URL.Query().Get("week"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "week must be an integer offset", http.StatusBadRequest)
			return
		}
		offset = min(v, 0)
	}

	report, err := h.reports.GenerateWeekly(r.Context(), offset)
	if err != nil {
		h.serverError(w, "weekly report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) serverError(w http.ResponseWriter, what string, err error) {
	h.log.Error("request failed", "op", what, "error", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JakeFAU/listing-diff-scraper/internal/pipeline"
)

const (
	defaultHistorySize = 200
	defaultRunLimit    = 50
	maxRunLimit        = 200
)

// History keeps the most recent run reports in memory, newest first.
type History struct {
	mu      sync.RWMutex
	size    int
	entries []historyEntry
}

type historyEntry struct {
	report pipeline.Report
	err    string
}

// NewHistory returns a History holding at most size reports.
func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{size: size}
}

// Add records a finished run. err is the fatal error, if any.
func (h *History) Add(report pipeline.Report, err error) {
	entry := historyEntry{report: report}
	if err != nil {
		entry.err = err.Error()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append([]historyEntry{entry}, h.entries...)
	if len(h.entries) > h.size {
		h.entries = h.entries[:h.size]
	}
}

// ListRuns handles GET /v1/reports?status=&limit=&offset=. It returns
// {"runs": [...]} or 400 for invalid filters.
func (h *History) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := parseStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	runs := make([]runDTO, 0, limit)
	skipped := 0
	for _, e := range h.entries {
		if status != "" && e.report.Status != status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(runs) == limit {
			break
		}
		runs = append(runs, toRunDTO(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetRun handles GET /v1/reports/{run_id}. It returns {"run": {...}}, 400 for
// malformed ids or 404 when the run is not retained.
func (h *History) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, e := range h.entries {
		if e.report.RunID == runID {
			writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(e)})
			return
		}
	}
	writeError(w, http.StatusNotFound, "run not found")
}

func parseRunID(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return "", errors.New("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", errors.New("invalid run_id")
	}
	return id.String(), nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "":
		return "", nil
	case "completed", "success":
		return pipeline.StatusCompleted, nil
	case "completed_with_errors", "partial":
		return pipeline.StatusCompletedWithErrors, nil
	case "failed", "error":
		return pipeline.StatusFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}

type runDTO struct {
	pipeline.Report
	Error string `json:"error,omitempty"`
}

func toRunDTO(e historyEntry) runDTO {
	return runDTO{Report: e.report, Error: e.err}
}

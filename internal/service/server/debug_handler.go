package server

import (
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/fetchcache/internal/port"
	"github.com/vertextoedge/fetchcache/internal/service/fetcher"
)

// maxAttemptsLimit caps /debug/attempts
const maxAttemptsLimit = 500

// DebugHandler handles debug endpoint requests
type DebugHandler struct {
	coordinator *fetcher.Coordinator
	store       port.FileStore
	journal     port.AttemptJournal
	logger      *zap.Logger
}

// NewDebugHandler creates a new DebugHandler. journal may be nil.
func NewDebugHandler(coordinator *fetcher.Coordinator, store port.FileStore, journal port.AttemptJournal, logger *zap.Logger) *DebugHandler {
	return &DebugHandler{
		coordinator: coordinator,
		store:       store,
		journal:     journal,
		logger:      logger,
	}
}

// HandleInFlight lists registered downloads
func (h *DebugHandler) HandleInFlight(w http.ResponseWriter, r *http.Request) {
	downloads := h.coordinator.Registry().Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(downloads),
		"downloads": downloads,
	})
}

// HandleStats handles debug statistics requests
func (h *DebugHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	size, err := h.store.GetCacheSize()
	if err != nil {
		h.logger.Error("failed to get cache size", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to get cache size"})
		return
	}

	response := map[string]interface{}{
		"cache_root":       h.store.RootDir(),
		"cache_size":       size,
		"cache_size_human": humanize.Bytes(uint64(size)),
		"inflight":         h.coordinator.Registry().Len(),
		"memory":           h.coordinator.MemoStats(),
	}

	if reporter, ok := h.store.(port.DiskUsageReporter); ok {
		if usage, err := reporter.GetDiskUsage(); err == nil {
			response["disk"] = usage
			response["disk_free_human"] = humanize.Bytes(usage.Free)
		} else {
			h.logger.Warn("failed to get disk usage", zap.Error(err))
		}
	}

	if h.journal != nil {
		stats, err := h.journal.Stats(r.Context())
		if err != nil {
			h.logger.Error("failed to get attempt stats", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to get attempt stats"})
			return
		}
		response["attempts"] = stats
		response["bytes_fetched_human"] = humanize.Bytes(uint64(stats.BytesFetched))
	}

	writeJSON(w, http.StatusOK, response)
}

// HandleAttempts returns the newest journal rows: /debug/attempts?limit=N
func (h *DebugHandler) HandleAttempts(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "attempt journal disabled"})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxAttemptsLimit)
	}

	attempts, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list attempts", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list attempts"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(attempts),
		"attempts": attempts,
	})
}

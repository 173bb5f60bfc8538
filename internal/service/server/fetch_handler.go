package server

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/fetchcache/internal/domain"
	"github.com/vertextoedge/fetchcache/internal/service/fetcher"
)

// FetchHandler serves files through the coordinator
type FetchHandler struct {
	coordinator *fetcher.Coordinator
	timeout     time.Duration
	logger      *zap.Logger
}

// NewFetchHandler creates a new FetchHandler
func NewFetchHandler(coordinator *fetcher.Coordinator, timeout time.Duration, logger *zap.Logger) *FetchHandler {
	return &FetchHandler{
		coordinator: coordinator,
		timeout:     timeout,
		logger:      logger,
	}
}

// HandleFetch handles GET /fetch?url=...
func (h *FetchHandler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "url parameter is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.coordinator.FetchWait(ctx, rawURL, nil)
	if err != nil {
		h.writeError(w, rawURL, err)
		return
	}

	name := path.Base(res.Location)
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Header().Set("X-Fetchcache-Source", string(res.Source))
	w.Header().Set("X-Fetchcache-Location", res.Location)
	if res.Resumed {
		w.Header().Set("X-Fetchcache-Resumed", "true")
	}
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(res.Data); err != nil {
		h.logger.Debug("client went away during response", zap.String("url", rawURL), zap.Error(err))
	}
}

func (h *FetchHandler) writeError(w http.ResponseWriter, rawURL string, err error) {
	var failure domain.Failure

	switch {
	case errors.Is(err, domain.ErrMalformedURL), errors.Is(err, domain.ErrUnnamedResource):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), URL: rawURL})

	case errors.As(err, &failure):
		if d, ok := domain.GetRetryAfter(failure); ok && d > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(d.Round(time.Second)/time.Second)))
		}
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:          failure.Error(),
			URL:            failure.URL,
			UpstreamStatus: domain.StatusCode(failure),
			ResumeCaptured: failure.ResumeCaptured,
			Attempt:        failure.Attempt,
		})

	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// The transfer keeps running; a later request picks up its result
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "download still in progress", URL: rawURL})

	default:
		h.logger.Error("fetch failed", zap.String("url", rawURL), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), URL: rawURL})
	}
}

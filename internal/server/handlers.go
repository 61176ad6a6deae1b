package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/veilstream/veilstream/internal/model"
	"github.com/veilstream/veilstream/internal/pipeline"
)

// BackfillStatus exposes the replay cursor for the admin API.
type BackfillStatus interface {
	Status(ctx context.Context) (model.BackfillCursor, bool, error)
}

// Readiness reports whether the feed connection is up.
type Readiness interface {
	IsConnected() bool
}

// AdminHandler serves health, stats and backfill endpoints.
type AdminHandler struct {
	processor *pipeline.Processor
	backfill  BackfillStatus
	readiness Readiness
}

// NewAdminHandler creates the admin API handler. backfill and readiness
// may be nil when the corresponding subsystem is not running.
func NewAdminHandler(processor *pipeline.Processor, backfill BackfillStatus, readiness Readiness) *AdminHandler {
	return &AdminHandler{
		processor: processor,
		backfill:  backfill,
		readiness: readiness,
	}
}

func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

func (h *AdminHandler) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.readiness != nil && !h.readiness.IsConnected() {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "not ready",
			"reason": "feed disconnected",
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ready",
		"stats":  h.processor.Health(),
	})
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.processor.Health())
}

func (h *AdminHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.backfill == nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "backfill not configured",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cursor, found, err := h.backfill.Status(ctx)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{
			"error": err.Error(),
		})
		return
	}
	if !found {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"started": false,
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"started":  true,
		"complete": cursor.Done(),
		"cursor":   cursor,
	})
}

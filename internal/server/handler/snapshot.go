package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyrelate/internal/domain"
)

// SnapshotHandler serves archived relation tables. A nil reader answers 503.
type SnapshotHandler struct {
	reader domain.SnapshotReader
	logger *slog.Logger
}

// NewSnapshotHandler creates a SnapshotHandler. reader may be nil.
func NewSnapshotHandler(reader domain.SnapshotReader, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{reader: reader, logger: logHandler(logger, "snapshot")}
}

type snapshotResponse struct {
	Path         string            `json:"path"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"last_modified"`
	Count        int               `json:"count"`
	Relations    []domain.Relation `json:"relations"`
}

// Latest returns the newest relation snapshot.
// GET /api/relations/snapshots/latest
func (h *SnapshotHandler) Latest(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeServiceError(w, r, h.logger, domain.ErrUnavailable, "snapshots unavailable")
		return
	}
	info, err := h.reader.Latest(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to locate snapshot")
		return
	}
	rels, err := h.reader.ReadRelations(r.Context(), info.Path)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to read snapshot")
		return
	}
	if rels == nil {
		rels = []domain.Relation{}
	}
	writeJSON(w, http.StatusOK, snapshotResponse{
		Path:         info.Path,
		Size:         info.Size,
		LastModified: info.LastModified,
		Count:        len(rels),
		Relations:    rels,
	})
}

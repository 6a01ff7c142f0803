package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// archivePrefix is the object-storage prefix the archiver writes snapshots
// under. The readback endpoints never serve objects outside it.
const archivePrefix = "archive/"

// ArchiveHandler serves read access to the copy-log snapshots the archiver
// has uploaded to object storage.
type ArchiveHandler struct {
	reader domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. reader may be nil when
// archiving is disabled; the endpoints then answer 503.
func NewArchiveHandler(reader domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		reader: reader,
		logger: logger,
	}
}

// archiveEntry is the wire form of one stored snapshot.
type archiveEntry struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
}

// listArchivesResponse wraps the list archives response.
type listArchivesResponse struct {
	Archives []archiveEntry `json:"archives"`
}

// ListArchives returns the snapshots currently held in object storage.
// GET /api/copier/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}

	infos, err := h.reader.List(r.Context(), archivePrefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	resp := listArchivesResponse{Archives: make([]archiveEntry, 0, len(infos))}
	for _, info := range infos {
		resp.Archives = append(resp.Archives, archiveEntry{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetArchive streams one snapshot back to the caller.
// GET /api/copier/archives/{path...}
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}

	rel := pathParam(r, "path")
	if rel == "" || strings.Contains(rel, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}

	rc, err := h.reader.Get(r.Context(), archivePrefix+rel)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: fetch archive failed",
			slog.String("path", rel),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to fetch archive")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("path", rel),
			slog.String("error", err.Error()),
		)
	}
}

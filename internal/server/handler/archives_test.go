package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

type fakeBlobReader struct {
	objects map[string]string
	infos   []domain.BlobInfo
	listErr error
}

func (f *fakeBlobReader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	body, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeBlobReader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	return f.infos, f.listErr
}

func (f *fakeBlobReader) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

func archiveFixture(reader domain.BlobReader) *ArchiveHandler {
	return NewArchiveHandler(reader, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestListArchives(t *testing.T) {
	modified := time.Date(2025, 8, 1, 3, 0, 0, 0, time.UTC)
	reader := &fakeBlobReader{infos: []domain.BlobInfo{
		{Path: "archive/copied_trades/2025-07.jsonl", Size: 2048, LastModified: modified},
	}}

	rec := httptest.NewRecorder()
	archiveFixture(reader).ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/copier/archives", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp listArchivesResponse
	decodeBody(t, rec, &resp)

	require.Len(t, resp.Archives, 1)
	assert.Equal(t, "archive/copied_trades/2025-07.jsonl", resp.Archives[0].Path)
	assert.Equal(t, int64(2048), resp.Archives[0].Size)
	assert.Equal(t, "2025-08-01T03:00:00Z", resp.Archives[0].LastModified)
}

func TestListArchivesEmpty(t *testing.T) {
	rec := httptest.NewRecorder()
	archiveFixture(&fakeBlobReader{}).ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/copier/archives", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp listArchivesResponse
	decodeBody(t, rec, &resp)
	assert.Empty(t, resp.Archives)
}

func TestGetArchiveStreamsSnapshot(t *testing.T) {
	const body = `{"tx_hash":"0xa"}` + "\n" + `{"tx_hash":"0xb"}` + "\n"
	reader := &fakeBlobReader{objects: map[string]string{
		"archive/copied_trades/2025-07.jsonl": body,
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/copier/archives/copied_trades/2025-07.jsonl", nil)
	req.SetPathValue("path", "copied_trades/2025-07.jsonl")

	rec := httptest.NewRecorder()
	archiveFixture(reader).GetArchive(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, body, rec.Body.String())
}

func TestGetArchiveNotFound(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/copier/archives/copied_trades/1999-01.jsonl", nil)
	req.SetPathValue("path", "copied_trades/1999-01.jsonl")

	rec := httptest.NewRecorder()
	archiveFixture(&fakeBlobReader{}).GetArchive(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetArchiveRejectsTraversal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/copier/archives/x", nil)
	req.SetPathValue("path", "../secrets.toml")

	rec := httptest.NewRecorder()
	archiveFixture(&fakeBlobReader{}).GetArchive(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArchivesUnavailable(t *testing.T) {
	h := archiveFixture(nil)

	rec := httptest.NewRecorder()
	h.ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/copier/archives", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/copier/archives/copied_trades/2025-07.jsonl", nil)
	req.SetPathValue("path", "copied_trades/2025-07.jsonl")
	rec = httptest.NewRecorder()
	h.GetArchive(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

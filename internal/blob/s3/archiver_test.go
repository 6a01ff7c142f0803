package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

type fakeWriter struct {
	path        string
	contentType string
	body        []byte
	err         error
}

func (f *fakeWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.path = path
	f.contentType = contentType
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	f.body = buf.Bytes()
	return nil
}

func (f *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	return f.Put(ctx, path, data, "")
}

type fakeArchiveStore struct {
	trades  []domain.CopiedTrade
	deleted *time.Time
	listErr error
}

func (f *fakeArchiveStore) ListBefore(ctx context.Context, before time.Time) ([]domain.CopiedTrade, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.trades, nil
}

func (f *fakeArchiveStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	f.deleted = &before
	return int64(len(f.trades)), nil
}

type fakeAudit struct {
	events []string
}

func (f *fakeAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveCopiedTrades(t *testing.T) {
	cutoff := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	store := &fakeArchiveStore{trades: []domain.CopiedTrade{
		{Key: "0xa:tok:BUY", Asset: "tok", Direction: domain.DirectionBuy, Price: 0.5},
		{Key: "0xb:tok:SELL", Asset: "tok", Direction: domain.DirectionSell, Price: 0.7},
	}}
	writer := &fakeWriter{}
	audit := &fakeAudit{}

	arch := NewArchiver(writer, store, audit)
	count, err := arch.ArchiveCopiedTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	assert.Equal(t, "archive/copied_trades/2025-06.jsonl", writer.path)
	assert.Equal(t, "application/x-ndjson", writer.contentType)

	lines := strings.Split(strings.TrimRight(string(writer.body), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"0xa:tok:BUY"`)

	assert.Contains(t, audit.events, "archive.copied_trades")
	require.NotNil(t, store.deleted)
	assert.Equal(t, cutoff, *store.deleted)
}

func TestArchiveCopiedTradesEmpty(t *testing.T) {
	store := &fakeArchiveStore{}
	writer := &fakeWriter{}
	arch := NewArchiver(writer, store, &fakeAudit{})

	count, err := arch.ArchiveCopiedTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.path)
	assert.Nil(t, store.deleted)
}

func TestArchiveCopiedTradesUploadFailureSkipsPrune(t *testing.T) {
	store := &fakeArchiveStore{trades: []domain.CopiedTrade{{Key: "k"}}}
	writer := &fakeWriter{err: assert.AnError}
	arch := NewArchiver(writer, store, &fakeAudit{})

	_, err := arch.ArchiveCopiedTrades(context.Background(), time.Now())
	require.Error(t, err)
	assert.Nil(t, store.deleted)
}

package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mars-protocol/riskengine/internal/domain"
)

type memBlobStore struct {
	objects map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: make(map[string][]byte)}
}

func (m *memBlobStore) Put(_ context.Context, path string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = buf
	return nil
}

func (m *memBlobStore) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	buf, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (m *memBlobStore) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for path, buf := range m.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(buf))})
		}
	}
	return infos, nil
}

func (m *memBlobStore) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type fakeLiquidationHistory struct {
	recs []domain.LiquidationRecord
}

func (f *fakeLiquidationHistory) Insert(_ context.Context, rec domain.LiquidationRecord) error {
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeLiquidationHistory) ListRecent(_ context.Context, limit int) ([]domain.LiquidationRecord, error) {
	if limit > len(f.recs) {
		limit = len(f.recs)
	}
	return f.recs[:limit], nil
}

func (f *fakeLiquidationHistory) ListBefore(_ context.Context, before time.Time) ([]domain.LiquidationRecord, error) {
	var out []domain.LiquidationRecord
	for _, r := range f.recs {
		if r.ExecutedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeSnapshotHistory struct {
	snaps []domain.RateSnapshot
}

func (f *fakeSnapshotHistory) Insert(_ context.Context, snap domain.RateSnapshot) error {
	f.snaps = append(f.snaps, snap)
	return nil
}

func (f *fakeSnapshotHistory) ListByDenom(_ context.Context, denom string, _ domain.ListOpts) ([]domain.RateSnapshot, error) {
	var out []domain.RateSnapshot
	for _, s := range f.snaps {
		if s.Denom == denom {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSnapshotHistory) ListBefore(_ context.Context, before time.Time) ([]domain.RateSnapshot, error) {
	var out []domain.RateSnapshot
	for _, s := range f.snaps {
		if s.ObservedAt.Before(before) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeAuditLog struct {
	events []string
}

func (f *fakeAuditLog) Log(_ context.Context, event string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAuditLog) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func newTestArchiver() (*Archiver, *memBlobStore, *fakeLiquidationHistory, *fakeSnapshotHistory, *fakeAuditLog) {
	blobs := newMemBlobStore()
	liqs := &fakeLiquidationHistory{}
	snaps := &fakeSnapshotHistory{}
	audit := &fakeAuditLog{}
	return NewArchiver(blobs, blobs, liqs, snaps, audit), blobs, liqs, snaps, audit
}

func TestArchiveLiquidationsWritesJSONL(t *testing.T) {
	arch, blobs, liqs, _, audit := newTestArchiver()
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	liqs.recs = []domain.LiquidationRecord{
		{ID: "a", Account: "osmo1abc", DebtRepaid: decimal.RequireFromString("100"), ExecutedAt: cutoff.Add(-48 * time.Hour)},
		{ID: "b", Account: "osmo1def", DebtRepaid: decimal.RequireFromString("50"), ExecutedAt: cutoff.Add(-24 * time.Hour)},
		{ID: "c", Account: "osmo1ghi", DebtRepaid: decimal.RequireFromString("25"), ExecutedAt: cutoff.Add(time.Hour)},
	}

	n, err := arch.ArchiveLiquidations(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	buf, ok := blobs.objects["archive/liquidations/2026-08.jsonl"]
	require.True(t, ok)
	lines := strings.Split(strings.TrimSuffix(string(buf), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"id":"a"`)
	assert.Contains(t, lines[1], `"id":"b"`)

	assert.Equal(t, []string{"archive.liquidations"}, audit.events)
}

func TestArchiveRateSnapshotsHonorsCutoff(t *testing.T) {
	arch, blobs, _, snaps, _ := newTestArchiver()
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	snaps.snaps = []domain.RateSnapshot{
		{Denom: "uatom", BorrowRate: decimal.RequireFromString("0.1"), ObservedAt: cutoff.Add(-time.Hour)},
		{Denom: "uatom", BorrowRate: decimal.RequireFromString("0.2"), ObservedAt: cutoff},
	}

	n, err := arch.ArchiveRateSnapshots(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok := blobs.objects["archive/rate_snapshots/2026-08.jsonl"]
	assert.True(t, ok)
}

func TestArchiveNothingToDo(t *testing.T) {
	arch, blobs, _, _, audit := newTestArchiver()

	n, err := arch.ArchiveLiquidations(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
	assert.Empty(t, audit.events)
}

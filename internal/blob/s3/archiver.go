package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mars-protocol/riskengine/internal/domain"
)

// multipartThreshold is the payload size above which uploads switch to the
// multipart path.
const multipartThreshold = 8 * 1024 * 1024

// Archiver implements domain.Archiver. It queries the history stores for
// records older than a cutoff, serializes them to JSONL, and uploads the
// result to object storage.
//
// Archived rows are NOT deleted from Postgres here. Deletion is a separate
// explicit step, to be run only after the archive has been verified.
type Archiver struct {
	writer       domain.BlobWriter
	reader       domain.BlobReader
	liquidations domain.LiquidationStore
	snapshots    domain.RateSnapshotStore
	audit        domain.AuditStore
}

// NewArchiver creates an Archiver over the given stores.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	liquidations domain.LiquidationStore,
	snapshots domain.RateSnapshotStore,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:       writer,
		reader:       reader,
		liquidations: liquidations,
		snapshots:    snapshots,
		audit:        audit,
	}
}

// ArchiveLiquidations uploads all liquidation records executed strictly
// before the cutoff to archive/liquidations/YYYY-MM.jsonl and returns the
// number of records archived.
func (a *Archiver) ArchiveLiquidations(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.liquidations.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive liquidations query: %w", err)
	}
	return upload(ctx, a, "liquidations", before, recs)
}

// ArchiveRateSnapshots uploads all rate snapshots observed strictly before
// the cutoff to archive/rate_snapshots/YYYY-MM.jsonl and returns the number
// of records archived.
func (a *Archiver) ArchiveRateSnapshots(ctx context.Context, before time.Time) (int64, error) {
	snaps, err := a.snapshots.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rate snapshots query: %w", err)
	}
	return upload(ctx, a, "rate_snapshots", before, snaps)
}

// upload serializes records to JSONL, writes the object, verifies it landed,
// and records the event in the audit log.
func upload[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if int64(len(buf)) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s verify: %w", kind, err)
	}
	if !ok {
		return 0, fmt.Errorf("s3blob: archive %s verify: object %s missing after upload", kind, path)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath builds the object key, partitioned by the year-month of the
// cutoff.
//
//	archive/liquidations/2026-08.jsonl
//	archive/rate_snapshots/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serializes records as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)

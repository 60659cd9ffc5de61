package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// BlobWriter is the upload capability the archiver needs.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves closed trade records older than a retention cutoff out of
// the primary store into monthly NDJSON objects. A batch is deleted from
// Postgres only after its upload succeeded, so a failed upload leaves the
// rows in place for the next run.
type Archiver struct {
	writer    BlobWriter
	trades    domain.TradeRecordStore
	audit     domain.AuditStore
	logger    *slog.Logger
	retention time.Duration
	batchSize int
}

// NewArchiver creates an Archiver. retention is how long closed records stay
// in the primary store before being moved to blob storage.
func NewArchiver(writer BlobWriter, trades domain.TradeRecordStore, audit domain.AuditStore, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		trades:    trades,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archiver")),
		retention: retention,
		batchSize: 500,
	}
}

// Run archives in batches until no closed records older than the retention
// cutoff remain. It returns the total number of records moved.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-a.retention)
	var total int64

	for {
		recs, err := a.trades.ListClosedBefore(ctx, cutoff, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: list closed records: %w", err)
		}
		if len(recs) == 0 {
			return total, nil
		}

		moved, err := a.archiveBatch(ctx, recs)
		total += moved
		if err != nil {
			return total, err
		}
		if len(recs) < a.batchSize {
			return total, nil
		}
	}
}

// archiveBatch groups one batch by close month, uploads each group, and
// deletes the uploaded rows.
func (a *Archiver) archiveBatch(ctx context.Context, recs []domain.TradeRecord) (int64, error) {
	byMonth := make(map[string][]domain.TradeRecord)
	for _, rec := range recs {
		closedAt := rec.CreatedAt
		if rec.ClosedAt != nil {
			closedAt = *rec.ClosedAt
		}
		month := closedAt.UTC().Format("2006-01")
		byMonth[month] = append(byMonth[month], rec)
	}

	var total int64
	for month, group := range byMonth {
		path := fmt.Sprintf("archive/trades/%s/%d.ndjson", month, time.Now().UnixNano())

		buf, err := marshalNDJSON(group)
		if err != nil {
			return total, fmt.Errorf("s3blob: marshal archive batch: %w", err)
		}
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: upload archive %s: %w", path, err)
		}

		ids := make([]string, len(group))
		for i, rec := range group {
			ids[i] = rec.ID
		}
		if err := a.trades.DeleteByIDs(ctx, ids); err != nil {
			return total, fmt.Errorf("s3blob: prune archived records: %w", err)
		}

		total += int64(len(group))
		a.logger.InfoContext(ctx, "archived trade records",
			slog.String("path", path),
			slog.Int("count", len(group)),
		)
		if err := a.audit.Log(ctx, "", "archive.trades", map[string]any{
			"path":  path,
			"count": len(group),
		}); err != nil {
			a.logger.WarnContext(ctx, "audit log failed", slog.Any("error", err))
		}
	}
	return total, nil
}

// marshalNDJSON serialises records as newline-delimited JSON.
func marshalNDJSON[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("ndjson encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

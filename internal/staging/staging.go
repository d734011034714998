// Package staging persists canonical rows as audit records before any merge
// is attempted.
package staging

import (
	"context"
	"fmt"

	"github.com/heigenstudio/bookingpipe/internal/model"
	"github.com/heigenstudio/bookingpipe/internal/store"
	"github.com/heigenstudio/bookingpipe/internal/transform"
)

// Writer stages canonical rows. Staging always happens, whether or not a
// merge follows, so even dry runs leave a durable audit trail.
type Writer struct {
	st store.Store
}

// NewWriter constructs a Writer over the store.
func NewWriter(st store.Store) *Writer {
	return &Writer{st: st}
}

// Stage writes one staging row per canonical row, in original order with
// 1-based row numbers. The returned statuses are aligned with rows: PENDING
// for newly staged rows, or the preserved status of a row staged by an
// earlier run of the same file.
func (w *Writer) Stage(ctx context.Context, rows []transform.Row, fileName, checksum string) ([]model.ProcessingStatus, error) {
	statuses := make([]model.ProcessingStatus, len(rows))
	for i, row := range rows {
		rawJSON, err := row.RawJSON()
		if err != nil {
			return nil, fmt.Errorf("serialize raw row %d: %w", i+1, err)
		}
		canonicalJSON, err := row.CanonicalJSON()
		if err != nil {
			return nil, fmt.Errorf("serialize canonical row %d: %w", i+1, err)
		}
		status, err := w.st.InsertStagingRow(ctx, &model.StagingRow{
			FileName:      fileName,
			FileChecksum:  checksum,
			RawRowNumber:  i + 1,
			RawData:       rawJSON,
			CanonicalData: canonicalJSON,
		})
		if err != nil {
			return nil, err
		}
		statuses[i] = status
	}
	return statuses, nil
}

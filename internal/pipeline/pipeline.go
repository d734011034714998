// Package pipeline drives one extract-transform-stage-merge pass over the
// inbox directory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/heigenstudio/bookingpipe/internal/addons"
	"github.com/heigenstudio/bookingpipe/internal/ingest"
	"github.com/heigenstudio/bookingpipe/internal/merge"
	"github.com/heigenstudio/bookingpipe/internal/model"
	"github.com/heigenstudio/bookingpipe/internal/staging"
	"github.com/heigenstudio/bookingpipe/internal/store"
	"github.com/heigenstudio/bookingpipe/internal/transform"
)

// Archiver copies a processed file to long-term storage. Optional; a nil
// Archiver disables the step.
type Archiver interface {
	ArchiveProcessed(ctx context.Context, localPath, name, checksum string) error
}

// Pipeline wires the ingestor, transformer, staging writer and merger into
// one batch pass. It is the only component with cross-cutting control flow.
type Pipeline struct {
	ing  *ingest.Ingestor
	tx   store.TxRunner
	norm *addons.Normalizer
	arch Archiver
	log  logrus.FieldLogger

	processedDir string
}

// New constructs a Pipeline. arch may be nil.
func New(ing *ingest.Ingestor, tx store.TxRunner, norm *addons.Normalizer, arch Archiver, processedDir string, log logrus.FieldLogger) *Pipeline {
	return &Pipeline{
		ing:          ing,
		tx:           tx,
		norm:         norm,
		arch:         arch,
		processedDir: processedDir,
		log:          log,
	}
}

// FileSummary is the per-file outcome of a run.
type FileSummary struct {
	File     string
	Checksum string
	Staged   int
	Merge    merge.Result
}

// Summary aggregates a whole run.
type Summary struct {
	Files       []FileSummary
	FilesFailed int
}

// Run processes the full inbox to completion, file by file. Per-file
// failures are logged and counted; they never abort the run. When
// mergeEnabled is false only staging occurs (dry run / audit mode).
func (p *Pipeline) Run(ctx context.Context, mergeEnabled bool) (Summary, error) {
	var summary Summary

	files, err := p.ing.Discover()
	if err != nil {
		return summary, err
	}
	p.log.WithField("files", len(files)).Info("starting pipeline pass")

	for _, file := range files {
		fs, err := p.processFile(ctx, file, mergeEnabled)
		if err != nil {
			p.log.WithField("file", file.Name).Errorf("file failed: %v", err)
			summary.FilesFailed++
			continue
		}
		summary.Files = append(summary.Files, fs)
	}
	return summary, nil
}

func (p *Pipeline) processFile(ctx context.Context, file model.SourceFile, mergeEnabled bool) (FileSummary, error) {
	checksum, err := ingest.Checksum(file.Path)
	if err != nil {
		return FileSummary{}, err
	}
	file.Checksum = checksum
	log := p.log.WithFields(logrus.Fields{"file": file.Name, "checksum": shortChecksum(checksum)})

	sheets, err := p.ing.ReadSheets(file)
	if err != nil {
		return FileSummary{}, err
	}

	// Row numbers run continuously across sheets so (checksum, row number)
	// stays unique per file.
	var rows []transform.Row
	for _, sheet := range sheets {
		sheetRows, err := transform.Sheet(sheet)
		if err != nil {
			if errors.Is(err, transform.ErrUnknownFormat) {
				// Not staged at all; distinct from a staged-but-empty file.
				return FileSummary{}, fmt.Errorf("format detection: %w", err)
			}
			return FileSummary{}, err
		}
		rows = append(rows, sheetRows...)
	}

	fs := FileSummary{File: file.Name, Checksum: checksum, Staged: len(rows)}
	if len(rows) > 0 {
		err = p.tx.RunInTx(ctx, func(s store.Store) error {
			statuses, err := staging.NewWriter(s).Stage(ctx, rows, file.Name, checksum)
			if err != nil {
				return err
			}
			if !mergeEnabled {
				return nil
			}
			res, err := merge.New(s, p.norm, log).MergeFile(ctx, rows, statuses, checksum)
			if err != nil {
				return err
			}
			fs.Merge = res
			return nil
		})
		if err != nil {
			return FileSummary{}, err
		}
	}

	log.WithFields(logrus.Fields{
		"staged":           fs.Staged,
		"merged":           fs.Merge.Merged,
		"errors":           fs.Merge.Errors,
		"missing_customer": fs.Merge.MissingCustomer,
		"skipped":          fs.Merge.Skipped,
	}).Info("file processed")

	if err := p.ing.MoveToProcessed(file); err != nil {
		// Staging already committed, so nothing is lost; only cleanup is
		// blocked for this file.
		log.Errorf("cleanup failed, file left in inbox: %v", err)
		return fs, nil
	}

	if p.arch != nil {
		processedPath := filepath.Join(p.processedDir, file.Name)
		if err := p.arch.ArchiveProcessed(ctx, processedPath, file.Name, checksum); err != nil {
			log.Warnf("archive upload failed: %v", err)
		}
	}
	return fs, nil
}

func shortChecksum(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}

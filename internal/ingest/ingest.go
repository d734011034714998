// Package ingest discovers inbox spreadsheets, reads their worksheets and
// relocates them once processed.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/heigenstudio/bookingpipe/internal/model"
)

// RawSheet is one worksheet read as untyped string cells. Reading cells raw
// avoids silent numeric coercion before canonicalization.
type RawSheet struct {
	FileName  string
	SheetName string
	Rows      [][]string
}

// Ingestor handles all file-system interaction for the pipeline.
type Ingestor struct {
	inboxDir     string
	processedDir string
	moveRetries  int
	moveBackoff  time.Duration
	log          logrus.FieldLogger
}

// New constructs an Ingestor.
func New(inboxDir, processedDir string, moveRetries int, moveBackoff time.Duration, log logrus.FieldLogger) *Ingestor {
	return &Ingestor{
		inboxDir:     inboxDir,
		processedDir: processedDir,
		moveRetries:  moveRetries,
		moveBackoff:  moveBackoff,
		log:          log,
	}
}

// Discover lists unprocessed spreadsheet files in the inbox, ordered
// lexicographically by name. Office lock files ("~$...") are ignored.
func (i *Ingestor) Discover() ([]model.SourceFile, error) {
	entries, err := os.ReadDir(i.inboxDir)
	if err != nil {
		return nil, fmt.Errorf("read inbox %s: %w", i.inboxDir, err)
	}
	var files []model.SourceFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "~$") {
			continue
		}
		if !strings.EqualFold(filepath.Ext(name), ".xlsx") {
			continue
		}
		files = append(files, model.SourceFile{
			Path: filepath.Join(i.inboxDir, name),
			Name: name,
		})
	}
	sort.Slice(files, func(a, b int) bool { return files[a].Name < files[b].Name })
	return files, nil
}

// Checksum returns the sha256 hex digest of the file content. Used for
// provenance, not security.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReadSheets reads every worksheet of the file into raw tabular form. An
// unreadable sheet is skipped with a warning; other sheets are unaffected.
func (i *Ingestor) ReadSheets(file model.SourceFile) ([]RawSheet, error) {
	f, err := excelize.OpenFile(file.Path, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", file.Name, err)
	}
	defer f.Close()

	var sheets []RawSheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			i.log.WithFields(logrus.Fields{"file": file.Name, "sheet": name}).
				Warnf("skipping unreadable sheet: %v", err)
			continue
		}
		sheets = append(sheets, RawSheet{
			FileName:  file.Name,
			SheetName: name,
			Rows:      rows,
		})
	}
	return sheets, nil
}

// MoveToProcessed relocates the file into the processed directory. Permission
// failures are retried with fixed backoff, since spreadsheet software holds
// exclusive locks that surface that way and release on their own; any other
// failure is permanent and returns immediately. Exhausting the retries fails
// the cleanup step only, since processing is already durably recorded in
// staging.
func (i *Ingestor) MoveToProcessed(file model.SourceFile) error {
	if err := os.MkdirAll(i.processedDir, 0o755); err != nil {
		return fmt.Errorf("create processed dir: %w", err)
	}
	dest := filepath.Join(i.processedDir, file.Name)

	var lastErr error
	for attempt := 0; attempt < i.moveRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(i.moveBackoff)
			i.log.WithField("file", file.Name).Warn("file locked, retrying move")
		}
		lastErr = moveFile(file.Path, dest)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, os.ErrPermission) {
			return fmt.Errorf("move %s: %w", file.Name, lastErr)
		}
	}
	return fmt.Errorf("move %s after %d attempts: %w", file.Name, i.moveRetries, lastErr)
}

// moveFile renames src to dest, falling back to copy-and-remove when the
// rename crosses filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		in.Close()
		return err
	}
	_, copyErr := io.Copy(out, in)
	in.Close()
	if closeErr := out.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return copyErr
	}
	return os.Remove(src)
}

package ingest

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/heigenstudio/bookingpipe/internal/model"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDiscover(t *testing.T) {
	inbox := t.TempDir()
	writeFile(t, inbox, "b-september.xlsx", "b")
	writeFile(t, inbox, "a-august.XLSX", "a")
	writeFile(t, inbox, "~$a-august.xlsx", "lock")
	writeFile(t, inbox, "notes.txt", "x")
	require.NoError(t, os.Mkdir(filepath.Join(inbox, "archive.xlsx"), 0o755))

	ing := New(inbox, t.TempDir(), 1, 0, testLogger())
	files, err := ing.Discover()
	require.NoError(t, err)

	require.Len(t, files, 2)
	assert.Equal(t, "a-august.XLSX", files[0].Name)
	assert.Equal(t, "b-september.xlsx", files[1].Name)
	assert.Equal(t, filepath.Join(inbox, "a-august.XLSX"), files[0].Path)
}

func TestDiscoverMissingInbox(t *testing.T) {
	ing := New(filepath.Join(t.TempDir(), "nope"), t.TempDir(), 1, 0, testLogger())
	_, err := ing.Discover()
	assert.Error(t, err)
}

func TestChecksum(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "f.xlsx", "hello")

	sum, err := Checksum(path)
	require.NoError(t, err)
	// sha256("hello")
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)

	same, err := Checksum(path)
	require.NoError(t, err)
	assert.Equal(t, sum, same)

	other := writeFile(t, dir, "g.xlsx", "hello!")
	otherSum, err := Checksum(other)
	require.NoError(t, err)
	assert.NotEqual(t, sum, otherSum)
}

func TestReadSheets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.xlsx")

	wb := excelize.NewFile()
	require.NoError(t, wb.SetSheetRow("Sheet1", "A1", &[]any{"Session Date", "Full Name"}))
	require.NoError(t, wb.SetSheetRow("Sheet1", "A2", &[]any{"2025-08-14", "Anna"}))
	_, err := wb.NewSheet("Sept")
	require.NoError(t, err)
	require.NoError(t, wb.SetSheetRow("Sept", "A1", &[]any{"Timestamp", "Email Address"}))
	require.NoError(t, wb.SaveAs(path))
	require.NoError(t, wb.Close())

	ing := New(dir, t.TempDir(), 1, 0, testLogger())
	sheets, err := ing.ReadSheets(model.SourceFile{Path: path, Name: "book.xlsx"})
	require.NoError(t, err)

	require.Len(t, sheets, 2)
	assert.Equal(t, "Sheet1", sheets[0].SheetName)
	assert.Equal(t, [][]string{{"Session Date", "Full Name"}, {"2025-08-14", "Anna"}}, sheets[0].Rows)
	assert.Equal(t, "Sept", sheets[1].SheetName)
	assert.Equal(t, "book.xlsx", sheets[1].FileName)
}

func TestMoveToProcessed(t *testing.T) {
	inbox := t.TempDir()
	processed := filepath.Join(t.TempDir(), "done")
	path := writeFile(t, inbox, "f.xlsx", "content")

	ing := New(inbox, processed, 3, time.Millisecond, testLogger())
	err := ing.MoveToProcessed(model.SourceFile{Path: path, Name: "f.xlsx"})
	require.NoError(t, err)

	moved, err := os.ReadFile(filepath.Join(processed, "f.xlsx"))
	require.NoError(t, err)
	assert.Equal(t, "content", string(moved))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestMoveToProcessedMissingSourceFailsFast(t *testing.T) {
	inbox := t.TempDir()
	ing := New(inbox, t.TempDir(), 10, time.Millisecond, testLogger())
	err := ing.MoveToProcessed(model.SourceFile{
		Path: filepath.Join(inbox, "missing.xlsx"),
		Name: "missing.xlsx",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	// A permanent failure must not be wrapped as a retry exhaustion.
	assert.NotContains(t, err.Error(), "attempts")
}

func TestMoveFileAcrossDirs(t *testing.T) {
	src := writeFile(t, t.TempDir(), "src.xlsx", "data")
	dest := filepath.Join(t.TempDir(), "dest.xlsx")

	require.NoError(t, moveFile(src, dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

package contextdoc

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	doc := New(t.TempDir())

	data := map[string]any{
		"panic_location": "src/vdbe.c:1234",
		"panic_message":  "assertion failed",
		"tcl_test_file":  "test/panic-1234.test",
	}
	if err := doc.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := doc.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got["panic_location"] != "src/vdbe.c:1234" {
		t.Fatalf("unexpected data: %+v", got)
	}
}

func TestReadAbsent(t *testing.T) {
	doc := New(t.TempDir())
	_, err := doc.Read()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReadCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc := New(dir)
	_, err := doc.Read()
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestMergeRefusesToCreate(t *testing.T) {
	dir := t.TempDir()
	doc := New(dir)

	err := doc.Merge(map[string]any{"failing_seed": float64(42)})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, statErr := os.Stat(doc.Path()); !os.IsNotExist(statErr) {
		t.Fatal("merge must not create the file")
	}
}

func TestMergePreservesUnknownFields(t *testing.T) {
	doc := New(t.TempDir())

	if err := doc.Write(map[string]any{
		"panic_location": "src/a.c:1",
		"custom_note":    "left by an agent",
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := doc.Merge(map[string]any{
		"failing_seed": float64(7),
	}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	got, err := doc.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got["custom_note"] != "left by an agent" {
		t.Fatalf("unknown field lost: %+v", got)
	}
	if got["failing_seed"] != float64(7) {
		t.Fatalf("merged field missing: %+v", got)
	}
	if got["panic_location"] != "src/a.c:1" {
		t.Fatalf("existing field lost: %+v", got)
	}
}

func TestMergeEmptyIsIdentity(t *testing.T) {
	doc := New(t.TempDir())

	orig := map[string]any{"panic_location": "src/a.c:1", "panic_message": "m"}
	if err := doc.Write(orig); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := doc.Merge(map[string]any{}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	got, err := doc.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got["panic_message"] != "m" {
		t.Fatalf("merge of empty changed data: %+v", got)
	}
}

func TestMergeOnCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("]["), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc := New(dir)
	if err := doc.Merge(map[string]any{"k": "v"}); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	doc := New(t.TempDir())
	if err := doc.Write(map[string]any{"k": "v"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := doc.Delete(); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := doc.Delete(); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

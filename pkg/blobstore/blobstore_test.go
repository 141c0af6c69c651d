package blobstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadStatRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, 0)
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("ciphertext-bytes")
	if err := store.Write("hello.txt", payload); err != nil {
		t.Fatal(err)
	}

	got, err := store.Read("hello.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}

	size, err := store.Stat("hello.txt")
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len(payload)) {
		t.Fatalf("stat size %d != %d", size, len(payload))
	}
}

func TestWriteIsCreateOrReplace(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Write("f", []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := store.Write("f", []byte("second-longer")); err != nil {
		t.Fatal(err)
	}
	got, err := store.Read("f")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second-longer" {
		t.Fatalf("got %q, want replaced content", got)
	}
}

func TestExistsTracksWrites(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if store.Exists("never-written") {
		t.Error("expected Exists to be false for a name never written")
	}
	if err := store.Write("present.bin", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if !store.Exists("present.bin") {
		t.Error("expected Exists to be true after Write")
	}
}

func TestNewSeedsFilterFromPreexistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "preexisting.bin"), []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}
	store, err := New(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !store.Exists("preexisting.bin") {
		t.Error("expected Exists to recognize a file present before Store construction")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Write("f", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("f"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("f"); err != nil {
		t.Fatalf("expected deleting an already-absent blob to be a no-op, got %v", err)
	}
}

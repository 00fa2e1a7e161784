package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if ok, err := store.Exists(ctx, "doc-1"); err != nil || ok {
		t.Fatalf("expected missing document, got ok=%v err=%v", ok, err)
	}
	if _, err := store.Load(ctx, "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Save(ctx, "doc-1", "# Heading\n\ncontent"); err != nil {
		t.Fatalf("save: %v", err)
	}
	content, err := store.Load(ctx, "doc-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if content != "# Heading\n\ncontent" {
		t.Fatalf("got %q", content)
	}
	if ok, err := store.Exists(ctx, "doc-1"); err != nil || !ok {
		t.Fatalf("expected document to exist, got ok=%v err=%v", ok, err)
	}

	if err := store.Save(ctx, "doc-1", "rewritten"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	content, err = store.Load(ctx, "doc-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if content != "rewritten" {
		t.Fatalf("got %q after overwrite", content)
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := store.Save(context.Background(), "doc", strings.Repeat("x", i+1)); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly the document file, found %d entries", len(entries))
	}
	if name := entries[0].Name(); name != "doc.md" {
		t.Fatalf("unexpected entry %q", name)
	}
}

func TestFileStoreSanitizesIDs(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if err := store.Save(ctx, "../escape", "contained"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.md")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("document escaped the data directory")
	}
	content, err := store.Load(ctx, "../escape")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if content != "contained" {
		t.Fatalf("got %q", content)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Load(ctx, "doc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Save(ctx, "doc", "hello"); err != nil {
		t.Fatalf("save: %v", err)
	}
	content, err := store.Load(ctx, "doc")
	if err != nil || content != "hello" {
		t.Fatalf("load: got %q err %v", content, err)
	}
	ok, err := store.Exists(ctx, "doc")
	if err != nil || !ok {
		t.Fatalf("exists: got %v err %v", ok, err)
	}
}

package blob

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStorePutWritesUnderRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root, 1024)
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	stored, err := store.Put(context.Background(), "img-1.png", bytes.NewReader([]byte("pixels")), "image/png")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if stored.SizeBytes != 6 {
		t.Fatalf("SizeBytes = %d, want 6", stored.SizeBytes)
	}

	data, err := os.ReadFile(filepath.Join(root, "img-1.png"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "pixels" {
		t.Fatalf("file content = %q, want pixels", data)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("root has %d entries, want only the stored file", len(entries))
	}
}

func TestLocalStorePutRejectsOversizedBody(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root, 4)
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	_, err = store.Put(context.Background(), "big.png", strings.NewReader("12345"), "image/png")
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("Put() error = %v, want ErrFileTooLarge", err)
	}

	exists, err := store.Exists(context.Background(), "big.png")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Fatal("oversized upload left a file behind")
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), 1024)
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	for _, name := range []string{"", "..", "../escape.png", "a/b.png", `a\b.png`} {
		if _, err := store.Put(context.Background(), name, strings.NewReader("x"), ""); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("Put(%q) error = %v, want ErrInvalidPath", name, err)
		}
		if err := store.Delete(context.Background(), name); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("Delete(%q) error = %v, want ErrInvalidPath", name, err)
		}
	}
}

func TestLocalStoreDeleteToleratesMissingFile(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), 1024)
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	ctx := context.Background()

	if _, err := store.Put(ctx, "a.png", strings.NewReader("x"), ""); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Delete(ctx, "a.png"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "a.png"); err != nil {
		t.Fatalf("Delete() of missing file error = %v", err)
	}

	exists, err := store.Exists(ctx, "a.png")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Fatal("Exists() = true after delete")
	}
}

func TestLocalStorePutHonoursCancelledContext(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), 1024)
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Put(ctx, "a.png", strings.NewReader("x"), ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("Put() error = %v, want context.Canceled", err)
	}
}

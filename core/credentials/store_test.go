package credentials

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("")
	if _, err := store.Token(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}

	if err := store.SetToken(ctx, "abc"); err != nil {
		t.Fatalf("SetToken returned error: %v", err)
	}
	if token, err := store.Token(ctx); err != nil || token != "abc" {
		t.Fatalf("expected token abc, got %q (%v)", token, err)
	}
}

func TestFileStoreRoundTripAndClear(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "token"))

	if _, err := store.Token(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken for missing file, got %v", err)
	}
	if err := store.SetToken(ctx, "secret\n"); err != nil {
		t.Fatalf("SetToken returned error: %v", err)
	}
	if token, err := store.Token(ctx); err != nil || token != "secret" {
		t.Fatalf("expected token secret, got %q (%v)", token, err)
	}
	if err := store.SetToken(ctx, ""); err != nil {
		t.Fatalf("clearing token returned error: %v", err)
	}
	if _, err := store.Token(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken after clearing, got %v", err)
	}
}

func TestBearerHeader(t *testing.T) {
	ctx := context.Background()
	if header, err := BearerHeader(ctx, nil); err != nil || header != "" {
		t.Fatalf("expected empty header for nil store, got %q (%v)", header, err)
	}
	if header, err := BearerHeader(ctx, NewMemoryStore("")); err != nil || header != "" {
		t.Fatalf("expected empty header without token, got %q (%v)", header, err)
	}
	if header, err := BearerHeader(ctx, NewMemoryStore("abc")); err != nil || header != "Bearer abc" {
		t.Fatalf("expected bearer header, got %q (%v)", header, err)
	}
}

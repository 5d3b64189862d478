package tokenstate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type memoryBlobStore struct {
	data map[string][]byte
}

func (m *memoryBlobStore) Load(_ context.Context, name string) ([]byte, error) {
	if m.data != nil {
		if data, ok := m.data[name]; ok {
			return data, nil
		}
	}
	return nil, ErrBlobNotFound
}

func (m *memoryBlobStore) Save(_ context.Context, name string, data []byte) error {
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[name] = data
	return nil
}

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	expiry := time.Now().Add(20 * time.Minute).Truncate(time.Second)
	state := State{
		SchemaVersion: SchemaVersion,
		AccessToken:   "access",
		RefreshToken:  "refresh",
		Expiry:        expiry,
	}

	if err := WriteState(path, state); err != nil {
		t.Fatalf("write state: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := LoadState(path)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if loaded.AccessToken != "access" || loaded.RefreshToken != "refresh" {
		t.Fatalf("unexpected state: %+v", loaded)
	}
	if !loaded.Expiry.Equal(expiry) {
		t.Fatalf("expected expiry %s, got %s", expiry, loaded.Expiry)
	}

	token := loaded.Token()
	if token.AccessToken != "access" || token.RefreshToken != "refresh" {
		t.Fatalf("unexpected token: %+v", token)
	}
}

func TestLoadStateMissing(t *testing.T) {
	_, err := LoadState(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
}

func TestDecodeStateRejectsMissingRefreshToken(t *testing.T) {
	_, err := DecodeState([]byte(`{"schema_version":1,"access_token":"a"}`))
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestStoreFallsBackToBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	blob := &memoryBlobStore{}
	store := NewStore(path, "kumo", blob)

	ctx := context.Background()
	if _, err := store.Load(ctx); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}

	state := State{
		SchemaVersion: SchemaVersion,
		AccessToken:   "access",
		RefreshToken:  "refresh",
		Expiry:        time.Now().Add(time.Hour),
	}
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := blob.data["kumo"]; !ok {
		t.Fatal("expected state mirrored to blob store")
	}

	// Simulate a rebuilt host: local file gone, mirror present.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	recovered, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load from blob: %v", err)
	}
	if recovered.RefreshToken != "refresh" {
		t.Fatalf("unexpected recovered state: %+v", recovered)
	}
	// Recovery writes the file back.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected state file restored: %v", err)
	}
}

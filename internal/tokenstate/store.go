package tokenstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Store persists token state to a local file and optionally mirrors it to a
// blob store. The local file is authoritative; the mirror exists so a
// rebuilt host can recover without a fresh login.
type Store struct {
	path string
	name string
	blob BlobStore
}

func NewStore(path, name string, blob BlobStore) *Store {
	return &Store{path: path, name: name, blob: blob}
}

// Load reads the local state file, falling back to the blob mirror when the
// file is missing. A recovered mirror is written back to disk.
func (s *Store) Load(ctx context.Context) (State, error) {
	local, localErr := LoadState(s.path)
	if localErr == nil {
		return local, nil
	}
	if !errors.Is(localErr, ErrStateNotFound) {
		return State{}, localErr
	}
	if s.blob == nil {
		return State{}, ErrStateNotFound
	}

	data, blobErr := s.blob.Load(ctx, s.name)
	if blobErr != nil {
		if errors.Is(blobErr, ErrBlobNotFound) {
			return State{}, ErrStateNotFound
		}
		return State{}, blobErr
	}
	state, err := DecodeState(data)
	if err != nil {
		return State{}, err
	}
	if err := WriteState(s.path, state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Save writes the state file and mirrors it. Mirror failures are returned
// but the local write has already happened.
func (s *Store) Save(ctx context.Context, state State) error {
	if err := WriteState(s.path, state); err != nil {
		return err
	}
	if s.blob == nil {
		return nil
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := s.blob.Save(ctx, s.name, data); err != nil {
		return fmt.Errorf("mirror state: %w", err)
	}
	return nil
}

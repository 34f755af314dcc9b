// Package filestore implements the per-key JSON fallback store used when
// no database is configured.  Each logical row lives in its own file at
// <root>/<bucket>/<key>.json.  The store offers none of the relational
// guarantees: no row locking and no atomicity across keys, which is why
// the sync and gift-code endpoints refuse to run on top of it.
package filestore

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when no file exists for the key.
var ErrNotFound = errors.New("filestore: not found")

// Store is a directory-backed key/value store.  A single process-wide
// mutex serializes writes; reads of distinct keys may still observe
// torn multi-key updates, matching the documented reduced guarantees.
type Store struct {
	root string
	mu   sync.Mutex
}

// New creates (if needed) the root directory and returns a Store.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

// path maps a bucket/key pair onto the filesystem.  Keys are opaque
// tokens generated by this service, but escape anything that could
// wander out of the bucket directory anyway.
func (s *Store) path(bucket, key string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(s.root, bucket, safe+".json")
}

// Put marshals v and writes it under bucket/key, creating the bucket
// directory on first use.  The write goes through a temp file and a
// rename so a crash never leaves a half-written row behind.
func (s *Store) Put(bucket, key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

// Get unmarshals the row stored under bucket/key into v.  It returns
// ErrNotFound when the file does not exist.
func (s *Store) Get(bucket, key string, v any) error {
	data, err := os.ReadFile(s.path(bucket, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// Take reads and removes the row under bucket/key in one step, holding
// the store lock across both so two concurrent callers cannot each
// observe the row.  Returns ErrNotFound when the file does not exist.
func (s *Store) Take(bucket, key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.path(bucket, key)
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return json.Unmarshal(data, v)
}

// Delete removes the row under bucket/key.  Deleting a missing row is
// not an error; deletion is used on cleanup paths that must not fail.
func (s *Store) Delete(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(bucket, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Keys lists all keys present in a bucket.  An absent bucket yields an
// empty slice.
func (s *Store) Keys(bucket string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, bucket))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	return keys, nil
}

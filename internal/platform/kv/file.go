package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	plainFileName  = "session.json"
	sealedFileName = "session.enc"
	dirPerm        = 0o700
	filePerm       = 0o600
)

// FileStore persists all keys as one JSON document in dir. Writes go to a
// temporary file that is renamed over the document, so a batch is either
// fully visible or not at all. With a Sealer the document is encrypted.
type FileStore struct {
	mu     sync.Mutex
	path   string
	sealer *Sealer
	closed bool
}

// NewFileStore creates dir with owner-only permissions if needed.
func NewFileStore(dir string, sealer *Sealer) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("kv file store: directory is required")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("kv file store: create dir: %w", err)
	}
	name := plainFileName
	if sealer != nil {
		name = sealedFileName
	}
	return &FileStore{path: filepath.Join(dir, name), sealer: sealer}, nil
}

// Path returns the document location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}
	doc, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := doc[key]
	return v, ok, nil
}

func (s *FileStore) MultiGet(_ context.Context, keys ...string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *FileStore) MultiSet(_ context.Context, pairs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	doc, err := s.load()
	if err != nil {
		return err
	}
	for k, v := range pairs {
		doc[k] = v
	}
	return s.save(doc)
}

func (s *FileStore) MultiRemove(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	doc, err := s.load()
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(doc, k)
	}
	if len(doc) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("kv file store: remove: %w", err)
		}
		return nil
	}
	return s.save(doc)
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv file store: read: %w", err)
	}
	if s.sealer != nil {
		data, err = s.sealer.Open(data)
		if err != nil {
			return nil, err
		}
	}
	doc := make(map[string]string)
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("kv file store: decode: %w", err)
	}
	return doc, nil
}

func (s *FileStore) save(doc map[string]string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("kv file store: encode: %w", err)
	}
	if s.sealer != nil {
		data, err = s.sealer.Seal(data)
		if err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return fmt.Errorf("kv file store: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("kv file store: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("kv file store: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("kv file store: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("kv file store: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("kv file store: rename: %w", err)
	}
	return nil
}

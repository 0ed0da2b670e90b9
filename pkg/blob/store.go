// Package blob stores uploaded evidence bytes behind content-addressed
// keys. The key returned by Put is what Evidence.StorageKey carries;
// re-uploading identical bytes yields the same key, so evidence dedup
// is free at the storage layer.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/estately/dealflow/pkg/domain"
)

// Store is the evidence blob contract. Keys are "sha256:<hex>".
type Store interface {
	// Put persists data and returns its content-addressed key.
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether the key holds a blob.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes the blob. Missing keys are not an error; evidence
	// undo must stay idempotent.
	Delete(ctx context.Context, key string) error
}

const keyPrefix = "sha256:"

func hashKey(data []byte) (key, raw string) {
	sum := sha256.Sum256(data)
	raw = hex.EncodeToString(sum[:])
	return keyPrefix + raw, raw
}

func parseKey(key string) (string, error) {
	if len(key) <= len(keyPrefix) || key[:len(keyPrefix)] != keyPrefix {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	raw := key[len(keyPrefix):]
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid storage key %q: %w", key, err)
	}
	return raw, nil
}

// FileStore keeps blobs on the local filesystem.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure blob dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, raw := hashKey(data)
	path := filepath.Join(s.baseDir, raw+".blob")
	if _, err := os.Stat(path); err == nil {
		return key, nil
	}

	// Write to temp, then rename so readers never see a partial blob.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return key, nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.baseDir, raw+".blob"))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("blob %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	defer func() { _ = f.Close() }()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return b, nil
}

func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseKey(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.baseDir, raw+".blob"))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob: %w", err)
	}
	return true, nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := parseKey(key)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.baseDir, raw+".blob"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

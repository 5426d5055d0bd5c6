package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gatepass-agent/internal/observability"
)

// FileStore persists one file per key under a cache directory. When a
// passphrase is set, values are encrypted at rest; tokens on terminal disks
// are otherwise readable by anyone with filesystem access.
type FileStore struct {
	dir        string
	passphrase string
	mu         sync.Mutex
}

// NewFileStore creates the cache directory if needed. An empty passphrase
// stores values in plaintext; production configuration rejects that before
// it gets here.
func NewFileStore(dir, passphrase string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &FileStore{dir: dir, passphrase: passphrase}, nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		observability.StoreOpDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", key, err)
	}

	if s.passphrase == "" {
		return blob, nil
	}
	return open(s.passphrase, blob)
}

func (s *FileStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		observability.StoreOpDuration.WithLabelValues("put").Observe(time.Since(start).Seconds())
	}()

	blob := value
	if s.passphrase != "" {
		sealed, err := seal(s.passphrase, value)
		if err != nil {
			return fmt.Errorf("seal %q: %w", key, err)
		}
		blob = sealed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Write to a temp file in the same directory, then rename. A crash
	// mid-write must never leave a truncated record behind.
	tmp, err := os.CreateTemp(s.dir, "."+s.filename(key)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %q: %w", key, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %q: %w", key, err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %q: %w", key, err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		observability.StoreOpDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Ping verifies the cache directory is still writable; used by readiness.
func (s *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.CreateTemp(s.dir, ".ping-")
	if err != nil {
		return fmt.Errorf("cache directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil {
		observability.Warn("failed to remove ping file", "path", name, "error", err.Error())
	}
	return nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, s.filename(key))
}

// filename maps a key to a flat file name; keys are internal identifiers,
// not user input, so a conservative replacement is enough.
func (s *FileStore) filename(key string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, key)
	return cleaned + ".bin"
}

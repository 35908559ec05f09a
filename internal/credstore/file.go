package credstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/auth"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/logging"
)

const (
	dirPermissions  = 0o700
	filePermissions = 0o600

	// watchDebounce coalesces the bursts of events a single save produces.
	watchDebounce = 100 * time.Millisecond
)

// FileStore keeps the identity as a JSON file.
//
// Writes go to a temp file in the same directory and are renamed into place,
// so a concurrent reader sees either the old record or the new one.
type FileStore struct {
	path   string
	logger *logging.Logger

	mu sync.Mutex
	// last is the content this process most recently wrote or read. Watch
	// uses it to ignore its own writes.
	last []byte
}

// Change describes an identity change made outside this process.
type Change struct {
	// Identity is the new record, or nil when the store was cleared or
	// now holds unreadable data.
	Identity *auth.Identity
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string, logger *logging.Logger) *FileStore {
	if logger == nil {
		logger = logging.Discard()
	}
	return &FileStore{
		path:   filepath.Clean(path),
		logger: logger.With("component", "credstore", "backend", "file"),
	}
}

// Path returns the credential file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements Store.
func (s *FileStore) Load() (*auth.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("reading stored identity failed", "error", err)
		}
		s.last = nil
		return nil, false
	}

	ident, err := decode(data)
	if err != nil {
		s.logger.Warn("discarding corrupt stored identity", "error", err)
		if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.Warn("removing corrupt identity failed", "error", rmErr)
		}
		s.last = nil
		return nil, false
	}

	s.last = data
	return ident, true
}

// Save implements Store.
func (s *FileStore) Save(ident auth.Identity) error {
	data, err := encode(ident)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeAtomic(s.path, data); err != nil {
		return err
	}
	s.last = data
	return nil
}

// Clear implements Store.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clearing stored identity: %w", err)
	}
	s.last = nil
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".identity-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // No-op once renamed

	if err := tmp.Chmod(filePermissions); err != nil {
		tmp.Close() //nolint:errcheck // Error path
		return fmt.Errorf("restricting temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // Error path
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck // Error path
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing identity file: %w", err)
	}
	return nil
}

// Watch reports changes to the credential file made by other processes until
// ctx is cancelled. Writes made through this FileStore are not reported.
//
// The parent directory is watched rather than the file, since an atomic
// replace swaps the inode out from under a file watch.
func (s *FileStore) Watch(ctx context.Context, onChange func(Change)) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck // Shutdown path

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	s.logger.Debug("watching credential file", "path", s.path)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if change, changed := s.detectChange(); changed {
				onChange(change)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("credential watcher error", "error", err)
		}
	}
}

// detectChange compares the file with the last known content.
func (s *FileStore) detectChange() (Change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if s.last == nil {
			return Change{}, false
		}
		s.last = nil
		return Change{}, true
	}

	if bytes.Equal(data, s.last) {
		return Change{}, false
	}
	s.last = data

	ident, err := decode(data)
	if err != nil {
		s.logger.Warn("external write left an unreadable identity", "error", err)
		return Change{}, true
	}
	return Change{Identity: ident}, true
}

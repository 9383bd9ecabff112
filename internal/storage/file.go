package storage

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	fileExt = ".json"

	// watchDebounce coalesces the burst of fsnotify events a single atomic
	// write produces into one change notification.
	watchDebounce = 500 * time.Millisecond

	// selfWriteWindow is how long after our own Set we ignore events for the
	// same key, so a process only hears about writes made by others.
	selfWriteWindow = 1 * time.Second
)

// FileKV stores one JSON file per key inside a data directory. Writes are
// atomic (temp file + rename), so watchers never observe a torn value.
type FileKV struct {
	dir      string
	maxBytes int64

	mu         sync.Mutex
	selfWrites map[string]time.Time
}

// NewFileKV creates the data directory if needed. maxBytes <= 0 disables the
// byte budget.
func NewFileKV(dir string, maxBytes int64) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &FileKV{
		dir:        dir,
		maxBytes:   maxBytes,
		selfWrites: make(map[string]time.Time),
	}, nil
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, key+fileExt)
}

// Get reads the value file for key.
func (f *FileKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("get %q: %w", key, ErrKeyNotFound)
		}
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return b, nil
}

// Set writes the value atomically via a temp file in the same directory.
func (f *FileKV) Set(ctx context.Context, key string, value []byte) error {
	if f.maxBytes > 0 {
		used, err := f.usedBytes()
		if err != nil {
			return fmt.Errorf("set %q: %w", key, err)
		}
		var old int64
		if fi, err := os.Stat(f.path(key)); err == nil {
			old = fi.Size()
		}
		if next := used - old + int64(len(value)); next > f.maxBytes {
			return fmt.Errorf("set %q (%d bytes, budget %d): %w", key, next, f.maxBytes, ErrQuotaExceeded)
		}
	}

	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("set %q: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("set %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	f.mu.Lock()
	f.selfWrites[key] = time.Now()
	f.mu.Unlock()
	return nil
}

// Delete removes the value file. Absent keys are ignored.
func (f *FileKV) Delete(ctx context.Context, key string) error {
	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	f.mu.Lock()
	f.selfWrites[key] = time.Now()
	f.mu.Unlock()
	return nil
}

// Keys lists keys from the value files present on disk.
func (f *FileKV) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), fileExt))
	}
	return keys, nil
}

// Close is a no-op; watchers hold their own resources.
func (f *FileKV) Close() error { return nil }

// Watch emits an Event whenever another process writes a value file in the
// data directory. Event bursts are debounced; our own writes are suppressed.
func (f *FileKV) Watch(ctx context.Context) (<-chan Event, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", f.dir, err)
	}
	if err := w.Add(f.dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", f.dir, err)
	}

	ch := make(chan Event, 8)
	go func() {
		defer close(ch)
		defer func() { _ = w.Close() }()

		pending := make(map[string]struct{})
		var flushTimer *time.Timer
		var flush <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				name := filepath.Base(ev.Name)
				if !strings.HasSuffix(name, fileExt) {
					continue
				}
				key := strings.TrimSuffix(name, fileExt)
				if f.recentSelfWrite(key) {
					continue
				}
				pending[key] = struct{}{}
				if flushTimer != nil {
					flushTimer.Stop()
				}
				flushTimer = time.NewTimer(watchDebounce)
				flush = flushTimer.C

			case <-flush:
				for key := range pending {
					select {
					case ch <- Event{Key: key}:
					case <-ctx.Done():
						return
					}
					delete(pending, key)
				}
				flushTimer = nil
				flush = nil

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ File watcher error: %v", err)
			}
		}
	}()
	return ch, nil
}

func (f *FileKV) recentSelfWrite(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.selfWrites[key]
	return ok && time.Since(t) < selfWriteWindow
}

func (f *FileKV) usedBytes() (int64, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		n += fi.Size()
	}
	return n, nil
}

package kv

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 10 * time.Millisecond

var safeNamespace = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// FileStore writes each namespace to <dir>/<ns>.json. Writes go through a
// temp file and rename so readers never observe a partial value.
type FileStore struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("kv: file store needs a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store dir: %w", err)
	}
	return &FileStore{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, ".lock")),
	}, nil
}

func (f *FileStore) path(ns string) (string, error) {
	if !safeNamespace.MatchString(ns) {
		return "", fmt.Errorf("kv: invalid namespace %q", ns)
	}
	return filepath.Join(f.dir, ns+".json"), nil
}

func (f *FileStore) Read(ctx context.Context, ns string) ([]byte, bool, error) {
	p, err := f.path(ns)
	if err != nil {
		return nil, false, err
	}

	unlock, err := f.acquire(ctx, false)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	return readFile(ns, p)
}

func readFile(ns, p string) ([]byte, bool, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", ns, err)
	}
	return data, true, nil
}

func (f *FileStore) Write(ctx context.Context, ns string, value []byte) error {
	p, err := f.path(ns)
	if err != nil {
		return err
	}

	unlock, err := f.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	return f.writeFile(ns, p, value)
}

func (f *FileStore) writeFile(ns, p string, value []byte) error {
	tmp, err := os.CreateTemp(f.dir, ns+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", ns, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", ns, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", ns, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", ns, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("rename %s: %w", ns, err)
	}
	return nil
}

func (f *FileStore) Remove(ctx context.Context, ns string) error {
	p, err := f.path(ns)
	if err != nil {
		return err
	}

	unlock, err := f.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	return removeFile(ns, p)
}

func removeFile(ns, p string) error {
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", ns, err)
	}
	return nil
}

// Update holds the exclusive lock across the read and the write.
func (f *FileStore) Update(ctx context.Context, ns string, fn UpdateFunc) error {
	p, err := f.path(ns)
	if err != nil {
		return err
	}

	unlock, err := f.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	cur, ok, err := readFile(ns, p)
	if err != nil {
		return err
	}
	next, err := fn(cur, ok)
	if err != nil {
		return err
	}
	if next == nil {
		return removeFile(ns, p)
	}
	return f.writeFile(ns, p, next)
}

// Close releases the lock file handle.
func (f *FileStore) Close() error {
	return f.lock.Close()
}

// acquire takes the in-process mutex and the cross-process file lock.
func (f *FileStore) acquire(ctx context.Context, exclusive bool) (func(), error) {
	f.mu.Lock()

	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = f.lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = f.lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil || !ok {
		f.mu.Unlock()
		if err == nil {
			err = errors.New("lock not acquired")
		}
		return nil, fmt.Errorf("kv: lock %s: %w", f.dir, err)
	}

	return func() {
		_ = f.lock.Unlock()
		f.mu.Unlock()
	}, nil
}

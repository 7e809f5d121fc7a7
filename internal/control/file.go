package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	fileSuffix = "_control.json"
	// StaleLockAge is how old a lock file must be before it is broken.
	StaleLockAge = 10 * time.Second
	lockRetry    = 10 * time.Millisecond
	lockTimeout  = 15 * time.Second
)

// FileStore keeps one JSON file per run in a directory. Writers in any
// process are serialized by an exclusive lock file next to the record.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating control directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the record file for runID.
func (s *FileStore) Path(runID string) string {
	return filepath.Join(s.dir, runID+fileSuffix)
}

func (s *FileStore) Create(ctx context.Context, rec Record) error {
	unlock, err := s.lock(ctx, rec.RunID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := os.Stat(s.Path(rec.RunID)); err == nil {
		return fmt.Errorf("record %s already exists", rec.RunID)
	}
	return s.write(rec)
}

func (s *FileStore) Load(_ context.Context, runID string) (Record, error) {
	return s.read(runID)
}

func (s *FileStore) Update(ctx context.Context, runID string, fn func(*Record) error) (Record, error) {
	unlock, err := s.lock(ctx, runID)
	if err != nil {
		return Record{}, err
	}
	defer unlock()

	rec, err := s.read(runID)
	if err != nil {
		return Record{}, err
	}
	if err := fn(&rec); err != nil {
		return Record{}, err
	}
	if err := s.write(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *FileStore) Delete(ctx context.Context, runID string) error {
	unlock, err := s.lock(ctx, runID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(s.Path(runID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing control record: %w", err)
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]Record, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+fileSuffix))
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(matches))
	for _, path := range matches {
		runID := strings.TrimSuffix(filepath.Base(path), fileSuffix)
		rec, err := s.read(runID)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) read(runID string) (Record, error) {
	data, err := os.ReadFile(s.Path(runID))
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading control record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("parsing control record %s: %w", runID, err)
	}
	return rec, nil
}

// write replaces the record atomically via a temp file and rename.
func (s *FileStore) write(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding control record: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, rec.RunID+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing control record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing control record: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(rec.RunID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing control record: %w", err)
	}
	return nil
}

// lock acquires <record>.lock with O_EXCL, breaking locks older than
// StaleLockAge left behind by crashed processes.
func (s *FileStore) lock(ctx context.Context, runID string) (func(), error) {
	path := s.Path(runID) + ".lock"
	deadline := time.Now().Add(lockTimeout)
	wait := lockRetry
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			held, statErr := f.Stat()
			f.Close()
			if statErr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("acquiring control lock: %w", statErr)
			}
			return func() { releaseLock(path, held) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("acquiring control lock: %w", err)
		}
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > StaleLockAge {
			breakStaleLock(path, info)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("acquiring control lock: timed out waiting for %s", path)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		if wait < 200*time.Millisecond {
			wait *= 2
		}
	}
}

// breakStaleLock moves the lock observed as stale out of the way. Rename is
// atomic, so of several processes breaking the same lock only one wins. If
// the file it moved is not the one observed, a fresh lock was taken in
// between and is put back.
func breakStaleLock(path string, stale fs.FileInfo) {
	aside := fmt.Sprintf("%s.stale.%d.%d", path, os.Getpid(), time.Now().UnixNano())
	if err := os.Rename(path, aside); err != nil {
		return
	}
	if moved, err := os.Stat(aside); err == nil && !sameLock(moved, stale) {
		os.Link(aside, path)
	}
	os.Remove(aside)
}

// releaseLock removes path only while it is still the lock we created.
func releaseLock(path string, held fs.FileInfo) {
	if cur, err := os.Stat(path); err == nil && sameLock(cur, held) {
		os.Remove(path)
	}
}

func sameLock(a, b fs.FileInfo) bool {
	return os.SameFile(a, b) && a.ModTime().Equal(b.ModTime())
}

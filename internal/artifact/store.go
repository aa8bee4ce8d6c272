// Package artifact stores synthesized audio under content-derived keys.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when no artifact exists for a key.
var ErrNotFound = errors.New("artifact not found")

// Ext is the fixed extension for stored audio files.
const Ext = ".mp3"

// Key computes the content address for one segment's audio. It is a pure
// function of its inputs: the same (text, voice, model, index) always yields
// the same key, which is what makes interrupted generation runs resumable
// without duplicate synthesis calls.
func Key(text, voice, model string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s-%d", text, voice, model, index)))
	return hex.EncodeToString(sum[:])
}

// Store keeps one file per key in a single flat directory. Committed
// artifacts are immutable; an in-flight write lives at a ".part" sibling
// until it is renamed into place, so Exists never observes a partial file.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the storage location for a key. The path is internal; public
// callers address artifacts through (document, segment) references so raw keys
// never travel in URLs.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key+Ext)
}

func (s *Store) partialPath(key string) string {
	return s.Path(key) + ".part"
}

// Exists reports whether a fully committed artifact is on disk.
func (s *Store) Exists(key string) bool {
	info, err := os.Stat(s.Path(key))
	return err == nil && info.Mode().IsRegular()
}

// Pending is an artifact being written by a generation run. Its bytes are
// observable at a stable path while in flight, which is what lets the
// streaming responder serve a segment before synthesis has finished.
type Pending struct {
	store *Store
	key   string
	f     *os.File
}

// Begin opens a pending artifact for key, truncating any leftover from a
// crashed run.
func (s *Store) Begin(key string) (*Pending, error) {
	f, err := os.OpenFile(s.partialPath(key), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("begin artifact: %w", err)
	}
	return &Pending{store: s, key: key, f: f}, nil
}

func (p *Pending) Write(data []byte) (int, error) {
	return p.f.Write(data)
}

// Commit makes the artifact durable and visible: fsync, close, then an atomic
// rename onto the final path.
func (p *Pending) Commit() error {
	if err := p.f.Sync(); err != nil {
		p.f.Close()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := p.f.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(p.store.partialPath(p.key), p.store.Path(p.key)); err != nil {
		return fmt.Errorf("commit artifact: %w", err)
	}
	return nil
}

// Abort discards the pending bytes.
func (p *Pending) Abort() {
	p.f.Close()
	os.Remove(p.store.partialPath(p.key))
}

// Write stores a complete artifact in one call. Artifacts are immutable:
// writing a key that already exists is a no-op.
func (s *Store) Write(key string, data []byte) error {
	if s.Exists(key) {
		return nil
	}
	pending, err := s.Begin(key)
	if err != nil {
		return err
	}
	if _, err := pending.Write(data); err != nil {
		pending.Abort()
		return fmt.Errorf("write artifact: %w", err)
	}
	return pending.Commit()
}

// Read returns a committed artifact's bytes, or ErrNotFound.
func (s *Store) Read(key string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// Size returns a committed artifact's size in bytes, or ErrNotFound.
func (s *Store) Size(key string) (int64, error) {
	info, err := os.Stat(s.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("stat artifact: %w", err)
	}
	return info.Size(), nil
}

// Open returns a reader over a committed artifact, or ErrNotFound.
func (s *Store) Open(key string) (*os.File, error) {
	f, err := os.Open(s.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// LiveSize reports the bytes currently observable for key: the committed file
// when present, otherwise an in-flight partial, otherwise zero.
func (s *Store) LiveSize(key string) int64 {
	if info, err := os.Stat(s.Path(key)); err == nil {
		return info.Size()
	}
	if info, err := os.Stat(s.partialPath(key)); err == nil {
		return info.Size()
	}
	return 0
}

// ReadNew returns the bytes past offset from the committed or in-flight file.
// A missing file yields an empty slice, not an error: the poll loop treats it
// as "nothing yet".
func (s *Store) ReadNew(key string, offset int64) ([]byte, error) {
	f, err := os.Open(s.Path(key))
	if os.IsNotExist(err) {
		f, err = os.Open(s.partialPath(key))
		if os.IsNotExist(err) {
			return nil, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact for tail read: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek artifact: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("tail read artifact: %w", err)
	}
	return data, nil
}

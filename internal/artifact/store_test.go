package artifact

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestKeyDeterministic(t *testing.T) {
	a := Key("hello world", "nova", "tts-1", 0)
	b := Key("hello world", "nova", "tts-1", 0)
	if a != b {
		t.Fatalf("identical inputs produced different keys: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestKeySensitivity(t *testing.T) {
	base := Key("hello", "nova", "tts-1", 0)
	variants := []string{
		Key("hello!", "nova", "tts-1", 0),
		Key("hello", "onyx", "tts-1", 0),
		Key("hello", "nova", "tts-1-hd", 0),
		Key("hello", "nova", "tts-1", 1),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d collided with base key", i)
		}
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	key := Key("some text", "nova", "tts-1", 0)
	if store.Exists(key) {
		t.Fatal("key should not exist before write")
	}
	if _, err := store.Read(key); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	payload := []byte("mp3 bytes")
	if err := store.Write(key, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !store.Exists(key) {
		t.Fatal("key should exist after write")
	}
	got, err := store.Read(key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read mismatch: %q", got)
	}
	size, err := store.Size(key)
	if err != nil || size != int64(len(payload)) {
		t.Fatalf("size = %d, %v", size, err)
	}
}

func TestWriteIsImmutable(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	key := Key("text", "nova", "tts-1", 2)
	if err := store.Write(key, []byte("first")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Write(key, []byte("second longer payload")); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	got, err := store.Read(key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "first" {
		t.Fatalf("artifact was overwritten: %q", got)
	}
}

func TestPendingInvisibleUntilCommit(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	key := Key("long article", "nova", "tts-1", 0)

	pending, err := store.Begin(key)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := pending.Write([]byte("partial")); err != nil {
		t.Fatalf("pending write: %v", err)
	}

	if store.Exists(key) {
		t.Fatal("pending artifact must not be visible as existing")
	}
	if got := store.LiveSize(key); got != int64(len("partial")) {
		t.Fatalf("live size = %d, want %d", got, len("partial"))
	}
	tail, err := store.ReadNew(key, 3)
	if err != nil {
		t.Fatalf("read new: %v", err)
	}
	if string(tail) != "tial" {
		t.Fatalf("tail = %q", tail)
	}

	if err := pending.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !store.Exists(key) {
		t.Fatal("artifact should exist after commit")
	}
}

func TestBeginTruncatesCrashLeftover(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	key := Key("text", "nova", "tts-1", 0)

	// Simulate a crashed run that left a partial file behind.
	if err := os.WriteFile(store.Path(key)+".part", []byte("stale bytes"), 0o644); err != nil {
		t.Fatalf("plant leftover: %v", err)
	}
	if store.Exists(key) {
		t.Fatal("leftover partial must not count as existing")
	}

	pending, err := store.Begin(key)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := pending.Write([]byte("fresh")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := pending.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, err := store.Read(key)
	if err != nil || string(got) != "fresh" {
		t.Fatalf("read = %q, %v", got, err)
	}
}

func TestAbortRemovesPartial(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	key := Key("text", "nova", "tts-1", 1)
	pending, err := store.Begin(key)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := pending.Write([]byte("doomed")); err != nil {
		t.Fatalf("write: %v", err)
	}
	pending.Abort()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), key) {
			t.Fatalf("leftover file after abort: %s", filepath.Join(dir, e.Name()))
		}
	}
}

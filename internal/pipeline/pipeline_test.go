package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lectorlabs/lector-core/internal/artifact"
	"github.com/lectorlabs/lector-core/internal/config"
	"github.com/lectorlabs/lector-core/internal/docstore"
	"github.com/lectorlabs/lector-core/internal/segment"
	"github.com/lectorlabs/lector-core/internal/synth"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// countingSynth records calls and can be told to fail from a given call on.
type countingSynth struct {
	calls     atomic.Int64
	failAfter int64 // fail when calls > failAfter; 0 disables
	block     chan struct{}
}

func (c *countingSynth) Synthesize(ctx context.Context, req synth.Request) ([]byte, error) {
	n := c.calls.Add(1)
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.failAfter > 0 && n > c.failAfter {
		return nil, errors.New("quota exceeded")
	}
	return []byte(fmt.Sprintf("audio:%d:%s", len(req.Text), req.Text[:min(10, len(req.Text))])), nil
}

type fixture struct {
	docs      *docstore.Store
	artifacts *artifact.Store
	synth     *countingSynth
	svc       *Service
}

func newFixture(t *testing.T, chunkSize int) *fixture {
	t.Helper()
	ctx := context.Background()

	docs, err := docstore.Open(ctx, config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")}, newLogger())
	if err != nil {
		t.Fatalf("open docstore: %v", err)
	}
	t.Cleanup(func() { _ = docs.Close() })

	artifacts, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new artifact store: %v", err)
	}

	cs := &countingSynth{}
	cfg := config.SynthesisConfig{Mode: "mock", Voice: "nova", Model: "tts-1", ChunkSize: chunkSize}
	svc := NewService(ctx, cfg, docs, artifacts, cs, nil, newLogger())
	t.Cleanup(svc.Close)

	return &fixture{docs: docs, artifacts: artifacts, synth: cs, svc: svc}
}

func insertDoc(t *testing.T, f *fixture, id, body string) docstore.Document {
	t.Helper()
	doc := docstore.Document{
		ID:        id,
		SourceURL: "https://example.com/" + id,
		Title:     "Title " + id,
		Body:      body,
		Voice:     "nova",
		Model:     "tts-1",
	}
	if err := f.docs.Insert(context.Background(), &doc); err != nil {
		t.Fatalf("insert doc: %v", err)
	}
	return doc
}

func longBody() string {
	sentence := "Articles are read aloud one bounded segment at a time. "
	return strings.Repeat(sentence, 9000/len(sentence)+1)[:9000]
}

func TestGenerateHappyPath(t *testing.T) {
	f := newFixture(t, 4000)
	doc := insertDoc(t, f, "doc-1", longBody())

	results, err := f.svc.Generate(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(results))
	}
	for _, r := range results {
		if r.AlreadyExisted {
			t.Fatalf("segment %d unexpectedly cached on first run", r.Index)
		}
		if r.Bytes == 0 {
			t.Fatalf("segment %d has no bytes", r.Index)
		}
		if !f.artifacts.Exists(r.Key) {
			t.Fatalf("segment %d artifact missing", r.Index)
		}
	}

	got, err := f.docs.Get(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("get doc: %v", err)
	}
	if got.Status != docstore.StatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	if got.SegmentsCompleted != 3 || got.SegmentsTotal != 3 {
		t.Fatalf("progress = %d/%d", got.SegmentsCompleted, got.SegmentsTotal)
	}

	ledger, err := f.docs.ListSegments(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(ledger) != 3 {
		t.Fatalf("ledger rows = %d", len(ledger))
	}
	for _, row := range ledger {
		if row.Bytes == 0 {
			t.Fatalf("ledger row %d has no byte size", row.Index)
		}
	}
}

func TestGenerateIdempotent(t *testing.T) {
	f := newFixture(t, 4000)
	doc := insertDoc(t, f, "doc-1", longBody())

	if _, err := f.svc.Generate(context.Background(), doc.ID); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstCalls := f.synth.calls.Load()
	if firstCalls != 3 {
		t.Fatalf("expected 3 synthesis calls, got %d", firstCalls)
	}

	results, err := f.svc.Generate(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if f.synth.calls.Load() != firstCalls {
		t.Fatalf("second run performed synthesis calls: %d", f.synth.calls.Load()-firstCalls)
	}
	for _, r := range results {
		if !r.AlreadyExisted {
			t.Fatalf("segment %d not served from cache on second run", r.Index)
		}
	}

	got, _ := f.docs.Get(context.Background(), doc.ID)
	if got.Status != docstore.StatusCompleted {
		t.Fatalf("status after rerun = %s", got.Status)
	}
}

func TestGenerateResumesAfterCrash(t *testing.T) {
	f := newFixture(t, 4000)
	body := longBody()
	doc := insertDoc(t, f, "doc-1", body)

	// Simulate a killed process that had finished 2 of 3 segments.
	segs := segment.Split(body, 4000)
	if len(segs) != 3 {
		t.Fatalf("fixture expects 3 segments, got %d", len(segs))
	}
	for _, seg := range segs[:2] {
		key := artifact.Key(seg.Text, doc.Voice, doc.Model, seg.Index)
		if err := f.artifacts.Write(key, []byte("previously generated")); err != nil {
			t.Fatalf("prefill artifact: %v", err)
		}
	}

	results, err := f.svc.Generate(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if f.synth.calls.Load() != 1 {
		t.Fatalf("expected 1 synthesis call for the missing segment, got %d", f.synth.calls.Load())
	}
	if !results[0].AlreadyExisted || !results[1].AlreadyExisted || results[2].AlreadyExisted {
		t.Fatalf("unexpected cache pattern: %+v", results)
	}
}

func TestGenerateSynthesisFailureLeavesPartials(t *testing.T) {
	f := newFixture(t, 4000)
	doc := insertDoc(t, f, "doc-1", longBody())
	f.synth.failAfter = 1

	_, err := f.svc.Generate(context.Background(), doc.ID)
	if err == nil {
		t.Fatal("expected generation error")
	}

	got, _ := f.docs.Get(context.Background(), doc.ID)
	if got.Status != docstore.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("expected error message recorded")
	}
	if got.SegmentsCompleted != 1 {
		t.Fatalf("completed = %d, want 1", got.SegmentsCompleted)
	}

	// Retry with a healthy backend resumes from the partial output.
	f.synth.failAfter = 0
	results, err := f.svc.Generate(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !results[0].AlreadyExisted {
		t.Fatal("first segment should be a cache hit on retry")
	}
	if results[1].AlreadyExisted || results[2].AlreadyExisted {
		t.Fatal("failed segments must not be cache hits")
	}
	got, _ = f.docs.Get(context.Background(), doc.ID)
	if got.Status != docstore.StatusCompleted {
		t.Fatalf("status after retry = %s", got.Status)
	}
}

// cancelingSynth succeeds but cancels the run context on its first call,
// making the bookkeeping write that follows synthesis fail.
type cancelingSynth struct {
	cancel context.CancelFunc
}

func (c *cancelingSynth) Synthesize(ctx context.Context, req synth.Request) ([]byte, error) {
	c.cancel()
	return []byte("audio"), nil
}

func TestGenerateStoreFailureMarksDocumentError(t *testing.T) {
	f := newFixture(t, 4000)
	doc := insertDoc(t, f, "doc-1", longBody())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.SynthesisConfig{Mode: "mock", Voice: "nova", Model: "tts-1", ChunkSize: 4000}
	svc := NewService(context.Background(), cfg, f.docs, f.artifacts, &cancelingSynth{cancel: cancel}, nil, newLogger())
	t.Cleanup(svc.Close)

	_, err := svc.Generate(ctx, doc.ID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The document must not be left parked in processing with no run
	// behind it: live-stream pollers key off the processing status.
	got, _ := f.docs.Get(context.Background(), doc.ID)
	if got.Status != docstore.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("expected error message recorded")
	}
}

func TestGenerateRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t, 4000)
	doc := insertDoc(t, f, "doc-1", longBody())

	f.synth.block = make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := f.svc.Generate(context.Background(), doc.ID)
		done <- err
	}()
	<-started

	// Wait until the first run is inside a synthesis call.
	for f.synth.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	if _, err := f.svc.Generate(context.Background(), doc.ID); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	close(f.synth.block)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestGenerateMissingDocument(t *testing.T) {
	f := newFixture(t, 4000)
	if _, err := f.svc.Generate(context.Background(), "ghost"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

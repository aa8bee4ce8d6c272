package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lectorlabs/lector-core/internal/artifact"
	"github.com/lectorlabs/lector-core/internal/auth"
	"github.com/lectorlabs/lector-core/internal/config"
	"github.com/lectorlabs/lector-core/internal/docstore"
	"github.com/lectorlabs/lector-core/internal/extract"
	"github.com/lectorlabs/lector-core/internal/pipeline"
	"github.com/lectorlabs/lector-core/internal/synth"
)

type fakeExtractor struct {
	article extract.Article
	err     error
}

func (f *fakeExtractor) Extract(_ context.Context, _ string) (extract.Article, error) {
	return f.article, f.err
}

type instantSynth struct{}

func (instantSynth) Synthesize(_ context.Context, req synth.Request) ([]byte, error) {
	return []byte(fmt.Sprintf("mp3:%s:%s:%d", req.Voice, req.Model, len(req.Text))), nil
}

type fixture struct {
	cfg       config.Config
	docs      *docstore.Store
	artifacts *artifact.Store
	pipe      *pipeline.Service
	extractor *fakeExtractor
	ts        *httptest.Server
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := config.Default()
	cfg.Auth.Token = token
	cfg.Store.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Artifacts.Dir = t.TempDir()

	docs, err := docstore.Open(ctx, cfg.Store, logger)
	if err != nil {
		t.Fatalf("open docstore: %v", err)
	}
	t.Cleanup(func() { _ = docs.Close() })

	artifacts, err := artifact.NewStore(cfg.Artifacts.Dir)
	if err != nil {
		t.Fatalf("new artifact store: %v", err)
	}

	pipe := pipeline.NewService(ctx, cfg.Synthesis, docs, artifacts, instantSynth{}, nil, logger)
	t.Cleanup(pipe.Close)

	extractor := &fakeExtractor{}
	srv := New(cfg, docs, artifacts, pipe, extractor, auth.NewStaticToken(token), logger)
	mux := http.NewServeMux()
	srv.Routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &fixture{cfg: cfg, docs: docs, artifacts: artifacts, pipe: pipe, extractor: extractor, ts: ts}
}

func (f *fixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(f.ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (f *fixture) waitForStatus(t *testing.T, id string, want docstore.Status) docstore.Document {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		doc, err := f.docs.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get document: %v", err)
		}
		if doc.Status == want {
			return doc
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("document %s never reached status %s", id, want)
	return docstore.Document{}
}

func TestSubmitTextRunsToCompletion(t *testing.T) {
	f := newFixture(t, "")

	resp := f.postJSON(t, "/api/submit", map[string]string{
		"text":  strings.Repeat("A segment of prose to be read aloud. ", 250),
		"title": "Prose",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	accepted := decodeBody[submitResponse](t, resp)
	if accepted.ID == "" || accepted.Status != "pending" {
		t.Fatalf("unexpected submit response: %+v", accepted)
	}

	doc := f.waitForStatus(t, accepted.ID, docstore.StatusCompleted)
	if doc.SegmentsTotal == 0 || doc.SegmentsCompleted != doc.SegmentsTotal {
		t.Fatalf("progress = %d/%d", doc.SegmentsCompleted, doc.SegmentsTotal)
	}

	statusResp, err := http.Get(f.ts.URL + "/api/status?id=" + accepted.ID)
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	status := decodeBody[statusResponse](t, statusResp)
	if len(status.Segments) != doc.SegmentsTotal {
		t.Fatalf("segments in status = %d, want %d", len(status.Segments), doc.SegmentsTotal)
	}
	for _, seg := range status.Segments {
		if !seg.Ready {
			t.Fatalf("segment %d not ready after completion", seg.Index)
		}
	}
}

func TestSubmitExtractsFromURL(t *testing.T) {
	f := newFixture(t, "")
	f.extractor.article = extract.Article{Title: "Extracted Title", Text: "Readable body text."}

	resp := f.postJSON(t, "/api/submit", map[string]string{"url": "https://example.com/article"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	accepted := decodeBody[submitResponse](t, resp)
	if accepted.Title != "Extracted Title" {
		t.Fatalf("title = %q", accepted.Title)
	}
	f.waitForStatus(t, accepted.ID, docstore.StatusCompleted)
}

func TestSubmitUnreadablePage(t *testing.T) {
	f := newFixture(t, "")
	f.extractor.err = fmt.Errorf("parse: %w", extract.ErrNotReadable)

	resp := f.postJSON(t, "/api/submit", map[string]string{"url": "https://example.com/image.png"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestSubmitRejectsInput(t *testing.T) {
	f := newFixture(t, "")

	cases := []struct {
		name string
		body map[string]string
	}{
		{"empty", map[string]string{}},
		{"bad voice", map[string]string{"text": "hello", "voice": "hal9000"}},
		{"bad model", map[string]string{"text": "hello", "model": "tts-99"}},
	}
	for _, tc := range cases {
		resp := f.postJSON(t, "/api/submit", tc.body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, resp.StatusCode)
		}
	}
}

func TestAuthToken(t *testing.T) {
	f := newFixture(t, "sekrit")

	resp, err := http.Get(f.ts.URL + "/api/documents")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/api/documents", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", resp.StatusCode)
	}
}

func TestListeningPositionRoundTrip(t *testing.T) {
	f := newFixture(t, "")
	doc := docstore.Document{ID: "doc-1", Title: "T", Body: "hello", Voice: "nova", Model: "tts-1"}
	if err := f.docs.Insert(context.Background(), &doc); err != nil {
		t.Fatalf("insert: %v", err)
	}

	resp := f.postJSON(t, "/api/progress", map[string]any{"id": "doc-1", "position_seconds": 42.5})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("progress status = %d", resp.StatusCode)
	}

	statusResp, err := http.Get(f.ts.URL + "/api/status?id=doc-1")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	status := decodeBody[statusResponse](t, statusResp)
	if status.PositionSeconds != 42.5 {
		t.Fatalf("position = %v, want 42.5", status.PositionSeconds)
	}
}

func TestStatusNotFound(t *testing.T) {
	f := newFixture(t, "")
	resp, err := http.Get(f.ts.URL + "/api/status?id=ghost")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

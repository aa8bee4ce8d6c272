// Package pipeline orchestrates segmentation, synthesis, and artifact storage
// for one document at a time, resumably and without duplicate synthesis calls.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/lectorlabs/lector-core/internal/artifact"
	"github.com/lectorlabs/lector-core/internal/bus"
	"github.com/lectorlabs/lector-core/internal/config"
	"github.com/lectorlabs/lector-core/internal/docstore"
	"github.com/lectorlabs/lector-core/internal/protocol"
	"github.com/lectorlabs/lector-core/internal/segment"
	"github.com/lectorlabs/lector-core/internal/synth"
)

// ErrRunInProgress is returned when a generation run for the same document is
// already active in this process.
var ErrRunInProgress = errors.New("generation already in progress for document")

// SegmentResult describes the outcome for one segment of a run.
type SegmentResult struct {
	Index          int
	Key            string
	AlreadyExisted bool
	Bytes          int64
}

// Service runs generation jobs. Documents generate independently and
// concurrently; within one document segments are synthesized strictly in
// order, which keeps the resume guarantee easy to reason about.
type Service struct {
	cfg       config.SynthesisConfig
	docs      *docstore.Store
	artifacts *artifact.Store
	synth     synth.Synthesizer
	bus       *bus.Client
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]bool

	synthCount   metric.Int64Counter
	cacheHits    metric.Int64Counter
	runFailures  metric.Int64Counter
	synthLatency metric.Float64Histogram
}

func NewService(parent context.Context, cfg config.SynthesisConfig, docs *docstore.Store,
	artifacts *artifact.Store, synthesizer synth.Synthesizer, busClient *bus.Client,
	log *slog.Logger) *Service {

	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:       cfg,
		docs:      docs,
		artifacts: artifacts,
		synth:     synthesizer,
		bus:       busClient,
		logger:    log.With(slog.String("component", "pipeline")),
		ctx:       ctx,
		cancel:    cancel,
		running:   make(map[string]bool),
	}

	meter := otel.Meter("github.com/lectorlabs/lector-core/pipeline")
	s.synthCount, _ = meter.Int64Counter("lector.pipeline.segments_synthesized",
		metric.WithDescription("Segments sent to the synthesis backend"))
	s.cacheHits, _ = meter.Int64Counter("lector.pipeline.cache_hits",
		metric.WithDescription("Segments whose artifact already existed"))
	s.runFailures, _ = meter.Int64Counter("lector.pipeline.run_failures",
		metric.WithDescription("Generation runs that ended in error"))
	s.synthLatency, _ = meter.Float64Histogram("lector.pipeline.synthesis_seconds",
		metric.WithDescription("Latency of individual synthesis calls"))

	return s
}

// Close stops accepting work and waits for in-flight runs to finish.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Start launches a generation run for a document in the background. The
// caller's request returns immediately; progress is observable through the
// document row and bus events.
func (s *Service) Start(documentID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Generate(s.ctx, documentID); err != nil && !errors.Is(err, ErrRunInProgress) {
			s.logger.Warn("generation run failed",
				slog.String("document_id", documentID),
				slog.String("error", err.Error()))
		}
	}()
}

// Generate runs the pipeline for one document synchronously and returns the
// per-segment outcomes. It is idempotent: a re-run over a completed document
// observes a cache hit for every segment and performs zero synthesis calls.
func (s *Service) Generate(ctx context.Context, documentID string) ([]SegmentResult, error) {
	if !s.acquire(documentID) {
		return nil, ErrRunInProgress
	}
	defer s.release(documentID)

	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}

	segments := segment.Split(doc.Body, s.cfg.ChunkSize)
	ledger := make([]docstore.SegmentRow, len(segments))
	for i, seg := range segments {
		ledger[i] = docstore.SegmentRow{
			DocumentID:  doc.ID,
			Index:       seg.Index,
			Hash:        artifact.Key(seg.Text, doc.Voice, doc.Model, seg.Index),
			Chars:       len(seg.Text),
			StartOffset: seg.StartOffset,
			EndOffset:   seg.EndOffset,
		}
	}
	if err := s.docs.ReplaceSegments(ctx, doc.ID, ledger); err != nil {
		return nil, err
	}
	if err := s.docs.UpdateProgress(ctx, doc.ID, 0, len(segments)); err != nil {
		return nil, err
	}
	if err := s.setStatus(ctx, doc.ID, docstore.StatusProcessing, ""); err != nil {
		return nil, err
	}

	results := make([]SegmentResult, 0, len(segments))
	for i, seg := range segments {
		result, err := s.processSegment(ctx, doc, seg, ledger[i].Hash)
		if err != nil {
			// Stop immediately. Completed artifacts stay on disk, so a
			// re-submission resumes with cache hits instead of repeating
			// paid synthesis calls.
			return results, s.failRun(ctx, doc.ID, fmt.Errorf("segment %d: %w", seg.Index, err))
		}
		results = append(results, result)

		if err := s.docs.UpdateSegmentBytes(ctx, doc.ID, seg.Index, result.Bytes); err != nil {
			return results, s.failRun(ctx, doc.ID, err)
		}
		if err := s.docs.UpdateProgress(ctx, doc.ID, i+1, len(segments)); err != nil {
			return results, s.failRun(ctx, doc.ID, err)
		}
		s.publishProgress(doc.ID, result, i+1, len(segments))
	}

	if err := s.setStatus(ctx, doc.ID, docstore.StatusCompleted, ""); err != nil {
		return results, err
	}
	s.logger.Info("generation completed",
		slog.String("document_id", doc.ID),
		slog.Int("segments", len(segments)))
	return results, nil
}

func (s *Service) processSegment(ctx context.Context, doc docstore.Document, seg segment.Segment, key string) (SegmentResult, error) {
	if s.artifacts.Exists(key) {
		size, err := s.artifacts.Size(key)
		if err != nil {
			return SegmentResult{}, err
		}
		s.cacheHits.Add(ctx, 1)
		return SegmentResult{Index: seg.Index, Key: key, AlreadyExisted: true, Bytes: size}, nil
	}

	started := time.Now()
	audio, err := s.synth.Synthesize(ctx, synth.Request{
		Text:  seg.Text,
		Voice: doc.Voice,
		Model: doc.Model,
	})
	if err != nil {
		return SegmentResult{}, fmt.Errorf("synthesize: %w", err)
	}
	s.synthLatency.Record(ctx, time.Since(started).Seconds())
	s.synthCount.Add(ctx, 1)

	pending, err := s.artifacts.Begin(key)
	if err != nil {
		return SegmentResult{}, err
	}
	if _, err := pending.Write(audio); err != nil {
		pending.Abort()
		return SegmentResult{}, fmt.Errorf("store artifact: %w", err)
	}
	if err := pending.Commit(); err != nil {
		return SegmentResult{}, err
	}

	return SegmentResult{Index: seg.Index, Key: key, Bytes: int64(len(audio))}, nil
}

// failRun records a failed run and moves the document out of processing, so
// status pollers and live streams see a terminal state instead of waiting on
// a run that no longer exists.
func (s *Service) failRun(ctx context.Context, id string, cause error) error {
	s.runFailures.Add(ctx, 1)
	if err := s.setStatus(context.WithoutCancel(ctx), id, docstore.StatusError, cause.Error()); err != nil {
		s.logger.Warn("failed to record run error",
			slog.String("document_id", id),
			slog.String("error", err.Error()))
	}
	return cause
}

func (s *Service) setStatus(ctx context.Context, id string, status docstore.Status, errMsg string) error {
	if err := s.docs.UpdateStatus(ctx, id, status, errMsg); err != nil {
		return err
	}
	if s.bus != nil {
		msg := protocol.DocumentStatus{
			DocumentID: id,
			Status:     string(status),
			Error:      errMsg,
			Timestamp:  time.Now().UTC(),
		}
		if err := s.bus.PublishJSON(protocol.SubjectDocumentStatus, msg); err != nil {
			s.logger.Warn("failed to publish status event", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (s *Service) publishProgress(id string, result SegmentResult, completed, total int) {
	if s.bus == nil {
		return
	}
	msg := protocol.DocumentProgress{
		DocumentID:   id,
		SegmentIndex: result.Index,
		Completed:    completed,
		Total:        total,
		CacheHit:     result.AlreadyExisted,
		Bytes:        result.Bytes,
		Timestamp:    time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectDocumentProgress, msg); err != nil {
		s.logger.Warn("failed to publish progress event", slog.String("error", err.Error()))
	}
}

// acquire takes the in-process per-document lock, so concurrent submissions
// for the same document cannot race into duplicate synthesis calls.
func (s *Service) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[id] {
		return false
	}
	s.running[id] = true
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
}

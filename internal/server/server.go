// Package server exposes the HTTP API: document submission, listing, status,
// listening-position updates, and segment audio streaming.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lectorlabs/lector-core/internal/artifact"
	"github.com/lectorlabs/lector-core/internal/auth"
	"github.com/lectorlabs/lector-core/internal/config"
	"github.com/lectorlabs/lector-core/internal/docstore"
	"github.com/lectorlabs/lector-core/internal/extract"
	"github.com/lectorlabs/lector-core/internal/pipeline"
)

// Server handles the document API. Construct with New and mount via Routes.
type Server struct {
	cfg       config.Config
	docs      *docstore.Store
	artifacts *artifact.Store
	pipe      *pipeline.Service
	extractor extract.Extractor
	auth      auth.Authorizer
	logger    *slog.Logger

	requests metric.Int64Counter
}

func New(cfg config.Config, docs *docstore.Store, artifacts *artifact.Store,
	pipe *pipeline.Service, extractor extract.Extractor, authorizer auth.Authorizer,
	log *slog.Logger) *Server {

	s := &Server{
		cfg:       cfg,
		docs:      docs,
		artifacts: artifacts,
		pipe:      pipe,
		extractor: extractor,
		auth:      authorizer,
		logger:    log.With(slog.String("component", "server")),
	}
	meter := otel.Meter("github.com/lectorlabs/lector-core/server")
	s.requests, _ = meter.Int64Counter("lector.http.requests",
		metric.WithDescription("API requests by route and status"))
	return s
}

// Routes mounts the API handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/submit", s.authorized(s.handleSubmit))
	mux.HandleFunc("/api/documents", s.authorized(s.handleDocuments))
	mux.HandleFunc("/api/status", s.authorized(s.handleStatus))
	mux.HandleFunc("/api/progress", s.authorized(s.handleProgress))
	mux.HandleFunc("/api/stream", s.authorized(s.handleStream))
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.auth.Authorize(r)
		if err != nil {
			s.count(r, http.StatusUnauthorized)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		s.logger.Debug("request authorized",
			slog.String("caller", caller),
			slog.String("path", r.URL.Path))
		next(w, r)
	}
}

type submitRequest struct {
	URL   string `json:"url"`
	Text  string `json:"text"`
	Title string `json:"title"`
	Voice string `json:"voice"`
	Model string `json:"model"`
}

type submitResponse struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.count(r, http.StatusMethodNotAllowed)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.count(r, http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" && strings.TrimSpace(req.Text) == "" {
		s.count(r, http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "either url or text is required")
		return
	}

	voice := s.cfg.Synthesis.Voice
	if req.Voice != "" {
		voice = req.Voice
	}
	model := s.cfg.Synthesis.Model
	if req.Model != "" {
		model = req.Model
	}
	if !allowed(config.AllowedVoices, voice) {
		s.count(r, http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported voice %q", voice))
		return
	}
	if !allowed(config.AllowedModels, model) {
		s.count(r, http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported model %q", model))
		return
	}

	title := req.Title
	body := strings.TrimSpace(req.Text)
	if body == "" {
		ctx, cancel := context.WithTimeout(r.Context(),
			time.Duration(s.cfg.Extract.TimeoutMS)*time.Millisecond)
		defer cancel()
		article, err := s.extractor.Extract(ctx, req.URL)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, extract.ErrNotReadable) {
				status = http.StatusUnprocessableEntity
			}
			s.count(r, status)
			writeError(w, status, fmt.Sprintf("extract article: %v", err))
			return
		}
		body = article.Text
		if title == "" {
			title = article.Title
		}
	}
	if title == "" {
		title = req.URL
	}

	doc := docstore.Document{
		ID:        uuid.NewString(),
		SourceURL: req.URL,
		Title:     title,
		Body:      body,
		Voice:     voice,
		Model:     model,
	}
	if err := s.docs.Insert(r.Context(), &doc); err != nil {
		s.count(r, http.StatusInternalServerError)
		s.logger.Error("insert document failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to store document")
		return
	}

	s.pipe.Start(doc.ID)
	s.logger.Info("document submitted",
		slog.String("document_id", doc.ID),
		slog.String("source_url", doc.SourceURL),
		slog.Int("chars", len(doc.Body)))

	s.count(r, http.StatusAccepted)
	writeJSON(w, http.StatusAccepted, submitResponse{
		ID:     doc.ID,
		Title:  doc.Title,
		Status: string(docstore.StatusPending),
	})
}

type documentView struct {
	ID                string  `json:"id"`
	SourceURL         string  `json:"source_url,omitempty"`
	Title             string  `json:"title"`
	Voice             string  `json:"voice"`
	Model             string  `json:"model"`
	Status            string  `json:"status"`
	SegmentsCompleted int     `json:"segments_completed"`
	SegmentsTotal     int     `json:"segments_total"`
	PositionSeconds   float64 `json:"position_seconds"`
	ErrorMessage      string  `json:"error,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

func viewOf(doc docstore.Document) documentView {
	return documentView{
		ID:                doc.ID,
		SourceURL:         doc.SourceURL,
		Title:             doc.Title,
		Voice:             doc.Voice,
		Model:             doc.Model,
		Status:            string(doc.Status),
		SegmentsCompleted: doc.SegmentsCompleted,
		SegmentsTotal:     doc.SegmentsTotal,
		PositionSeconds:   doc.PositionSeconds,
		ErrorMessage:      doc.ErrorMessage,
		CreatedAt:         doc.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.count(r, http.StatusMethodNotAllowed)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	docs, err := s.docs.List(r.Context())
	if err != nil {
		s.count(r, http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	views := make([]documentView, 0, len(docs))
	for _, d := range docs {
		views = append(views, viewOf(d))
	}
	s.count(r, http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]any{"documents": views})
}

type segmentView struct {
	Index       int    `json:"index"`
	Hash        string `json:"hash"`
	Chars       int    `json:"chars"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Bytes       int64  `json:"bytes"`
	Ready       bool   `json:"ready"`
}

type statusResponse struct {
	documentView
	Segments []segmentView `json:"segments"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.count(r, http.StatusMethodNotAllowed)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		s.count(r, http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	doc, err := s.docs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			s.count(r, http.StatusNotFound)
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		s.count(r, http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "failed to load document")
		return
	}
	rows, err := s.docs.ListSegments(r.Context(), id)
	if err != nil {
		s.count(r, http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "failed to load segments")
		return
	}
	segs := make([]segmentView, 0, len(rows))
	for _, row := range rows {
		segs = append(segs, segmentView{
			Index:       row.Index,
			Hash:        row.Hash,
			Chars:       row.Chars,
			StartOffset: row.StartOffset,
			EndOffset:   row.EndOffset,
			Bytes:       row.Bytes,
			Ready:       s.artifacts.Exists(row.Hash),
		})
	}
	s.count(r, http.StatusOK)
	writeJSON(w, http.StatusOK, statusResponse{documentView: viewOf(doc), Segments: segs})
}

type progressRequest struct {
	ID              string  `json:"id"`
	PositionSeconds float64 `json:"position_seconds"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.count(r, http.StatusMethodNotAllowed)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.count(r, http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		s.count(r, http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if req.PositionSeconds < 0 {
		s.count(r, http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "position_seconds must not be negative")
		return
	}
	if err := s.docs.UpdateListeningPosition(r.Context(), req.ID, req.PositionSeconds); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			s.count(r, http.StatusNotFound)
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		s.count(r, http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "failed to update position")
		return
	}
	s.count(r, http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) count(r *http.Request, status int) {
	if s.requests == nil {
		return
	}
	s.requests.Add(r.Context(), 1,
		metric.WithAttributes(
			attribute.String("route", r.URL.Path),
			attribute.Int("status", status)))
}

func allowed(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

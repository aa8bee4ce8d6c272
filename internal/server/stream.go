package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/lectorlabs/lector-core/internal/docstore"
)

// livePollInterval is how often the responder checks a still-generating
// artifact for appended bytes.
const livePollInterval = 500 * time.Millisecond

var rangePattern = regexp.MustCompile(`^bytes=(\d+)-(\d*)$`)

// handleStream serves one segment's audio. Completed segments honor byte
// ranges so players can seek; the segment currently being generated is served
// as a growing chunked stream with ranges disabled.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.count(r, http.StatusMethodNotAllowed)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.URL.Query().Get("id")
	index, err := strconv.Atoi(r.URL.Query().Get("segment"))
	if id == "" || err != nil || index < 0 {
		s.count(r, http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "id and a non-negative segment are required")
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
	if index >= len(rows) {
		s.count(r, http.StatusNotFound)
		writeError(w, http.StatusNotFound, "segment not found")
		return
	}
	key := rows[index].Hash

	if s.artifacts.Exists(key) {
		s.serveCompleted(w, r, key)
		return
	}
	if doc.Status == docstore.StatusProcessing && index == doc.SegmentsCompleted {
		s.serveLive(w, r, id, index, key)
		return
	}
	s.count(r, http.StatusNotFound)
	writeError(w, http.StatusNotFound, "segment audio not available yet")
}

// serveCompleted serves a committed artifact with byte-range support. A
// malformed Range header falls back to the full body rather than an error.
func (s *Server) serveCompleted(w http.ResponseWriter, r *http.Request, key string) {
	f, err := s.artifacts.Open(key)
	if err != nil {
		s.count(r, http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "failed to open artifact")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.count(r, http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "failed to stat artifact")
		return
	}
	size := info.Size()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Accept-Ranges", "bytes")

	start, end, ok := parseRange(r.Header.Get("Range"), size)
	if !ok {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		s.count(r, http.StatusOK)
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, f)
		return
	}
	if start >= size {
		w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
		s.count(r, http.StatusRequestedRangeNotSatisfiable)
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "range start beyond end of file")
		return
	}

	length := end - start + 1
	w.Header().Set("Content-Range",
		"bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.FormatInt(size, 10))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	s.count(r, http.StatusPartialContent)
	w.WriteHeader(http.StatusPartialContent)
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return
	}
	_, _ = io.CopyN(w, f, length)
}

// parseRange interprets a single-range header of the form bytes=N- or
// bytes=N-M. ok is false when the header is absent, malformed, or inverted
// (end before start), in which case the caller serves the whole body. end is
// clamped to the last byte.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	m := rangePattern.FindStringSubmatch(header)
	if m == nil {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	end = size - 1
	if m[2] != "" {
		parsed, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil || parsed < start {
			return 0, 0, false
		}
		if parsed < end {
			end = parsed
		}
	}
	return start, end, true
}

// serveLive streams an artifact that is still being written. Bytes are
// flushed as they appear; range requests are explicitly disabled because the
// final size is unknown. The stream ends when the artifact commits or the
// document leaves the processing state.
func (s *Server) serveLive(w http.ResponseWriter, r *http.Request, id string, index int, key string) {
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Accept-Ranges", "none")
	w.Header().Set("Cache-Control", "no-store")
	s.count(r, http.StatusOK)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	var offset int64

	ticker := time.NewTicker(livePollInterval)
	defer ticker.Stop()

	for {
		// A commit renames the partial file away, so check the committed
		// artifact first and drain whatever the poll loop has not sent yet.
		if s.artifacts.Exists(key) {
			data, err := s.artifacts.ReadNew(key, offset)
			if err == nil && len(data) > 0 {
				_, _ = w.Write(data)
			}
			if flusher != nil {
				flusher.Flush()
			}
			return
		}

		data, err := s.artifacts.ReadNew(key, offset)
		if err != nil {
			s.logger.Warn("live stream read failed",
				slog.String("document_id", id),
				slog.Int("segment", index),
				slog.String("error", err.Error()))
			return
		}
		if len(data) > 0 {
			if _, err := w.Write(data); err != nil {
				return
			}
			offset += int64(len(data))
			if flusher != nil {
				flusher.Flush()
			}
		}

		doc, err := s.docs.Get(r.Context(), id)
		if err != nil || doc.Status != docstore.StatusProcessing {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

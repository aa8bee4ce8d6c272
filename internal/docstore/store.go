// Package docstore persists document and generation-job metadata in SQLite.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lectorlabs/lector-core/internal/config"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no document exists for an id.
var ErrNotFound = errors.New("document not found")

// Status is the authoritative document state. It is stored as a single enum
// column updated alongside progress counters, never reconstructed from file
// sizes or other inference.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Document is one submitted article plus its generation state.
type Document struct {
	ID                string
	SourceURL         string
	Title             string
	Body              string
	Voice             string
	Model             string
	Status            Status
	SegmentsCompleted int
	SegmentsTotal     int
	PositionSeconds   float64
	ErrorMessage      string
	CreatedAt         time.Time
}

// SegmentRow is the persisted record of one segment of a document: the
// explicit completed-work ledger that makes resume points exact.
type SegmentRow struct {
	DocumentID  string
	Index       int
	Hash        string
	Chars       int
	StartOffset int
	EndOffset   int
	Bytes       int64
}

// Store wraps the SQLite-backed document database.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store, creating the schema if needed.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    source_url TEXT NOT NULL,
    title TEXT NOT NULL,
    body TEXT NOT NULL,
    voice TEXT NOT NULL,
    model TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    segments_completed INTEGER NOT NULL DEFAULT 0,
    segments_total INTEGER NOT NULL DEFAULT 0,
    position_seconds REAL NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS segments (
    document_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    hash TEXT NOT NULL,
    chars INTEGER NOT NULL,
    start_offset INTEGER NOT NULL,
    end_offset INTEGER NOT NULL,
    bytes INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY(document_id, idx),
    FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores a new document in pending state.
func (s *Store) Insert(ctx context.Context, doc *Document) error {
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents(id, source_url, title, body, voice, model, status, position_seconds, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		doc.ID, doc.SourceURL, doc.Title, doc.Body, doc.Voice, doc.Model, string(doc.Status), doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

const docColumns = `id, source_url, title, body, voice, model, status,
	segments_completed, segments_total, position_seconds, error_message, created_at`

// Get returns one document by id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+docColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// List returns all documents, newest first.
func (s *Store) List(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+docColumns+` FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(sc scanner) (Document, error) {
	var d Document
	var status string
	var created string
	err := sc.Scan(&d.ID, &d.SourceURL, &d.Title, &d.Body, &d.Voice, &d.Model, &status,
		&d.SegmentsCompleted, &d.SegmentsTotal, &d.PositionSeconds, &d.ErrorMessage, &created)
	if err != nil {
		return Document{}, err
	}
	d.Status = Status(status)
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		d.CreatedAt = ts
	}
	return d, nil
}

// UpdateStatus flips the authoritative status enum. An accompanying error
// message is recorded for error states and cleared otherwise.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error_message = ? WHERE id = ?`,
		string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return requireRow(res)
}

// UpdateProgress persists the live progress counters; callers invoke it after
// every segment so observers mid-run see movement, not just terminal states.
func (s *Store) UpdateProgress(ctx context.Context, id string, completed, total int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET segments_completed = ?, segments_total = ? WHERE id = ?`,
		completed, total, id)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return requireRow(res)
}

// UpdateListeningPosition records the last listened position for
// resume-on-revisit.
func (s *Store) UpdateListeningPosition(ctx context.Context, id string, seconds float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET position_seconds = ? WHERE id = ?`, seconds, id)
	if err != nil {
		return fmt.Errorf("update listening position: %w", err)
	}
	return requireRow(res)
}

// ReplaceSegments installs the segment ledger for a document in one
// transaction, replacing any previous run's rows.
func (s *Store) ReplaceSegments(ctx context.Context, id string, segs []SegmentRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}
	for _, seg := range segs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO segments(document_id, idx, hash, chars, start_offset, end_offset, bytes)
			 VALUES(?, ?, ?, ?, ?, ?, ?)`,
			id, seg.Index, seg.Hash, seg.Chars, seg.StartOffset, seg.EndOffset, seg.Bytes)
		if err != nil {
			return fmt.Errorf("insert segment %d: %w", seg.Index, err)
		}
	}
	return tx.Commit()
}

// UpdateSegmentBytes records the artifact size for one segment once known.
func (s *Store) UpdateSegmentBytes(ctx context.Context, id string, index int, size int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE segments SET bytes = ? WHERE document_id = ? AND idx = ?`, size, id, index)
	if err != nil {
		return fmt.Errorf("update segment bytes: %w", err)
	}
	return nil
}

// ListSegments returns the persisted segment ledger in index order.
func (s *Store) ListSegments(ctx context.Context, id string) ([]SegmentRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, idx, hash, chars, start_offset, end_offset, bytes
		 FROM segments WHERE document_id = ? ORDER BY idx ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var segs []SegmentRow
	for rows.Next() {
		var seg SegmentRow
		if err := rows.Scan(&seg.DocumentID, &seg.Index, &seg.Hash, &seg.Chars,
			&seg.StartOffset, &seg.EndOffset, &seg.Bytes); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

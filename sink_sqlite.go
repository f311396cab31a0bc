package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// make sure it implements Sink
var _ Sink = (*SinkSQLite)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS spans (
    span_id           TEXT PRIMARY KEY,
    trace_id          TEXT NOT NULL,
    parent_id         TEXT,
    project           TEXT NOT NULL,
    name              TEXT NOT NULL,
    kind              TEXT NOT NULL,
    start_time        INTEGER NOT NULL,
    end_time          INTEGER NOT NULL,
    created           TEXT,
    input             TEXT,
    output            TEXT,
    expected          TEXT,
    tags              TEXT,
    scores            TEXT,
    metadata          TEXT,
    metrics           TEXT,
    dataset_record_id TEXT
);
CREATE INDEX IF NOT EXISTS spans_trace_id ON spans (trace_id);
`

type sqliteSpan struct {
	rec  *spanRecord
	sink *SinkSQLite
}

func (s *sqliteSpan) Log(ev Event) error {
	s.rec.merge(ev)
	return nil
}

func (s *sqliteSpan) End(end time.Time) error {
	s.rec.End = end
	s.sink.enqueue(s.rec)
	return nil
}

// SinkSQLite buffers ended spans in memory and writes them to a local SQLite
// database in one transaction per Flush.
type SinkSQLite struct {
	path    string
	project string
	db      *sql.DB
	log     Logger

	mut     sync.Mutex
	pending []*spanRecord

	// SQLite allows only one writer at a time; concurrent flushes queue here
	// rather than failing with SQLITE_BUSY.
	writeMu sync.Mutex
}

func NewSinkSQLite(ctx context.Context, log Logger, path, project string) (*SinkSQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}
	s := &SinkSQLite{path: path, project: project, db: db, log: log}
	if err := s.configure(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("sqlite sink writing to %s", path)
	return s, nil
}

func (s *SinkSQLite) configure(ctx context.Context) error {
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA synchronous = NORMAL;`,
		`PRAGMA busy_timeout = 5000;`,
	} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("configure sqlite (%s): %w", pragma, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return nil
}

func (s *SinkSQLite) StartSpan(parent SpanHandle, args SpanArgs) (SpanHandle, error) {
	var prec *spanRecord
	if parent != nil {
		p, ok := parent.(*sqliteSpan)
		if !ok {
			return nil, fmt.Errorf("sqlite sink: foreign parent span %T", parent)
		}
		prec = p.rec
	}
	return &sqliteSpan{rec: newSpanRecord(prec, args), sink: s}, nil
}

func (s *SinkSQLite) enqueue(rec *spanRecord) {
	s.mut.Lock()
	s.pending = append(s.pending, rec)
	s.mut.Unlock()
}

// Flush writes every span that has ended so far. Spans from a failed batch are
// not retried.
func (s *SinkSQLite) Flush(ctx context.Context) error {
	s.mut.Lock()
	batch := s.pending
	s.pending = nil
	s.mut.Unlock()
	if len(batch) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite batch transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO spans (
    span_id, trace_id, parent_id, project, name, kind, start_time, end_time, created,
    input, output, expected, tags, scores, metadata, metrics, dataset_record_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare sqlite span insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		cols, err := jsonColumns(r.Input, r.Output, r.Expected, r.Tags, r.Scores, r.Metadata, r.Metrics)
		if err != nil {
			return fmt.Errorf("encode span %s: %w", r.SpanID, err)
		}
		_, err = stmt.ExecContext(ctx,
			r.SpanID, r.TraceID, nullString(r.ParentID), s.project, r.Name, string(r.Kind),
			r.Start.UnixNano(), r.End.UnixNano(), r.Created.Format(time.RFC3339Nano),
			cols[0], cols[1], cols[2], cols[3], cols[4], cols[5], cols[6],
			nullString(r.DatasetRecordID),
		)
		if err != nil {
			return fmt.Errorf("insert span %s: %w", r.SpanID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite batch of %d spans: %w", len(batch), err)
	}
	s.log.Debug("sqlite sink wrote %d spans to %s", len(batch), s.path)
	return nil
}

func (s *SinkSQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mut.Lock()
	unflushed := len(s.pending)
	s.mut.Unlock()
	if unflushed > 0 {
		s.log.Warn("sqlite sink closing %s with %d unflushed spans", s.path, unflushed)
	}
	return s.db.Close()
}

// jsonColumns encodes each value as JSON text, leaving empty values NULL.
func jsonColumns(values ...any) ([]sql.NullString, error) {
	cols := make([]sql.NullString, len(values))
	for i, v := range values {
		if isEmptyValue(v) {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		cols[i] = sql.NullString{String: string(b), Valid: true}
	}
	return cols, nil
}

func isEmptyValue(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case []string:
		return len(v) == 0
	case map[string]float64:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

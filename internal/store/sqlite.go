package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"

	"github.com/wanyview/kaidison-system/internal/model"
)

// timeLayout is fixed-width so text comparison in SQL matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// deleteBatch bounds the number of bound parameters per DELETE statement.
const deleteBatch = 500

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageErr(err, "create db dir", goerr.V("dir", dir))
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, storageErr(err, "open db", goerr.V("path", dbPath))
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, storageErr(err, "migrate", goerr.V("path", dbPath))
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id               TEXT PRIMARY KEY,
		content          TEXT NOT NULL,
		context          TEXT NOT NULL DEFAULT '{}',
		created_at       TEXT NOT NULL,
		layer            TEXT NOT NULL,
		keywords         TEXT NOT NULL DEFAULT '[]',
		embedding_ref    TEXT,
		importance       REAL NOT NULL DEFAULT 0.5,
		access_count     INTEGER NOT NULL DEFAULT 0,
		last_accessed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);
	CREATE INDEX IF NOT EXISTS idx_memories_layer ON memories(layer);
	CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Insert(ctx context.Context, rec model.Record) error {
	contextJSON, err := json.Marshal(nonNilContext(rec.Context))
	if err != nil {
		return storageErr(err, "marshal context", goerr.V("id", rec.ID))
	}
	keywords := rec.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	keywordsJSON, err := json.Marshal(keywords)
	if err != nil {
		return storageErr(err, "marshal keywords", goerr.V("id", rec.ID))
	}

	var embeddingRef, lastAccessed *string
	if rec.EmbeddingRef != "" {
		embeddingRef = &rec.EmbeddingRef
	}
	if rec.LastAccessedAt != nil {
		t := formatTime(*rec.LastAccessedAt)
		lastAccessed = &t
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, content, context, created_at, layer, keywords, embedding_ref, importance, access_count, last_accessed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.Content, string(contextJSON), formatTime(rec.CreatedAt), string(rec.Layer),
		string(keywordsJSON), embeddingRef, rec.Importance, rec.AccessCount, lastAccessed)
	if err != nil {
		return storageErr(err, "insert memory", goerr.V("id", rec.ID))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(err, "insert memory", goerr.V("id", rec.ID))
	}
	if n == 0 {
		return goerr.Wrap(model.ErrDuplicateID, "insert memory", goerr.V("id", rec.ID))
	}
	return nil
}

const selectColumns = `SELECT id, content, context, created_at, layer, keywords, embedding_ref,
	importance, access_count, last_accessed_at FROM memories`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(model.ErrNotFound, "get memory", goerr.V("id", id))
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) UpdateAccess(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
		formatTime(now), id)
	if err != nil {
		return storageErr(err, "update access", goerr.V("id", id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(err, "update access", goerr.V("id", id))
	}
	if n == 0 {
		return goerr.Wrap(model.ErrNotFound, "update access", goerr.V("id", id))
	}
	return nil
}

func (s *SQLiteStore) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr(err, "begin delete")
	}
	defer tx.Rollback()

	deleted := 0
	for start := 0; start < len(ids); start += deleteBatch {
		batch := ids[start:min(start+deleteBatch, len(ids))]
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return 0, storageErr(err, "delete memories", goerr.V("count", len(batch)))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, storageErr(err, "delete memories")
		}
		deleted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr(err, "commit delete")
	}
	return deleted, nil
}

func (s *SQLiteStore) DeleteByLayer(ctx context.Context, layer model.Layer) (int, error) {
	var res sql.Result
	var err error
	if layer != "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM memories WHERE layer = ?`, string(layer))
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM memories`)
	}
	if err != nil {
		return 0, storageErr(err, "clear memories", goerr.V("layer", layer))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr(err, "clear memories", goerr.V("layer", layer))
	}
	return int(n), nil
}

func orderClause(o Order) string {
	switch o {
	case OrderChronological:
		return `ORDER BY created_at ASC, id ASC`
	case OrderRetention:
		return `ORDER BY importance DESC, access_count DESC, created_at DESC, id DESC`
	default:
		return `ORDER BY importance DESC, created_at DESC, id DESC`
	}
}

// Scan yields records matching p. Rows whose serialized columns cannot be
// decoded are skipped unless p.IncludeCorrupt is set.
func (s *SQLiteStore) Scan(ctx context.Context, p ListParams) iter.Seq2[model.Record, error] {
	return func(yield func(model.Record, error) bool) {
		query := selectColumns
		var args []any
		if p.Layer != "" {
			query += ` WHERE layer = ?`
			args = append(args, string(p.Layer))
		}
		query += ` ` + orderClause(p.Order)

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(model.Record{}, storageErr(err, "list memories", goerr.V("layer", p.Layer)))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if errors.Is(err, model.ErrParse) {
				if !p.IncludeCorrupt {
					continue
				}
				rec.Context, rec.Keywords, err = model.Context{}, []string{}, nil
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Record{}, storageErr(err, "list memories", goerr.V("layer", p.Layer)))
		}
	}
}

func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]model.Record, error) {
	var records []model.Record
	for rec, err := range s.Scan(ctx, p) {
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (model.Record, error) {
	var rec model.Record
	var contextJSON, keywordsJSON, createdAt, layer string
	var embeddingRef, lastAccessed sql.NullString

	err := row.Scan(
		&rec.ID, &rec.Content, &contextJSON, &createdAt, &layer, &keywordsJSON,
		&embeddingRef, &rec.Importance, &rec.AccessCount, &lastAccessed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, err
	}
	if err != nil {
		return rec, storageErr(err, "scan memory")
	}

	rec.Layer = model.Layer(layer)
	rec.CreatedAt = parseTime(createdAt)
	if embeddingRef.Valid {
		rec.EmbeddingRef = embeddingRef.String
	}
	if lastAccessed.Valid {
		t := parseTime(lastAccessed.String)
		rec.LastAccessedAt = &t
	}
	if err := json.Unmarshal([]byte(contextJSON), &rec.Context); err != nil {
		return rec, goerr.Wrap(fmt.Errorf("%w: %w", model.ErrParse, err), "decode context", goerr.V("id", rec.ID))
	}
	if err := json.Unmarshal([]byte(keywordsJSON), &rec.Keywords); err != nil {
		return rec, goerr.Wrap(fmt.Errorf("%w: %w", model.ErrParse, err), "decode keywords", goerr.V("id", rec.ID))
	}
	rec.Context = nonNilContext(rec.Context)
	return rec, nil
}

func nonNilContext(c model.Context) model.Context {
	if c == nil {
		return model.Context{}
	}
	return c
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func storageErr(err error, msg string, opts ...goerr.Option) error {
	return goerr.Wrap(fmt.Errorf("%w: %w", model.ErrStorage, err), msg, opts...)
}

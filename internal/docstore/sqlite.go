package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite stores documents as JSON text in a single SQLite table.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at dbPath.
func OpenSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &SQLite{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func path(field string) string {
	return "'$." + field + "'"
}

// Get returns a document by id.
func (s *SQLite) Get(ctx context.Context, collection, id string) (Document, error) {
	doc := Document{ID: id, Collection: collection}
	var data, created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT data, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&data, &created, &updated)
	if err == sql.ErrNoRows {
		return doc, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return doc, &StorageError{Op: "get", Collection: collection, Err: err}
	}
	doc.Data = json.RawMessage(data)
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return doc, nil
}

// Query returns documents matching every filter, oldest first.
func (s *SQLite) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	query := `SELECT id, data, created_at, updated_at FROM documents WHERE collection = ?`
	args := []any{collection}
	for _, f := range filters {
		if err := checkField(f.Field); err != nil {
			return nil, err
		}
		if f.Value == nil {
			query += ` AND json_extract(data, ` + path(f.Field) + `) IS NULL`
			continue
		}
		query += ` AND json_extract(data, ` + path(f.Field) + `) = ?`
		args = append(args, sqlValue(f.Value))
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "query", Collection: collection, Err: err}
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		d := Document{Collection: collection}
		var data, created, updated string
		if err := rows.Scan(&d.ID, &data, &created, &updated); err != nil {
			return nil, &StorageError{Op: "query", Collection: collection, Err: err}
		}
		d.Data = json.RawMessage(data)
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "query", Collection: collection, Err: err}
	}
	return docs, nil
}

// Add inserts a new document with a random id.
func (s *SQLite) Add(ctx context.Context, collection string, data Fields) (string, error) {
	id := uuid.NewString()
	now := s.now()
	body, err := encode(data, now)
	if err != nil {
		return "", err
	}
	ts := now.Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		collection, id, body, ts, ts,
	)
	if err != nil {
		return "", s.writeErr("add", collection, err)
	}
	return id, nil
}

// Set writes the whole document, creating it if needed.
func (s *SQLite) Set(ctx context.Context, collection, id string, data Fields) error {
	now := s.now()
	body, err := encode(data, now)
	if err != nil {
		return err
	}
	ts := now.Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		collection, id, body, ts, ts,
	)
	if err != nil {
		return s.writeErr("set", collection, err)
	}
	return nil
}

// Update replaces the given top-level fields of an existing document.
func (s *SQLite) Update(ctx context.Context, collection, id string, data Fields) error {
	return s.Apply(ctx, collection, id, Mutation{Set: data})
}

// Increment adds delta to field in a single statement.
func (s *SQLite) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	return s.Apply(ctx, collection, id, Mutation{Increment: map[string]int64{field: delta}})
}

// Apply performs m as one UPDATE statement, so increments never lose updates
// and conditions are evaluated against the row being written.
func (s *SQLite) Apply(ctx context.Context, collection, id string, m Mutation) error {
	if len(m.Increment) == 0 && len(m.Set) == 0 {
		return fmt.Errorf("empty mutation for %s/%s", collection, id)
	}
	now := s.now()

	var setExpr []string
	var args []any

	incFields := make([]string, 0, len(m.Increment))
	for f := range m.Increment {
		incFields = append(incFields, f)
	}
	sort.Strings(incFields)
	for _, f := range incFields {
		if err := checkField(f); err != nil {
			return err
		}
		setExpr = append(setExpr, path(f)+`, COALESCE(json_extract(data, `+path(f)+`), 0) + ?`)
		args = append(args, m.Increment[f])
	}

	set, err := resolve(m.Set, now)
	if err != nil {
		return err
	}
	setFields := make([]string, 0, len(set))
	for f := range set {
		setFields = append(setFields, f)
	}
	sort.Strings(setFields)
	for _, f := range setFields {
		raw, err := json.Marshal(set[f])
		if err != nil {
			return fmt.Errorf("encode field %s: %w", f, err)
		}
		setExpr = append(setExpr, path(f)+`, json(?)`)
		args = append(args, string(raw))
	}

	query := `UPDATE documents SET data = json_set(data, ` + strings.Join(setExpr, ", ") + `), updated_at = ?
		WHERE collection = ? AND id = ?`
	args = append(args, now.Format(time.RFC3339Nano), collection, id)

	for _, c := range m.Conditions {
		expr, cargs, err := c.sql()
		if err != nil {
			return err
		}
		query += ` AND ` + expr
		args = append(args, cargs...)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return s.writeErr("update", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Op: "update", Collection: collection, Err: err}
	}
	if n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, collection, id); err != nil {
		return err
	}
	return fmt.Errorf("%s/%s: %w", collection, id, ErrConditionFailed)
}

// Delete removes a document if it exists.
func (s *SQLite) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return &StorageError{Op: "delete", Collection: collection, Err: err}
	}
	return nil
}

// EnsureUnique creates a partial unique index on field for the collection.
func (s *SQLite) EnsureUnique(ctx context.Context, collection, field string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	if err := checkField(field); err != nil {
		return err
	}
	stmt := fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS "uniq_%s_%s" ON documents(json_extract(data, %s)) WHERE collection = '%s'`,
		collection, field, path(field), collection,
	)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return &StorageError{Op: "index", Collection: collection, Err: err}
	}
	slog.Debug("ensured unique index", "collection", collection, "field", field)
	return nil
}

func (s *SQLite) writeErr(op, collection string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s: %w", collection, ErrAlreadyExists)
		}
	}
	return &StorageError{Op: op, Collection: collection, Err: err}
}

func (c Condition) sql() (string, []any, error) {
	if err := checkField(c.field); err != nil {
		return "", nil, err
	}
	col := `json_extract(data, ` + path(c.field) + `)`
	switch c.op {
	case condEquals:
		if c.value == nil {
			return col + ` IS NULL`, nil, nil
		}
		return col + ` = ?`, []any{sqlValue(c.value)}, nil
	case condLess:
		if err := checkField(c.other); err != nil {
			return "", nil, err
		}
		return `COALESCE(` + col + `, 0) < json_extract(data, ` + path(c.other) + `)`, nil, nil
	case condUnsetOr:
		return `(` + col + ` IS NULL OR ` + col + ` = '' OR ` + col + ` = ?)`, []any{sqlValue(c.value)}, nil
	}
	return "", nil, fmt.Errorf("unknown condition %d", c.op)
}

func encode(data Fields, now time.Time) (string, error) {
	resolved, err := resolve(data, now)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(resolved)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(body), nil
}

// sqlValue maps a Go value to what json_extract yields for its JSON encoding.
func sqlValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	}
	return v
}

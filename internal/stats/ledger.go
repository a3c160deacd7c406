package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotInitialized is returned when the ledger file does not exist yet.
	ErrNotInitialized = errors.New("statistics ledger not initialized")
	// ErrSchemaMismatch is returned when a frame's columns differ from the table's.
	ErrSchemaMismatch = errors.New("statistics schema mismatch")
	// ErrVersionCollision is returned when two release versions derive the same key.
	ErrVersionCollision = errors.New("version key collision")
	// ErrUnknownVersion is returned when reading a version that has no table.
	ErrUnknownVersion = errors.New("no statistics table for version")
)

const catalogSchema = `
CREATE TABLE IF NOT EXISTS ledger_tables (
	version_key TEXT PRIMARY KEY,
	version TEXT NOT NULL,
	columns TEXT NOT NULL,
	created_at INTEGER NOT NULL
);`

// TableInfo describes one version table of the ledger.
type TableInfo struct {
	Key       string
	Version   string
	Columns   []string
	CreatedAt time.Time
}

// Ledger is a handle on the statistics file. It holds no open connection:
// every operation opens the database, does its work in one transaction and
// closes it again before returning.
type Ledger struct {
	dir     string
	file    string
	version string
}

// NewLedger returns a handle on dir/file whose default table is derived from version.
func NewLedger(dir, file, version string) *Ledger {
	return &Ledger{dir: dir, file: file, version: version}
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return filepath.Join(l.dir, l.file)
}

// Exists reports whether the stats directory exists and the ledger is a regular file.
func (l *Ledger) Exists() bool {
	if _, err := os.Stat(l.dir); err != nil {
		return false
	}
	info, err := os.Stat(l.Path())
	return err == nil && info.Mode().IsRegular()
}

// InitializeIfAbsent creates the ledger with an empty table for the default
// version when no ledger exists yet. It is a no-op otherwise.
func (l *Ledger) InitializeIfAbsent(ctx context.Context, columns []string) error {
	if l.Exists() {
		return nil
	}
	if err := validateColumns(columns); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create stats directory %s: %w", l.dir, err)
	}
	if info, err := os.Stat(l.Path()); err == nil && !info.Mode().IsRegular() {
		return fmt.Errorf("ledger path %s is not a regular file", l.Path())
	}

	db, err := l.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	if _, err := tx.ExecContext(ctx, catalogSchema); err != nil {
		return fmt.Errorf("create catalog: %w", err)
	}
	if _, err := ensureTable(ctx, tx, l.version, columns); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Append adds the frame's rows after every row already stored for version.
// An empty version selects the ledger's default. The table is created on
// first use of a version key; an existing table must have the frame's columns.
func (l *Ledger) Append(ctx context.Context, frame Frame, version string) error {
	if version == "" {
		version = l.version
	}
	if err := validateColumns(frame.Columns); err != nil {
		return err
	}

	db, err := l.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	if _, err := tx.ExecContext(ctx, catalogSchema); err != nil {
		return fmt.Errorf("create catalog: %w", err)
	}
	cols, err := ensureTable(ctx, tx, version, frame.Columns)
	if err != nil {
		return err
	}
	if !slices.Equal(cols, frame.Columns) {
		return fmt.Errorf("%w: table %s has columns %v, frame has %v",
			ErrSchemaMismatch, DeriveVersionKey(version), cols, frame.Columns)
	}

	key := DeriveVersionKey(version)
	stmt, err := tx.PrepareContext(ctx, insertSQL(key, cols))
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", key, err)
	}
	defer func() { _ = stmt.Close() }()

	args := make([]any, len(cols))
	for i, r := range frame.Records {
		for j, c := range cols {
			if args[j], err = r.Value(c); err != nil {
				return err
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert into %s row %d: %w", key, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Read returns every row stored for version in insertion order.
func (l *Ledger) Read(ctx context.Context, version string) (Frame, error) {
	if version == "" {
		version = l.version
	}
	db, err := l.connect(ctx)
	if err != nil {
		return Frame{}, err
	}
	defer func() { _ = db.Close() }()

	key := DeriveVersionKey(version)
	info, err := lookupTable(ctx, db, key)
	if err != nil {
		return Frame{}, err
	}
	if info == nil {
		return Frame{}, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}

	quoted := make([]string, len(info.Columns))
	for i, c := range info.Columns {
		quoted[i] = quoteIdent(c)
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid",
		strings.Join(quoted, ", "), quoteIdent(key)))
	if err != nil {
		return Frame{}, fmt.Errorf("query %s: %w", key, err)
	}
	defer func() { _ = rows.Close() }()

	frame := Frame{Columns: info.Columns, Records: []Record{}}
	for rows.Next() {
		var r Record
		targets, err := r.scanTargets(info.Columns)
		if err != nil {
			return Frame{}, err
		}
		if err := rows.Scan(targets...); err != nil {
			return Frame{}, fmt.Errorf("scan row: %w", err)
		}
		frame.Records = append(frame.Records, r)
	}
	if err := rows.Err(); err != nil {
		return Frame{}, fmt.Errorf("iterate rows: %w", err)
	}
	return frame, nil
}

// Versions lists the version tables in creation order.
func (l *Ledger) Versions(ctx context.Context) ([]TableInfo, error) {
	db, err := l.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx,
		`SELECT version_key, version, columns, created_at FROM ledger_tables ORDER BY created_at, version_key`)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TableInfo
	for rows.Next() {
		var info TableInfo
		var cols string
		var created int64
		if err := rows.Scan(&info.Key, &info.Version, &cols, &created); err != nil {
			return nil, fmt.Errorf("scan catalog: %w", err)
		}
		info.Columns = strings.Split(cols, ",")
		info.CreatedAt = time.Unix(0, created)
		out = append(out, info)
	}
	return out, rows.Err()
}

// connect opens an existing ledger. A missing file is a precondition failure.
func (l *Ledger) connect(ctx context.Context) (*sql.DB, error) {
	info, err := os.Stat(l.Path())
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotInitialized, l.Path())
	}
	return l.open(ctx)
}

func (l *Ledger) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", l.Path())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", l.Path(), err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", l.Path(), err)
	}
	return db, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// lookupTable returns the catalogue entry for key, or nil if there is none.
func lookupTable(ctx context.Context, q rowQuerier, key string) (*TableInfo, error) {
	info := TableInfo{Key: key}
	var cols string
	var created int64
	err := q.QueryRowContext(ctx,
		`SELECT version, columns, created_at FROM ledger_tables WHERE version_key = ?`, key).
		Scan(&info.Version, &cols, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", key, err)
	}
	info.Columns = strings.Split(cols, ",")
	info.CreatedAt = time.Unix(0, created)
	return &info, nil
}

// ensureTable returns the column order of version's table, creating the
// table and its catalogue entry with columns if it does not exist yet.
func ensureTable(ctx context.Context, tx *sql.Tx, version string, columns []string) ([]string, error) {
	key := DeriveVersionKey(version)
	info, err := lookupTable(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if info != nil {
		if info.Version != version {
			return nil, fmt.Errorf("%w: %s already holds version %q, not %q",
				ErrVersionCollision, key, info.Version, version)
		}
		return info.Columns, nil
	}

	if _, err := tx.ExecContext(ctx, createTableSQL(key, columns)); err != nil {
		return nil, fmt.Errorf("create table %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_tables (version_key, version, columns, created_at) VALUES (?, ?, ?, ?)`,
		key, version, strings.Join(columns, ","), time.Now().UnixNano()); err != nil {
		return nil, fmt.Errorf("register table %s: %w", key, err)
	}
	return slices.Clone(columns), nil
}

func createTableSQL(key string, columns []string) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		q := quoteIdent(c)
		if isIntegerColumn(c) {
			defs[i] = fmt.Sprintf("%s INTEGER NOT NULL DEFAULT 0", q)
		} else {
			defs[i] = fmt.Sprintf("%s TEXT NOT NULL DEFAULT '' CHECK(length(%s) <= %d)", q, q, MaxFieldWidth)
		}
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", quoteIdent(key), strings.Join(defs, ",\n\t"))
}

func insertSQL(key string, columns []string) string {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(key), strings.Join(quoted, ", "), strings.Join(marks, ", "))
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"songetl/internal/model"
	"songetl/internal/storage"
)

// maxParams is SQLITE_MAX_VARIABLE_NUMBER for the bundled SQLite (>= 3.32).
const maxParams = 32766

// Store implements storage.Store for SQLite.
//
// Key design points vs Postgres:
//   - There is no COPY; staging is filled with chunked multi-row INSERTs.
//   - The merge is INSERT OR IGNORE ... SELECT ... ORDER BY rowid, so the
//     first staged row wins on duplicate keys.
//   - SQLite has no timestamp type. Timestamps are stored as RFC3339Nano TEXT
//     in UTC for reliable round-trips and key comparisons.
//   - Foreign keys are enforced (PRAGMA foreign_keys=ON) to match the other
//     backends.
type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database file named by cfg.DSN (":memory:" works for tests).
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection for the whole run; also keeps temp tables and pragmas on
	// the same session.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

func (s *Store) CreateTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		q, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (s *Store) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, buildDropSQL(t.Name)); err != nil {
			return fmt.Errorf("drop table %s: %w", t.Name, err)
		}
	}
	return nil
}

// sqlTx is the subset of *sql.Tx used by Tx.
type sqlTx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Commit() error
	Rollback() error
}

type Tx struct {
	tx sqlTx
}

func (t *Tx) Commit(context.Context) error   { return t.tx.Commit() }
func (t *Tx) Rollback(context.Context) error { return t.tx.Rollback() }

// UpsertRows stages rows in a temp table shaped like spec.Name, then merges
// with INSERT OR IGNORE and drops the staging table.
func (t *Tx) UpsertRows(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tmp := "tmp_tab_" + spec.Name
	cols := spec.ColumnNames()

	if _, err := t.tx.ExecContext(ctx, buildStagingSQL(spec.Name, tmp, cols)); err != nil {
		return 0, fmt.Errorf("create staging %s: %w", tmp, err)
	}
	if _, err := t.insertChunked(ctx, tmp, cols, rows, ""); err != nil {
		return 0, fmt.Errorf("stage into %s: %w", tmp, err)
	}
	res, err := t.tx.ExecContext(ctx, buildMergeSQL(spec.Name, tmp, cols))
	if err != nil {
		return 0, fmt.Errorf("merge %s into %s: %w", tmp, spec.Name, err)
	}
	if _, err := t.tx.ExecContext(ctx, buildDropSQL(tmp)); err != nil {
		return 0, fmt.Errorf("drop staging %s: %w", tmp, err)
	}
	return res.RowsAffected()
}

// InsertIgnore inserts one row with INSERT OR IGNORE.
func (t *Tx) InsertIgnore(ctx context.Context, spec storage.TableSpec, row []any) (int64, error) {
	n, err := t.insertChunked(ctx, spec.Name, spec.ColumnNames(), [][]any{row}, "OR IGNORE ")
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", spec.Name, err)
	}
	return n, nil
}

// InsertRows appends rows without conflict handling.
func (t *Tx) InsertRows(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	n, err := t.insertChunked(ctx, spec.Name, spec.ColumnNames(), rows, "")
	if err != nil {
		return n, fmt.Errorf("insert into %s: %w", spec.Name, err)
	}
	return n, nil
}

func (t *Tx) insertChunked(ctx context.Context, table string, cols []string, rows [][]any, verb string) (int64, error) {
	chunk := storage.RowsPerStatement(maxParams, len(cols))
	total := int64(0)
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		q, args := buildInsertSQL(verb, table, cols, rows[start:end])
		res, err := t.tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

const findSongSQL = `SELECT s.song_id, s.artist_id FROM songs s ` +
	`JOIN artists a ON a.artist_id = s.artist_id ` +
	`WHERE s.title = ? AND a.name = ? AND s.duration = ? LIMIT 1`

const songIndexSQL = `SELECT s.title, a.name, s.duration, s.song_id, s.artist_id FROM songs s ` +
	`JOIN artists a ON a.artist_id = s.artist_id ` +
	`WHERE a.name IS NOT NULL AND s.duration IS NOT NULL ORDER BY s.rowid`

func (t *Tx) FindSong(ctx context.Context, key model.SongKey) (model.SongMatch, bool, error) {
	var m model.SongMatch
	err := t.tx.QueryRowContext(ctx, findSongSQL, key.Title, key.Artist, key.Duration).Scan(&m.SongID, &m.ArtistID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SongMatch{}, false, nil
	}
	if err != nil {
		return model.SongMatch{}, false, fmt.Errorf("find song: %w", err)
	}
	return m, true, nil
}

func (t *Tx) SongIndex(ctx context.Context) (map[model.SongKey]model.SongMatch, error) {
	rows, err := t.tx.QueryContext(ctx, songIndexSQL)
	if err != nil {
		return nil, fmt.Errorf("song index: %w", err)
	}
	defer rows.Close()

	out := make(map[model.SongKey]model.SongMatch)
	for rows.Next() {
		var k model.SongKey
		var m model.SongMatch
		if err := rows.Scan(&k.Title, &k.Artist, &k.Duration, &m.SongID, &m.ArtistID); err != nil {
			return nil, fmt.Errorf("song index: scan: %w", err)
		}
		if _, seen := out[k]; !seen {
			out[k] = m
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("song index: rows: %w", err)
	}
	return out, nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdentList(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = sqlIdent(c)
	}
	return strings.Join(parts, ", ")
}

// buildStagingSQL copies column names and declared types but not defaults or
// constraints; none of the five tables declares a default.
func buildStagingSQL(table, tmp string, cols []string) string {
	return fmt.Sprintf(`CREATE TEMP TABLE %s AS SELECT %s FROM %s WHERE 0;`,
		sqlIdent(tmp), joinIdentList(cols), sqlIdent(table))
}

func buildMergeSQL(table, tmp string, cols []string) string {
	list := joinIdentList(cols)
	return fmt.Sprintf(`INSERT OR IGNORE INTO %s (%s) SELECT %s FROM %s ORDER BY rowid;`,
		sqlIdent(table), list, list, sqlIdent(tmp))
}

func buildDropSQL(table string) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, sqlIdent(table))
}

// buildInsertSQL builds a multi-row INSERT with ? placeholders. verb is
// inserted after INSERT (e.g. "OR IGNORE ").
func buildInsertSQL(verb, table string, cols []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT ")
	b.WriteString(verb)
	b.WriteString("INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(cols))
	b.WriteString(") VALUES ")

	ph := "(" + strings.TrimRight(strings.Repeat("?, ", len(cols)), ", ") + ")"
	args := make([]any, 0, len(rows)*len(cols))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ph)
		for j := range cols {
			args = append(args, bindValue(row[j]))
		}
	}
	return b.String(), args
}

// bindValue converts values SQLite cannot store natively.
func bindValue(v any) any {
	if ts, ok := v.(time.Time); ok {
		return formatSQLiteTime(ts)
	}
	return v
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string

	if t.PrimaryKey != nil {
		pkType := strings.TrimSpace(strings.ToLower(t.PrimaryKey.Type))

		// "INTEGER PRIMARY KEY" is special in sqlite: it becomes the rowid and auto-generates values.
		switch pkType {
		case "serial", "bigserial":
			parts = append(parts, fmt.Sprintf(`%s INTEGER PRIMARY KEY AUTOINCREMENT`, sqlIdent(t.PrimaryKey.Name)))
		default:
			parts = append(parts, fmt.Sprintf(`%s %s PRIMARY KEY`, sqlIdent(t.PrimaryKey.Name), t.PrimaryKey.Type))
		}
	}

	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Type) == "" {
			return "", fmt.Errorf("table %s: column name/type must be set", t.Name)
		}
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), sqliteType(c.Type))
		nullable := false
		if c.Nullable != nil {
			nullable = *c.Nullable
		}
		if !nullable {
			col += " NOT NULL"
		}
		if c.References != "" {
			col += " REFERENCES " + sqliteReference(c.References)
		}
		parts = append(parts, col)
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("table %s: no columns", t.Name)
	}
	if len(t.Key) > 0 {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", joinIdentList(t.Key)))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func sqliteReference(ref string) string {
	open := strings.IndexByte(ref, '(')
	if open < 0 || !strings.HasSuffix(ref, ")") {
		return sqlIdent(ref)
	}
	return sqlIdent(ref[:open]) + " (" + sqlIdent(ref[open+1:len(ref)-1]) + ")"
}

// sqliteType maps logical types to SQLite type names (and so affinities).
func sqliteType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case storage.TypeText, storage.TypeTimestamp:
		return "TEXT"
	case storage.TypeInteger, storage.TypeSmallint:
		return "INTEGER"
	case storage.TypeNumeric:
		return "REAL"
	default:
		return t
	}
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

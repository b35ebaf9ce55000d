package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"songetl/internal/model"
	"songetl/internal/storage"
)

// SQL Server allows 2100 parameters per request and 1000 rows per VALUES list.
const (
	maxParams     = 2000
	maxValuesRows = 1000
)

// Store implements storage.Store for Microsoft SQL Server.
//
// Dimension loads:
//   - rows are deduplicated by key in Go first (first occurrence wins), since
//     a NOT EXISTS merge does not collapse duplicates inside its source
//   - the survivors are bulk copied (mssql.CopyIn) into a #temp table
//   - INSERT ... SELECT ... WHERE NOT EXISTS merges them into the target
//
// Fact loads are plain multi-row INSERTs.
type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

// New opens a "sqlserver://" DSN with a single connection and checks it with a ping.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	// #temp tables are session scoped; keep every statement on one session.
	raw.SetMaxOpenConns(1)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return newStore(raw), nil
}

func newStore(db *sql.DB) *Store { return &Store{db: db} }

// Close releases database resources held by this store.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mssql: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// CreateTables creates each table guarded by OBJECT_ID, so it is idempotent.
func (s *Store) CreateTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		q, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (s *Store) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, buildDropSQL(t.Name)); err != nil {
			return fmt.Errorf("mssql: drop table %s: %w", t.Name, err)
		}
	}
	return nil
}

type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit(context.Context) error   { return t.tx.Commit() }
func (t *Tx) Rollback(context.Context) error { return t.tx.Rollback() }

// UpsertRows stages deduplicated rows in #tmp_tab_<t> with bulk copy and merges
// them with NOT EXISTS.
func (t *Tx) UpsertRows(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	cols := spec.ColumnNames()
	uniq, err := dedupeRowsByColumns(rows, cols, spec.Key)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", spec.Name, err)
	}

	tmp := stagingName(spec.Name)
	if _, err := t.tx.ExecContext(ctx, buildStagingSQL(spec.Name, tmp, cols)); err != nil {
		return 0, fmt.Errorf("create staging %s: %w", tmp, err)
	}
	if err := t.bulkCopy(ctx, tmp, cols, uniq); err != nil {
		return 0, fmt.Errorf("bulk copy into %s: %w", tmp, err)
	}
	res, err := t.tx.ExecContext(ctx, buildMergeSQL(spec.Name, tmp, cols, spec.Key))
	if err != nil {
		return 0, fmt.Errorf("merge %s into %s: %w", tmp, spec.Name, err)
	}
	if _, err := t.tx.ExecContext(ctx, buildDropSQL(tmp)); err != nil {
		return 0, fmt.Errorf("drop staging %s: %w", tmp, err)
	}
	return res.RowsAffected()
}

// bulkCopy streams rows through the TDS bulk-load path. The final Exec with no
// arguments flushes the batch.
func (t *Tx) bulkCopy(ctx context.Context, table string, cols []string, rows [][]any) error {
	stmt, err := t.tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, cols...))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return err
		}
	}
	_, err = stmt.ExecContext(ctx)
	return err
}

// InsertIgnore inserts one row unless its key already exists.
func (t *Tx) InsertIgnore(ctx context.Context, spec storage.TableSpec, row []any) (int64, error) {
	q, args := buildInsertNotExistsSQL(spec.Name, spec.ColumnNames(), [][]any{row}, spec.Key)
	res, err := t.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", spec.Name, err)
	}
	return res.RowsAffected()
}

// InsertRows appends rows in chunks that respect both SQL Server limits.
func (t *Tx) InsertRows(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	cols := spec.ColumnNames()
	chunk := min(storage.RowsPerStatement(maxParams, len(cols)), maxValuesRows)

	total := int64(0)
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		q, args := buildBulkInsertSQL(spec.Name, cols, rows[start:end])
		res, err := t.tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", spec.Name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

const findSongSQL = `SELECT TOP 1 s.[song_id], s.[artist_id] FROM [songs] s ` +
	`JOIN [artists] a ON a.[artist_id] = s.[artist_id] ` +
	`WHERE s.[title] = @p1 AND a.[name] = @p2 AND s.[duration] = @p3`

const songIndexSQL = `SELECT s.[title], a.[name], s.[duration], s.[song_id], s.[artist_id] FROM [songs] s ` +
	`JOIN [artists] a ON a.[artist_id] = s.[artist_id] ` +
	`WHERE a.[name] IS NOT NULL AND s.[duration] IS NOT NULL`

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

// dedupeRowsByColumns keeps the first row for each distinct value of
// dedupeColumns, preserving the order of first occurrences. It errors when a
// dedupe column is not in columns.
func dedupeRowsByColumns(rows [][]any, columns []string, dedupeColumns []string) ([][]any, error) {
	if len(dedupeColumns) == 0 {
		return rows, nil
	}
	idx, err := indicesFor(dedupeColumns, indexColumns(columns))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([][]any, 0, len(rows))
	var b strings.Builder
	for _, row := range rows {
		b.Reset()
		for _, i := range idx {
			fmt.Fprintf(&b, "%T:%v\x1f", row[i], row[i])
		}
		k := b.String()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, row)
	}
	return out, nil
}

// indexColumns returns a mapping of column name -> index.
func indexColumns(columns []string) map[string]int {
	m := make(map[string]int, len(columns))
	for i, c := range columns {
		m[c] = i
	}
	return m
}

// indicesFor returns the indices for required columns based on colIdx.
func indicesFor(required []string, colIdx map[string]int) ([]int, error) {
	out := make([]int, len(required))
	for i, c := range required {
		idx, ok := colIdx[c]
		if !ok {
			return nil, fmt.Errorf("column %q not found in columns", c)
		}
		out[i] = idx
	}
	return out, nil
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.songs" -> [dbo].[songs]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func joinIdents(prefix string, columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = prefix + mssqlIdent(c)
	}
	return strings.Join(parts, ", ")
}

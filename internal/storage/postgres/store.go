package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"songetl/internal/model"
	"songetl/internal/storage"
)

// maxParams is the Postgres bind-parameter limit per statement.
const maxParams = 65535

/*
Store implements storage.Store for Postgres.

It holds exactly one connection for the whole run. Dimension loads go through
a transaction-scoped temp table filled with the COPY protocol and merged with
INSERT ... ON CONFLICT DO NOTHING.
*/
type Store struct {
	conn *pgx.Conn
}

// New connects to Postgres using a keyword/value or URL DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	conn, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the connection.
func (s *Store) Close() {
	_ = s.conn.Close(context.Background())
}

// Begin starts the per-file transaction.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// CreateTables creates each table (and its schema, when qualified) if missing.
func (s *Store) CreateTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		schemaSQL, baseSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := s.conn.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := s.conn.Exec(ctx, baseSQL); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// DropTables drops each table if it exists.
func (s *Store) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if _, err := s.conn.Exec(ctx, buildDropSQL(t.Name)); err != nil {
			return fmt.Errorf("drop table %s: %w", t.Name, err)
		}
	}
	return nil
}

// pgxTx is the subset of pgx.Tx used by Tx. Tests substitute a fake.
type pgxTx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Tx is an open Postgres transaction.
type Tx struct {
	tx pgxTx
}

func (t *Tx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// UpsertRows loads rows through a temp staging table:
//
//	CREATE TEMP TABLE tmp_tab_<t> (LIKE <t> INCLUDING DEFAULTS) ON COMMIT DROP
//	COPY tmp_tab_<t> (...) FROM STDIN (binary)
//	INSERT INTO <t> (...) SELECT ... FROM tmp_tab_<t> ON CONFLICT DO NOTHING
//	DROP TABLE tmp_tab_<t>
//
// COPY runs in binary format, so NULLs, empty strings and embedded commas or
// quotes round-trip unchanged.
func (t *Tx) UpsertRows(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tmp := stagingName(spec.Name)
	cols := spec.ColumnNames()

	if _, err := t.tx.Exec(ctx, buildStagingSQL(spec.Name, tmp)); err != nil {
		return 0, fmt.Errorf("create staging %s: %w", tmp, err)
	}
	if _, err := t.tx.CopyFrom(ctx, pgx.Identifier{tmp}, cols, pgx.CopyFromRows(rows)); err != nil {
		return 0, fmt.Errorf("copy into %s: %w", tmp, err)
	}
	tag, err := t.tx.Exec(ctx, buildMergeSQL(spec.Name, tmp, cols))
	if err != nil {
		return 0, fmt.Errorf("merge %s into %s: %w", tmp, spec.Name, err)
	}
	if _, err := t.tx.Exec(ctx, buildDropSQL(tmp)); err != nil {
		return 0, fmt.Errorf("drop staging %s: %w", tmp, err)
	}
	return tag.RowsAffected(), nil
}

// InsertIgnore inserts one row with ON CONFLICT (<key>) DO NOTHING.
func (t *Tx) InsertIgnore(ctx context.Context, spec storage.TableSpec, row []any) (int64, error) {
	sql, args := buildInsertSQL(spec.Name, spec.ColumnNames(), [][]any{row}, spec.Key)
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", spec.Name, err)
	}
	return tag.RowsAffected(), nil
}

// InsertRows appends rows in as few multi-row INSERTs as the parameter limit allows.
func (t *Tx) InsertRows(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cols := spec.ColumnNames()
	chunk := storage.RowsPerStatement(maxParams, len(cols))

	total := int64(0)
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		sql, args := buildInsertSQL(spec.Name, cols, rows[start:end], nil)
		tag, err := t.tx.Exec(ctx, sql, args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", spec.Name, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

const findSongSQL = `SELECT s.song_id, s.artist_id FROM songs s ` +
	`JOIN artists a ON a.artist_id = s.artist_id ` +
	`WHERE s.title = $1 AND a.name = $2 AND s.duration = $3 LIMIT 1`

const songIndexSQL = `SELECT s.title, a.name, s.duration, s.song_id, s.artist_id FROM songs s ` +
	`JOIN artists a ON a.artist_id = s.artist_id ` +
	`WHERE a.name IS NOT NULL AND s.duration IS NOT NULL`

// FindSong runs the exact-match lookup for one played song.
func (t *Tx) FindSong(ctx context.Context, key model.SongKey) (model.SongMatch, bool, error) {
	var m model.SongMatch
	err := t.tx.QueryRow(ctx, findSongSQL, key.Title, key.Artist, key.Duration).Scan(&m.SongID, &m.ArtistID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SongMatch{}, false, nil
	}
	if err != nil {
		return model.SongMatch{}, false, fmt.Errorf("find song: %w", err)
	}
	return m, true, nil
}

// SongIndex loads the whole song/artist join in one query.
func (t *Tx) SongIndex(ctx context.Context) (map[model.SongKey]model.SongMatch, error) {
	rows, err := t.tx.Query(ctx, songIndexSQL)
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

/* ---------- SQL builders ---------- */

// pgIdent quotes an identifier, keeping a schema qualifier as a separate part.
func pgIdent(name string) string {
	if schema, table := splitQualifiedName(name); schema != "" {
		return pgx.Identifier{schema, table}.Sanitize()
	}
	return pgx.Identifier{strings.TrimSpace(name)}.Sanitize()
}

// stagingName is the temp table used to stage rows for table.
func stagingName(table string) string {
	_, base := splitQualifiedName(table)
	return "tmp_tab_" + base
}

func buildStagingSQL(table, tmp string) string {
	return fmt.Sprintf(`CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP;`,
		pgIdent(tmp), pgIdent(table))
}

func buildMergeSQL(table, tmp string, columns []string) string {
	cols := joinIdents(columns)
	return fmt.Sprintf(`INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT DO NOTHING;`,
		pgIdent(table), cols, cols, pgIdent(tmp))
}

func buildDropSQL(table string) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, pgIdent(table))
}

func joinIdents(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = pgIdent(c)
	}
	return strings.Join(parts, ", ")
}

// buildInsertSQL constructs a single INSERT statement and its args for Postgres.
//
// Constraints:
//   - rows must have the same length as columns for every row.
//   - columns must be non-empty.
//
// If dedupeColumns is non-empty the statement ends with
// ON CONFLICT (<dedupeColumns...>) DO NOTHING.
func buildInsertSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if len(dedupeColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(joinIdents(dedupeColumns))
		b.WriteString(") DO NOTHING")
	}

	b.WriteString(";")
	return b.String(), args
}

// splitQualifiedName splits a schema-qualified name into (schema, table).
//
// Examples:
//   - "public.songs" => ("public", "songs")
//   - "songs"        => ("", "songs")
//
// Only a single dot is handled; anything else is treated as unqualified.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

// buildCreateSQL builds the DDL for one table.
//
// Outputs:
//   - schemaSQL: optional CREATE SCHEMA statement when t.Name is schema-qualified.
//   - baseSQL:   CREATE TABLE IF NOT EXISTS with columns, keys and references.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, baseSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("table name is empty")
	}

	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	cols, err := buildColumnDefs(t)
	if err != nil {
		return "", "", err
	}
	if len(t.Key) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", joinIdents(t.Key)))
	}

	baseSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, pgIdent(t.Name), strings.Join(cols, ", "))
	return schemaSQL, baseSQL, nil
}

// buildColumnDefs returns the list of "<col> <type> ..." definitions.
//
// Primary key handling:
//   - If PrimaryKeySpec is provided, it is created as the first column.
//   - The primary key column is not expected to be present in t.Columns.
func buildColumnDefs(t storage.TableSpec) ([]string, error) {
	cols := make([]string, 0, len(t.Columns)+1)

	if t.PrimaryKey != nil {
		pk := strings.TrimSpace(t.PrimaryKey.Name)
		pkType := strings.TrimSpace(t.PrimaryKey.Type)
		if pk == "" || pkType == "" {
			return nil, fmt.Errorf("buildColumnDefs: table %s: primary_key.name and primary_key.type are required", t.Name)
		}
		cols = append(cols, fmt.Sprintf(`%s %s PRIMARY KEY`, pgIdent(pk), pgType(pkType)))
	}

	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return nil, fmt.Errorf("buildColumnDefs: table %s: %w", t.Name, err)
		}
		cols = append(cols, def)
	}

	if len(cols) == 0 {
		return nil, fmt.Errorf("buildColumnDefs: table %s: no columns", t.Name)
	}
	return cols, nil
}

// buildColumnDef renders a single column definition.
//
// Nullable semantics:
//   - nullable == nil  => NOT NULL.
//   - nullable == true => NULL (no NOT NULL clause).
//   - nullable == false=> NOT NULL.
func buildColumnDef(c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	typ := strings.TrimSpace(c.Type)
	if name == "" || typ == "" {
		return "", fmt.Errorf("column name/type must be set")
	}

	var b strings.Builder
	b.WriteString(pgIdent(name))
	b.WriteString(" ")
	b.WriteString(pgType(typ))

	nullable := false
	if c.Nullable != nil {
		nullable = *c.Nullable
	}
	if !nullable {
		b.WriteString(" NOT NULL")
	}

	if ref := strings.TrimSpace(c.References); ref != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(pgReference(ref))
	}

	return b.String(), nil
}

// pgReference quotes "table(column)".
func pgReference(ref string) string {
	open := strings.IndexByte(ref, '(')
	if open < 0 || !strings.HasSuffix(ref, ")") {
		return pgIdent(ref)
	}
	return pgIdent(ref[:open]) + " (" + pgIdent(ref[open+1:len(ref)-1]) + ")"
}

// pgType maps logical column types; anything else is passed through verbatim.
func pgType(t string) string {
	switch strings.ToLower(t) {
	case storage.TypeText:
		return "text"
	case storage.TypeInteger:
		return "integer"
	case storage.TypeSmallint:
		return "smallint"
	case storage.TypeNumeric:
		return "numeric"
	case storage.TypeTimestamp:
		return "timestamp"
	case storage.TypeSerial:
		return "serial"
	default:
		return t
	}
}

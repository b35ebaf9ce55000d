package mssql

import (
	"fmt"
	"strings"

	"songetl/internal/storage"
)

// stagingName is the session temp table used for table.
func stagingName(table string) string {
	parts := strings.Split(table, ".")
	return "#tmp_tab_" + strings.TrimSpace(parts[len(parts)-1])
}

// buildStagingSQL creates an empty #temp table with the target's column types.
func buildStagingSQL(table, tmp string, cols []string) string {
	return fmt.Sprintf("SELECT TOP 0 %s INTO %s FROM %s;",
		joinIdents("", cols), mssqlIdent(tmp), mssqlTableIdent(table))
}

// buildMergeSQL inserts staged rows whose key is not in the target yet.
func buildMergeSQL(table, tmp string, cols, key []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents("", cols))
	b.WriteString(") SELECT ")
	b.WriteString(joinIdents("s.", cols))
	b.WriteString(" FROM ")
	b.WriteString(mssqlIdent(tmp))
	b.WriteString(" s")
	writeNotExists(&b, table, "s", key)
	b.WriteString(";")
	return b.String()
}

func writeNotExists(b *strings.Builder, table, alias string, key []string) {
	if len(key) == 0 {
		return
	}
	b.WriteString(" WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" t WHERE ")
	for i, k := range key {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(k))
		b.WriteString(" = ")
		b.WriteString(alias)
		b.WriteString(".")
		b.WriteString(mssqlIdent(k))
	}
	b.WriteString(")")
}

func buildDropSQL(table string) string {
	if strings.HasPrefix(table, "#") {
		return fmt.Sprintf("DROP TABLE IF EXISTS %s;", mssqlIdent(table))
	}
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", mssqlTableIdent(table))
}

// writeValues appends "(@p1, @p2), (...)" for rows and returns the args.
func writeValues(b *strings.Builder, columns []string, rows [][]any) []any {
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
			fmt.Fprintf(b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return args
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents("", columns))
	b.WriteString(") VALUES ")
	args := writeValues(&b, columns, rows)
	return b.String(), args
}

// buildInsertNotExistsSQL constructs a single INSERT...SELECT...WHERE NOT EXISTS.
//
// It materializes incoming rows as a derived table v via VALUES, then inserts
// only those rows that do not match existing rows per dedupeColumns.
func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents("", columns))
	b.WriteString(") SELECT ")
	b.WriteString(joinIdents("v.", columns))
	b.WriteString(" FROM (VALUES ")
	args := writeValues(&b, columns, rows)
	b.WriteString(") AS v(")
	b.WriteString(joinIdents("", columns))
	b.WriteString(")")
	writeNotExists(&b, table, "v", dedupeColumns)
	return b.String(), args
}

// buildCreateSQL returns an OBJECT_ID-guarded CREATE TABLE.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}

	var parts []string
	if t.PrimaryKey != nil {
		pkDef, err := mssqlPrimaryKeyDef(*t.PrimaryKey)
		if err != nil {
			return "", err
		}
		parts = append(parts, pkDef)
	}
	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c, t.IsKey(c.Name) || c.References != "")
		if err != nil {
			return "", err
		}
		parts = append(parts, def)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("mssql: table %s has no columns", t.Name)
	}
	if len(t.Key) > 0 {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", joinIdents("", t.Key)))
	}

	return wrapCreateIfMissing(t.Name, strings.Join(parts, ", ")), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		tableName,
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// mssqlPrimaryKeyDef returns a column definition for an identity primary key.
//
// Supported types (case-insensitive):
//   - "serial", "identity" variants -> INT IDENTITY(1,1) PRIMARY KEY
//   - "bigserial" -> BIGINT IDENTITY(1,1) PRIMARY KEY
//   - otherwise uses pk.Type verbatim with PRIMARY KEY.
func mssqlPrimaryKeyDef(pk storage.PrimaryKeySpec) (string, error) {
	if strings.TrimSpace(pk.Name) == "" {
		return "", fmt.Errorf("mssql: primary key name is empty")
	}
	typ := strings.ToLower(strings.TrimSpace(pk.Type))
	switch typ {
	case "serial", "int identity", "integer identity", "identity":
		return fmt.Sprintf("%s INT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name)), nil
	case "bigserial":
		return fmt.Sprintf("%s BIGINT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name)), nil
	default:
		return fmt.Sprintf("%s %s PRIMARY KEY", mssqlIdent(pk.Name), pk.Type), nil
	}
}

// mssqlColumnDef builds a SQL Server column definition from storage.ColumnSpec.
// indexed marks key and foreign-key columns, whose text type must be bounded.
func mssqlColumnDef(c storage.ColumnSpec, indexed bool) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("mssql: column name is empty")
	}
	if strings.TrimSpace(c.Type) == "" {
		return "", fmt.Errorf("mssql: column %s type is empty", c.Name)
	}

	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(mssqlType(c.Type, indexed))

	nullable := false
	if c.Nullable != nil {
		nullable = *c.Nullable
	}
	if nullable {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	if ref := strings.TrimSpace(c.References); ref != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(mssqlReference(ref))
	}

	return b.String(), nil
}

func mssqlReference(ref string) string {
	open := strings.IndexByte(ref, '(')
	if open < 0 || !strings.HasSuffix(ref, ")") {
		return mssqlTableIdent(ref)
	}
	return mssqlTableIdent(ref[:open]) + " (" + mssqlIdent(ref[open+1:len(ref)-1]) + ")"
}

// mssqlType maps logical types; anything else is passed through verbatim.
func mssqlType(t string, indexed bool) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case storage.TypeText:
		if indexed {
			// 900-byte index key limit.
			return "NVARCHAR(450)"
		}
		return "NVARCHAR(MAX)"
	case storage.TypeInteger:
		return "INT"
	case storage.TypeSmallint:
		return "SMALLINT"
	case storage.TypeNumeric:
		return "FLOAT"
	case storage.TypeTimestamp:
		return "DATETIME2"
	default:
		return t
	}
}

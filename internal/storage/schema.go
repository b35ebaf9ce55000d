// The table specs live here so both the etl engine and the backend packages can
// import them without circular deps.
package storage

// Logical column types. Each backend maps them to its own SQL types.
const (
	TypeText      = "text"
	TypeInteger   = "integer"
	TypeSmallint  = "smallint"
	TypeNumeric   = "numeric"
	TypeTimestamp = "timestamp"
	TypeSerial    = "serial"
)

type TableSpec struct {
	Name string

	// PrimaryKey is an optional surrogate key generated by the database. It is
	// rendered as the first column and is never part of Columns.
	PrimaryKey *PrimaryKeySpec

	// Columns are the loaded columns, in the order rows are built.
	Columns []ColumnSpec

	// Key lists the natural primary key columns; rows colliding on Key are
	// dropped by UpsertRows and InsertIgnore.
	Key []string
}

type PrimaryKeySpec struct {
	Name string
	Type string // serial
}

type ColumnSpec struct {
	Name       string
	Type       string
	References string // "table(column)"
	Nullable   *bool
}

// ColumnNames returns the loaded column names in row order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// IsKey reports whether name is one of the natural key columns.
func (t TableSpec) IsKey(name string) bool {
	for _, k := range t.Key {
		if k == name {
			return true
		}
	}
	return false
}

// RowsPerStatement returns how many rows of width cols fit in one statement
// under a bind-parameter limit. It never returns less than 1.
func RowsPerStatement(maxParams, cols int) int {
	if cols <= 0 {
		return 1
	}
	n := maxParams / cols
	if n < 1 {
		return 1
	}
	return n
}

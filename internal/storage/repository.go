package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"songetl/internal/model"
)

// Config is the minimal configuration needed to open a Store.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Store is a single database connection used for the whole load.
//
// Each backend implements the same semantics in its own idiomatic way
// (Postgres COPY + ON CONFLICT, SQLite OR IGNORE, SQL Server bulk copy +
// NOT EXISTS).
type Store interface {
	// Begin opens the transaction that scopes the work for one input file.
	Begin(ctx context.Context) (Tx, error)

	// CreateTables creates tables in the given order if they do not exist.
	CreateTables(ctx context.Context, tables []TableSpec) error

	// DropTables drops tables in the given order if they exist.
	DropTables(ctx context.Context, tables []TableSpec) error

	// Close releases the connection. Callers should treat Close as "call once".
	Close()
}

// Tx is an open per-file transaction.
//
// Row values passed to Tx methods follow spec.ColumnNames() order.
type Tx interface {
	// UpsertRows stages rows in a transaction-scoped temp table with the
	// backend's bulk path, then merges them into spec.Name with one set-based
	// statement that drops rows whose key already exists. Duplicate keys
	// inside rows are allowed; the first staged row wins.
	//
	// Empty rows is a no-op that never touches the database.
	// It returns the number of rows the merge inserted.
	UpsertRows(ctx context.Context, spec TableSpec, rows [][]any) (int64, error)

	// InsertIgnore inserts a single row, doing nothing on a key conflict.
	InsertIgnore(ctx context.Context, spec TableSpec, row []any) (int64, error)

	// InsertRows appends rows with multi-row INSERTs and no conflict handling,
	// chunked only to stay under the backend's bind-parameter limit.
	InsertRows(ctx context.Context, spec TableSpec, rows [][]any) (int64, error)

	// FindSong looks up the (song_id, artist_id) of a song by exact title,
	// artist name and duration.
	FindSong(ctx context.Context, key model.SongKey) (model.SongMatch, bool, error)

	// SongIndex loads the full song/artist join keyed by (title, artist name,
	// duration). Rows with a NULL artist name or duration are skipped; when two
	// songs share a key the first one read wins.
	SongIndex(ctx context.Context) (map[model.SongKey]model.SongMatch, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Open constructs a Store using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

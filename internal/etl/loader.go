// Package etl loads song and log data files into the star schema.
//
// A Loader walks one root at a time and gives every file its own transaction:
// the file's extractor runs inside it, then it is committed before the next
// file is opened. The first failure rolls back the current file and stops the
// walk; files committed earlier stay.
package etl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"songetl/internal/metrics"
	"songetl/internal/progress"
	"songetl/internal/source"
	"songetl/internal/storage"
)

// Song lookup strategies.
const (
	LookupQuery = "query"
	LookupIndex = "index"
)

// Options tune the extractors.
type Options struct {
	// Extension selects data files. Default ".json".
	Extension string
	// SongLookup is LookupQuery (default) or LookupIndex.
	SongLookup string
	// SongPlayPage is the page value of a song play event. Default "NextSong".
	SongPlayPage string
}

func (o Options) withDefaults() Options {
	if o.Extension == "" {
		o.Extension = ".json"
	}
	if o.SongLookup == "" {
		o.SongLookup = LookupQuery
	}
	if o.SongPlayPage == "" {
		o.SongPlayPage = "NextSong"
	}
	return o
}

// FileFunc extracts one file inside tx.
type FileFunc func(ctx context.Context, tx storage.Tx, path string) (Stats, error)

// Loader runs extractors over data trees against one Store.
type Loader struct {
	Store    storage.Store
	Fs       afero.Fs
	Progress progress.Reporter
	Log      zerolog.Logger
	Options  Options
}

// NewLoader returns a Loader with defaults filled in. A nil rep discards progress.
func NewLoader(store storage.Store, fs afero.Fs, rep progress.Reporter, log zerolog.Logger, opts Options) (*Loader, error) {
	opts = opts.withDefaults()
	switch opts.SongLookup {
	case LookupQuery, LookupIndex:
	default:
		return nil, fmt.Errorf("etl: unknown song lookup %q", opts.SongLookup)
	}
	if rep == nil {
		rep = progress.Nop{}
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Loader{Store: store, Fs: fs, Progress: rep, Log: log, Options: opts}, nil
}

// ProcessData applies fn to every data file under root, one transaction per
// file, in walk order. step names the extractor in logs and metrics.
func (l *Loader) ProcessData(ctx context.Context, step, root string, fn FileFunc) (Stats, error) {
	var total Stats

	files, err := source.Walk(l.Fs, root, l.Options.Extension)
	if err != nil {
		return total, fmt.Errorf("walk %s: %w", root, err)
	}

	l.Progress.Found(len(files), root)
	defer l.Progress.Done()

	for i, path := range files {
		st, err := l.processFile(ctx, step, path, fn)
		if err != nil {
			return total, err
		}
		total.Add(st)
		l.Progress.Processed(i+1, len(files))
	}
	return total, nil
}

func (l *Loader) processFile(ctx context.Context, step, path string, fn FileFunc) (st Stats, err error) {
	start := time.Now()
	defer func() { metrics.RecordStep(step, err, time.Since(start)) }()

	if err := ctx.Err(); err != nil {
		return Stats{}, fmt.Errorf("%s: %w", path, err)
	}

	tx, err := l.Store.Begin(ctx)
	if err != nil {
		return Stats{}, queryErr("begin "+path, err)
	}

	st, err = fn(ctx, tx, path)
	if err != nil {
		// ctx may already be cancelled; the rollback must still reach the server.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			l.Log.Warn().Err(rbErr).Str("file", path).Msg("rollback failed")
		}
		l.Log.Error().Err(err).Str("step", step).Str("file", path).Msg("file rolled back")
		return Stats{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Stats{}, queryErr("commit "+path, err)
	}

	st.Files = 1
	st.record()
	metrics.RecordBatch()
	l.Log.Debug().
		Str("step", step).
		Str("file", path).
		Object("rows", st).
		Dur("duration", time.Since(start).Truncate(time.Millisecond)).
		Msg("file committed")
	return st, nil
}

// ResetTables drops the five tables if present and creates them again.
func ResetTables(ctx context.Context, store storage.Store) error {
	tables := storage.AllTables()
	if err := store.DropTables(ctx, storage.Reversed(tables)); err != nil {
		return queryErr("drop tables", err)
	}
	if err := store.CreateTables(ctx, tables); err != nil {
		return queryErr("create tables", err)
	}
	return nil
}

func tableNames(ts []storage.TableSpec) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.Name
	}
	return strings.Join(names, ",")
}

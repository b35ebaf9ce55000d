package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"songetl/internal/progress"
	"songetl/internal/storage"
)

// Paths are the two data roots of a run.
type Paths struct {
	Song string
	Log  string
}

// Runner opens the store and drives a full load: song data, then log data.
type Runner struct {
	// Open is the storage factory seam. Defaults to storage.Open.
	Open func(ctx context.Context, cfg storage.Config) (storage.Store, error)

	Fs       afero.Fs
	Progress progress.Reporter
	Log      zerolog.Logger
	Options  Options

	// RunID tags logs. A random UUID is used when empty.
	RunID string
}

// NewDefaultRunner returns a Runner on the OS file system and the registered backends.
func NewDefaultRunner(log zerolog.Logger, rep progress.Reporter, opts Options) *Runner {
	return &Runner{
		Open:     storage.Open,
		Fs:       afero.NewOsFs(),
		Progress: rep,
		Log:      log,
		Options:  opts,
	}
}

func (r *Runner) open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	open := r.Open
	if open == nil {
		open = storage.Open
	}
	store, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w: %w", cfg.Kind, ErrConnection, err)
	}
	return store, nil
}

// Run loads paths.Song and then paths.Log. The returned Summary counts what
// was committed, also when err is non-nil.
func (r *Runner) Run(ctx context.Context, cfg storage.Config, paths Paths) (sum Summary, err error) {
	sum.RunID = r.RunID
	if sum.RunID == "" {
		sum.RunID = uuid.NewString()
	}
	log := r.Log.With().Str("run_id", sum.RunID).Logger()

	start := time.Now()
	defer func() { sum.Duration = time.Since(start) }()

	store, err := r.open(ctx, cfg)
	if err != nil {
		return sum, err
	}
	defer store.Close()

	l, err := NewLoader(store, r.Fs, r.Progress, log, r.Options)
	if err != nil {
		return sum, err
	}
	log.Info().
		Str("storage", cfg.Kind).
		Str("song_lookup", l.Options.SongLookup).
		Str("song_path", paths.Song).
		Str("log_path", paths.Log).
		Msg("run started")

	stageStart := time.Now()
	sum.Song, err = l.ProcessData(ctx, "song_file", paths.Song, l.ProcessSongFile)
	if err != nil {
		return sum, err
	}
	log.Info().Str("stage", "song_data").Object("rows", sum.Song).
		Dur("duration", durMS(stageStart)).Msg("stage ok")

	stageStart = time.Now()
	sum.Log, err = l.ProcessData(ctx, "log_file", paths.Log, l.ProcessLogFile)
	if err != nil {
		return sum, err
	}
	log.Info().Str("stage", "log_data").Object("rows", sum.Log).
		Dur("duration", durMS(stageStart)).Msg("stage ok")

	log.Info().Object("rows", sum.Total()).Dur("duration", durMS(start)).Msg("run finished")
	return sum, nil
}

// CreateTables opens the store and recreates the schema from scratch.
func (r *Runner) CreateTables(ctx context.Context, cfg storage.Config) error {
	store, err := r.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	start := time.Now()
	if err := ResetTables(ctx, store); err != nil {
		return err
	}
	r.Log.Info().
		Str("storage", cfg.Kind).
		Str("tables", tableNames(storage.AllTables())).
		Dur("duration", durMS(start)).
		Msg("tables created")
	return nil
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

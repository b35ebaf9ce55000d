package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"songetl/internal/config"
	"songetl/internal/etl"
	"songetl/internal/logging"
	"songetl/internal/progress"
	"songetl/internal/storage"

	// storage.kind picks the backend at run time, so all of them are linked in.
	_ "songetl/internal/storage/all"
)

// runner is the part of *etl.Runner the CLI drives.
type runner interface {
	Run(ctx context.Context, cfg storage.Config, paths etl.Paths) (etl.Summary, error)
	CreateTables(ctx context.Context, cfg storage.Config) error
}

// appDeps are the seams runMain calls through. Tests replace them.
type appDeps struct {
	newRunner   func(log zerolog.Logger, rep progress.Reporter, opts etl.Options, runID string) runner
	initMetrics func(ctx context.Context, log zerolog.Logger, cfg *config.Config, runID string) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		newRunner: func(log zerolog.Logger, rep progress.Reporter, opts etl.Options, runID string) runner {
			r := etl.NewDefaultRunner(log, rep, opts)
			r.RunID = runID
			return r
		},
		initMetrics: initMetrics,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// usageError marks bad flags or arguments (exit code 2).
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// errInvalidConfig means validation issues were already printed.
var errInvalidConfig = errors.New("configuration is invalid")

// runMain executes the CLI and returns the process exit code:
// 0 on success, 1 on a failed run or invalid configuration, 2 on usage errors.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	root := newRootCmd(&app{deps: deps, stdout: stdout, stderr: stderr})
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	var uerr usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &uerr):
		fmt.Fprintf(stderr, "songetl: %v\nRun 'songetl --help' for usage.\n", uerr.err)
		return 2
	default:
		fmt.Fprintf(stderr, "songetl: %v\n", err)
		return 1
	}
}

type app struct {
	deps   appDeps
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "songetl",
		Short: "Load Sparkify song and log data into the songplays star schema",
		Long: "songetl loads song metadata and user activity logs (newline-delimited JSON)\n" +
			"into songs, artists, users, time and songplays. Without a subcommand it runs the load.\n" +
			"Create the tables first with 'songetl create-tables'.",
		Args:          noArgs,
		RunE:          a.runLoad,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })
	config.BindFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Load song data, then log data",
			Args:  noArgs,
			RunE:  a.runLoad,
		},
		&cobra.Command{
			Use:   "create-tables",
			Short: "Drop and recreate the five tables",
			Args:  noArgs,
			RunE:  a.createTables,
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the configuration and exit",
			Args:  noArgs,
			RunE:  a.validate,
		},
	)
	return root
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return usageError{err}
	}
	return nil
}

// loadConfig merges every config source and prints validation issues to
// stderr. It fails with errInvalidConfig when any issue is an error.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	fs := cmd.Flags()
	file, _ := fs.GetString("config")
	envFile, _ := fs.GetString("env-file")

	cfg, err := config.Load(config.Options{File: file, EnvFile: envFile, Flags: fs})
	if err != nil {
		return nil, err
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintln(a.stderr, iss)
	}
	if config.HasErrors(issues) {
		return cfg, errInvalidConfig
	}
	return cfg, nil
}

func (a *app) logger(cfg *config.Config) zerolog.Logger {
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: a.stderr})
	return logging.Logger()
}

func storageConfig(cfg *config.Config) storage.Config {
	return storage.Config{Kind: strings.ToLower(cfg.Storage.Kind), DSN: cfg.ResolveDSN()}
}

func (a *app) runLoad(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	log := a.logger(cfg)

	rep, err := progress.New(cfg.Progress, a.stdout)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	runID := uuid.NewString()

	cleanup, err := a.deps.initMetrics(ctx, log, cfg, runID)
	if err != nil {
		log.Warn().Err(err).Str("backend", cfg.Metrics.Backend).Msg("metrics disabled")
	}
	if cleanup != nil {
		defer cleanup()
	}

	r := a.deps.newRunner(log, rep, etl.Options{
		Extension:    cfg.Data.Extension,
		SongLookup:   cfg.Load.SongLookup,
		SongPlayPage: cfg.Load.SongPlayPage,
	}, runID)

	sum, err := r.Run(ctx, storageConfig(cfg), etl.Paths{Song: cfg.Data.SongPath, Log: cfg.Data.LogPath})
	if err != nil {
		log.Error().Err(err).
			Str("run_id", runID).
			Object("committed", sum.Total()).
			Msg("run failed")
		return err
	}
	return nil
}

func (a *app) createTables(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	log := a.logger(cfg)

	r := a.deps.newRunner(log, progress.Nop{}, etl.Options{}, "")
	if err := r.CreateTables(cmd.Context(), storageConfig(cfg)); err != nil {
		log.Error().Err(err).Msg("create tables failed")
		return err
	}
	return nil
}

func (a *app) validate(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "configuration is valid: storage=%s song_path=%s log_path=%s song_lookup=%s\n",
		cfg.Storage.Kind, cfg.Data.SongPath, cfg.Data.LogPath, cfg.Load.SongLookup)
	return nil
}

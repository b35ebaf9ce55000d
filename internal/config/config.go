// Package config loads songetl settings.
//
// Precedence, lowest first: built-in defaults, YAML file, .env file,
// SONGETL_* environment variables, command-line flags. Nested keys use a
// double underscore in the environment:
//
//	SONGETL_STORAGE__KIND=sqlite
//	SONGETL_DATA__SONG_PATH=/srv/data/song_data
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SONGETL_"

// Config is the full run configuration.
type Config struct {
	Job      string        `koanf:"job"`
	Data     DataConfig    `koanf:"data"`
	Storage  StorageConfig `koanf:"storage"`
	Load     LoadConfig    `koanf:"load"`
	Log      LogConfig     `koanf:"log"`
	Progress string        `koanf:"progress"`
	Metrics  MetricsConfig `koanf:"metrics"`
}

type DataConfig struct {
	SongPath  string `koanf:"song_path"`
	LogPath   string `koanf:"log_path"`
	Extension string `koanf:"extension"`
}

// StorageConfig selects the backend. DSN wins over the individual parts.
// Port 0 means the backend's default port.
type StorageConfig struct {
	Kind     string `koanf:"kind"`
	DSN      string `koanf:"dsn"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	DBName   string `koanf:"dbname"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
}

type LoadConfig struct {
	// SongLookup is "query" (one lookup per event) or "index" (one
	// song/artist scan per log file).
	SongLookup string `koanf:"song_lookup"`
	// SongPlayPage is the page value that marks a song play event.
	SongPlayPage string `koanf:"song_play_page"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type MetricsConfig struct {
	Backend        string        `koanf:"backend"`
	PushgatewayURL string        `koanf:"pushgateway_url"`
	Tags           string        `koanf:"tags"`
	FlushEvery     time.Duration `koanf:"flush_every"`
}

// Defaults returns the built-in configuration as koanf keys.
func Defaults() map[string]any {
	return map[string]any{
		"job":                     "songetl",
		"data.song_path":          "data/song_data",
		"data.log_path":           "data/log_data",
		"data.extension":          ".json",
		"storage.kind":            "postgres",
		"storage.dsn":             "",
		"storage.host":            "127.0.0.1",
		"storage.port":            0,
		"storage.dbname":          "sparkifydb",
		"storage.user":            "student",
		"storage.password":        "student",
		"load.song_lookup":        "query",
		"load.song_play_page":     "NextSong",
		"log.level":               "info",
		"log.format":              "console",
		"progress":                "lines",
		"metrics.backend":         "none",
		"metrics.pushgateway_url": "",
		"metrics.tags":            "",
		"metrics.flush_every":     "60s",
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"job":             "job",
	"song-path":       "data.song_path",
	"log-path":        "data.log_path",
	"extension":       "data.extension",
	"storage":         "storage.kind",
	"dsn":             "storage.dsn",
	"song-lookup":     "load.song_lookup",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"progress":        "progress",
	"metrics-backend": "metrics.backend",
	"pushgateway-url": "metrics.pushgateway_url",
	"metrics-tags":    "metrics.tags",
}

// BindFlags registers the overridable settings on fs. Flags only take effect
// when set explicitly.
func BindFlags(fs *pflag.FlagSet) {
	d := Defaults()
	str := func(key string) string {
		s, _ := d[key].(string)
		return s
	}

	fs.String("config", "", "YAML config file")
	fs.String("env-file", ".env", "dotenv file loaded into the environment if present")
	fs.String("job", str("job"), "job name used for metrics")
	fs.String("song-path", str("data.song_path"), "root of the song data tree")
	fs.String("log-path", str("data.log_path"), "root of the log data tree")
	fs.String("extension", str("data.extension"), "data file extension")
	fs.String("storage", str("storage.kind"), "storage backend: postgres, sqlite or mssql")
	fs.String("dsn", "", "connection string (overrides storage.host/port/dbname/user/password)")
	fs.String("song-lookup", str("load.song_lookup"), "song lookup strategy: query or index")
	fs.String("log-level", str("log.level"), "log level")
	fs.String("log-format", str("log.format"), "log format: console or json")
	fs.String("progress", str("progress"), "progress output: lines, bar or none")
	fs.String("metrics-backend", str("metrics.backend"), "metrics backend: none, pushgateway or datadog")
	fs.String("pushgateway-url", "", "Pushgateway base URL")
	fs.String("metrics-tags", "", "extra metric tags, comma separated (datadog)")
}

// Options says where Load reads from. Zero values skip the source.
type Options struct {
	File    string
	EnvFile string
	Flags   *pflag.FlagSet
}

// Load merges every source into a Config.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", opts.File, err)
		}
	}

	if opts.EnvFile != "" {
		// godotenv never overrides variables already set.
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read env file %s: %w", opts.EnvFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// envKey turns SONGETL_DATA__SONG_PATH into data.song_path.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// ResolveDSN returns the connection string for the configured backend.
// Environment references in an explicit DSN are expanded.
func (c *Config) ResolveDSN() string {
	s := c.Storage
	if strings.TrimSpace(s.DSN) != "" {
		return os.ExpandEnv(s.DSN)
	}

	switch strings.ToLower(s.Kind) {
	case "sqlite":
		if filepath.Ext(s.DBName) == "" {
			return s.DBName + ".db"
		}
		return s.DBName
	case "mssql":
		port := s.Port
		if port == 0 {
			port = 1433
		}
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(s.User, s.Password),
			Host:     net.JoinHostPort(s.Host, strconv.Itoa(port)),
			RawQuery: url.Values{"database": {s.DBName}}.Encode(),
		}
		return u.String()
	default:
		port := s.Port
		if port == 0 {
			port = 5432
		}
		return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s",
			pgValue(s.Host), port, pgValue(s.DBName), pgValue(s.User), pgValue(s.Password))
	}
}

// pgValue quotes a keyword/value connection string value when needed.
func pgValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

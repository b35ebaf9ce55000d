package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songetl/internal/storage"
	_ "songetl/internal/storage/all"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load(Options{})
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mod      func(*Config)
		path     string
		severity Severity
	}{
		{"missing_song_path", func(c *Config) { c.Data.SongPath = "" }, "data.song_path", SeverityError},
		{"same_paths", func(c *Config) { c.Data.LogPath = c.Data.SongPath }, "data.log_path", SeverityWarning},
		{"extension_without_dot", func(c *Config) { c.Data.Extension = "json" }, "data.extension", SeverityError},
		{"unknown_storage", func(c *Config) { c.Storage.Kind = "oracle" }, "storage.kind", SeverityError},
		{"no_host_without_dsn", func(c *Config) { c.Storage.Host = "" }, "storage.host", SeverityError},
		{"bad_port", func(c *Config) { c.Storage.Port = 70000 }, "storage.port", SeverityError},
		{"bad_lookup", func(c *Config) { c.Load.SongLookup = "scan" }, "load.song_lookup", SeverityError},
		{"empty_page", func(c *Config) { c.Load.SongPlayPage = " " }, "load.song_play_page", SeverityError},
		{"bad_level", func(c *Config) { c.Log.Level = "loud" }, "log.level", SeverityError},
		{"bad_format", func(c *Config) { c.Log.Format = "xml" }, "log.format", SeverityError},
		{"bad_progress", func(c *Config) { c.Progress = "dots" }, "progress", SeverityError},
		{"pushgateway_without_url", func(c *Config) { c.Metrics.Backend = "pushgateway" }, "metrics.pushgateway_url", SeverityError},
		{"pushgateway_relative_url", func(c *Config) {
			c.Metrics.Backend = "pushgateway"
			c.Metrics.PushgatewayURL = "localhost"
		}, "metrics.pushgateway_url", SeverityError},
		{"unknown_metrics", func(c *Config) { c.Metrics.Backend = "statsd" }, "metrics.backend", SeverityError},
		{"tags_without_datadog", func(c *Config) { c.Metrics.Tags = "team:data" }, "metrics.tags", SeverityWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig(t)
			tt.mod(c)

			issues := Validate(c)
			require.Len(t, issues, 1, "%v", issues)
			assert.Equal(t, tt.path, issues[0].Path)
			assert.Equal(t, tt.severity, issues[0].Severity)
			assert.Equal(t, tt.severity == SeverityError, HasErrors(issues))
		})
	}
}

func TestValidate_SQLiteNeedsNoHost(t *testing.T) {
	c := validConfig(t)
	c.Storage.Kind = "sqlite"
	c.Storage.Host = ""
	assert.Empty(t, Validate(c))

	c.Storage.DBName = ""
	issues := Validate(c)
	require.Len(t, issues, 1)
	assert.Equal(t, "error: storage.dbname: must be set when storage.dsn is empty", issues[0].String())
}

func TestValidate_DatadogAndPushgatewayOK(t *testing.T) {
	c := validConfig(t)
	c.Metrics.Backend = "datadog"
	c.Metrics.Tags = "team:data"
	assert.Empty(t, Validate(c))

	c.Metrics.Backend = "pushgateway"
	c.Metrics.Tags = ""
	c.Metrics.PushgatewayURL = "http://localhost:9091"
	assert.Empty(t, Validate(c))
}

func TestValidate_StorageKindsFromRegistry(t *testing.T) {
	kinds := storage.Kinds()
	require.Equal(t, []string{"mssql", "postgres", "sqlite"}, kinds)

	for _, k := range kinds {
		c := validConfig(t)
		c.Storage.Kind = k
		assert.Empty(t, Validate(c), k)
	}

	c := validConfig(t)
	c.Storage.Kind = "Postgres"
	issues := Validate(c)
	require.Len(t, issues, 1)
	assert.Equal(t, `error: storage.kind: "Postgres" is not one of mssql, postgres, sqlite`, issues[0].String())
}

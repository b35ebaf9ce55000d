package config

import (
	"fmt"
	"net/url"
	"strings"

	"songetl/internal/logging"
	"songetl/internal/storage"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks c and returns every finding in key order.
func Validate(c *Config) []Issue {
	var out []Issue
	errf := func(path, format string, a ...any) {
		out = append(out, Issue{SeverityError, path, fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		out = append(out, Issue{SeverityWarning, path, fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(c.Data.SongPath) == "" {
		errf("data.song_path", "must be set")
	}
	if strings.TrimSpace(c.Data.LogPath) == "" {
		errf("data.log_path", "must be set")
	}
	if c.Data.SongPath != "" && c.Data.SongPath == c.Data.LogPath {
		warnf("data.log_path", "same as data.song_path; log events will be read as songs")
	}
	switch ext := c.Data.Extension; {
	case ext == "":
		errf("data.extension", "must be set")
	case !strings.HasPrefix(ext, "."):
		errf("data.extension", "%q must start with a dot", ext)
	}

	// Only kinds whose backend is linked into the binary are accepted.
	if kinds := storage.Kinds(); !oneOf(c.Storage.Kind, kinds...) {
		errf("storage.kind", "%q is not one of %s", c.Storage.Kind, strings.Join(kinds, ", "))
	}
	if c.Storage.DSN == "" {
		if c.Storage.DBName == "" {
			errf("storage.dbname", "must be set when storage.dsn is empty")
		}
		if c.Storage.Kind != "sqlite" && c.Storage.Host == "" {
			errf("storage.host", "must be set when storage.dsn is empty")
		}
	}
	if c.Storage.Port < 0 || c.Storage.Port > 65535 {
		errf("storage.port", "%d is out of range", c.Storage.Port)
	}

	if !oneOf(c.Load.SongLookup, "query", "index") {
		errf("load.song_lookup", "%q is not one of query, index", c.Load.SongLookup)
	}
	if strings.TrimSpace(c.Load.SongPlayPage) == "" {
		errf("load.song_play_page", "must be set")
	}

	if !logging.ValidLevel(c.Log.Level) {
		errf("log.level", "unknown level %q", c.Log.Level)
	}
	if c.Log.Format != "" && !oneOf(c.Log.Format, "console", "json") {
		errf("log.format", "%q is not one of console, json", c.Log.Format)
	}
	if c.Progress != "" && !oneOf(c.Progress, "lines", "bar", "none") {
		errf("progress", "%q is not one of lines, bar, none", c.Progress)
	}

	switch c.Metrics.Backend {
	case "", "none":
	case "pushgateway":
		if c.Metrics.PushgatewayURL == "" {
			errf("metrics.pushgateway_url", "required for the pushgateway backend")
		} else if u, err := url.Parse(c.Metrics.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			errf("metrics.pushgateway_url", "%q is not an absolute URL", c.Metrics.PushgatewayURL)
		}
	case "datadog":
		if c.Metrics.FlushEvery < 0 {
			errf("metrics.flush_every", "must not be negative")
		}
	default:
		errf("metrics.backend", "%q is not one of none, pushgateway, datadog", c.Metrics.Backend)
	}
	if c.Metrics.Tags != "" && c.Metrics.Backend != "datadog" {
		warnf("metrics.tags", "only used by the datadog backend")
	}

	return out
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

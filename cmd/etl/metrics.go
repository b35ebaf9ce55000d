package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"songetl/internal/config"
	"songetl/internal/metrics"
	"songetl/internal/metrics/datadog"
	"songetl/internal/metrics/prompush"
)

const defaultPushgatewayURL = "http://localhost:9091"

// closingBackend is a metrics backend that owns a background flush loop.
type closingBackend interface {
	metrics.Backend
	Close() error
}

// Constructor seams for tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (closingBackend, error) {
		b, err := datadog.NewBackend(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	newPushBackend = func(job, url string, opts ...prompush.Option) (metrics.Backend, error) {
		b, err := prompush.NewBackend(job, url, opts...)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	setMetricsBackend = metrics.SetBackend
)

// initMetrics installs the configured metrics backend and returns the cleanup
// that performs the final flush. The cleanup is never nil.
//
//   - pushgateway: collectors are pushed once, at cleanup, grouped by run_id.
//   - datadog: buffered and submitted every metrics.flush_every; Close submits
//     the remainder.
//   - none or "": the nop backend stays in place.
func initMetrics(ctx context.Context, log zerolog.Logger, cfg *config.Config, runID string) (func(), error) {
	noop := func() {}
	backend := strings.ToLower(strings.TrimSpace(cfg.Metrics.Backend))
	job := cfg.Job
	if job == "" {
		job = "songetl"
	}

	switch backend {
	case "", "none":
		return noop, nil

	case "pushgateway":
		url := cfg.Metrics.PushgatewayURL
		if url == "" {
			url = defaultPushgatewayURL
		}
		b, err := newPushBackend(job, url, prompush.WithGrouping("run_id", runID))
		if err != nil {
			return noop, fmt.Errorf("metrics: pushgateway: %w", err)
		}
		setMetricsBackend(b)
		log.Debug().Str("backend", backend).Str("url", url).Str("job", job).Msg("metrics enabled")
		return func() {
			if err := b.Flush(); err != nil {
				log.Warn().Err(err).Msg("metrics: pushgateway push error")
			}
			setMetricsBackend(nil)
		}, nil

	case "datadog":
		tags := append(datadog.ParseTagsCSV(cfg.Metrics.Tags), "run_id:"+runID)
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       tags,
			FlushEvery: cfg.Metrics.FlushEvery,
		})
		if err != nil {
			return noop, fmt.Errorf("metrics: datadog: %w", err)
		}
		setMetricsBackend(b)
		log.Debug().Str("backend", backend).Str("job", job).Strs("tags", tags).Msg("metrics enabled")
		return func() {
			if err := b.Close(); err != nil {
				log.Warn().Err(err).Msg("metrics: datadog close error")
			}
			setMetricsBackend(nil)
		}, nil

	default:
		return noop, fmt.Errorf("metrics: unknown backend %q", cfg.Metrics.Backend)
	}
}

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/grfn_downloader/internal/archive"
	"github.com/italolelis/grfn_downloader/internal/archive/s3"
	"github.com/italolelis/grfn_downloader/internal/cleanup"
	"github.com/italolelis/grfn_downloader/internal/config"
	"github.com/italolelis/grfn_downloader/internal/credentials"
	"github.com/italolelis/grfn_downloader/internal/logctx"
	"github.com/italolelis/grfn_downloader/internal/manifest"
	"github.com/italolelis/grfn_downloader/internal/manifest/cmr"
	"github.com/italolelis/grfn_downloader/internal/notifier"
	"github.com/italolelis/grfn_downloader/internal/report"
	"github.com/italolelis/grfn_downloader/internal/retrieval"
	"github.com/italolelis/grfn_downloader/internal/storage/sqlite"
	"github.com/italolelis/grfn_downloader/internal/telemetry"
	"github.com/spf13/afero"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func run(ctx context.Context, cfg *config.Config, key string) error {
	runID := uuid.NewString()
	startedAt := time.Now()

	ctx = logctx.WithRunID(ctx, runID)
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "grfn downloader starting...",
		"version", version,
		"path", key,
		"target_dir", cfg.TargetDir,
		"transport", cfg.DownloadTransport,
		"poll_interval", cfg.PollInterval.String(),
		"max_polls", cfg.MaxPolls,
		"download_idle_timeout", cfg.DownloadIdleTimeout.String(),
		"log_level", cfg.LogLevel,
	)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(ctx, "failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Metrics Server
	if tel.Enabled() {
		server := setupServer(ctx, tel, cfg)

		go func() {
			logger.InfoContext(ctx, "serving metrics", "host", cfg.Web.BindAddress)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "metrics server error", "err", err)
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.ErrorContext(ctx, "failed to gracefully shutdown the server", "err", err)

				_ = server.Close()
			}
		}()
	}

	transport := otelhttp.NewTransport(newBaseTransport(cfg.DownloadIdleTimeout))

	// =========================================================================
	// Start Archive Client
	door, err := archive.NewClient(cfg.DoorBaseURL, cfg.HTTPTimeout, transport,
		archive.WithToken(cfg.EarthdataToken),
		archive.WithLeaseValidity(cfg.LeaseValidity),
	)
	if err != nil {
		return fmt.Errorf("failed to build archive client: %w", err)
	}

	fetcher, err := buildFetcher(cfg, door, transport)
	if err != nil {
		return fmt.Errorf("failed to build download transport: %w", err)
	}

	keeper := credentials.NewKeeper(archive.NewInstrumentedLeaseProvider(door, tel), cfg.LeaseRefreshMargin)

	// =========================================================================
	// Start Local Store
	fs := afero.NewOsFs()
	store := retrieval.NewLocalStore(fs, cfg.TargetDir)

	if n, err := cleanup.RemoveStaleTemps(ctx, fs, cfg.TargetDir, cfg.StaleTempAge, time.Now()); err != nil {
		logger.WarnContext(ctx, "failed to sweep stale temp files", "err", err)
	} else if n > 0 {
		logger.InfoContext(ctx, "removed stale temp files", "count", n)
	}

	// =========================================================================
	// Start Scheduler
	catalog := cmr.NewClient(&http.Client{Timeout: cfg.HTTPTimeout, Transport: transport}, cfg.CMR.URL, cmr.Query{
		CollectionConceptID: cfg.CMR.CollectionConceptID,
		Temporal:            cfg.CMR.Temporal,
		Point:               cfg.CMR.Point,
		Polygon:             cfg.CMR.Polygon,
		PageSize:            cfg.CMR.PageSize,
	}, cfg.FileSuffix)

	machine := retrieval.NewMachine(store,
		archive.NewInstrumentedStatusClient(door, tel, "door"),
		archive.NewInstrumentedFetcher(fetcher, tel, cfg.DownloadTransport),
		keeper,
		retrieval.WithPollInterval(cfg.PollInterval),
		retrieval.WithMaxPolls(cfg.MaxPolls),
		retrieval.WithIdleTimeout(cfg.DownloadIdleTimeout),
		retrieval.WithNamePrefix(cfg.NamePrefix),
	)

	scheduler := retrieval.NewScheduler(catalog, keeper, machine,
		retrieval.WithConcurrency(cfg.MaxParallel),
		retrieval.WithTelemetry(tel),
	)

	refs, err := scheduler.Manifest(ctx, key)
	if err != nil {
		return err
	}

	if cfg.SummaryPath != "" {
		if err := writeManifestSummary(ctx, fs, summaryPath(cfg), refs); err != nil {
			logger.ErrorContext(ctx, "failed to write manifest summary", "err", err)
		}
	}

	res, err := scheduler.Retrieve(ctx, refs)
	if err != nil {
		return err
	}

	res.Key = key

	if ctx.Err() != nil {
		logger.WarnContext(ctx, "run interrupted, remaining objects were not attempted")
	}

	// =========================================================================
	// Report
	deliverCtx := context.WithoutCancel(ctx)

	sinks, closeSinks := buildSinks(deliverCtx, cfg, tel, transport)
	defer closeSinks()

	// Sink failures are logged by Deliver and never change the exit status.
	_ = report.Deliver(deliverCtx, report.Summarize(runID, startedAt, res), sinks...)

	return nil
}

// newBaseTransport clones the default transport with a bound on the wait for
// response headers. Streams are bounded separately by the machine's idle
// timeout.
func newBaseTransport(headerTimeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = headerTimeout

	return t
}

// buildFetcher picks the download transport.
func buildFetcher(cfg *config.Config, door *archive.Client, transport http.RoundTripper) (archive.Fetcher, error) {
	switch cfg.DownloadTransport {
	case config.TransportDoor:
		return door, nil
	case config.TransportS3:
		return s3.NewFetcher(s3.Config{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Prefix:    cfg.S3.Prefix,
			UseHTTP:   cfg.S3.UseHTTP,
			Transport: transport,
		})
	}

	return nil, fmt.Errorf("invalid download transport: %s", cfg.DownloadTransport)
}

func summaryPath(cfg *config.Config) string {
	if filepath.IsAbs(cfg.SummaryPath) {
		return cfg.SummaryPath
	}

	return filepath.Join(cfg.TargetDir, cfg.SummaryPath)
}

func writeManifestSummary(ctx context.Context, fs afero.Fs, path string, refs []manifest.ObjectRef) error {
	var buf bytes.Buffer
	if err := report.WriteManifestSummary(&buf, refs); err != nil {
		return err
	}

	store := retrieval.NewLocalStore(fs, filepath.Dir(path))

	if err := store.WriteFile(ctx, filepath.Base(path), &buf); err != nil {
		return err
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "wrote manifest summary", "path", path, "objects", len(refs))

	return nil
}

// buildSinks returns the configured report sinks. Optional sinks that cannot
// be set up are logged and left out.
func buildSinks(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, transport http.RoundTripper) ([]report.Sink, func()) {
	logger := logctx.LoggerFromContext(ctx)

	sinks := []report.Sink{report.Printer{W: os.Stdout}}
	closers := []func(){}

	if cfg.DiscordWebhookURL != "" {
		sinks = append(sinks, report.NotifierSink{Notifier: notifier.NewDiscordNotifier(cfg.DiscordWebhookURL, transport)})
	}

	if cfg.DBPath != "" {
		database, err := sqlite.InitDB(cfg.DBPath)
		if err != nil {
			logger.ErrorContext(ctx, "DB error, run will not be recorded", "err", err)
		} else {
			closers = append(closers, func() { database.Close() })
			sinks = append(sinks, report.LedgerSink{Repo: sqlite.NewInstrumentedOutcomeRepository(database, tel)})
		}
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}

// setupServer prepares the metrics server.
func setupServer(ctx context.Context, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      tel.Routes(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

// Command windmap builds per-state wind hazard maps for one day.
//
// Usage:
//
//	windmap <date> [outdir] [cpu-time-limit]
//	windmap <date> [outdir] --cpu-time-limit N
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/storm-data-wind-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/storm-data-wind-service/internal/adapter/kafka"
	"github.com/couchcryptid/storm-data-wind-service/internal/adapter/windserver"
	"github.com/couchcryptid/storm-data-wind-service/internal/artifact"
	"github.com/couchcryptid/storm-data-wind-service/internal/catalog"
	"github.com/couchcryptid/storm-data-wind-service/internal/config"
	"github.com/couchcryptid/storm-data-wind-service/internal/contour"
	"github.com/couchcryptid/storm-data-wind-service/internal/geometry"
	"github.com/couchcryptid/storm-data-wind-service/internal/observability"
	"github.com/couchcryptid/storm-data-wind-service/internal/partition"
	"github.com/couchcryptid/storm-data-wind-service/internal/pipeline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cpuTimeLimit int
	cmd := &cobra.Command{
		Use:           "windmap <date> [outdir] [cpu-time-limit]",
		Short:         "Build per-state wind hazard maps for a date",
		Args:          cobra.RangeArgs(1, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := parseArgs(args, cpuTimeLimit, cmd.Flags().Changed("cpu-time-limit"))
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			return run(inv.date, inv.outDir, inv.cpuTimeLimit)
		},
	}
	cmd.Flags().IntVar(&cpuTimeLimit, "cpu-time-limit", -1, "CPU seconds allowed per contour command; -1 for no limit")
	return cmd
}

// invocation is the validated positional input of one run.
type invocation struct {
	date         time.Time
	outDir       string
	cpuTimeLimit int
}

// parseArgs reads <date> [outdir] [cpu-time-limit]. The limit may come from
// the third positional or the flag, not both.
func parseArgs(args []string, flagLimit int, flagSet bool) (invocation, error) {
	date, err := parseDate(args[0])
	if err != nil {
		return invocation{}, err
	}
	inv := invocation{
		date:         date,
		outDir:       filepath.Join(os.TempDir(), "wind"),
		cpuTimeLimit: flagLimit,
	}
	if len(args) > 1 {
		inv.outDir = args[1]
	}
	if len(args) > 2 {
		if flagSet {
			return invocation{}, errors.New("cpu time limit given both as argument and --cpu-time-limit")
		}
		limit, err := strconv.Atoi(args[2])
		if err != nil {
			return invocation{}, fmt.Errorf("invalid cpu time limit %q: want whole seconds", args[2])
		}
		inv.cpuTimeLimit = limit
	}
	if inv.cpuTimeLimit < -1 {
		return invocation{}, fmt.Errorf("invalid cpu time limit %d: want -1 or more", inv.cpuTimeLimit)
	}
	return inv, nil
}

// parseDate accepts YYYY-MM-DD or an RFC 3339 timestamp. The timestamp's own
// zone decides which calendar day is requested.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

func run(date time.Time, outDir string, cpuTimeLimit int) error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	cat, err := catalog.Load(cfg.BoundaryPath)
	if err != nil {
		logger.Error("failed to load boundary catalog", "error", err)
		return err
	}
	metrics.CatalogBoundaries.Set(float64(cat.Len()))
	logger.Info("boundary catalog loaded", "path", cfg.BoundaryPath, "boundaries", cat.Len())

	stages := pipeline.Stages{
		Downloader:  windserver.NewClient(cfg.WindServerURL, cfg.DownloadTimeout, logger),
		Contours:    contour.NewGenerator(cfg.ContourCommand, logger),
		LoadLayer:   contour.LoadLayer,
		Partitioner: partition.New(geometry.NewIntersector(), logger, metrics, cfg.PartitionWorkers),
		Writer:      artifact.NewWriter(),
	}
	if cfg.KafkaEnabled() {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		stages.Publisher = writer
		logger.Info("artifact notifications enabled", "topic", cfg.KafkaArtifactTopic)
	}

	p := pipeline.New(stages, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.HTTPAddr != "" {
		srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	workDir, err := os.MkdirTemp("", "windmap-")
	if err != nil {
		logger.Error("failed to create work directory", "error", err)
		return err
	}
	defer os.RemoveAll(workDir)

	rc := pipeline.RunContext{
		Catalog: cat,
		WorkDir: workDir,
		Options: pipeline.Options{
			Levels:                  cfg.Levels,
			CPUTimeLimit:            cpuTimeLimit,
			OutputDir:               outDir,
			Regions:                 cfg.Regions,
			ExcludedRegions:         cfg.ExcludedRegions,
			ContinueOnRegionFailure: cfg.ContinueOnRegionFailure,
		},
	}
	_, runErr := p.Run(ctx, rc, date)

	if cfg.MetricsPushURL != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		err := push.New(cfg.MetricsPushURL, "windmap").Gatherer(prometheus.DefaultGatherer).PushContext(pushCtx)
		cancel()
		if err != nil {
			logger.Warn("metrics push failed", "url", cfg.MetricsPushURL, "error", err)
		}
	}

	return runErr
}

// Package pipeline sequences a wind map run: produce every contour layer,
// then partition each layer by boundary and write the per-boundary artifacts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-wind-service/internal/domain"
	"github.com/couchcryptid/storm-data-wind-service/internal/observability"
)

// Downloader fetches the raw wind field for regions on date into dir.
type Downloader interface {
	Download(ctx context.Context, regions []string, date time.Time, dir string) (string, error)
}

// ContourGenerator converts a raw wind field into a contour layer file at dest.
type ContourGenerator interface {
	Generate(ctx context.Context, src, dest string, levels []float64, cpuTimeLimit int) error
}

// Partitioner clips a contour layer by boundary.
type Partitioner interface {
	Partition(ctx context.Context, boundaries []domain.BoundaryFeature, layer domain.ContourLayer, filter domain.RegionFilter) (domain.PartitionOutcome, error)
}

// ArtifactWriter persists one partition result and returns its path.
type ArtifactWriter interface {
	Write(result domain.PartitionResult, template, abbreviation string) (string, error)
}

// Publisher announces written artifacts downstream.
type Publisher interface {
	Publish(ctx context.Context, records []domain.ArtifactRecord) error
}

// Catalog supplies the boundaries to partition against, in catalog order.
type Catalog interface {
	Features() []domain.BoundaryFeature
}

// LayerLoader reads a contour layer file produced by the ContourGenerator.
type LayerLoader func(name, path string) (domain.ContourLayer, error)

// Stages are the collaborators a run is built from. Publisher may be nil.
type Stages struct {
	Downloader  Downloader
	Contours    ContourGenerator
	LoadLayer   LayerLoader
	Partitioner Partitioner
	Writer      ArtifactWriter
	Publisher   Publisher
}

// Options control a single run.
type Options struct {
	Levels                  []float64
	CPUTimeLimit            int // seconds; -1 for no limit
	OutputDir               string
	Regions                 []string
	ExcludedRegions         []string
	ContinueOnRegionFailure bool
}

// RunContext is everything a run needs, built once by the caller.
type RunContext struct {
	Catalog Catalog
	WorkDir string // holds downloads; owned by the caller
	Options Options
}

// Report summarizes a finished run.
type Report struct {
	Artifacts     []domain.ArtifactRecord
	Diagnostics   []domain.Diagnostic
	LayerFailures []error // recovered excluded-region failures
}

// Pipeline runs the two-phase wind map batch.
type Pipeline struct {
	stages  Stages
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool

	mu     sync.Mutex
	status domain.RunStatus
}

// New creates a Pipeline with the given stages and observability.
func New(stages Stages, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		stages:  stages,
		logger:  logger,
		metrics: metrics,
		status:  domain.RunStatus{Stage: "idle", LayersCompleted: []string{}},
	}
}

// CheckReadiness returns nil once a run has started with a loaded catalog.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("boundary catalog not loaded")
	}
	return nil
}

// Status returns a snapshot of the current run's progress.
func (p *Pipeline) Status() domain.RunStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.status
	s.LayersCompleted = append([]string{}, p.status.LayersCompleted...)
	return s
}

// Run produces every planned contour layer and then partitions each one.
// A failure of the global layer, an artifact write, or a publish aborts the
// run with a *domain.StageError. Excluded-region layer failures abort too
// unless ContinueOnRegionFailure is set. Artifacts already written stay on disk.
func (p *Pipeline) Run(ctx context.Context, rc RunContext, date time.Time) (Report, error) {
	var report Report
	boundaries := rc.Catalog.Features()
	if len(boundaries) == 0 {
		return report, p.fail(&domain.StageError{Stage: domain.StagePrepare, Err: domain.ErrNoBoundaries})
	}
	p.ready.Store(true)
	p.begin(date)

	opts := rc.Options
	if err := p.prepare(rc); err != nil {
		return report, p.fail(err)
	}

	jobs := PlanLayers(opts)
	p.logger.Info("run started",
		"date", date.Format(time.DateOnly),
		"layers", len(jobs),
		"boundaries", len(boundaries),
		"output_dir", opts.OutputDir,
	)

	// Phase 1: every layer file exists before any partitioning starts.
	produced := make([]LayerJob, 0, len(jobs))
	for _, job := range jobs {
		if err := p.produce(ctx, rc, job, date); err != nil {
			var se *domain.StageError
			if errors.As(err, &se) {
				p.metrics.LayerFailures.WithLabelValues(se.Stage).Inc()
			}
			if job.Global || !opts.ContinueOnRegionFailure || ctx.Err() != nil {
				return report, p.fail(err)
			}
			p.logger.Warn("layer failed, continuing", "layer", job.Name, "error", err)
			report.LayerFailures = append(report.LayerFailures, err)
			continue
		}
		produced = append(produced, job)
	}

	// Phase 2.
	for _, job := range produced {
		records, diags, err := p.partitionLayer(ctx, boundaries, job, opts, date)
		report.Artifacts = append(report.Artifacts, records...)
		report.Diagnostics = append(report.Diagnostics, diags...)
		if err != nil {
			return report, p.fail(err)
		}
		p.completeLayer(job.Name, len(records), len(diags))
	}

	p.setStage("done")
	p.metrics.RunSuccess.Set(1)
	p.logger.Info("run completed",
		"artifacts", len(report.Artifacts),
		"diagnostics", len(report.Diagnostics),
		"layer_failures", len(report.LayerFailures),
	)
	return report, nil
}

// prepare recreates the output directory with its state/ subdirectory.
func (p *Pipeline) prepare(rc RunContext) error {
	defer p.timeStage(domain.StagePrepare)()

	if rc.Options.OutputDir == "" {
		return &domain.StageError{Stage: domain.StagePrepare, Err: errors.New("output directory not set")}
	}
	if info, err := os.Stat(rc.WorkDir); err != nil || !info.IsDir() {
		return &domain.StageError{Stage: domain.StagePrepare, Err: fmt.Errorf("work directory %q unavailable", rc.WorkDir)}
	}
	if err := checkOutputDir(rc.Options.OutputDir, rc.WorkDir); err != nil {
		return &domain.StageError{Stage: domain.StagePrepare, Err: err}
	}
	if err := os.RemoveAll(rc.Options.OutputDir); err != nil {
		return &domain.StageError{Stage: domain.StagePrepare, Err: err}
	}
	stateDir := filepath.Dir(ArtifactTemplate(rc.Options.OutputDir))
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return &domain.StageError{Stage: domain.StagePrepare, Err: err}
	}
	return nil
}

// checkOutputDir refuses an output directory whose removal would also delete
// the work directory or the process working directory.
func checkOutputDir(outDir, workDir string) error {
	out, err := filepath.Abs(outDir)
	if err != nil {
		return err
	}
	protected := map[string]string{"work directory": workDir}
	if cwd, err := os.Getwd(); err == nil {
		protected["working directory"] = cwd
	}
	for what, dir := range protected {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		if within(out, abs) {
			return fmt.Errorf("output directory %q contains the %s %q", outDir, what, dir)
		}
	}
	return nil
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// produce downloads the raw field for one layer and contours it.
func (p *Pipeline) produce(ctx context.Context, rc RunContext, job LayerJob, date time.Time) error {
	p.setStage(domain.StageDownload)
	stop := p.timeStage(domain.StageDownload)
	src, err := p.stages.Downloader.Download(ctx, job.Regions, date, rc.WorkDir)
	stop()
	if err != nil {
		return &domain.StageError{Stage: domain.StageDownload, Layer: job.Name, Err: err}
	}

	p.setStage(domain.StageContour)
	defer p.timeStage(domain.StageContour)()
	opts := rc.Options
	if err := p.stages.Contours.Generate(ctx, src, job.LayerPath, opts.Levels, opts.CPUTimeLimit); err != nil {
		return &domain.StageError{Stage: domain.StageContour, Layer: job.Name, Err: err}
	}
	p.logger.Info("layer produced", "layer", job.Name, "regions", len(job.Regions), "path", job.LayerPath)
	return nil
}

// partitionLayer clips one produced layer, writes its artifacts in catalog
// order and publishes them.
func (p *Pipeline) partitionLayer(ctx context.Context, boundaries []domain.BoundaryFeature, job LayerJob, opts Options, date time.Time) ([]domain.ArtifactRecord, []domain.Diagnostic, error) {
	p.setStage(domain.StagePartition)
	stop := p.timeStage(domain.StagePartition)
	layer, err := p.stages.LoadLayer(job.Name, job.LayerPath)
	if err != nil {
		stop()
		p.metrics.LayerFailures.WithLabelValues(domain.StagePartition).Inc()
		return nil, nil, &domain.StageError{Stage: domain.StagePartition, Layer: job.Name, Err: err}
	}
	outcome, err := p.stages.Partitioner.Partition(ctx, boundaries, layer, job.Filter)
	stop()
	if err != nil {
		return nil, outcome.Diagnostics, &domain.StageError{Stage: domain.StagePartition, Layer: job.Name, Err: err}
	}

	p.setStage(domain.StageWrite)
	stopWrite := p.timeStage(domain.StageWrite)
	records := make([]domain.ArtifactRecord, 0, len(outcome.Order))
	for _, abbr := range outcome.Order {
		result := outcome.Results[abbr]
		path, err := p.stages.Writer.Write(result, job.Template, abbr)
		if err != nil {
			stopWrite()
			return records, outcome.Diagnostics, &domain.StageError{Stage: domain.StageWrite, Layer: job.Name, Err: err}
		}
		p.metrics.ArtifactsWritten.Inc()
		p.metrics.FeaturesWritten.Add(float64(len(result.Features)))
		p.logger.Debug("artifact written", "layer", job.Name, "boundary", abbr, "features", len(result.Features), "path", path)
		records = append(records, domain.ArtifactRecord{
			Abbreviation: abbr,
			Name:         result.Boundary.Name,
			Path:         path,
			Layer:        job.Name,
			Date:         date.Format(time.DateOnly),
			FeatureCount: len(result.Features),
			Levels:       opts.Levels,
			WrittenAt:    domain.Now(),
		})
	}
	stopWrite()

	p.logger.Info("layer partitioned",
		"layer", job.Name,
		"artifacts", len(records),
		"diagnostics", len(outcome.Diagnostics),
	)

	if p.stages.Publisher == nil || len(records) == 0 {
		return records, outcome.Diagnostics, nil
	}
	p.setStage(domain.StagePublish)
	defer p.timeStage(domain.StagePublish)()
	if err := p.stages.Publisher.Publish(ctx, records); err != nil {
		return records, outcome.Diagnostics, &domain.StageError{Stage: domain.StagePublish, Layer: job.Name, Err: err}
	}
	p.metrics.ArtifactsPublished.Add(float64(len(records)))
	return records, outcome.Diagnostics, nil
}

func (p *Pipeline) timeStage(stage string) func() {
	start := time.Now()
	return func() {
		p.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func (p *Pipeline) fail(err error) error {
	p.metrics.RunSuccess.Set(0)
	p.mu.Lock()
	p.status.Stage = "failed"
	p.status.Error = err.Error()
	p.mu.Unlock()
	p.logger.Error("run failed", "error", err)
	return err
}

func (p *Pipeline) begin(date time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = domain.RunStatus{
		Date:            date.Format(time.DateOnly),
		Stage:           domain.StagePrepare,
		StartedAt:       domain.Now(),
		LayersCompleted: []string{},
	}
}

func (p *Pipeline) setStage(stage string) {
	p.mu.Lock()
	p.status.Stage = stage
	p.mu.Unlock()
}

func (p *Pipeline) completeLayer(name string, artifacts, diagnostics int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.LayersCompleted = append(p.status.LayersCompleted, name)
	p.status.ArtifactsWritten += artifacts
	p.status.Diagnostics += diagnostics
}

// Package batch runs the pipeline over many images with bounded
// concurrency and a request rate limit. Images are independent: one
// failure never cancels its siblings.
package batch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jackzampolin/tally/internal/ingest"
	"github.com/jackzampolin/tally/internal/pipeline"
)

// Defaults
const (
	DefaultMaxConcurrency = 4
)

// Processor is the pipeline entry point a batch drives.
type Processor interface {
	Process(ctx context.Context, req pipeline.ProcessRequest) (*pipeline.ProcessResult, error)
}

// Config controls batch scheduling.
type Config struct {
	// MaxConcurrency bounds images in flight.
	MaxConcurrency int

	// RequestsPerSecond limits how fast images are started. Zero disables
	// the limit.
	RequestsPerSecond float64

	Logger *slog.Logger
}

// Job is one image to process. Image is read from Path when nil.
type Job struct {
	TaskID string
	Path   string
	Image  []byte
}

// Result is the outcome of one job.
type Result struct {
	TaskID   string                  `json:"task_id"`
	Path     string                  `json:"path,omitempty"`
	Result   *pipeline.ProcessResult `json:"result,omitempty"`
	Err      error                   `json:"-"`
	Error    string                  `json:"error,omitempty"`
	Duration time.Duration           `json:"duration"`
}

// Runner schedules jobs onto a Processor.
type Runner struct {
	proc    Processor
	limit   int
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRunner creates a batch runner.
func NewRunner(proc Processor, cfg Config) *Runner {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		proc:   proc,
		limit:  cfg.MaxConcurrency,
		logger: logger,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return r
}

// JobsFromPaths builds jobs for image files, ordered by numeric suffix,
// with task ids derived from file names.
func JobsFromPaths(paths []string) []Job {
	sorted := ingest.SortByNumber(paths)
	jobs := make([]Job, len(sorted))
	for i, p := range sorted {
		jobs[i] = Job{TaskID: ingest.TaskID(p), Path: p}
	}
	return jobs
}

// Run processes every job using base for the shared request fields.
// Results are in job order. Run itself only fails through per-job errors;
// a cancelled ctx marks unstarted jobs with pipeline.ErrCancelled.
func (r *Runner) Run(ctx context.Context, base pipeline.ProcessRequest, jobs []Job) []Result {
	results := make([]Result, len(jobs))

	var g errgroup.Group
	g.SetLimit(r.limit)

	for i, job := range jobs {
		results[i] = Result{TaskID: job.TaskID, Path: job.Path}
		g.Go(func() error {
			r.runOne(ctx, base, job, &results[i])
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i := range results {
		if results[i].Err != nil {
			results[i].Error = results[i].Err.Error()
			failed++
		}
	}
	r.logger.Info("batch complete", "jobs", len(jobs), "failed", failed)
	return results
}

func (r *Runner) runOne(ctx context.Context, base pipeline.ProcessRequest, job Job, out *Result) {
	start := time.Now()
	defer func() { out.Duration = time.Since(start) }()

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			out.Err = cancelledOr(ctx, err)
			return
		}
	}
	if ctx.Err() != nil {
		out.Err = cancelledOr(ctx, ctx.Err())
		return
	}

	image := job.Image
	if image == nil {
		img, err := ingest.LoadFile(job.Path)
		if err != nil {
			out.Err = err
			return
		}
		image = img.Data
	}

	req := base
	req.TaskID = job.TaskID
	req.Image = image

	res, err := r.proc.Process(ctx, req)
	if err != nil {
		r.logger.Warn("job failed", "task_id", job.TaskID, "error", err)
		out.Err = err
		return
	}
	out.Result = res
	r.logger.Debug("job complete", "task_id", job.TaskID, "items", len(res.Items), "degraded", res.Degraded)
}

func cancelledOr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return pipeline.ErrCancelled
	}
	return err
}

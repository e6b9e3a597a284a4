package batch

import (
	"fmt"
	"sync"
	"time"

	"compressr-go/internal/compressor"
	"compressr-go/internal/logger"
	"compressr-go/internal/statistics"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

// OutcomeHook observes every finished file. Calls are serialized.
type OutcomeHook func(batchID string, outcome FileOutcome)

// StartHook observes a batch once its files are planned.
type StartHook func(batchID string, files, workers int)

// Runner fans a Request out over a bounded worker pool.
type Runner struct {
	logger    *logrus.Logger
	processor compressor.Compressor
	stats     *statistics.Statistics
	onStart   StartHook
	onOutcome OutcomeHook
}

// Option configures a Runner.
type Option func(*Runner)

// WithStatistics records every outcome into s.
func WithStatistics(s *statistics.Statistics) Option {
	return func(r *Runner) { r.stats = s }
}

// WithStartHook registers fn to be called before the first file starts.
func WithStartHook(fn StartHook) Option {
	return func(r *Runner) { r.onStart = fn }
}

// WithOutcomeHook registers fn to be called once per finished file.
func WithOutcomeHook(fn OutcomeHook) Option {
	return func(r *Runner) { r.onOutcome = fn }
}

// NewRunner returns a Runner that hands each file to processor.
func NewRunner(logger *logrus.Logger, processor compressor.Compressor, opts ...Option) *Runner {
	r := &Runner{
		logger:    logger,
		processor: processor,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run validates req, discovers its files and compresses them in parallel.
// The returned error covers the batch as a whole (bad request, pool
// construction); per-file failures live in the report.
func (r *Runner) Run(req Request) (*BatchReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	report := &BatchReport{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Outcomes:  []FileOutcome{},
	}
	log := logger.ForBatch(r.logger, report.ID)

	files := collectFiles(req.Inputs)
	if len(files) == 0 {
		log.Info("No images found, nothing to do")
		report.FinishedAt = time.Now()
		return report, nil
	}

	jobs, err := plan(files, req)
	if err != nil {
		return nil, err
	}

	workers := poolSize(req.Threads, len(jobs))
	report.Workers = workers
	if r.stats != nil {
		r.stats.SetFilesFound(len(jobs))
		r.stats.SetWorkers(workers)
	}

	pool, err := ants.NewPool(workers, ants.WithPreAlloc(true), ants.WithPanicHandler(func(p interface{}) {
		log.WithField("panic", p).Error("Worker panicked outside a task")
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	log.WithFields(logrus.Fields{
		"files":   len(jobs),
		"workers": workers,
		"format":  req.format().Name(),
	}).Info("Starting batch")
	if r.onStart != nil {
		r.onStart(report.ID, len(jobs), workers)
	}

	results := make(chan FileOutcome, len(jobs))
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for outcome := range results {
			r.record(report.ID, log, outcome, req.DeleteOriginal)
			report.Outcomes = append(report.Outcomes, outcome)
		}
	}()

	var wg sync.WaitGroup
	for _, j := range jobs {
		if j.err != nil {
			now := time.Now()
			results <- FileOutcome{InputPath: j.input, StartedAt: now, FinishedAt: now, Err: j.err}
			continue
		}

		j := j
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			results <- r.process(j, req)
		})
		if submitErr != nil {
			wg.Done()
			now := time.Now()
			results <- FileOutcome{
				InputPath:  j.input,
				StartedAt:  now,
				FinishedAt: now,
				Err:        compressor.AsError(j.input, submitErr, compressor.KindIO),
			}
		}
	}

	wg.Wait()
	close(results)
	<-collected

	report.FinishedAt = time.Now()
	if r.stats != nil {
		r.stats.Finalize()
	}

	log.WithFields(logrus.Fields{
		"succeeded": report.Succeeded(),
		"failed":    len(report.Outcomes) - report.Succeeded(),
		"duration":  report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("Batch finished")
	return report, nil
}

// process runs one file. A panic that escapes the processor is reported as
// an encoder panic for this file only.
func (r *Runner) process(j job, req Request) (outcome FileOutcome) {
	outcome = FileOutcome{InputPath: j.input, StartedAt: time.Now()}
	defer func() {
		if p := recover(); p != nil {
			outcome.Err = &compressor.Error{
				Kind: compressor.KindEncoderPanic,
				Path: j.input,
				Op:   "process",
				Err:  fmt.Errorf("panic: %v", p),
			}
		}
		outcome.FinishedAt = time.Now()
	}()

	res, err := r.processor.Process(compressor.Params{
		InputPath:        j.input,
		OutputPath:       j.output,
		Quality:          req.Quality,
		Format:           req.format(),
		Resize:           req.Resize,
		DeleteOriginal:   req.DeleteOriginal,
		PreserveMetadata: req.PreserveMetadata,
	})
	outcome.OriginalSize = res.OriginalSize
	if err != nil {
		outcome.Err = compressor.AsError(j.input, err, compressor.KindUnknown)
		return outcome
	}
	outcome.OutputPath = res.OutputPath
	outcome.CompressedSize = res.CompressedSize
	return outcome
}

func (r *Runner) record(batchID string, log *logrus.Entry, o FileOutcome, deleteOriginal bool) {
	entry := log.WithFields(logrus.Fields{
		"file":      o.InputPath,
		"operation": "compress",
	})
	if o.Err != nil {
		entry.WithError(o.Err).Warn("File failed")
		if r.stats != nil {
			r.stats.RecordFailure(o.InputPath, o.Err.Kind.String(), o.Err.Error())
		}
	} else {
		entry.WithFields(logrus.Fields{
			"output":          o.OutputPath,
			"original_size":   o.OriginalSize,
			"compressed_size": o.CompressedSize,
		}).Debug("File compressed")
		if r.stats != nil {
			r.stats.RecordSuccess(o.InputPath, o.OriginalSize, o.CompressedSize, deleteOriginal && !exists(o.InputPath))
		}
	}
	if r.onOutcome != nil {
		r.onOutcome(batchID, o)
	}
}

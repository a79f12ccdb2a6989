// Package bench drives concurrent page-OCR requests against a remote
// endpoint under an admission-controlled fan-out and collects per-page
// results for reporting.
package bench

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/pagelens/ocr-bench/internal/ocr"
	"github.com/pagelens/ocr-bench/internal/render"
)

// PageSource renders one 1-based page. *render.Document satisfies it;
// tests substitute fakes.
type PageSource interface {
	Render(ctx context.Context, page int) (*render.Image, error)
}

// Transcriber is the OCR request client surface the orchestrator needs.
type Transcriber interface {
	Transcribe(ctx context.Context, img ocr.Payload, opts ocr.Options) (*ocr.Transcription, error)
}

// Config bounds the orchestrator's resource usage and retry budget.
type Config struct {
	// Concurrency caps in-flight requests against the endpoint.
	Concurrency int

	// MaxAttempts bounds tries per page on ServerOverloaded answers.
	MaxAttempts int

	// RetryBaseDelay is the first backoff; it doubles per attempt.
	RetryBaseDelay time.Duration

	// RequestsPerSec paces request dispatch globally; 0 disables.
	RequestsPerSec float64
}

// Result is the outcome of one page job. Err is nil on success; failed
// pages keep their slot so the run denominator is always well-defined.
type Result struct {
	Page     int
	Text     string
	Tokens   int
	Latency  time.Duration
	Attempts int
	Err      error
}

// Run is a completed benchmark: one Result per requested page, sorted
// by page number, plus the wall-clock duration from first dispatch to
// last collection.
type Run struct {
	ID          string
	Concurrency int
	Duration    time.Duration
	Results     []Result
}

type Orchestrator struct {
	source  PageSource
	client  Transcriber
	reqOpts ocr.Options
	cfg     Config
	log     *zap.Logger

	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

func New(source PageSource, client Transcriber, reqOpts ocr.Options, cfg Config, log *zap.Logger) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1)
	}

	return &Orchestrator{
		source:  source,
		client:  client,
		reqOpts: reqOpts,
		cfg:     cfg,
		log:     log,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter: limiter,
	}
}

// Run processes every requested page and always returns one Result per
// page: individual failures are recorded, never propagated, and never
// cancel sibling jobs. Cancelling ctx abandons queued and in-flight
// pages; their results carry the context error.
func (o *Orchestrator) Run(ctx context.Context, pages []int) *Run {
	run := &Run{
		ID:          uuid.NewString(),
		Concurrency: o.cfg.Concurrency,
	}
	if len(pages) == 0 {
		return run
	}

	o.log.Info("benchmark starting",
		zap.String("run_id", run.ID),
		zap.Int("pages", len(pages)),
		zap.Int("concurrency", o.cfg.Concurrency),
		zap.Bool("stream", o.reqOpts.Stream),
	)

	results := make(chan Result, len(pages))
	start := time.Now()

	for _, page := range pages {
		go func(page int) {
			results <- o.processPage(ctx, page)
		}(page)
	}

	run.Results = make([]Result, 0, len(pages))
	for range pages {
		res := <-results
		if res.Err != nil {
			o.log.Warn("page failed",
				zap.String("run_id", run.ID),
				zap.Int("page", res.Page),
				zap.Int("attempts", res.Attempts),
				zap.Error(res.Err),
			)
		} else {
			o.log.Info("page done",
				zap.String("run_id", run.ID),
				zap.Int("page", res.Page),
				zap.Duration("latency", res.Latency),
				zap.Int("tokens", res.Tokens),
			)
		}
		run.Results = append(run.Results, res)
	}
	run.Duration = time.Since(start)

	sort.Slice(run.Results, func(i, j int) bool {
		return run.Results[i].Page < run.Results[j].Page
	})

	o.log.Info("benchmark finished",
		zap.String("run_id", run.ID),
		zap.Duration("duration", run.Duration),
	)
	return run
}

func (o *Orchestrator) processPage(ctx context.Context, page int) Result {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return Result{Page: page, Err: err}
	}
	defer o.sem.Release(1)

	img, err := o.source.Render(ctx, page)
	if err != nil {
		return Result{Page: page, Err: err}
	}
	payload := ocr.Payload{Data: img.Data, MIME: "image/" + img.Format}

	var attempts int
	for {
		attempts++

		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return Result{Page: page, Attempts: attempts, Err: err}
			}
		}

		tr, err := o.client.Transcribe(ctx, payload, o.reqOpts)
		if err == nil {
			return Result{
				Page:     page,
				Text:     tr.Text,
				Tokens:   tr.Tokens,
				Latency:  tr.Latency,
				Attempts: attempts,
			}
		}

		if !ocr.Retryable(err) || attempts >= o.cfg.MaxAttempts {
			return Result{Page: page, Attempts: attempts, Err: err}
		}

		delay := o.cfg.RetryBaseDelay << (attempts - 1)
		o.log.Debug("retrying overloaded page",
			zap.Int("page", page),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", delay),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Result{Page: page, Attempts: attempts, Err: ctx.Err()}
		}
	}
}

// ocrbench benchmarks an OpenAI-compatible vision OCR endpoint (vLLM
// serving LightOnOCR) by rendering PDF pages and driving concurrent
// chat-completion requests against it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pagelens/ocr-bench/internal/bench"
	"github.com/pagelens/ocr-bench/internal/config"
	"github.com/pagelens/ocr-bench/internal/fetch"
	"github.com/pagelens/ocr-bench/internal/ocr"
	"github.com/pagelens/ocr-bench/internal/render"
	"github.com/pagelens/ocr-bench/internal/report"
)

func main() {
	cfg := config.Default()

	flag.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "endpoint base URL (e.g. https://yourname--lighton-ocr-vllm-serve.modal.run)")
	flag.StringVar(&cfg.PDFPath, "pdf", cfg.PDFPath, "local PDF file path")
	flag.StringVar(&cfg.PDFURL, "pdf-url", cfg.PDFURL, "remote PDF URL (alternative to -pdf)")
	flag.StringVar(&cfg.Pages, "pages", cfg.Pages, "page range: interval \"1-5\" or list \"1,3,5\"")
	flag.StringVar(&cfg.Model, "model", cfg.Model, "model identifier")
	flag.IntVar(&cfg.Concurrency, "parallel", cfg.Concurrency, "max concurrent requests")
	flag.BoolVar(&cfg.Stream, "stream", cfg.Stream, "use streaming responses")
	flag.BoolVar(&cfg.ShowMetrics, "metrics", cfg.ShowMetrics, "show endpoint vLLM metrics after the run")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "per-request timeout")
	flag.IntVar(&cfg.MaxTokens, "max-tokens", cfg.MaxTokens, "max generated tokens per page")
	flag.Float64Var(&cfg.Temperature, "temperature", cfg.Temperature, "sampling temperature")
	flag.Float64Var(&cfg.TopP, "top-p", cfg.TopP, "nucleus sampling cutoff")
	flag.StringVar(&cfg.Instruction, "instruction", cfg.Instruction, "optional instruction override (default: transcription implied)")
	flag.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "max attempts per page on overload")
	flag.Float64Var(&cfg.RequestsPerSec, "rps", cfg.RequestsPerSec, "global request rate limit (0 = unlimited)")
	flag.IntVar(&cfg.MaxDimension, "max-resolution", cfg.MaxDimension, "max rendered dimension in pixels")
	flag.Float64Var(&cfg.RenderScale, "scale", cfg.RenderScale, "base render scale (2.77 = 200 DPI)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "ocrbench: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ocrbench: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("benchmark aborted", zap.Error(err))
		os.Exit(1)
	}
}

// run performs the benchmark. Only startup preconditions (unreachable
// endpoint, unreadable PDF, bad page range) return an error here;
// per-page failures are reported, never fatal.
func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := ocr.NewClient(cfg.BaseURL, cfg.RequestTimeout, log)

	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("endpoint health check: %w", err)
	}
	if models, err := client.Models(ctx); err == nil {
		log.Info("endpoint ready", zap.Strings("models", models))
	}

	pdfPath := cfg.PDFPath
	if cfg.PDFURL != "" {
		log.Info("downloading PDF", zap.String("url", cfg.PDFURL))
		path, cleanup, err := fetch.Download(ctx, cfg.PDFURL, cfg.MaxPDFBytes, cfg.DownloadTimeout)
		if err != nil {
			return err
		}
		defer cleanup()
		pdfPath = path
	} else if err := fetch.ValidateMagic(pdfPath); err != nil {
		return err
	}

	doc, err := render.Open(ctx, pdfPath, cfg.MaxDimension, cfg.RenderScale)
	if err != nil {
		return err
	}
	log.Info("document opened", zap.String("path", pdfPath), zap.Int("pages", doc.Pages))

	pages, err := bench.ParsePages(cfg.Pages)
	if err != nil {
		return err
	}

	reqOpts := ocr.Options{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		Stream:      cfg.Stream,
		Instruction: cfg.Instruction,
	}
	// With a single streamed page the transcript is printed as it
	// arrives; concurrent streams would interleave, so they stay silent.
	liveDeltas := cfg.Stream && len(pages) == 1
	if liveDeltas {
		reqOpts.OnDelta = func(delta string) { fmt.Print(delta) }
	}

	orch := bench.New(doc, client, reqOpts, bench.Config{
		Concurrency:    cfg.Concurrency,
		MaxAttempts:    cfg.MaxAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RequestsPerSec: cfg.RequestsPerSec,
	}, log)

	runResult := orch.Run(ctx, pages)
	if liveDeltas {
		fmt.Println()
	}

	summary := report.Summarize(runResult)
	if err := report.Write(os.Stdout, runResult, summary); err != nil {
		return err
	}

	if cfg.ShowMetrics {
		metrics, err := client.Metrics(ctx)
		if err != nil {
			log.Warn("metrics fetch failed", zap.Error(err))
		} else if err := report.WriteMetrics(os.Stdout, metrics); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

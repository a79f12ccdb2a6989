// Package report turns a benchmark run into aggregate statistics and a
// fixed-order text report.
package report

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/pagelens/ocr-bench/internal/bench"
	"github.com/pagelens/ocr-bench/internal/ocr"
	"github.com/pagelens/ocr-bench/internal/render"
)

// Summary is derived purely from the run's results.
type Summary struct {
	RunID       string
	TotalPages  int
	Concurrency int

	Succeeded int
	Failed    int

	TotalDuration   time.Duration
	AvgPageDuration time.Duration // mean over successful pages only
	PagesPerSec     float64
	TotalTokens     int
	TokensPerSec    float64
}

// Summarize computes the aggregate statistics for a completed run.
// Failed pages count toward the totals but not toward latency or token
// figures, so a partial run never hides its failures.
func Summarize(run *bench.Run) Summary {
	s := Summary{
		RunID:       run.ID,
		TotalPages:  len(run.Results),
		Concurrency: run.Concurrency,

		TotalDuration: run.Duration,
	}

	var latencySum time.Duration
	for _, res := range run.Results {
		if res.Err != nil {
			s.Failed++
			continue
		}
		s.Succeeded++
		latencySum += res.Latency
		s.TotalTokens += res.Tokens
	}

	if s.Succeeded > 0 {
		s.AvgPageDuration = latencySum / time.Duration(s.Succeeded)
	}
	if secs := run.Duration.Seconds(); secs > 0 {
		s.PagesPerSec = float64(s.TotalPages) / secs
		s.TokensPerSec = float64(s.TotalTokens) / secs
	}
	return s
}

// Write renders the summary and the per-page breakdown, pages in
// ascending order, failures tagged with their classification.
func Write(w io.Writer, run *bench.Run, s Summary) error {
	fmt.Fprintf(w, "BENCHMARK RESULTS (run %s)\n\n", s.RunID)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Total pages:\t%d\n", s.TotalPages)
	fmt.Fprintf(tw, "Succeeded:\t%d\n", s.Succeeded)
	fmt.Fprintf(tw, "Failed:\t%d\n", s.Failed)
	fmt.Fprintf(tw, "Concurrency:\t%d\n", s.Concurrency)
	fmt.Fprintf(tw, "Total duration:\t%.2fs\n", s.TotalDuration.Seconds())
	fmt.Fprintf(tw, "Avg page duration:\t%.2fs\n", s.AvgPageDuration.Seconds())
	fmt.Fprintf(tw, "Throughput:\t%.2f pages/sec\n", s.PagesPerSec)
	fmt.Fprintf(tw, "Total tokens:\t%d\n", s.TotalTokens)
	fmt.Fprintf(tw, "Tokens/sec:\t%.1f\n", s.TokensPerSec)
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nPer-page breakdown:\n")
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "PAGE\tSTATUS\tDURATION\tTOKENS\tTOK/S\tCHARS\n")

	results := make([]bench.Result, len(run.Results))
	copy(results, run.Results)
	sort.Slice(results, func(i, j int) bool { return results[i].Page < results[j].Page })

	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(tw, "%d\t%s\t-\t-\t-\t-\n", res.Page, classify(res.Err))
			continue
		}
		tokensPerSec := 0.0
		if secs := res.Latency.Seconds(); secs > 0 {
			tokensPerSec = float64(res.Tokens) / secs
		}
		fmt.Fprintf(tw, "%d\tok\t%.2fs\t%d\t%.1f\t%d\n",
			res.Page, res.Latency.Seconds(), res.Tokens, tokensPerSec, len(res.Text))
	}
	return tw.Flush()
}

// WriteMetrics renders endpoint key metrics in a stable order.
func WriteMetrics(w io.Writer, metrics map[string]float64) error {
	fmt.Fprintf(w, "\nEndpoint metrics:\n")

	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%g\n", name, metrics[name])
	}
	return tw.Flush()
}

// classify names the failure class of a page error for the report.
func classify(err error) string {
	switch {
	case errors.Is(err, render.ErrPageOutOfRange):
		return "page_out_of_range"
	case errors.Is(err, render.ErrDocumentUnreadable):
		return "document_unreadable"
	}
	if kind := ocr.Kind(err); kind != "" {
		return string(kind)
	}
	return "error"
}

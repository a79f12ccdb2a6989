// Package render rasterizes single PDF pages through the poppler
// command line tools (pdfinfo, pdftoppm).
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
)

const (
	// DefaultMaxDimension bounds the longest pixel dimension of a
	// rendered page (the value recommended for LightOnOCR inputs).
	DefaultMaxDimension = 1540

	// DefaultScale renders 72-pt page units at ~200 DPI.
	DefaultScale = 2.77
)

var (
	ErrDocumentUnreadable = errors.New("document unreadable")
	ErrPageOutOfRange     = errors.New("page out of range")
)

var (
	pagesLine    = regexp.MustCompile(`(?m)^Pages:\s+(\d+)\s*$`)
	pageSizeLine = regexp.MustCompile(`(?m)^Page(?:\s+\d+)?\s+size:\s+([0-9.]+) x ([0-9.]+) pts`)
)

// Image is one rasterized PDF page. Data holds the encoded bytes and
// is handed to the OCR client as-is, never cached.
type Image struct {
	Width  int
	Height int
	Data   []byte
	Format string
}

// Document is an open PDF. Page geometry is queried per render call;
// no long-lived native handle is held, so there is nothing to release.
type Document struct {
	Path  string
	Pages int

	MaxDimension int
	Scale        float64
}

// Open reads the page count of the PDF at path. It fails with
// ErrDocumentUnreadable when pdfinfo cannot parse the file.
func Open(ctx context.Context, path string, maxDimension int, scale float64) (*Document, error) {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if scale <= 0 {
		scale = DefaultScale
	}

	out, err := exec.CommandContext(ctx, "pdfinfo", path).Output()
	if err != nil {
		return nil, fmt.Errorf("%w: pdfinfo: %v", ErrDocumentUnreadable, err)
	}
	pages, err := parsePageCount(string(out))
	if err != nil {
		return nil, err
	}

	return &Document{
		Path:         path,
		Pages:        pages,
		MaxDimension: maxDimension,
		Scale:        scale,
	}, nil
}

// CheckPage validates a 1-based page index against the document.
func (d *Document) CheckPage(page int) error {
	if page < 1 || page > d.Pages {
		return fmt.Errorf("%w: page %d (document has %d pages)", ErrPageOutOfRange, page, d.Pages)
	}
	return nil
}

// Render rasterizes one 1-based page to a PNG whose longest dimension
// does not exceed d.MaxDimension, preserving the page aspect ratio.
func (d *Document) Render(ctx context.Context, page int) (*Image, error) {
	if err := d.CheckPage(page); err != nil {
		return nil, err
	}

	widthPts, heightPts, err := d.pageSize(ctx, page)
	if err != nil {
		return nil, err
	}

	scale := fitScale(widthPts, heightPts, d.Scale, d.MaxDimension)
	dpi := scale * 72

	workDir, err := os.MkdirTemp("", "ocrbench-render-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workDir)

	prefix := filepath.Join(workDir, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-r", strconv.FormatFloat(dpi, 'f', 4, 64),
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		d.Path,
		prefix,
	)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: pdftoppm page %d: %v", ErrDocumentUnreadable, page, err)
	}

	path, err := findRendered(prefix, page)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode rendered page %d: %w", page, err)
	}

	return &Image{
		Width:  cfg.Width,
		Height: cfg.Height,
		Data:   data,
		Format: "png",
	}, nil
}

func (d *Document) pageSize(ctx context.Context, page int) (w, h float64, err error) {
	out, err := exec.CommandContext(ctx, "pdfinfo",
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		d.Path,
	).Output()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: pdfinfo page %d: %v", ErrDocumentUnreadable, page, err)
	}
	return parsePageSize(string(out))
}

// fitScale uniformly reduces baseScale so that neither pixel dimension
// of a widthPts x heightPts page exceeds maxDimension. The reduction
// factor applies to both axes, keeping the aspect ratio exact.
func fitScale(widthPts, heightPts, baseScale float64, maxDimension int) float64 {
	pixelWidth := widthPts * baseScale
	pixelHeight := heightPts * baseScale

	factor := math.Min(1, math.Min(float64(maxDimension)/pixelWidth, float64(maxDimension)/pixelHeight))
	return baseScale * factor
}

func parsePageCount(out string) (int, error) {
	m := pagesLine.FindStringSubmatch(out)
	if len(m) != 2 {
		return 0, fmt.Errorf("%w: pages not found in pdfinfo output", ErrDocumentUnreadable)
	}
	return strconv.Atoi(m[1])
}

func parsePageSize(out string) (w, h float64, err error) {
	m := pageSizeLine.FindStringSubmatch(out)
	if len(m) != 3 {
		return 0, 0, fmt.Errorf("%w: page size not found in pdfinfo output", ErrDocumentUnreadable)
	}
	w, err = strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, 0, err
	}
	h, err = strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, 0, err
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("%w: degenerate page size %.2f x %.2f", ErrDocumentUnreadable, w, h)
	}
	return w, h, nil
}

// findRendered resolves the pdftoppm output file: page numbers are
// zero-padded to the width of the document's last page number.
func findRendered(prefix string, page int) (string, error) {
	for digits := 1; digits <= 6; digits++ {
		candidate := fmt.Sprintf("%s-%0*d.png", prefix, digits, page)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return "", err
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	return "", fmt.Errorf("rendered image not found for page %d", page)
}

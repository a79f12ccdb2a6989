// Package fetch downloads remote PDFs to temporary files and validates
// that what arrived is actually a PDF.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Download fetches the PDF at url into a temp file, capped at maxBytes.
// The cleanup func removes the temp directory and must be called when
// the caller is done with the file.
func Download(ctx context.Context, url string, maxBytes int64, timeout time.Duration) (path string, cleanup func(), err error) {
	tmpDir, err := os.MkdirTemp("", "ocrbench-*")
	if err != nil {
		return "", nil, fmt.Errorf("temp dir: %w", err)
	}
	cleanup = func() { _ = os.RemoveAll(tmpDir) }

	outPath := filepath.Join(tmpDir, "doc.pdf")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	req.Header.Set("User-Agent", "ocrbench/1.0")

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		cleanup()
		return "", nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if ct != "" && !strings.Contains(ct, "pdf") && !strings.Contains(ct, "octet-stream") {
		cleanup()
		return "", nil, fmt.Errorf("invalid content-type: %s", ct)
	}

	f, err := os.Create(outPath)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("create: %w", err)
	}
	defer f.Close()

	lr := &io.LimitedReader{R: resp.Body, N: maxBytes + 1}
	n, err := io.Copy(f, lr)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write: %w", err)
	}
	if n > maxBytes {
		cleanup()
		return "", nil, fmt.Errorf("PDF exceeds %dMB limit", maxBytes/(1<<20))
	}

	if err := ValidateMagic(outPath); err != nil {
		cleanup()
		return "", nil, err
	}

	return outPath, cleanup, nil
}

// ValidateMagic checks that the file starts with the %PDF magic bytes.
// This catches servers that answer a PDF URL with an HTML or XML error
// page, which would otherwise surface as a confusing parse failure.
func ValidateMagic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open for validation: %w", err)
	}
	defer f.Close()

	header := make([]byte, 5)
	n, err := f.Read(header)
	if err != nil || n < 5 {
		return fmt.Errorf("file is too small to be a valid PDF")
	}

	if string(header[:4]) != "%PDF" {
		return fmt.Errorf("file is not a PDF (starts with %q)", string(header[:n]))
	}
	return nil
}

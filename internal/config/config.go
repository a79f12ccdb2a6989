package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Endpoint
	BaseURL        string
	Model          string
	RequestTimeout time.Duration

	// Input
	PDFPath string
	PDFURL  string
	Pages   string

	// Generation
	MaxTokens   int
	Temperature float64
	TopP        float64
	Instruction string
	Stream      bool

	// Rendering
	MaxDimension int
	RenderScale  float64

	// Orchestration
	Concurrency    int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RequestsPerSec float64

	// Download
	MaxPDFBytes     int64
	DownloadTimeout time.Duration

	// Reporting
	ShowMetrics bool

	// Logging
	LogLevel string
}

// Default returns the config seeded from OCRBENCH_* environment
// variables where set. CLI flags override these values.
func Default() Config {
	return Config{
		BaseURL:        envStr("OCRBENCH_URL", ""),
		Model:          envStr("OCRBENCH_MODEL", "lightonai/LightOnOCR-1B-1025"),
		RequestTimeout: envDur("OCRBENCH_REQUEST_TIMEOUT", 60*time.Second),

		Pages: envStr("OCRBENCH_PAGES", "1-3"),

		MaxTokens:   envInt("OCRBENCH_MAX_TOKENS", 4096),
		Temperature: envFloat("OCRBENCH_TEMPERATURE", 0.2),
		TopP:        envFloat("OCRBENCH_TOP_P", 0.9),

		MaxDimension: envInt("OCRBENCH_MAX_DIMENSION", 1540),
		RenderScale:  envFloat("OCRBENCH_RENDER_SCALE", 2.77),

		Concurrency:    envInt("OCRBENCH_CONCURRENCY", 1),
		MaxAttempts:    envInt("OCRBENCH_MAX_ATTEMPTS", 3),
		RetryBaseDelay: envDur("OCRBENCH_RETRY_BASE_DELAY", 500*time.Millisecond),
		RequestsPerSec: envFloat("OCRBENCH_RPS", 0),

		MaxPDFBytes:     int64(envInt("OCRBENCH_MAX_PDF_BYTES", 200<<20)),
		DownloadTimeout: envDur("OCRBENCH_DOWNLOAD_TIMEOUT", 25*time.Second),

		LogLevel: envStr("OCRBENCH_LOG_LEVEL", "info"),
	}
}

func (c Config) Validate() error {
	url := strings.TrimSpace(c.BaseURL)
	if url == "" {
		return fmt.Errorf("endpoint URL required")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("endpoint URL must be http/https")
	}
	if c.PDFPath == "" && c.PDFURL == "" {
		return fmt.Errorf("a PDF path or PDF URL is required")
	}
	if c.PDFPath != "" && c.PDFURL != "" {
		return fmt.Errorf("PDF path and PDF URL are mutually exclusive")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1")
	}
	if c.MaxDimension < 1 {
		return fmt.Errorf("max dimension must be >= 1")
	}
	if c.RenderScale <= 0 {
		return fmt.Errorf("render scale must be > 0")
	}
	return nil
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

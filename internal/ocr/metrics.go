package ocr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// keyMetricNames selects the vLLM gauges worth surfacing after a
// benchmark run.
var keyMetricNames = []string{
	"vllm:num_requests_running",
	"vllm:num_requests_waiting",
	"vllm:gpu_cache_usage",
	"vllm:avg_prompt_throughput",
	"vllm:avg_generation_throughput",
}

// Metrics fetches the endpoint's Prometheus exposition and returns the
// key vLLM metrics found in it.
func (c *Client) Metrics(ctx context.Context) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/metrics", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("metrics: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	return ParseKeyMetrics(string(body)), nil
}

// ParseKeyMetrics extracts the key vLLM metric samples from a
// Prometheus text exposition. Comment lines and unparsable values are
// skipped.
func ParseKeyMetrics(exposition string) map[string]float64 {
	out := map[string]float64{}

	for _, line := range strings.Split(exposition, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[0]
		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}

		for _, key := range keyMetricNames {
			if strings.Contains(name, key) {
				out[name] = value
				break
			}
		}
	}
	return out
}

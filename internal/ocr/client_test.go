package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testPayload = Payload{Data: []byte("not-a-real-png"), MIME: "image/png"}

func testOptions() Options {
	return Options{
		Model:       "lightonai/LightOnOCR-1B-1025",
		MaxTokens:   4096,
		Temperature: 0,
	}
}

func newTestClient(t *testing.T, url string, timeout time.Duration) *Client {
	t.Helper()
	return NewClient(url, timeout, zaptest.NewLogger(t))
}

func TestTranscribeComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "SAMPLE TEXT"}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 100, "completion_tokens": 42, "total_tokens": 142},
		})
	}))
	defer srv.Close()

	tr, err := newTestClient(t, srv.URL, time.Minute).Transcribe(context.Background(), testPayload, testOptions())
	require.NoError(t, err)

	assert.Equal(t, "SAMPLE TEXT", tr.Text)
	assert.Equal(t, 42, tr.Tokens)
	assert.Greater(t, tr.Latency, time.Duration(0))
}

func TestTranscribeRequestCarriesExactlyOneImage(t *testing.T) {
	var captured chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, time.Minute)

	_, err := client.Transcribe(context.Background(), testPayload, testOptions())
	require.NoError(t, err)

	require.Len(t, captured.Messages, 1)
	require.Len(t, captured.Messages[0].Content, 1, "default request must be image-only")
	part := captured.Messages[0].Content[0]
	assert.Equal(t, "image_url", part.Type)
	require.NotNil(t, part.ImageURL)
	assert.True(t, strings.HasPrefix(part.ImageURL.URL, "data:image/png;base64,"))

	// With an instruction override the text segment rides along, but
	// the request still carries exactly one image.
	opts := testOptions()
	opts.Instruction = "Transcribe the table only."
	_, err = client.Transcribe(context.Background(), testPayload, opts)
	require.NoError(t, err)

	require.Len(t, captured.Messages[0].Content, 2)
	images := 0
	for _, p := range captured.Messages[0].Content {
		if p.Type == "image_url" {
			images++
		}
	}
	assert.Equal(t, 1, images)
}

func TestTranscribeStreaming(t *testing.T) {
	fragments := []string{"Hello", ", ", "world", "!"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		// A frame with no content field must be tolerated.
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		flusher.Flush()

		for _, frag := range fragments {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", frag)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var deltas []string
	opts := testOptions()
	opts.Stream = true
	opts.OnDelta = func(s string) { deltas = append(deltas, s) }

	tr, err := newTestClient(t, srv.URL, time.Minute).Transcribe(context.Background(), testPayload, opts)
	require.NoError(t, err)

	assert.Equal(t, "Hello, world!", tr.Text)
	assert.Equal(t, fragments, deltas)
	assert.Equal(t, estimateTokens("Hello, world!"), tr.Tokens)
}

func TestStreamingMatchesCompleteContent(t *testing.T) {
	const content = "Deterministic transcription output over several words."

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if !req.Stream {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{"message": map[string]any{"content": content}}},
			})
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		// Emit the same content split into small fragments.
		for i := 0; i < len(content); i += 7 {
			end := min(i+7, len(content))
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content[i:end])
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, time.Minute)

	complete, err := client.Transcribe(context.Background(), testPayload, testOptions())
	require.NoError(t, err)

	opts := testOptions()
	opts.Stream = true
	streamed, err := client.Transcribe(context.Background(), testPayload, opts)
	require.NoError(t, err)

	assert.Equal(t, complete.Text, streamed.Text)
}

func TestTranscribeErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusRequestEntityTooLarge, KindPayloadTooLarge},
		{http.StatusServiceUnavailable, KindServerOverloaded},
		{http.StatusInternalServerError, KindUpstream},
		{http.StatusBadRequest, KindUpstream},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("HTTP %d", tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL, time.Minute).Transcribe(context.Background(), testPayload, testOptions())
			require.Error(t, err)
			assert.Equal(t, tc.kind, Kind(err))

			var clientErr *Error
			require.ErrorAs(t, err, &clientErr)
			assert.Equal(t, tc.status, clientErr.Status)
		})
	}

	assert.True(t, Retryable(&Error{Kind: KindServerOverloaded}))
	assert.False(t, Retryable(&Error{Kind: KindPayloadTooLarge}))
	assert.False(t, Retryable(&Error{Kind: KindTimeout}))
}

func TestTranscribeMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>definitely not json</html>")
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, time.Minute).Transcribe(context.Background(), testPayload, testOptions())
	assert.Equal(t, KindProtocol, Kind(err))
}

func TestTranscribeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 50*time.Millisecond).Transcribe(context.Background(), testPayload, testOptions())
	require.Error(t, err)
	assert.Equal(t, KindTimeout, Kind(err))
}

func TestTranscribeCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newTestClient(t, srv.URL, time.Minute).Transcribe(ctx, testPayload, testOptions())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, Kind(err))
}

func TestHealthAndModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/v1/models":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"id": "lightonai/LightOnOCR-1B-1025"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, time.Minute)

	require.NoError(t, client.Health(context.Background()))

	models, err := client.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"lightonai/LightOnOCR-1B-1025"}, models)
}

func TestHealthFailsOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	assert.Error(t, newTestClient(t, srv.URL, time.Minute).Health(context.Background()))
}

func TestParseKeyMetrics(t *testing.T) {
	exposition := `# HELP vllm:num_requests_running Number of requests currently running.
# TYPE vllm:num_requests_running gauge
vllm:num_requests_running{model_name="lightonai/LightOnOCR-1B-1025"} 3.0
vllm:num_requests_waiting{model_name="lightonai/LightOnOCR-1B-1025"} 12.0
vllm:gpu_cache_usage_perc{model_name="lightonai/LightOnOCR-1B-1025"} 0.42
python_gc_objects_collected_total{generation="0"} 9575.0
broken_line_without_value
`
	got := ParseKeyMetrics(exposition)

	assert.Len(t, got, 3)
	assert.Equal(t, 3.0, got[`vllm:num_requests_running{model_name="lightonai/LightOnOCR-1B-1025"}`])
	assert.Equal(t, 12.0, got[`vllm:num_requests_waiting{model_name="lightonai/LightOnOCR-1B-1025"}`])
}

// Package ocr issues chat-completion OCR requests against an
// OpenAI-compatible vLLM endpoint.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const chatCompletionsPath = "/v1/chat/completions"

// Payload is one encoded page image. The endpoint rejects multi-image
// messages, so every request built here carries exactly one payload.
type Payload struct {
	Data []byte
	MIME string
}

// Options are the generation parameters for one request.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
	Stream      bool

	// Instruction is an optional text segment. The model infers
	// "transcribe" from its absence, so the default is empty.
	Instruction string

	// OnDelta receives streamed content fragments in arrival order.
	OnDelta func(string)
}

// Transcription is the outcome of a successful request.
type Transcription struct {
	Text    string
	Tokens  int
	Latency time.Duration
}

type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	log     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: log,
	}
}

// Transcribe sends one image to the chat-completions endpoint and
// returns the extracted text. Failures are classified as *Error; a
// context cancellation of the caller is returned as-is.
func (c *Client) Transcribe(ctx context.Context, img Payload, opts Options) (*Transcription, error) {
	content := []contentPart{{
		Type: "image_url",
		ImageURL: &imageURLPart{
			URL: fmt.Sprintf("data:%s;base64,%s", img.MIME, base64.StdEncoding.EncodeToString(img.Data)),
		},
	}}
	if opts.Instruction != "" {
		content = append(content, contentPart{Type: "text", Text: opts.Instruction})
	}

	body, err := json.Marshal(chatRequest{
		Model:       opts.Model,
		Messages:    []chatMessage{{Role: "user", Content: content}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Stream:      opts.Stream,
	})
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	var text string
	var tokens int
	if opts.Stream {
		text, tokens, err = c.readStream(ctx, resp.Body, opts.OnDelta)
	} else {
		text, tokens, err = readComplete(resp.Body)
	}
	if err != nil {
		return nil, c.classifyTransport(ctx, err)
	}

	latency := time.Since(start)
	if tokens == 0 {
		tokens = estimateTokens(text)
	}

	c.log.Debug("transcription complete",
		zap.Duration("latency", latency),
		zap.Int("tokens", tokens),
		zap.Int("chars", len(text)),
		zap.Bool("stream", opts.Stream),
	)

	return &Transcription{Text: text, Tokens: tokens, Latency: latency}, nil
}

func readComplete(body io.Reader) (string, int, error) {
	var parsed chatResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return "", 0, &Error{Kind: KindProtocol, Err: err}
	}
	if len(parsed.Choices) == 0 {
		return "", 0, &Error{Kind: KindProtocol, Err: errors.New("response has no choices")}
	}

	tokens := 0
	if parsed.Usage != nil {
		tokens = parsed.Usage.CompletionTokens
	}
	return parsed.Choices[0].Message.Content, tokens, nil
}

// readStream drains the SSE body, concatenating delta fragments in
// arrival order until the [DONE] sentinel. Frames without a content
// field are skipped; frames that are not valid JSON are a protocol
// error.
func (c *Client) readStream(ctx context.Context, body io.Reader, onDelta func(string)) (string, int, error) {
	var (
		parser sseParser
		text   strings.Builder
		tokens int
		chunk  = make([]byte, 4096)
	)

	for !parser.Done() {
		n, err := body.Read(chunk)
		if n > 0 {
			for _, payload := range parser.Feed(chunk[:n]) {
				var frame chatChunk
				if jsonErr := json.Unmarshal([]byte(payload), &frame); jsonErr != nil {
					return "", 0, &Error{Kind: KindProtocol, Err: fmt.Errorf("malformed frame: %w", jsonErr)}
				}
				if frame.Usage != nil {
					tokens = frame.Usage.CompletionTokens
				}
				if len(frame.Choices) == 0 {
					continue
				}
				if delta := frame.Choices[0].Delta.Content; delta != "" {
					text.WriteString(delta)
					if onDelta != nil {
						onDelta(delta)
					}
				}
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !parser.Done() {
					return "", 0, &Error{Kind: KindProtocol, Err: errors.New("stream ended before [DONE]")}
				}
				break
			}
			return "", 0, err
		}
	}

	return text.String(), tokens, nil
}

// Health probes the endpoint's health route. A non-2xx answer or a
// transport failure means the endpoint is not ready.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint unhealthy: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Models lists the model identifiers served by the endpoint.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	var parsed modelList
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &Error{Kind: KindProtocol, Err: err}
	}

	ids := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	detail := errors.New(strings.TrimSpace(string(slurp)))

	switch resp.StatusCode {
	case http.StatusRequestEntityTooLarge:
		return &Error{Kind: KindPayloadTooLarge, Status: resp.StatusCode, Err: detail}
	case http.StatusServiceUnavailable:
		return &Error{Kind: KindServerOverloaded, Status: resp.StatusCode, Err: detail}
	default:
		return &Error{Kind: KindUpstream, Status: resp.StatusCode, Err: detail}
	}
}

// classifyTransport maps a transport-level failure. Deadline overruns
// of the per-request timeout become KindTimeout; a cancellation of the
// caller's context is surfaced untouched so the orchestrator can tell
// abandonment apart from request failure.
func (c *Client) classifyTransport(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var kindErr *Error
	if errors.As(err, &kindErr) {
		return err
	}
	return &Error{Kind: KindUpstream, Err: err}
}

// estimateTokens approximates the token count by whitespace splitting,
// used when the endpoint omits usage data (streaming responses).
func estimateTokens(text string) int {
	return len(strings.Fields(text))
}

// Package inference implements the Inference Client: an Ollama-compatible
// chat client with strict connect/total timeouts and task-class-based
// model selection, enriched from the teacher's provider-detection
// convention and the Ollama /api/chat wire format used elsewhere in the
// example corpus.
package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taskmesh/orchestrator/internal/circuitbreaker"
	ometrics "github.com/taskmesh/orchestrator/internal/metrics"
)

const (
	connectTimeout = 5 * time.Second
	totalTimeout   = 120 * time.Second
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options carries the sampling parameters the spec names explicitly.
type Options struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	NumPredict    *int     `json:"num_predict,omitempty"`
	NumCtx        *int     `json:"num_ctx,omitempty"`
}

// Client talks to a local Ollama-compatible inference backend.
type Client struct {
	baseURL  string
	http     *http.Client
	breaker  *circuitbreaker.HTTPWrapper
	logger   *zap.Logger
	resolver *ModelResolver
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Models  ModelResolver
}

// New creates a Client enforcing the spec's connect/total timeout split:
// a 5 second connect deadline via a custom dialer, and a 120 second
// ceiling on the whole request/response exchange.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
	}

	resolver := cfg.Models
	if resolver.byClass == nil {
		resolver = DefaultModelResolver()
	}

	httpClient := &http.Client{Timeout: totalTimeout, Transport: transport}

	return &Client{
		baseURL:  baseURL,
		http:     httpClient,
		breaker:  circuitbreaker.NewHTTPWrapperWithConfig(httpClient, "inference_backend", "inference", circuitbreaker.GetInferenceConfig(), logger),
		logger:   logger,
		resolver: &resolver,
	}
}

// ResolveModel maps a task class (e.g. "code", "conversation") to a
// concrete model name, applying the published fallback order when the
// preferred model is unavailable. availability is nil-safe; when nil,
// the preferred model is always accepted.
func (c *Client) ResolveModel(taskClass string, availability func(model string) bool) string {
	return c.resolver.Resolve(taskClass, availability, c.logger)
}

// Chat sends one non-streaming chat request and returns the model's text.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, opts Options) (string, error) {
	start := time.Now()
	reqBody := chatRequest{Model: model, Messages: messages, Stream: false, Options: opts}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := c.do(ctx, body)
	if err != nil {
		ometrics.RecordInferenceMetrics(model, "error", time.Since(start).Seconds(), 0)
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		ometrics.RecordInferenceMetrics(model, "error", time.Since(start).Seconds(), 0)
		return "", fmt.Errorf("decode chat response: %w", err)
	}

	tokens := out.PromptEvalCount + out.EvalCount
	ometrics.RecordInferenceMetrics(model, "ok", time.Since(start).Seconds(), tokens)
	return out.Message.Content, nil
}

// ChatStream sends a streaming chat request, returning a channel of text
// deltas. The channel is closed when the stream ends; a send error is
// reported on errCh, which receives at most one value and is closed right
// after the delta channel.
func (c *Client) ChatStream(ctx context.Context, model string, messages []Message, opts Options) (<-chan string, <-chan error) {
	out := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)
		start := time.Now()
		reqBody := chatRequest{Model: model, Messages: messages, Stream: true, Options: opts}
		body, err := json.Marshal(reqBody)
		if err != nil {
			errCh <- fmt.Errorf("marshal chat request: %w", err)
			return
		}

		resp, err := c.do(ctx, body)
		if err != nil {
			ometrics.RecordInferenceMetrics(model, "error", time.Since(start).Seconds(), 0)
			errCh <- err
			return
		}
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		tokens := 0
		for {
			line, err := reader.ReadBytes('\n')
			if len(line) > 0 {
				line = bytes.TrimSpace(line)
				var chunk chatResponse
				if jsonErr := json.Unmarshal(line, &chunk); jsonErr == nil {
					if chunk.Message.Content != "" {
						select {
						case out <- chunk.Message.Content:
						case <-ctx.Done():
							errCh <- ctx.Err()
							return
						}
					}
					if chunk.Done {
						tokens = chunk.PromptEvalCount + chunk.EvalCount
					}
				}
			}
			if err != nil {
				if err == io.EOF {
					break
				}
				ometrics.RecordInferenceMetrics(model, "error", time.Since(start).Seconds(), tokens)
				errCh <- classifyTransportError(err)
				return
			}
		}
		ometrics.RecordInferenceMetrics(model, "ok", time.Since(start).Seconds(), tokens)
	}()

	return out, errCh
}

func (c *Client) do(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.breaker.Do(req)
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return nil, &InferenceUnreachable{Cause: err}
		}
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, &InferenceBackend{StatusCode: resp.StatusCode, Message: string(msg)}
	}
	return resp, nil
}

// classifyTransportError maps a net/http transport error into one of the
// spec's distinguished error types.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok && netErr.Timeout() {
		return &InferenceTimeout{Cause: err}
	}
	if err == context.DeadlineExceeded {
		return &InferenceTimeout{Cause: err}
	}
	return &InferenceUnreachable{Cause: err}
}

func asNetError(err error, target *net.Error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  Options   `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

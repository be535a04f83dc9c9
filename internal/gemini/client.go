package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"orca/internal/agent"
	"orca/pkg/circuitbreaker"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-1.5-pro"

	briefTemperature = 0.7
	imageTemperature = 0.1
	imageMaxTokens   = 4096
)

// Options configures a Client.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration // per call (default: 60s)
	HTTPClient *http.Client
	Breaker    circuitbreaker.Config
}

// Client calls the Gemini generateContent endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger
}

// NewClient creates a client. An API key is required; see Offline for
// running without one.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini: API key is required")
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	bc := opts.Breaker
	bc.IsFailure = isServiceFailure

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		timeout:    timeout,
		httpClient: httpClient,
		breaker:    circuitbreaker.New("gemini", bc),
		logger:     slog.With("component", "gemini", "model", model),
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Breaker returns the breaker guarding the API.
func (c *Client) Breaker() *circuitbreaker.Breaker {
	return c.breaker
}

// AnalyzeBrief asks the model for a marketing analysis of the brief.
func (c *Client) AnalyzeBrief(ctx context.Context, req BriefRequest) (*BriefAnalysis, error) {
	payload := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: briefSystemInstruction}}},
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: buildBriefPrompt(req)}},
		}},
		GenerationConfig: &generationConfig{Temperature: ptr(briefTemperature)},
		SafetySettings:   permissiveSafety,
	}

	text, err := c.generate(ctx, payload)
	if err != nil {
		return nil, err
	}
	return &BriefAnalysis{
		Analysis:   text,
		TextPrompt: req.TextPrompt,
		ImageURL:   req.ImageURL,
		Meta:       req.Context,
		Model:      c.model,
	}, nil
}

// AnalyzeImage extracts the Canonical Visual Identity of a product image.
// Failures never propagate: they yield agent.FallbackImageAnalysis.
func (c *Client) AnalyzeImage(ctx context.Context, data []byte, mimeType string) agent.ImageAnalysis {
	if len(data) == 0 {
		return agent.FallbackImageAnalysis("image data is empty")
	}
	payload := generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: imageCVIPrompt},
				{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}},
			},
		}},
		GenerationConfig: &generationConfig{
			Temperature:      ptr(imageTemperature),
			MaxOutputTokens:  imageMaxTokens,
			ResponseMimeType: "application/json",
		},
		SafetySettings: permissiveSafety,
	}

	text, err := c.generate(ctx, payload)
	if err != nil {
		c.logger.WarnContext(ctx, "Image analysis failed, using fallback", "error", err)
		return agent.FallbackImageAnalysis(err.Error())
	}
	result := agent.ParseImageAnalysis(text)
	if result.IsFallback() {
		c.logger.WarnContext(ctx, "Image analysis returned unparseable output", "chars", len(text))
	}
	return result
}

// generate runs one generateContent call through the breaker and returns the
// concatenated text of the first candidate.
func (c *Client) generate(ctx context.Context, payload generateRequest) (string, error) {
	var resp generateResponse
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.invoke(ctx, payload, &resp)
	})
	if err != nil {
		return "", err
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini blocked the prompt: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", errors.New("empty response from gemini")
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("empty response from gemini (finish reason %s)", resp.Candidates[0].FinishReason)
	}
	return text, nil
}

func (c *Client) invoke(ctx context.Context, payload generateRequest, out *generateResponse) error {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", redactKey(err, c.apiKey))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	c.logger.DebugContext(ctx, "Gemini call completed", "duration", time.Since(start))
	return nil
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gemini status %d", e.StatusCode)
	}
	return fmt.Sprintf("gemini status %d: %s", e.StatusCode, e.Message)
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var apiErr errorResponse
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error.Message}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}

// isServiceFailure counts transport errors, 429 and 5xx against the breaker.
// Rejected requests (other 4xx) and cancellations do not.
func isServiceFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

// redactKey strips the API key from errors that echo the request URL.
func redactKey(err error, key string) error {
	msg := err.Error()
	if !strings.Contains(msg, key) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, key, "REDACTED"))
}

func ptr[T any](v T) *T { return &v }

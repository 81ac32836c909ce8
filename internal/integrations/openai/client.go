package openai

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
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"media-companion/internal/domain"
	"media-companion/internal/integrations/paramstore"
)

const defaultModel = "gpt-4o-mini"

// chatMessage carries either a plain string or multi-part content.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaConfig `json:"json_schema"`
}

type jsonSchemaConfig struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Index   int                `json:"index"`
		Message domain.ChatMessage `json:"message"`
	} `json:"choices"`
}

// HTTPStatusError is returned for non-2xx responses. 429 and 5xx are retried.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI-compatible client for commentary and profile
// summaries. Requests rotate round-robin across the configured models.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      paramstore.Getter
	paramPrefix string
	maxTries    uint

	keyOnce sync.Once
	apiKey  string
	keyErr  error

	modelsOnce sync.Once
	models     []string
	next       atomic.Uint64
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithModels fixes the rotation list instead of reading it from SSM.
func WithModels(models ...string) Option {
	return func(c *Client) {
		for _, m := range models {
			if m = strings.TrimSpace(m); m != "" {
				c.models = append(c.models, m)
			}
		}
	}
}

// WithMaxTries bounds attempts for rate-limited or 5xx responses.
func WithMaxTries(n uint) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTries = n
		}
	}
}

// NewClient reads the API key and the model rotation list from SSM under
// paramPrefix, both on first use.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     "https://api.openai.com/v1",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
		maxTries:    3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = paramstore.FetchToken(ctx, c.getter, c.paramPrefix+"/open-ai-token")
		if c.keyErr != nil {
			c.keyErr = fmt.Errorf("openai: %w", c.keyErr)
		}
	})
	return c.apiKey, c.keyErr
}

// nextModel returns the next model in the rotation. A missing or empty SSM
// list falls back to a single default model.
func (c *Client) nextModel(ctx context.Context) string {
	c.modelsOnce.Do(func() {
		if len(c.models) > 0 {
			return
		}
		models, err := paramstore.FetchList(ctx, c.getter, c.paramPrefix+"/config/openai_models")
		if err != nil || len(models) == 0 {
			c.models = []string{defaultModel}
			return
		}
		c.models = models
	})
	n := c.next.Add(1) - 1
	return c.models[n%uint64(len(c.models))]
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// GenerateBatch asks for exactly n comments and returns the raw JSON payload
// {"comments": [...]}. Callers validate the count.
func (c *Client) GenerateBatch(ctx context.Context, prompt, contextText string, n int) (string, error) {
	if n <= 0 {
		return "", errors.New("openai: batch size must be positive")
	}
	messages := []chatMessage{
		{Role: "system", Content: contextText},
		{Role: "user", Content: prompt},
	}
	return c.chat(ctx, messages, commentaryBatchFormat(n))
}

// Generate returns free text. When image is non-empty it is attached to the
// prompt as an inline data URL.
func (c *Client) Generate(ctx context.Context, prompt, contextText string, image []byte) (string, error) {
	var user chatMessage
	if len(image) == 0 {
		user = chatMessage{Role: "user", Content: prompt}
	} else {
		user = chatMessage{Role: "user", Content: []contentPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &imageURL{URL: dataURL(image)}},
		}}
	}
	messages := []chatMessage{{Role: "system", Content: contextText}, user}
	return c.chat(ctx, messages, nil)
}

func dataURL(image []byte) string {
	mime := http.DetectContentType(image)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
}

func (c *Client) chat(ctx context.Context, messages []chatMessage, format *responseFormat) (string, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model:          c.nextModel(ctx),
		Messages:       messages,
		ResponseFormat: format,
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)
	op := func() ([]byte, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if reqErr != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", reqErr))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+apiKey)
		raw, doErr := c.doJSONRequest(req, url)
		if doErr != nil && !retryable(doErr) {
			return nil, backoff.Permanent(doErr)
		}
		return raw, doErr
	}
	raw, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", err)
	}

	var payload chatResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("openai: decode response: %w", decErr)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return payload.Choices[0].Message.Content, nil
}

func retryable(err error) bool {
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return false
}

func commentaryBatchFormat(n int) *responseFormat {
	return &responseFormat{
		Type: "json_schema",
		JSONSchema: jsonSchemaConfig{
			Name:   "commentary_batch",
			Strict: true,
			Schema: json.RawMessage(fmt.Sprintf(`{
				"type":"object",
				"additionalProperties":false,
				"properties":{
					"comments":{"type":"array","items":{"type":"string"},"minItems":%d,"maxItems":%d}
				},
				"required":["comments"]
			}`, n, n)),
		},
	}
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// Package chat is a REST client for a Discord-style bot API. It opens direct
// channels and sends or edits embed messages.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"media-companion/internal/domain"
	"media-companion/internal/integrations/paramstore"
)

var (
	// ErrChannelNotFound is returned when the platform reports an unknown channel.
	ErrChannelNotFound = domain.ErrChannelNotFound
	// ErrMessageNotFound is returned when an edited message no longer exists.
	ErrMessageNotFound = domain.ErrMessageNotFound
)

// Platform JSON error codes.
const (
	unknownChannelCode = 10003
	unknownMessageCode = 10008
)

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("chat: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type embedImage struct {
	URL string `json:"url"`
}

type embed struct {
	Image *embedImage `json:"image,omitempty"`
}

type messageRequest struct {
	Content string  `json:"content"`
	Embeds  []embed `json:"embeds"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      paramstore.Getter
	paramPrefix string

	tokenOnce sync.Once
	token     string
	tokenErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient builds a client whose bot token is read from SSM on first use.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("chat: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("chat: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     "https://discord.com/api/v10",
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenOnce.Do(func() {
		c.token, c.tokenErr = paramstore.FetchToken(ctx, c.getter, c.paramPrefix+"/chat-bot-token")
		if c.tokenErr != nil {
			c.tokenErr = fmt.Errorf("chat: %w", c.tokenErr)
		}
	})
	return c.token, c.tokenErr
}

// OpenDirectChannel returns the id of the direct-message channel with userID.
func (c *Client) OpenDirectChannel(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("chat: user id must not be empty")
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/users/@me/channels", false, map[string]string{"recipient_id": userID}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("chat: empty channel id in response")
	}
	return out.ID, nil
}

// Send posts a new message and returns its id.
func (c *Client) Send(ctx context.Context, channelID string, d domain.Delivery) (string, error) {
	if strings.TrimSpace(channelID) == "" {
		return "", errors.New("chat: channel id must not be empty")
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", false, toMessage(d), &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Edit replaces the content of an existing message. A deleted message yields
// ErrMessageNotFound; a deleted channel yields ErrChannelNotFound.
func (c *Client) Edit(ctx context.Context, channelID, messageID string, d domain.Delivery) error {
	if strings.TrimSpace(channelID) == "" || strings.TrimSpace(messageID) == "" {
		return errors.New("chat: channel and message id must not be empty")
	}
	return c.do(ctx, http.MethodPatch, "/channels/"+channelID+"/messages/"+messageID, true, toMessage(d), nil)
}

func toMessage(d domain.Delivery) messageRequest {
	req := messageRequest{Content: d.Text, Embeds: []embed{}}
	if d.ImageURL != "" {
		req.Embeds = append(req.Embeds, embed{Image: &embedImage{URL: d.ImageURL}})
	}
	return req
}

// do sends one API call. messageScoped marks paths that address a single
// message, where a bare 404 means the message rather than the channel.
func (c *Client) do(ctx context.Context, method, path string, messageScoped bool, in, out any) error {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("chat: marshal request: %w", err)
	}
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat: %s %s: %w", method, path, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		statusErr := &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
		if sentinel := notFoundKind(res.StatusCode, buf, messageScoped); sentinel != nil {
			return fmt.Errorf("%w: %w", sentinel, statusErr)
		}
		return statusErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("chat: decode response: %w", err)
	}
	return nil
}

func notFoundKind(status int, body []byte, messageScoped bool) error {
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil {
		switch apiErr.Code {
		case unknownChannelCode:
			return ErrChannelNotFound
		case unknownMessageCode:
			return ErrMessageNotFound
		}
	}
	if status != http.StatusNotFound {
		return nil
	}
	if messageScoped {
		return ErrMessageNotFound
	}
	return ErrChannelNotFound
}

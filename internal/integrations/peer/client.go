// Package peer sends termination requests to the shard that owns a session.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// EndPath is the route template served by every shard's internal API.
const EndPath = "/internal/v1/sessions/%s/end"

type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("peer: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type Client struct {
	httpClient *http.Client
}

// NewClient returns a client whose requests are bounded by timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// EndRemote asks the shard at baseURL to end userID's session. found is
// false when that shard has no such session.
func (c *Client) EndRemote(ctx context.Context, baseURL, userID string) (bool, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" || strings.TrimSpace(userID) == "" {
		return false, errors.New("peer: base url and user id must not be empty")
	}
	endpoint := baseURL + fmt.Sprintf(EndPath, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("peer: create request: %w", err)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	res, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("peer: request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	switch res.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return false, &HTTPStatusError{StatusCode: res.StatusCode, URL: endpoint, Body: string(buf)}
	}
}

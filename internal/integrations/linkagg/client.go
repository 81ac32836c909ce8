// Package linkagg reads top listings from a Reddit-style link aggregator.
package linkagg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"media-companion/internal/domain"
	"media-companion/internal/media"
)

type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("linkagg: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type listing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data struct {
				URL       string `json:"url"`
				Title     string `json:"title"`
				Score     int    `json:"score"`
				IsSelf    bool   `json:"is_self"`
				Stickied  bool   `json:"stickied"`
				IsGallery bool   `json:"is_gallery"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
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

// WithUserAgent overrides the User-Agent header; the upstream throttles
// generic agents.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua = strings.TrimSpace(ua); ua != "" {
			c.userAgent = ua
		}
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    "https://www.reddit.com",
		httpClient: &http.Client{Timeout: 15 * time.Second},
		userAgent:  "media-companion/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TopByTimeframe fetches one page of the top listing for a community. An
// empty cursor requests the first page.
func (c *Client) TopByTimeframe(ctx context.Context, source, timeframe string, pageSize int, cursor string) (media.ListingPage, error) {
	source = strings.TrimPrefix(strings.TrimSpace(source), "r/")
	if source == "" {
		return media.ListingPage{}, errors.New("linkagg: source must not be empty")
	}
	if pageSize <= 0 {
		return media.ListingPage{}, fmt.Errorf("linkagg: invalid page size %d", pageSize)
	}
	q := url.Values{}
	q.Set("t", timeframe)
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("raw_json", "1")
	if cursor != "" {
		q.Set("after", cursor)
	}
	endpoint := c.baseURL + "/r/" + url.PathEscape(source) + "/top.json?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return media.ListingPage{}, fmt.Errorf("linkagg: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return media.ListingPage{}, fmt.Errorf("linkagg: request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return media.ListingPage{}, &HTTPStatusError{StatusCode: res.StatusCode, URL: endpoint, Body: string(buf)}
	}

	var l listing
	if err := json.NewDecoder(io.LimitReader(res.Body, 8<<20)).Decode(&l); err != nil {
		return media.ListingPage{}, fmt.Errorf("linkagg: decode response: %w", err)
	}
	page := media.ListingPage{
		Items:      make([]domain.MediaItem, 0, len(l.Data.Children)),
		NextCursor: l.Data.After,
	}
	for _, child := range l.Data.Children {
		d := child.Data
		page.Items = append(page.Items, domain.MediaItem{
			Locator:    html.UnescapeString(d.URL),
			Title:      d.Title,
			Score:      d.Score,
			IsSelf:     d.IsSelf,
			IsStickied: d.Stickied,
			IsGallery:  d.IsGallery,
		})
	}
	return page, nil
}

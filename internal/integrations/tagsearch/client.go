// Package tagsearch queries a Danbooru-style tag-indexed image board.
package tagsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	return fmt.Sprintf("tagsearch: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type post struct {
	ID        int64  `json:"id"`
	FileURL   string `json:"file_url"`
	LargeURL  string `json:"large_file_url"`
	Score     int    `json:"score"`
	TagString string `json:"tag_string"`
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

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    "https://danbooru.donmai.us",
		httpClient: &http.Client{Timeout: 15 * time.Second},
		userAgent:  "media-companion/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchByTag returns one page of posts matching every tag. pageIndex is
// zero-based; the upstream API counts pages from one. Received on the result
// counts restricted posts too, so a full page is recognisable as full.
func (c *Client) SearchByTag(ctx context.Context, tags []string, pageSize, pageIndex int) (media.TagPage, error) {
	if len(tags) == 0 {
		return media.TagPage{}, errors.New("tagsearch: at least one tag is required")
	}
	if pageSize <= 0 || pageIndex < 0 {
		return media.TagPage{}, fmt.Errorf("tagsearch: invalid page size %d or index %d", pageSize, pageIndex)
	}
	q := url.Values{}
	q.Set("tags", strings.Join(tags, " "))
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(pageIndex+1))
	endpoint := c.baseURL + "/posts.json?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return media.TagPage{}, fmt.Errorf("tagsearch: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return media.TagPage{}, fmt.Errorf("tagsearch: request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return media.TagPage{}, &HTTPStatusError{StatusCode: res.StatusCode, URL: endpoint, Body: string(buf)}
	}

	var posts []post
	if err := json.NewDecoder(io.LimitReader(res.Body, 8<<20)).Decode(&posts); err != nil {
		return media.TagPage{}, fmt.Errorf("tagsearch: decode response: %w", err)
	}
	items := make([]domain.MediaItem, 0, len(posts))
	for _, p := range posts {
		locator := p.FileURL
		if locator == "" {
			locator = p.LargeURL
		}
		// Restricted posts come back without any file URL.
		if locator == "" {
			continue
		}
		items = append(items, domain.MediaItem{
			Locator: locator,
			Title:   "#" + strconv.FormatInt(p.ID, 10),
			Tags:    strings.Fields(p.TagString),
			Score:   p.Score,
		})
	}
	return media.TagPage{Items: items, Received: len(posts)}, nil
}

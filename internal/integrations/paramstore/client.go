package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultCacheSize = 64

// ssmAPI is the slice of *ssm.Client the shard uses.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter resolves one decrypted parameter value. The OpenAI and chat
// clients read their tokens through it.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client wraps an AWS SSM API for parameter retrieval. Values are cached
// for the configured TTL so long-running shards pick up rotations.
type Client struct {
	api   ssmAPI
	cache *expirable.LRU[string, string]
}

type Option func(*Client)

// WithCacheTTL caches decrypted values for ttl. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl <= 0 {
			c.cache = nil
			return
		}
		c.cache = expirable.NewLRU[string, string](defaultCacheSize, nil, ttl)
	}
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	c := &Client{api: api}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c == nil || c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}
	if c.cache != nil {
		if v, ok := c.cache.Get(name); ok {
			return v, nil
		}
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q missing value", name)
	}
	value := aws.ToString(out.Parameter.Value)
	if c.cache != nil {
		c.cache.Add(name, value)
	}
	return value, nil
}

// FetchToken reads a {"token": "..."} parameter and returns the token.
func FetchToken(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("paramstore: getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: token parameter name is empty")
	}
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch token: %w", err)
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", fmt.Errorf("paramstore: unmarshal token value as JSON: %w", err)
	}
	token := strings.TrimSpace(payload.Token)
	if token == "" {
		return "", fmt.Errorf("paramstore: token in %q is empty", name)
	}
	return token, nil
}

// FetchList reads a comma-separated parameter, dropping blanks.
func FetchList(ctx context.Context, getter Getter, name string) ([]string, error) {
	if getter == nil {
		return nil, errors.New("paramstore: getter is nil")
	}
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("paramstore: fetch list: %w", err)
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("paramstore: list in %q is empty", name)
	}
	return out, nil
}

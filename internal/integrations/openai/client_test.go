package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

// fakeGetter serves SSM parameters by name.
type fakeGetter struct {
	values map[string]string
	err    error
	calls  atomic.Int32
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.values[name]
	if !ok {
		return "", errors.New("parameter not found")
	}
	return v, nil
}

func tokenGetter() *fakeGetter {
	return &fakeGetter{values: map[string]string{"/mc/open-ai-token": `{"token":"sk-test"}`}}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/mc")
	require.ErrorContains(t, err, "nil")
	_, err = NewClient(tokenGetter(), " / ")
	require.ErrorContains(t, err, "prefix")

	c, err := NewClient(tokenGetter(), "/mc/")
	require.NoError(t, err)
	require.Equal(t, "/mc", c.paramPrefix)
	require.Equal(t, "https://api.openai.com/v1", c.baseURL)
}

func TestResolveAPIKey_FetchedOnce(t *testing.T) {
	g := tokenGetter()
	c, err := NewClient(g, "/mc")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		key, err := c.resolveAPIKey(context.Background())
		require.NoError(t, err)
		require.Equal(t, "sk-test", key)
	}
	require.EqualValues(t, 1, g.calls.Load())
}

func TestResolveAPIKey_Error(t *testing.T) {
	c, err := NewClient(&fakeGetter{err: errors.New("ssm unavailable")}, "/mc")
	require.NoError(t, err)
	_, err = c.resolveAPIKey(context.Background())
	require.ErrorContains(t, err, "ssm unavailable")
}

func TestNextModel_RotatesFromSSM(t *testing.T) {
	g := tokenGetter()
	g.values["/mc/config/openai_models"] = "model-a, model-b"
	c, err := NewClient(g, "/mc")
	require.NoError(t, err)

	got := []string{c.nextModel(context.Background()), c.nextModel(context.Background()), c.nextModel(context.Background())}
	require.Equal(t, []string{"model-a", "model-b", "model-a"}, got)
}

func TestNextModel_DefaultsWhenMissing(t *testing.T) {
	c, err := NewClient(tokenGetter(), "/mc")
	require.NoError(t, err)
	require.Equal(t, defaultModel, c.nextModel(context.Background()))

	fixed, err := NewClient(tokenGetter(), "/mc", WithModels("x", " "))
	require.NoError(t, err)
	require.Equal(t, "x", fixed.nextModel(context.Background()))
	require.Equal(t, "x", fixed.nextModel(context.Background()))
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
		WithModels("model-a"),
	}, opts...)
	c, err := NewClient(tokenGetter(), "/mc", opts...)
	require.NoError(t, err)
	return c
}

func writeChoice(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id": "x",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]string{"role": "assistant", "content": content}},
		},
	})
}

func TestGenerateBatch_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(body), `"name":"commentary_batch"`)
		require.Contains(t, string(body), `"minItems":3`)
		require.Contains(t, string(body), `"model":"model-a"`)
		writeChoice(w, `{"comments":["a","b","c"]}`)
	}))
	defer srv.Close()

	out, err := newTestClient(t, srv).GenerateBatch(context.Background(), "describe", "persona", 3)
	require.NoError(t, err)
	require.Equal(t, `{"comments":["a","b","c"]}`, out)
}

func TestGenerateBatch_RejectsNonPositive(t *testing.T) {
	c, err := NewClient(tokenGetter(), "/mc")
	require.NoError(t, err)
	_, err = c.GenerateBatch(context.Background(), "p", "c", 0)
	require.Error(t, err)
}

func TestGenerate_WithImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Nil(t, req.ResponseFormat)
		require.Len(t, req.Messages, 2)
		parts, ok := req.Messages[1].Content.([]any)
		require.True(t, ok)
		require.Len(t, parts, 2)
		writeChoice(w, "a cat on a mat")
	}))
	defer srv.Close()

	png := []byte("\x89PNG\r\n\x1a\n0000")
	out, err := newTestClient(t, srv).Generate(context.Background(), "what is this", "ctx", png)
	require.NoError(t, err)
	require.Equal(t, "a cat on a mat", out)
}

func TestDataURL(t *testing.T) {
	require.Contains(t, dataURL([]byte("\x89PNG\r\n\x1a\n0000")), "data:image/png;base64,")
	require.Contains(t, dataURL([]byte("plain text")), "data:image/jpeg;base64,")
}

func TestChat_RetriesRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		writeChoice(w, "ok")
	}))
	defer srv.Close()

	out, err := newTestClient(t, srv).Generate(context.Background(), "p", "c", nil)
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.EqualValues(t, 2, hits.Load())
}

func TestChat_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Generate(context.Background(), "p", "c", nil)
	require.Error(t, err)
	var se *HTTPStatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadRequest, se.HTTPStatusCode())
	require.EqualValues(t, 1, hits.Load())
}

func TestChat_ServerErrorExhaustsTries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, WithMaxTries(1)).Generate(context.Background(), "p", "c", nil)
	require.ErrorContains(t, err, "500")
	require.EqualValues(t, 1, hits.Load())
}

func TestChat_NoChoicesAndBadJSON(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer empty.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{"))
	}))
	defer broken.Close()

	_, err := newTestClient(t, empty).Generate(context.Background(), "p", "c", nil)
	require.ErrorContains(t, err, "no choices")

	_, err = newTestClient(t, broken).Generate(context.Background(), "p", "c", nil)
	require.ErrorContains(t, err, "decode response")
}

func TestChat_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeChoice(w, "late")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	_, err := c.Generate(context.Background(), "p", "c", nil)
	require.Error(t, err)
}

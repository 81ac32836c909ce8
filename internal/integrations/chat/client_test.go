package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"media-companion/internal/domain"
)

type fakeGetter struct {
	value string
	calls atomic.Int32
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.calls.Add(1)
	if name != "/mc/chat-bot-token" {
		return "", errors.New("parameter not found")
	}
	return f.value, nil
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *fakeGetter) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	g := &fakeGetter{value: `{"token":"bot-secret"}`}
	c, err := NewClient(g, "/mc", WithBaseURL(srv.URL+"/"))
	require.NoError(t, err)
	return c, g
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/mc")
	require.Error(t, err)
	_, err = NewClient(&fakeGetter{}, "")
	require.Error(t, err)
}

func TestOpenDirectChannel(t *testing.T) {
	c, g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/users/@me/channels", r.URL.Path)
		require.Equal(t, "Bot bot-secret", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "u-1", body["recipient_id"])
		_, _ = w.Write([]byte(`{"id":"dm-9"}`))
	})

	id, err := c.OpenDirectChannel(context.Background(), "u-1")
	require.NoError(t, err)
	require.Equal(t, "dm-9", id)

	_, err = c.OpenDirectChannel(context.Background(), "u-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, g.calls.Load())
}

func TestOpenDirectChannel_EmptyUser(t *testing.T) {
	c, _ := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := c.OpenDirectChannel(context.Background(), " ")
	require.Error(t, err)
}

func TestSend_EmbedsImage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/channels/dm-9/messages", r.URL.Path)
		var body messageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "nice one", body.Content)
		require.Len(t, body.Embeds, 1)
		require.Equal(t, "https://i.redd.it/a.jpg", body.Embeds[0].Image.URL)
		_, _ = w.Write([]byte(`{"id":"m-1"}`))
	})

	id, err := c.Send(context.Background(), "dm-9", domain.Delivery{Text: "nice one", ImageURL: "https://i.redd.it/a.jpg"})
	require.NoError(t, err)
	require.Equal(t, "m-1", id)
}

func TestEdit(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/channels/dm-9/messages/m-1", r.URL.Path)
		var body messageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Empty(t, body.Embeds)
		_, _ = w.Write([]byte(`{"id":"m-1"}`))
	})

	require.NoError(t, c.Edit(context.Background(), "dm-9", "m-1", domain.Delivery{Text: "bye"}))
	require.Error(t, c.Edit(context.Background(), "dm-9", "", domain.Delivery{}))
}

func TestChannelNotFound(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status 404": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		},
		"unknown channel code": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"code":10003,"message":"Unknown Channel"}`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestClient(t, h)
			_, err := c.Send(context.Background(), "dm-9", domain.Delivery{Text: "x"})
			require.ErrorIs(t, err, ErrChannelNotFound)
			require.ErrorIs(t, err, domain.ErrChannelNotFound)
			var se *HTTPStatusError
			require.ErrorAs(t, err, &se)
		})
	}
}

func TestEdit_NotFoundKinds(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		want    error
		notWant error
	}{
		{"unknown message code", http.StatusNotFound, `{"code":10008,"message":"Unknown Message"}`, ErrMessageNotFound, ErrChannelNotFound},
		{"bare 404 on message", http.StatusNotFound, `{"message":"Not Found"}`, ErrMessageNotFound, ErrChannelNotFound},
		{"unknown channel code", http.StatusNotFound, `{"code":10003,"message":"Unknown Channel"}`, ErrChannelNotFound, ErrMessageNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			err := c.Edit(context.Background(), "dm-9", "m-1", domain.Delivery{Text: "x"})
			require.ErrorIs(t, err, tc.want)
			require.False(t, errors.Is(err, tc.notWant))
		})
	}
}

func TestOtherStatusIsPlainError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":0}`))
	})
	_, err := c.Send(context.Background(), "dm-9", domain.Delivery{Text: "x"})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrChannelNotFound))
	var se *HTTPStatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusInternalServerError, se.HTTPStatusCode())
}

func TestTokenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	}))
	defer srv.Close()
	c, err := NewClient(&fakeGetter{value: `{"token":""}`}, "/mc", WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.Send(context.Background(), "dm-9", domain.Delivery{Text: "x"})
	require.ErrorContains(t, err, "chat:")
}

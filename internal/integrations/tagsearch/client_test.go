package tagsearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearchByTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/posts.json", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "cat_ears smile", q.Get("tags"))
		require.Equal(t, "20", q.Get("limit"))
		require.Equal(t, "3", q.Get("page"))
		_, _ = w.Write([]byte(`[
			{"id":1,"file_url":"https://cdn.example/1.png","score":12,"tag_string":"cat_ears smile"},
			{"id":2,"large_file_url":"https://cdn.example/2.jpg","score":3,"tag_string":"smile"},
			{"id":3,"score":50,"tag_string":"restricted"}
		]`))
	}))
	defer srv.Close()

	page, err := NewClient(WithBaseURL(srv.URL)).SearchByTag(context.Background(), []string{"cat_ears", "smile"}, 20, 2)
	require.NoError(t, err)
	require.Equal(t, 3, page.Received)
	items := page.Items
	require.Len(t, items, 2)
	require.Equal(t, "https://cdn.example/1.png", items[0].Locator)
	require.Equal(t, 12, items[0].Score)
	require.Equal(t, []string{"cat_ears", "smile"}, items[0].Tags)
	require.Equal(t, "#1", items[0].Title)
	require.Equal(t, "https://cdn.example/2.jpg", items[1].Locator)
}

func TestSearchByTag_Validation(t *testing.T) {
	c := NewClient(WithBaseURL("http://127.0.0.1:1"))
	_, err := c.SearchByTag(context.Background(), nil, 10, 0)
	require.Error(t, err)
	_, err = c.SearchByTag(context.Background(), []string{"a"}, 0, 0)
	require.Error(t, err)
	_, err = c.SearchByTag(context.Background(), []string{"a"}, 10, -1)
	require.Error(t, err)
}

func TestSearchByTag_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).SearchByTag(context.Background(), []string{"a"}, 10, 0)
	var se *HTTPStatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusTooManyRequests, se.HTTPStatusCode())
}

func TestSearchByTag_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).SearchByTag(context.Background(), []string{"a"}, 10, 0)
	require.ErrorContains(t, err, "decode")
}

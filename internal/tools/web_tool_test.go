package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	query string
	err   error
}

func (f *fakeSearcher) Call(_ context.Context, query string) (string, error) {
	f.query = query
	return "1. Go 1.25 released", f.err
}

const articleHTML = `<html><head><title>Release notes</title></head><body>
<nav>Home | About</nav>
<article><h1>Release notes</h1>
<p>The new release improves the scheduler and adds several tools for reading mail.</p>
<p>Upgrading is recommended for everyone running the assistant in production.</p>
<script>alert("x")</script>
</article></body></html>`

func TestWebTools_ReadPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	web := &WebTools{Client: srv.Client()}
	ctx := context.Background()

	page, err := web.ReadPage(ctx, srv.URL+"/notes")
	require.NoError(t, err)
	assert.Contains(t, page.Content, "improves the scheduler")
	assert.NotContains(t, page.Content, "<p>")
	assert.NotContains(t, page.Content, "alert")
	assert.False(t, page.Truncated)

	web.MaxChars = 10
	page, err = web.ReadPage(ctx, srv.URL+"/notes")
	require.NoError(t, err)
	assert.True(t, page.Truncated)
	assert.True(t, strings.HasSuffix(page.Content, "... (content truncated)"))

	_, err = web.ReadPage(ctx, srv.URL+"/missing")
	assert.EqualError(t, err, "Page read failed: status code 404")

	_, err = web.ReadPage(ctx, "file:///etc/passwd")
	assert.Error(t, err)
}

func TestWebTools_Search(t *testing.T) {
	s := &fakeSearcher{}
	r := NewRegistry()
	require.NoError(t, r.RegisterCategory("web_tool", (&WebTools{Search: s}).Functions()))

	out, err := r.Call(context.Background(), "web_tool.search", map[string]any{"query": "go release"})
	require.NoError(t, err)
	assert.Equal(t, SearchResults{Query: "go release", Results: "1. Go 1.25 released"}, out)
	assert.Equal(t, "go release", s.query)

	s.err = errors.New("rate limited")
	_, err = r.Call(context.Background(), "web_tool.search", map[string]any{"query": "again"})
	assert.ErrorIs(t, err, ErrExecution)
	assert.Contains(t, err.Error(), "Web search failed: rate limited")
}

package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerpAPI_Search(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"organic_results":[{"link":"https://a.example"},{"title":"no link"},{"link":"https://b.example"},{"link":"https://c.example"}]}`))
	}))
	defer srv.Close()

	s := NewSerpAPI("secret", srv.Client())
	s.BaseURL = srv.URL

	links, err := s.Search(context.Background(), "go generics", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, links)
	assert.Contains(t, gotQuery, "engine=google")
	assert.Contains(t, gotQuery, "num=2")
	assert.Contains(t, gotQuery, "api_key=secret")
	assert.Contains(t, gotQuery, "q=go+generics")
}

func TestSerpAPI_NoOrganicResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"search_metadata":{}}`))
	}))
	defer srv.Close()

	s := NewSerpAPI("secret", srv.Client())
	s.BaseURL = srv.URL

	links, err := s.Search(context.Background(), "nothing", 5)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestSerpAPI_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid API key"}`))
	}))
	defer srv.Close()

	s := NewSerpAPI("bad", srv.Client())
	s.BaseURL = srv.URL
	_, err := s.Search(context.Background(), "q", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	_, err = NewSerpAPI("", nil).Search(context.Background(), "q", 5)
	assert.Error(t, err)
}

const arxivFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v7</id>
    <title>Attention Is All You Need</title>
    <link href="http://arxiv.org/abs/1706.03762v7" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/1706.03762v7" rel="related" type="application/pdf"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/1810.04805v2</id>
    <title>BERT</title>
  </entry>
</feed>`

func TestArxiv_Search(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("search_query")
		_, _ = w.Write([]byte(arxivFeed))
	}))
	defer srv.Close()

	a := NewArxiv(srv.Client())
	a.BaseURL = srv.URL

	links, err := a.Search(context.Background(), "transformers", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://arxiv.org/abs/1706.03762v7", "http://arxiv.org/abs/1810.04805v2"}, links)
	assert.Equal(t, "all:transformers", gotQuery)

	links, err = a.Search(context.Background(), "transformers", 1)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestJinaReader_Fetch(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("Readable page text"))
	}))
	defer srv.Close()

	j := NewJinaReader("jina-key", srv.Client())
	j.BaseURL = srv.URL + "/"

	text, err := j.Fetch(context.Background(), "https://example.com/post")
	require.NoError(t, err)
	assert.Equal(t, "Readable page text", text)
	assert.Equal(t, "Bearer jina-key", gotAuth)
	assert.Equal(t, "/https://example.com/post", gotPath)
}

func TestJinaReader_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("cannot read"))
	}))
	defer srv.Close()

	j := NewJinaReader("jina-key", srv.Client())
	j.BaseURL = srv.URL + "/"

	text, err := j.Fetch(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Empty(t, text)
	assert.Contains(t, err.Error(), "422")
}

func TestDirectFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/html":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html><body><nav>Menu</nav><main>\n<h1>Findings</h1>\n<p>Water   boils at 100C.</p>\n</main><footer>Footer</footer></body></html>"))
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("line one\n\n   line two  "))
		case "/pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := NewDirectFetcher(srv.Client())

	text, err := d.Fetch(context.Background(), srv.URL+"/html")
	require.NoError(t, err)
	assert.Equal(t, "Findings\nWater boils at 100C.", text)

	text, err = d.Fetch(context.Background(), srv.URL+"/plain")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", text)

	_, err = d.Fetch(context.Background(), srv.URL+"/pdf")
	assert.Error(t, err)

	_, err = d.Fetch(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)

	_, err = d.Fetch(context.Background(), "not-a-url")
	assert.Error(t, err)
}

func TestExtractMainText_FallbackToBody(t *testing.T) {
	text, err := ExtractMainText(strings.NewReader(`<html><body><script>x()</script><div>Plain body</div></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Plain body", text)
}

type countingFetcher struct {
	calls atomic.Int32
	text  string
	err   error
}

func (f *countingFetcher) Fetch(_ context.Context, _ string) (string, error) {
	f.calls.Add(1)
	return f.text, f.err
}

func TestCachedFetcher(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	t.Run("read-through", func(t *testing.T) {
		next := &countingFetcher{text: "page body"}
		c := NewCachedFetcher(next, rdb, time.Hour)

		for i := 0; i < 3; i++ {
			text, err := c.Fetch(context.Background(), "https://example.com/a")
			require.NoError(t, err)
			assert.Equal(t, "page body", text)
		}
		assert.Equal(t, int32(1), next.calls.Load())
		assert.True(t, mr.Exists(pageCacheKey("https://example.com/a")))
	})

	t.Run("empty text is not cached", func(t *testing.T) {
		next := &countingFetcher{}
		c := NewCachedFetcher(next, rdb, time.Hour)

		_, _ = c.Fetch(context.Background(), "https://example.com/empty")
		_, _ = c.Fetch(context.Background(), "https://example.com/empty")
		assert.Equal(t, int32(2), next.calls.Load())
	})

	t.Run("errors pass through", func(t *testing.T) {
		next := &countingFetcher{err: errors.New("boom")}
		c := NewCachedFetcher(next, rdb, time.Hour)

		_, err := c.Fetch(context.Background(), "https://example.com/err")
		assert.Error(t, err)
		assert.False(t, mr.Exists(pageCacheKey("https://example.com/err")))
	})
}

func TestCachedFetcher_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	next := &countingFetcher{text: "still works"}
	c := NewCachedFetcher(next, rdb, time.Hour)

	text, err := c.Fetch(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "still works", text)
}

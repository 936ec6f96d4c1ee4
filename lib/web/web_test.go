package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcherGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>hello</html>"))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("a", 100)))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer server.Close()

	f := NewFetcher(2 * time.Second)

	t.Run("returns body and headers", func(t *testing.T) {
		body, header, err := f.Get(context.Background(), server.URL+"/ok")
		require.NoError(t, err)
		assert.Equal(t, "<html>hello</html>", string(body))
		assert.Equal(t, "text/html", header.Get("Content-Type"))
	})

	t.Run("non 2xx is a status error", func(t *testing.T) {
		_, _, err := f.Get(context.Background(), server.URL+"/blocked")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrStatus))
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusForbidden, se.Code)
	})

	t.Run("body is capped", func(t *testing.T) {
		capped := &Fetcher{Client: server.Client(), MaxBody: 10}
		body, _, err := capped.Get(context.Background(), server.URL+"/big")
		require.NoError(t, err)
		assert.Len(t, body, 10)
	})

	t.Run("context deadline aborts", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, _, err := f.Get(ctx, server.URL+"/slow")
		assert.Error(t, err)
	})
}

func TestStripScriptsAndStyles(t *testing.T) {
	in := `<html><head><style>.a{color:red}</style><script>var x = "<p>not content</p>";</script></head>` +
		`<body><div class="article-body" style="color:blue" onclick="evil()"><p>Kept &amp; text</p></div>` +
		`<noscript>enable js</noscript></body></html>`

	out, err := StripScriptsAndStyles(strings.NewReader(in))
	require.NoError(t, err)

	assert.NotContains(t, out, "color:red")
	assert.NotContains(t, out, "not content")
	assert.NotContains(t, out, "enable js")
	assert.NotContains(t, out, "onclick")
	assert.NotContains(t, out, "color:blue")
	assert.Contains(t, out, `class="article-body"`)
	assert.Contains(t, out, "Kept &amp; text")
}

func TestStripScriptsUnterminated(t *testing.T) {
	out, err := StripScriptsAndStyles(strings.NewReader(`<p>before</p><script>never closed`))
	require.NoError(t, err)
	assert.Contains(t, out, "before")
	assert.NotContains(t, out, "never closed")
}

func TestLooksLikeHTML(t *testing.T) {
	assert.True(t, LooksLikeHTML([]byte("  <!DOCTYPE html><html>")))
	assert.True(t, LooksLikeHTML([]byte("<html><body>error</body></html>")))
	assert.False(t, LooksLikeHTML([]byte(`{"items": []}`)))
	assert.False(t, LooksLikeHTML(nil))
}

func TestGetDomainAndHostMatches(t *testing.T) {
	assert.Equal(t, "reuters.com", GetDomain("https://www.Reuters.com/world/x"))
	assert.Equal(t, "old.reddit.com", GetDomain("https://old.reddit.com/r/news"))
	assert.Equal(t, "reddit.com", GetDomain("reddit.com"))

	assert.True(t, HostMatches("old.reddit.com", "reddit.com"))
	assert.True(t, HostMatches("www.reddit.com", "reddit.com"))
	assert.False(t, HostMatches("notreddit.com", "reddit.com"))
	assert.False(t, HostMatches("", "reddit.com"))
}

func TestFetcherPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if r.Header.Get("x-token") != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string][]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"a", "b"}, body["tags"])
	}))
	defer server.Close()

	f := &Fetcher{Client: server.Client()}
	payload := map[string][]string{"tags": {"a", "b"}}

	require.NoError(t, f.PostJSON(context.Background(), server.URL, payload, map[string]string{"x-token": "s3cret"}))

	err := f.PostJSON(context.Background(), server.URL, payload, nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
}

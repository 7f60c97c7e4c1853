package assetadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipsync/server/internal/store"
)

// redirectTransport forces every outbound request onto the local
// httptest.Server regardless of the scheme/host the adapter dialed,
// so the adapter's hardcoded youtube.com URLs can be exercised without
// a real network call.
type redirectTransport struct {
	target *url.URL
}

func (t redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	req.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newTestAdapter(t *testing.T, handler http.Handler) (*Adapter, store.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	s, err := store.NewRedisStore(&store.Config{Host: mr.Host(), Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	a := New(s)
	a.client = &http.Client{Transport: redirectTransport{target: target}}
	return a, s
}

func videoIDFromOembedURL(r *http.Request) string {
	inner := r.URL.Query().Get("url")
	u, err := url.Parse(inner)
	if err != nil {
		return ""
	}
	return u.Query().Get("v")
}

func oembedHandler(w http.ResponseWriter, r *http.Request) {
	id := videoIDFromOembedURL(r)
	_ = json.NewEncoder(w).Encode(oembedResult{
		Title:        "title-" + id,
		AuthorName:   "channel-" + id,
		ThumbnailURL: "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg",
	})
}

func TestIsEmbeddable_CacheHitSkipsProbe(t *testing.T) {
	var calls atomic.Int32
	a, s := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	ctx := context.Background()
	require.NoError(t, s.SetTTL(ctx, embedCacheKey("v1"), []byte("true"), embedCacheTTL))

	embeddable, err := a.IsEmbeddable(ctx, "v1")

	require.NoError(t, err)
	assert.True(t, embeddable)
	assert.Zero(t, calls.Load(), "a cache hit must not re-probe")
}

func TestIsEmbeddable_SuccessfulProbeCachesTrue(t *testing.T) {
	a, s := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	ctx := context.Background()

	embeddable, err := a.IsEmbeddable(ctx, "v1")

	require.NoError(t, err)
	assert.True(t, embeddable)

	cached, err := s.Get(ctx, embedCacheKey("v1"))
	require.NoError(t, err)
	assert.Equal(t, "true", string(cached))
}

func TestIsEmbeddable_RejectedProbeCachesFalse(t *testing.T) {
	a, s := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	ctx := context.Background()

	embeddable, err := a.IsEmbeddable(ctx, "v1")

	require.NoError(t, err)
	assert.False(t, embeddable)

	cached, err := s.Get(ctx, embedCacheKey("v1"))
	require.NoError(t, err)
	assert.Equal(t, "false", string(cached))
}

func TestExpandPlaylist_ReturnsVideosInDocumentOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/playlist", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `blah "videoId":"aaaaaaaaaaa" blah "videoId":"bbbbbbbbbbb" blah`)
	})
	mux.HandleFunc("/oembed", oembedHandler)
	a, _ := newTestAdapter(t, mux)

	videos, err := a.ExpandPlaylist(context.Background(), "PL123")

	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, "aaaaaaaaaaa", videos[0].ID)
	assert.Equal(t, "title-aaaaaaaaaaa", videos[0].Title)
	assert.Equal(t, "bbbbbbbbbbb", videos[1].ID)
	assert.Equal(t, "title-bbbbbbbbbbb", videos[1].Title)
}

func TestExpandPlaylist_DeduplicatesRepeatedIDs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/playlist", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `"videoId":"aaaaaaaaaaa" "videoId":"aaaaaaaaaaa"`)
	})
	mux.HandleFunc("/oembed", oembedHandler)
	a, _ := newTestAdapter(t, mux)

	videos, err := a.ExpandPlaylist(context.Background(), "PL123")

	require.NoError(t, err)
	assert.Len(t, videos, 1)
}

func TestExpandPlaylist_PropagatesPlaylistPageError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/playlist", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	a, _ := newTestAdapter(t, mux)

	_, err := a.ExpandPlaylist(context.Background(), "PL123")

	assert.Error(t, err)
}

func TestSearch_ReturnsVideosAndContinuationToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/results", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `"videoId":"aaaaaaaaaaa" "videoId":"bbbbbbbbbbb"`)
	})
	mux.HandleFunc("/oembed", oembedHandler)
	a, _ := newTestAdapter(t, mux)

	result, err := a.Search(context.Background(), "cats", "")

	require.NoError(t, err)
	require.Len(t, result.Videos, 2)
	assert.NotEmpty(t, result.Continuation)
}

func TestSearch_ContinuationResumesAtStoredOffset(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/results", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `"videoId":"aaaaaaaaaaa" "videoId":"bbbbbbbbbbb"`)
	})
	mux.HandleFunc("/oembed", oembedHandler)
	a, _ := newTestAdapter(t, mux)
	ctx := context.Background()

	first, err := a.Search(ctx, "cats", "")
	require.NoError(t, err)

	second, err := a.Search(ctx, "cats", first.Continuation)

	require.NoError(t, err)
	assert.Empty(t, second.Videos, "only two results exist and the first page already consumed both")
}

func TestRelated_ExcludesTheSeedVideo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `"videoId":"aaaaaaaaaaa" "videoId":"bbbbbbbbbbb"`)
	})
	mux.HandleFunc("/oembed", oembedHandler)
	a, _ := newTestAdapter(t, mux)

	result, err := a.Related(context.Background(), "aaaaaaaaaaa", "")

	require.NoError(t, err)
	require.Len(t, result.Videos, 1)
	assert.Equal(t, "bbbbbbbbbbb", result.Videos[0].ID)
}

func TestSuggestions_ParsesAutocompleteResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/complete/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `["cats",["cats video","cats funny","cats sleeping"]]`)
	})
	a, _ := newTestAdapter(t, mux)

	suggestions, err := a.Suggestions(context.Background(), "cats")

	require.NoError(t, err)
	assert.Equal(t, []string{"cats video", "cats funny", "cats sleeping"}, suggestions)
}

func TestSuggestions_PropagatesNonOKStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/complete/search", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	a, _ := newTestAdapter(t, mux)

	_, err := a.Suggestions(context.Background(), "cats")

	assert.Error(t, err)
}

func TestFetchMetadata_FallsBackToPageScrapeWhenOembedFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oembed", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	mux.HandleFunc("/aaaaaaaaaaa", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Scraped Title</title>
<link itemprop="name" content="Scraped Channel"></head><body></body></html>`)
	})
	a, _ := newTestAdapter(t, mux)

	v, err := a.fetchMetadata(context.Background(), "aaaaaaaaaaa")

	require.NoError(t, err)
	assert.Equal(t, "Scraped Title", v.Title)
	assert.Equal(t, "Scraped Channel", v.ChannelName)
}

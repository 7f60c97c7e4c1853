package assetadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/clipsync/server/internal/domain"
	"github.com/google/uuid"
)

const paginationCursorTTL = 5 * time.Minute

// SearchResult is one page of a search/related query, with an opaque
// continuation token the caller passes back to fetch the next page
// (spec §6's POST /search and /related).
type SearchResult struct {
	Videos       []domain.Video `json:"videos"`
	Continuation string         `json:"continuation"`
}

// cursor is what a continuation token resolves to in the shared store:
// enough to resume a scrape at the next page boundary. Real YouTube
// continuation tokens are opaque protobuf blobs; this adapter instead
// tracks a page offset itself and hands the caller an opaque uuid, which
// keeps the pagination contract (opaque token in, opaque token out)
// without needing to decode YouTube's internal format.
type cursor struct {
	Query  string `json:"query"`
	Offset int    `json:"offset"`
}

func searchCursorKey(token string) string  { return "search-instance:" + token }
func relatedCursorKey(token string) string { return "related-instance:" + token }

const pageSize = 20

// Search implements /search: scrapes YouTube's search results page,
// returning up to pageSize videos and a continuation token for the next
// page. A supplied continuation resumes from the stored offset.
func (a *Adapter) Search(ctx context.Context, query, continuation string) (SearchResult, error) {
	cur := cursor{Query: query, Offset: 0}
	if continuation != "" {
		stored, err := a.store.Get(ctx, searchCursorKey(continuation))
		if err == nil {
			_ = json.Unmarshal(stored, &cur)
		}
	}

	ids, err := a.scrapeSearchIDs(ctx, cur.Query, cur.Offset, pageSize)
	if err != nil {
		return SearchResult{}, err
	}

	videos := make([]domain.Video, 0, len(ids))
	for _, id := range ids {
		v, err := a.fetchMetadata(ctx, id)
		if err != nil {
			continue
		}
		videos = append(videos, v)
	}

	next := cursor{Query: cur.Query, Offset: cur.Offset + len(ids)}
	token, err := a.storeCursor(ctx, searchCursorKey, next)
	if err != nil {
		return SearchResult{}, err
	}

	return SearchResult{Videos: videos, Continuation: token}, nil
}

// Related implements /related: same pagination mechanics as Search, but
// seeded from a video id instead of a text query.
func (a *Adapter) Related(ctx context.Context, videoID, continuation string) (SearchResult, error) {
	cur := cursor{Query: videoID, Offset: 0}
	if continuation != "" {
		stored, err := a.store.Get(ctx, relatedCursorKey(continuation))
		if err == nil {
			_ = json.Unmarshal(stored, &cur)
		}
	}

	ids, err := a.scrapeRelatedIDs(ctx, cur.Query, cur.Offset, pageSize)
	if err != nil {
		return SearchResult{}, err
	}

	videos := make([]domain.Video, 0, len(ids))
	for _, id := range ids {
		v, err := a.fetchMetadata(ctx, id)
		if err != nil {
			continue
		}
		videos = append(videos, v)
	}

	next := cursor{Query: cur.Query, Offset: cur.Offset + len(ids)}
	token, err := a.storeCursor(ctx, relatedCursorKey, next)
	if err != nil {
		return SearchResult{}, err
	}

	return SearchResult{Videos: videos, Continuation: token}, nil
}

func (a *Adapter) storeCursor(ctx context.Context, keyFn func(string) string, cur cursor) (string, error) {
	token := uuid.NewString()
	blob, err := json.Marshal(cur)
	if err != nil {
		return "", err
	}
	if err := a.store.SetTTL(ctx, keyFn(token), blob, paginationCursorTTL); err != nil {
		return "", err
	}
	return token, nil
}

func (a *Adapter) scrapeSearchIDs(ctx context.Context, query string, offset, limit int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	u := "https://www.youtube.com/results?search_query=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("assetadapter: search page status %d", resp.StatusCode)
	}

	ids := extractVideoIDs(resp.Body)
	return page(ids, offset, limit), nil
}

func (a *Adapter) scrapeRelatedIDs(ctx context.Context, videoID string, offset, limit int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	u := "https://www.youtube.com/watch?v=" + url.QueryEscape(videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("assetadapter: watch page status %d", resp.StatusCode)
	}

	ids := extractVideoIDs(resp.Body)
	ids = removeID(ids, videoID)
	return page(ids, offset, limit), nil
}

func page(ids []string, offset, limit int) []string {
	if offset >= len(ids) {
		return nil
	}
	end := min(offset+limit, len(ids))
	return ids[offset:end]
}

func removeID(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

// Suggestions implements /suggestions against YouTube's public
// autocomplete endpoint, the same unauthenticated-HTTP posture as the
// rest of this adapter.
func (a *Adapter) Suggestions(ctx context.Context, query string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	u := "https://suggestqueries.google.com/complete/search?client=firefox&ds=yt&q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("assetadapter: suggest status %d", resp.StatusCode)
	}

	// The endpoint replies [query, [suggestion, ...]].
	var parsed [2]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	var suggestions []string
	if err := json.Unmarshal(parsed[1], &suggestions); err != nil {
		return nil, err
	}
	return suggestions, nil
}

package assetadapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/clipsync/server/internal/domain"
	"golang.org/x/net/html"
)

// fetchMetadataFromPage scrapes a watch page directly, the teacher's
// fallback path (pkg/ytvideodata/parser.go) for when oembed fails
// without necessarily meaning "not embeddable" (rate limiting, a
// malformed oembed response, ...).
func (a *Adapter) fetchMetadataFromPage(ctx context.Context, videoID string) (domain.Video, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://youtu.be/"+videoID, nil)
	if err != nil {
		return domain.Video{}, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.Video{}, err
	}
	defer resp.Body.Close()

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return domain.Video{}, err
	}

	return domain.Video{
		ID:           videoID,
		Title:        getTitle(doc),
		ChannelName:  getLinkContent(doc),
		ThumbnailURL: fmt.Sprintf("https://i.ytimg.com/vi/%s/hqdefault.jpg", videoID),
		URL:          "https://www.youtube.com/watch?v=" + videoID,
	}, nil
}

func getTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
		return n.FirstChild.Data
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if title := getTitle(c); title != "" {
			return title
		}
	}
	return ""
}

// getLinkContent reads <link itemprop="name" content="..."> which
// YouTube's watch page sets to the channel name.
func getLinkContent(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "link" {
		hasNameItemprop := false
		for _, attr := range n.Attr {
			if attr.Key == "itemprop" && attr.Val == "name" {
				hasNameItemprop = true
			}
		}
		if hasNameItemprop {
			for _, attr := range n.Attr {
				if attr.Key == "content" {
					return attr.Val
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if content := getLinkContent(c); content != "" {
			return content
		}
	}
	return ""
}

// videoIDPattern matches the "videoId":"<id>" fields YouTube embeds in
// a playlist page's ytInitialData JSON blob. A full JSON parse would
// require locating and isolating that blob first; a playlist page's
// entry order is already the order ids appear in document source, so a
// straight regex scan preserves ordering without that extra step.
var videoIDPattern = regexp.MustCompile(`"videoId":"([a-zA-Z0-9_-]{11})"`)

func extractVideoIDs(body io.Reader) []string {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, m := range videoIDPattern.FindAllStringSubmatch(string(data), -1) {
		id := m[1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
		if len(ids) >= maxPlaylist {
			break
		}
	}
	return ids
}

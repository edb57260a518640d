package youtube

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

const defaultBaseURL = "https://www.googleapis.com/youtube/v3"

// Adapter fetches channel statistics from the YouTube Data API v3.
type Adapter struct {
	req     *platform.Requester
	apiKey  string
	baseURL string
}

// New creates a YouTube adapter. An empty baseURL selects the public API.
func New(client *http.Client, limiter *platform.RateLimiterMap, logger *slog.Logger, apiKey, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		req:     platform.NewRequester(platform.NameYouTube, client, limiter, logger),
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the platform identifier.
func (a *Adapter) Name() platform.Name { return platform.NameYouTube }

// Fetch returns the raw channels.list document for a channel id. An empty
// item list means the channel does not exist.
func (a *Adapter) Fetch(ctx context.Context, channelID string, _ platform.DateRange) (*platform.Payload, error) {
	body, _, err := a.channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return &platform.Payload{Body: body, Status: platform.StatusOK, Requests: 1}, nil
}

// FetchProfile returns the channel title, its largest thumbnail and the
// channel URL.
func (a *Adapter) FetchProfile(ctx context.Context, channelID string) (*platform.Profile, error) {
	_, doc, err := a.channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	item := doc.Items[0]
	prof := &platform.Profile{Name: item.Snippet.Title, URL: ChannelURL(channelID)}
	for _, size := range thumbnailSizes {
		if th, ok := item.Snippet.Thumbnails[size]; ok && th.URL != "" {
			prof.ImageURL = th.URL
			break
		}
	}
	return prof, nil
}

func (a *Adapter) channel(ctx context.Context, channelID string) ([]byte, *channelsResponse, error) {
	params := url.Values{
		"part": {"statistics,snippet"},
		"id":   {channelID},
		"key":  {a.apiKey},
	}
	body, err := a.req.Get(ctx, channelID, a.baseURL+"/channels?"+params.Encode(), nil)
	if err != nil {
		return nil, nil, err
	}

	var doc channelsResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, nil, &platform.FetchError{Platform: platform.NameYouTube, ID: channelID, Cause: fmt.Errorf("parsing channels response: %w", err)}
	}
	if len(doc.Items) == 0 {
		return nil, nil, &platform.NotFoundError{Platform: platform.NameYouTube, ID: channelID}
	}
	return body, &doc, nil
}

// SearchArtist searches YouTube channels by name.
func (a *Adapter) SearchArtist(ctx context.Context, name string, limit int) ([]platform.SearchResult, error) {
	if name == "" {
		return nil, nil
	}
	params := url.Values{
		"part":       {"snippet"},
		"type":       {"channel"},
		"q":          {name},
		"maxResults": {strconv.Itoa(limit)},
		"key":        {a.apiKey},
	}
	body, err := a.req.Get(ctx, name, a.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	results := make([]platform.SearchResult, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it.ID.ChannelID == "" {
			continue
		}
		results = append(results, platform.SearchResult{
			ID:   it.ID.ChannelID,
			Name: it.Snippet.Title,
			URL:  ChannelURL(it.ID.ChannelID),
		})
	}
	return results, nil
}

// ChannelURL returns the canonical URL for a channel id.
func ChannelURL(channelID string) string {
	return "https://www.youtube.com/channel/" + channelID
}

type channelsResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title      string               `json:"title"`
			Thumbnails map[string]thumbnail `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

type thumbnail struct {
	URL string `json:"url"`
}

// thumbnailSizes lists YouTube thumbnail keys, largest first.
var thumbnailSizes = []string{"maxres", "high", "medium", "default"}

type searchResponse struct {
	Items []struct {
		ID struct {
			ChannelID string `json:"channelId"`
		} `json:"id"`
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
	} `json:"items"`
}

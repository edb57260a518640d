package wikipedia

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

const (
	defaultBaseURL   = "https://wikimedia.org/api/rest_v1"
	defaultSearchURL = "https://en.wikipedia.org/w/api.php"
	defaultSummary   = "https://en.wikipedia.org/api/rest_v1/page/summary"
	defaultProject   = "en.wikipedia"
	defaultUserAgent = "artistdata/1.0 (popularity tracking)"
)

// Config holds the Wikimedia settings.
type Config struct {
	BaseURL    string
	SearchURL  string
	SummaryURL string
	Project    string
	UserAgent  string
}

// Adapter fetches daily per-article pageviews. Platform artist ids are
// article titles.
type Adapter struct {
	req        *platform.Requester
	baseURL    string
	searchURL  string
	summaryURL string
	project    string
	header     http.Header
}

// New creates a Wikipedia adapter. Wikimedia requires a descriptive
// User-Agent on every request.
func New(cfg Config, client *http.Client, limiter *platform.RateLimiterMap, logger *slog.Logger) *Adapter {
	baseURL := orDefault(cfg.BaseURL, defaultBaseURL)
	h := http.Header{}
	h.Set("User-Agent", orDefault(cfg.UserAgent, defaultUserAgent))
	return &Adapter{
		req:        platform.NewRequester(platform.NameWikipedia, client, limiter, logger),
		baseURL:    strings.TrimRight(baseURL, "/"),
		searchURL:  orDefault(cfg.SearchURL, defaultSearchURL),
		summaryURL: strings.TrimRight(orDefault(cfg.SummaryURL, defaultSummary), "/"),
		project:    orDefault(cfg.Project, defaultProject),
		header:     h,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Name returns the platform identifier.
func (a *Adapter) Name() platform.Name { return platform.NameWikipedia }

// Fetch returns the raw per-article daily pageviews document for the range.
func (a *Adapter) Fetch(ctx context.Context, title string, r platform.DateRange) (*platform.Payload, error) {
	if title == "" {
		return nil, &platform.NotFoundError{Platform: platform.NameWikipedia, ID: title}
	}
	reqURL := fmt.Sprintf("%s/metrics/pageviews/per-article/%s/all-access/user/%s/daily/%s/%s",
		a.baseURL,
		a.project,
		url.PathEscape(ArticleKey(title)),
		r.Start.Format("20060102")+"00",
		r.End.Format("20060102")+"00",
	)
	body, err := a.req.Get(ctx, title, reqURL, a.header)
	if err != nil {
		return nil, err
	}
	return &platform.Payload{Body: body, Status: platform.StatusOK, Requests: 1}, nil
}

// SearchArtist finds article titles through the opensearch action API.
func (a *Adapter) SearchArtist(ctx context.Context, name string, limit int) ([]platform.SearchResult, error) {
	if name == "" {
		return nil, nil
	}
	params := url.Values{
		"action":    {"opensearch"},
		"search":    {name},
		"limit":     {strconv.Itoa(limit)},
		"namespace": {"0"},
		"format":    {"json"},
	}
	body, err := a.req.Get(ctx, name, a.searchURL+"?"+params.Encode(), a.header)
	if err != nil {
		return nil, err
	}

	// Response shape: [query, [titles], [descriptions], [urls]]
	var resp []json.RawMessage
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing opensearch response: %w", err)
	}
	if len(resp) < 4 {
		return nil, fmt.Errorf("parsing opensearch response: expected 4 elements, got %d", len(resp))
	}
	var titles, urls []string
	if err := json.Unmarshal(resp[1], &titles); err != nil {
		return nil, fmt.Errorf("parsing opensearch titles: %w", err)
	}
	if err := json.Unmarshal(resp[3], &urls); err != nil {
		return nil, fmt.Errorf("parsing opensearch urls: %w", err)
	}

	results := make([]platform.SearchResult, 0, len(titles))
	for i, t := range titles {
		res := platform.SearchResult{ID: t, Name: t}
		if i < len(urls) {
			res.URL = urls[i]
		}
		results = append(results, res)
	}
	return results, nil
}

// FetchProfile returns the article's display title, lead image and page
// URL from the REST page summary.
func (a *Adapter) FetchProfile(ctx context.Context, title string) (*platform.Profile, error) {
	if title == "" {
		return nil, &platform.NotFoundError{Platform: platform.NameWikipedia, ID: title}
	}
	body, err := a.req.Get(ctx, title, a.summaryURL+"/"+url.PathEscape(ArticleKey(title)), a.header)
	if err != nil {
		return nil, err
	}

	var doc summary
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &platform.FetchError{Platform: platform.NameWikipedia, ID: title, Cause: fmt.Errorf("parsing page summary: %w", err)}
	}
	name := doc.Title
	if name == "" {
		name = title
	}
	prof := &platform.Profile{Name: name, URL: doc.ContentURLs.Desktop.Page}
	switch {
	case doc.OriginalImage.Source != "":
		prof.ImageURL = doc.OriginalImage.Source
	case doc.Thumbnail.Source != "":
		prof.ImageURL = doc.Thumbnail.Source
	}
	return prof, nil
}

type summary struct {
	Title     string `json:"title"`
	Thumbnail struct {
		Source string `json:"source"`
	} `json:"thumbnail"`
	OriginalImage struct {
		Source string `json:"source"`
	} `json:"originalimage"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// ArticleKey converts a display title to the underscore form used in URLs.
func ArticleKey(title string) string {
	return strings.ReplaceAll(strings.TrimSpace(title), " ", "_")
}

package spotify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

const (
	defaultBaseURL  = "https://api.spotify.com/v1"
	defaultTokenURL = "https://accounts.spotify.com/api/token"
)

// Config holds the Spotify Web API settings.
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
	Market       string
	Timeout      time.Duration
}

// Adapter fetches artist and top-track documents from the Spotify Web API
// using the client credentials flow.
type Adapter struct {
	req     *platform.Requester
	logger  *slog.Logger
	baseURL string
	market  string
}

// New creates a Spotify adapter. The returned adapter's HTTP client obtains
// and refreshes app tokens transparently.
func New(cfg Config, limiter *platform.RateLimiterMap, logger *slog.Logger) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	market := cfg.Market
	if market == "" {
		market = "US"
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
	}
	// The token endpoint shares the request timeout.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
	client := cc.Client(tokenCtx)
	client.Timeout = timeout

	return &Adapter{
		req:     platform.NewRequester(platform.NameSpotify, client, limiter, logger),
		logger:  logger.With(slog.String("platform", string(platform.NameSpotify))),
		baseURL: strings.TrimRight(baseURL, "/"),
		market:  market,
	}
}

// Name returns the platform identifier.
func (a *Adapter) Name() platform.Name { return platform.NameSpotify }

// Fetch returns {"artist": ..., "top_tracks": ...}. A failed top-tracks call
// yields a partial payload with the artist document only.
func (a *Adapter) Fetch(ctx context.Context, id string, _ platform.DateRange) (*platform.Payload, error) {
	artistURL := fmt.Sprintf("%s/artists/%s", a.baseURL, url.PathEscape(id))
	artist, err := a.req.Get(ctx, id, artistURL, nil)
	if err != nil {
		return nil, mapTokenError(id, err)
	}

	doc := document{Artist: artist}
	status := platform.StatusOK

	tracksURL := fmt.Sprintf("%s/artists/%s/top-tracks?%s", a.baseURL, url.PathEscape(id), url.Values{"market": {a.market}}.Encode())
	tracks, err := a.req.Get(ctx, id, tracksURL, nil)
	switch {
	case err == nil:
		doc.TopTracks = tracks
	case ctx.Err() != nil:
		return nil, &platform.FetchError{Platform: platform.NameSpotify, ID: id, Cause: ctx.Err()}
	default:
		a.logger.Warn("top tracks unavailable, recording partial payload",
			slog.String("artist_id", id),
			slog.String("error", err.Error()))
		status = platform.StatusPartial
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding spotify payload: %w", err)
	}
	return &platform.Payload{Body: body, Status: status, Requests: 2}, nil
}

// SearchArtist searches the Spotify catalog for artists by name.
func (a *Adapter) SearchArtist(ctx context.Context, name string, limit int) ([]platform.SearchResult, error) {
	if name == "" {
		return nil, nil
	}
	params := url.Values{
		"q":     {name},
		"type":  {"artist"},
		"limit": {strconv.Itoa(limit)},
	}
	body, err := a.req.Get(ctx, name, a.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, mapTokenError(name, err)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	results := make([]platform.SearchResult, 0, len(resp.Artists.Items))
	for _, it := range resp.Artists.Items {
		results = append(results, platform.SearchResult{
			ID:   it.ID,
			Name: it.Name,
			URL:  it.ExternalURLs.Spotify,
		})
	}
	return results, nil
}

// FetchProfile returns the name, genres, largest image and public page of
// an artist.
func (a *Adapter) FetchProfile(ctx context.Context, id string) (*platform.Profile, error) {
	body, err := a.req.Get(ctx, id, fmt.Sprintf("%s/artists/%s", a.baseURL, url.PathEscape(id)), nil)
	if err != nil {
		return nil, mapTokenError(id, err)
	}
	var it artistItem
	if err := json.Unmarshal(body, &it); err != nil {
		return nil, &platform.FetchError{Platform: platform.NameSpotify, ID: id, Cause: fmt.Errorf("parsing artist response: %w", err)}
	}
	prof := &platform.Profile{Name: it.Name, Genres: it.Genres, URL: it.ExternalURLs.Spotify}
	// Spotify lists images widest first.
	if len(it.Images) > 0 {
		prof.ImageURL = it.Images[0].URL
	}
	return prof, nil
}

// mapTokenError turns token endpoint failures into permanent fetch errors;
// retrying with the same credentials cannot succeed.
func mapTokenError(id string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return &platform.FetchError{Platform: platform.NameSpotify, ID: id, StatusCode: status, Cause: fmt.Errorf("token request: %w", err)}
	}
	return err
}

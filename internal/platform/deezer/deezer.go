package deezer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/goccy/go-json"

	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

const defaultBaseURL = "https://api.deezer.com"

// Adapter fetches artist payloads from Deezer's public API. No
// authentication is required.
type Adapter struct {
	req     *platform.Requester
	logger  *slog.Logger
	baseURL string
}

// New creates a Deezer adapter. An empty baseURL selects the public API.
func New(client *http.Client, limiter *platform.RateLimiterMap, logger *slog.Logger, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		req:     platform.NewRequester(platform.NameDeezer, client, limiter, logger),
		logger:  logger.With(slog.String("platform", string(platform.NameDeezer))),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the platform identifier.
func (a *Adapter) Name() platform.Name { return platform.NameDeezer }

// Fetch returns the raw /artist/{id} document. Deezer reports a missing
// artist with a 200 and an "error" object, which is mapped to NotFoundError.
func (a *Adapter) Fetch(ctx context.Context, id string, _ platform.DateRange) (*platform.Payload, error) {
	body, _, err := a.artist(ctx, id)
	if err != nil {
		return nil, err
	}
	return &platform.Payload{Body: body, Status: platform.StatusOK, Requests: 1}, nil
}

// FetchProfile returns the artist's name, picture and Deezer page.
func (a *Adapter) FetchProfile(ctx context.Context, id string) (*platform.Profile, error) {
	_, doc, err := a.artist(ctx, id)
	if err != nil {
		return nil, err
	}
	img := doc.PictureXL
	if img == "" {
		img = doc.PictureBig
	}
	return &platform.Profile{Name: doc.Name, ImageURL: img, URL: doc.Link}, nil
}

func (a *Adapter) artist(ctx context.Context, id string) ([]byte, *artistDocument, error) {
	if !isDeezerID(id) {
		return nil, nil, &platform.NotFoundError{Platform: platform.NameDeezer, ID: id}
	}

	reqURL := fmt.Sprintf("%s/artist/%s", a.baseURL, url.PathEscape(id))
	body, err := a.req.Get(ctx, id, reqURL, nil)
	if err != nil {
		return nil, nil, err
	}

	var doc artistDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, nil, &platform.FetchError{Platform: platform.NameDeezer, ID: id, Cause: fmt.Errorf("parsing artist response: %w", err)}
	}
	if doc.Error != nil {
		if doc.Error.Code == quotaExceededCode {
			return nil, nil, &platform.FetchError{Platform: platform.NameDeezer, ID: id, Transient: true, Cause: fmt.Errorf("quota exceeded: %s", doc.Error.Message)}
		}
		return nil, nil, &platform.NotFoundError{Platform: platform.NameDeezer, ID: id}
	}
	return body, &doc, nil
}

// SearchArtist searches Deezer for artists matching the given name.
func (a *Adapter) SearchArtist(ctx context.Context, name string, limit int) ([]platform.SearchResult, error) {
	if name == "" {
		return nil, nil
	}

	params := url.Values{
		"q":     {name},
		"limit": {strconv.Itoa(limit)},
	}
	body, err := a.req.Get(ctx, name, a.baseURL+"/search/artist?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	results := make([]platform.SearchResult, 0, len(resp.Data))
	for _, r := range resp.Data {
		results = append(results, platform.SearchResult{
			ID:   strconv.Itoa(r.ID),
			Name: r.Name,
			URL:  r.Link,
		})
	}

	a.logger.Debug("artist search completed",
		slog.String("query", name),
		slog.Int("results", len(results)))

	return results, nil
}

// isDeezerID reports whether id is a valid Deezer artist ID (all digits).
func isDeezerID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

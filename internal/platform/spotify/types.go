package spotify

import "github.com/goccy/go-json"

// document is the payload handed to the normalizer.
type document struct {
	Artist    json.RawMessage `json:"artist"`
	TopTracks json.RawMessage `json:"top_tracks,omitempty"`
}

type searchResponse struct {
	Artists struct {
		Items []artistItem `json:"items"`
	} `json:"artists"`
}

type artistItem struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
	Genres []string `json:"genres"`
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

package spotify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"

	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

const artistFixture = `{"id":"4Z8W4fKeB5YxbusRsdQVPb","name":"Radiohead","followers":{"total":9412345},"popularity":79,"genres":["art rock","alternative rock"],"images":[{"url":"https://i.scdn.test/640.jpg","width":640},{"url":"https://i.scdn.test/160.jpg","width":160}],"external_urls":{"spotify":"https://open.spotify.com/artist/4Z8W4fKeB5YxbusRsdQVPb"}}`

const topTracksFixture = `{"tracks":[{"id":"t1","popularity":81,"duration_ms":238000},{"id":"t2","popularity":75,"duration_ms":262000}]}`

func newTestServer(t *testing.T, tokenCalls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if r.URL.Path == "/token" {
			atomic.AddInt32(tokenCalls, 1)
			if user, _, ok := r.BasicAuth(); !ok || user != "client" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid_client"}`)) //nolint:errcheck
				return
			}
			w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600}`)) //nolint:errcheck
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch {
		case r.URL.Path == "/v1/search":
			w.Write([]byte(`{"artists":{"items":[{"id":"4Z8W4fKeB5YxbusRsdQVPb","name":"Radiohead","external_urls":{"spotify":"https://open.spotify.com/artist/4Z8W4fKeB5YxbusRsdQVPb"}}]}}`)) //nolint:errcheck
		case strings.HasSuffix(r.URL.Path, "/top-tracks"):
			if strings.Contains(r.URL.Path, "partial") {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			if r.URL.Query().Get("market") != "FR" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte(topTracksFixture)) //nolint:errcheck
		case strings.HasPrefix(r.URL.Path, "/v1/artists/"):
			if strings.HasSuffix(r.URL.Path, "/missing") {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte(artistFixture)) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestAdapter(t *testing.T, srvURL, clientID string) *Adapter {
	t.Helper()
	limiter := platform.NewRateLimiterMap(map[platform.Name]float64{platform.NameSpotify: 1000})
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(Config{
		ClientID:     clientID,
		ClientSecret: "secret",
		BaseURL:      srvURL + "/v1",
		TokenURL:     srvURL + "/token",
		Market:       "FR",
	}, limiter, logger)
}

func TestFetch(t *testing.T) {
	var tokenCalls int32
	srv := newTestServer(t, &tokenCalls)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL, "client")

	p, err := a.Fetch(context.Background(), "4Z8W4fKeB5YxbusRsdQVPb", platform.DateRange{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Status != platform.StatusOK {
		t.Errorf("Status = %q, want ok", p.Status)
	}

	var doc document
	if err := json.Unmarshal(p.Body, &doc); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if string(doc.Artist) != artistFixture {
		t.Errorf("artist = %s", doc.Artist)
	}
	if string(doc.TopTracks) != topTracksFixture {
		t.Errorf("top_tracks = %s", doc.TopTracks)
	}

	if _, err := a.Fetch(context.Background(), "again", platform.DateRange{}); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if n := atomic.LoadInt32(&tokenCalls); n != 1 {
		t.Errorf("token requests = %d, want 1 (token reused)", n)
	}
}

func TestFetch_PartialWhenTopTracksFail(t *testing.T) {
	var tokenCalls int32
	srv := newTestServer(t, &tokenCalls)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL, "client")

	p, err := a.Fetch(context.Background(), "partial", platform.DateRange{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Status != platform.StatusPartial {
		t.Errorf("Status = %q, want partial", p.Status)
	}
	if strings.Contains(string(p.Body), "top_tracks") {
		t.Errorf("partial payload should omit top_tracks: %s", p.Body)
	}
}

func TestFetch_NotFound(t *testing.T) {
	var tokenCalls int32
	srv := newTestServer(t, &tokenCalls)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL, "client")

	_, err := a.Fetch(context.Background(), "missing", platform.DateRange{})
	var nf *platform.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("Fetch(missing) error = %v, want NotFoundError", err)
	}
}

func TestFetch_BadCredentialsArePermanent(t *testing.T) {
	var tokenCalls int32
	srv := newTestServer(t, &tokenCalls)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL, "wrong")

	_, err := a.Fetch(context.Background(), "4Z8W4fKeB5YxbusRsdQVPb", platform.DateRange{})
	if err == nil {
		t.Fatal("expected error with bad credentials")
	}
	if platform.IsTransient(err) {
		t.Errorf("token failure should not be transient: %v", err)
	}
}

func TestSearchArtist(t *testing.T) {
	var tokenCalls int32
	srv := newTestServer(t, &tokenCalls)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL, "client")

	results, err := a.SearchArtist(context.Background(), "radiohead", 3)
	if err != nil {
		t.Fatalf("SearchArtist: %v", err)
	}
	if len(results) != 1 || results[0].Name != "Radiohead" {
		t.Fatalf("unexpected results %+v", results)
	}
	if !strings.HasPrefix(results[0].URL, "https://open.spotify.com/artist/") {
		t.Errorf("URL = %q", results[0].URL)
	}
}

func TestFetchProfile(t *testing.T) {
	var tokenCalls int32
	srv := newTestServer(t, &tokenCalls)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL, "client")

	got, err := a.FetchProfile(context.Background(), "4Z8W4fKeB5YxbusRsdQVPb")
	if err != nil {
		t.Fatalf("FetchProfile: %v", err)
	}
	want := &platform.Profile{
		Name:     "Radiohead",
		Genres:   []string{"art rock", "alternative rock"},
		ImageURL: "https://i.scdn.test/640.jpg",
		URL:      "https://open.spotify.com/artist/4Z8W4fKeB5YxbusRsdQVPb",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("profile mismatch (-want +got):\n%s", diff)
	}

	_, err = a.FetchProfile(context.Background(), "missing")
	var nf *platform.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("FetchProfile(missing) error = %v, want NotFoundError", err)
	}
}

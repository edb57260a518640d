package deezer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

const artistFixture = `{"id":4050205,"name":"Radiohead","link":"https://www.deezer.com/artist/4050205","picture_big":"https://cdn.deezer.test/big.jpg","picture_xl":"https://cdn.deezer.test/xl.jpg","nb_album":38,"nb_fan":3217000,"type":"artist"}`

const searchFixture = `{"data":[{"id":4050205,"name":"Radiohead","link":"https://www.deezer.com/artist/4050205"}],"total":1}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == "/search/artist":
			if r.URL.Query().Get("q") == "no-results-query" {
				w.Write([]byte(`{"data":[],"total":0}`)) //nolint:errcheck
				return
			}
			w.Write([]byte(searchFixture)) //nolint:errcheck

		case strings.HasPrefix(r.URL.Path, "/artist/"):
			switch strings.TrimPrefix(r.URL.Path, "/artist/") {
			case "404":
				w.Write([]byte(`{"error":{"type":"DataException","message":"no data","code":800}}`)) //nolint:errcheck
			case "429":
				w.Write([]byte(`{"error":{"type":"Exception","message":"Quota limit exceeded","code":4}}`)) //nolint:errcheck
			default:
				w.Write([]byte(artistFixture)) //nolint:errcheck
			}

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	limiter := platform.NewRateLimiterMap(map[platform.Name]float64{platform.NameDeezer: 1000})
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(nil, limiter, logger, baseURL)
}

func TestName(t *testing.T) {
	a := newTestAdapter(t, "http://localhost")
	if a.Name() != platform.NameDeezer {
		t.Errorf("expected %q, got %q", platform.NameDeezer, a.Name())
	}
}

func TestFetch(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	p, err := a.Fetch(context.Background(), "4050205", platform.DateRange{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Status != platform.StatusOK {
		t.Errorf("Status = %q, want ok", p.Status)
	}
	if string(p.Body) != artistFixture {
		t.Errorf("Body = %s, want raw artist document", p.Body)
	}
}

func TestFetchErrors(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)
	ctx := context.Background()

	for _, id := range []string{"404", "not-numeric"} {
		_, err := a.Fetch(ctx, id, platform.DateRange{})
		var nf *platform.NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("Fetch(%q) error = %v, want NotFoundError", id, err)
		}
	}

	_, err := a.Fetch(ctx, "429", platform.DateRange{})
	if !platform.IsTransient(err) {
		t.Errorf("Fetch(quota) error = %v, want transient", err)
	}
}

func TestSearchArtist(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	results, err := a.SearchArtist(context.Background(), "radiohead", 5)
	if err != nil {
		t.Fatalf("SearchArtist: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != "4050205" || results[0].Name != "Radiohead" {
		t.Errorf("unexpected result %+v", results[0])
	}

	results, err = a.SearchArtist(context.Background(), "no-results-query", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}

	results, err = a.SearchArtist(context.Background(), "", 5)
	if err != nil || results != nil {
		t.Errorf("SearchArtist(\"\") = %v, %v; want nil, nil", results, err)
	}
}

func TestFetchProfile(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv.URL)

	got, err := a.FetchProfile(context.Background(), "4050205")
	if err != nil {
		t.Fatalf("FetchProfile: %v", err)
	}
	want := &platform.Profile{
		Name:     "Radiohead",
		ImageURL: "https://cdn.deezer.test/xl.jpg",
		URL:      "https://www.deezer.com/artist/4050205",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("profile mismatch (-want +got):\n%s", diff)
	}

	_, err = a.FetchProfile(context.Background(), "404")
	var nf *platform.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("FetchProfile(404) error = %v, want NotFoundError", err)
	}
}

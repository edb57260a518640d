package normalize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/adrien-gtd/artist-data-acquisition/internal/observation"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

type staticLookup map[string]string

func (s staticLookup) LocalIDFor(_ context.Context, p platform.Name, id string) (string, error) {
	return s[string(p)+"/"+id], nil
}

var (
	day       = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	fetchedAt = time.Date(2024, 1, 11, 3, 0, 0, 0, time.UTC)
)

func newTestNormalizer() *Normalizer {
	lookup := staticLookup{
		"spotify/abc":      "42",
		"deezer/27":        "42",
		"youtube/UCxyz":    "42",
		"wikipedia/Daft_P": "42",
	}
	return New(lookup, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func obs(p platform.Name, id, payload string) observation.RawObservation {
	return observation.RawObservation{
		ID:               "obs-" + string(p),
		Platform:         p,
		PlatformArtistID: id,
		ObservedAt:       day,
		Payload:          []byte(payload),
		FetchStatus:      platform.StatusOK,
		FetchedAt:        fetchedAt,
	}
}

// values reduces metrics to name -> (value, unit) for comparison.
func values(ms []NormalizedMetric) map[string]NormalizedMetric {
	out := map[string]NormalizedMetric{}
	for _, m := range ms {
		out[m.Name] = NormalizedMetric{Name: m.Name, Value: m.Value, Unit: m.Unit}
	}
	return out
}

const spotifyPayload = `{
  "artist": {"id": "abc", "name": "Daft Punk", "followers": {"href": null, "total": 9412345}, "popularity": 79},
  "top_tracks": {"tracks": [
    {"name": "One More Time", "popularity": 81, "duration_ms": 238000},
    {"name": "Get Lucky", "popularity": 75, "duration_ms": 262000}
  ]}
}`

func TestNormalize_Spotify(t *testing.T) {
	res, err := newTestNormalizer().Normalize(context.Background(), obs(platform.NameSpotify, "abc", spotifyPayload))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := map[string]NormalizedMetric{
		"followers":                       {Name: "followers", Value: 9412345, Unit: UnitCount},
		"popularity":                      {Name: "popularity", Value: 79, Unit: UnitScore},
		"top_track_popularity_max":        {Name: "top_track_popularity_max", Value: 81, Unit: UnitScore},
		"top_track_popularity_mean":       {Name: "top_track_popularity_mean", Value: 78, Unit: UnitScore},
		"top_track_count":                 {Name: "top_track_count", Value: 2, Unit: UnitCount},
		"top_track_duration_mean_seconds": {Name: "top_track_duration_mean_seconds", Value: 250, Unit: UnitSeconds},
	}
	if diff := cmp.Diff(want, values(res.Metrics), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}

	m := res.Metrics[0]
	if m.LocalID != "42" || m.ObservationID != "obs-spotify" || !m.Date.Equal(day) || !m.FetchedAt.Equal(fetchedAt) {
		t.Errorf("metric metadata = %+v", m)
	}

	wantSkipped := []DroppedField{{Metric: "monthly_listeners", Path: "artist.monthly_listeners", Reason: "optional field absent", Optional: true}}
	if diff := cmp.Diff(wantSkipped, res.Skipped); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_OptionalFieldPresent(t *testing.T) {
	payload := `{"artist": {"followers": {"total": 10}, "popularity": 50, "monthly_listeners": 1200},
  "top_tracks": {"tracks": [{"popularity": 40, "duration_ms": 1000}]}}`
	res, err := newTestNormalizer().Normalize(context.Background(), obs(platform.NameSpotify, "abc", payload))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(res.Skipped) != 0 {
		t.Errorf("skipped = %+v, want none", res.Skipped)
	}
	got := values(res.Metrics)["monthly_listeners"]
	if got.Value != 1200 || got.Unit != UnitCount {
		t.Errorf("monthly_listeners = %+v", got)
	}
}

func TestNormalize_SpotifyPartialDropsTopTracks(t *testing.T) {
	o := obs(platform.NameSpotify, "abc", `{"artist": {"followers": {"total": 10}, "popularity": 50}}`)
	o.FetchStatus = platform.StatusPartial

	res, err := newTestNormalizer().Normalize(context.Background(), o)
	var mp *MalformedPayloadError
	if !errors.As(err, &mp) {
		t.Fatalf("err = %v, want MalformedPayloadError", err)
	}
	if len(res.Metrics) != 2 {
		t.Errorf("metrics = %d, want 2", len(res.Metrics))
	}
	if len(mp.Dropped) != 4 {
		t.Errorf("dropped = %+v, want 4 top-track fields", mp.Dropped)
	}
}

func TestNormalize_Deezer(t *testing.T) {
	res, err := newTestNormalizer().Normalize(context.Background(),
		obs(platform.NameDeezer, "27", `{"id": 27, "name": "Daft Punk", "nb_album": 38, "nb_fan": 3217000}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := map[string]NormalizedMetric{
		"followers":   {Name: "followers", Value: 3217000, Unit: UnitCount},
		"album_count": {Name: "album_count", Value: 38, Unit: UnitCount},
	}
	if diff := cmp.Diff(want, values(res.Metrics)); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_YouTubeStringCounts(t *testing.T) {
	payload := `{"items": [{"id": "UCxyz", "statistics": {"subscriberCount": "4210000", "viewCount": "1234567890", "videoCount": "oops"}}]}`
	res, err := newTestNormalizer().Normalize(context.Background(), obs(platform.NameYouTube, "UCxyz", payload))

	var mp *MalformedPayloadError
	if !errors.As(err, &mp) || len(mp.Dropped) != 1 || mp.Dropped[0].Metric != "video_count" {
		t.Fatalf("err = %v, want video_count dropped", err)
	}
	want := map[string]NormalizedMetric{
		"subscriber_count": {Name: "subscriber_count", Value: 4210000, Unit: UnitCount},
		"view_count":       {Name: "view_count", Value: 1234567890, Unit: UnitCount},
	}
	if diff := cmp.Diff(want, values(res.Metrics)); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_WikipediaSumsViews(t *testing.T) {
	payload := `{"items": [{"timestamp": "2024011000", "views": 15000}, {"timestamp": "2024011000", "views": 321}]}`
	res, err := newTestNormalizer().Normalize(context.Background(), obs(platform.NameWikipedia, "Daft_P", payload))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(res.Metrics) != 1 || res.Metrics[0].Value != 15321 {
		t.Errorf("metrics = %+v, want pageviews 15321", res.Metrics)
	}
}

func TestNormalize_MissingFieldIsDroppedNotZeroed(t *testing.T) {
	res, err := newTestNormalizer().Normalize(context.Background(), obs(platform.NameDeezer, "27", `{"nb_fan": -5}`))
	var mp *MalformedPayloadError
	if !errors.As(err, &mp) {
		t.Fatalf("err = %v, want MalformedPayloadError", err)
	}
	if len(res.Metrics) != 0 {
		t.Errorf("metrics = %+v, want none", res.Metrics)
	}
	if len(mp.Dropped) != 2 {
		t.Errorf("dropped = %+v, want 2", mp.Dropped)
	}
}

func TestNormalize_FailedFetch(t *testing.T) {
	o := obs(platform.NameDeezer, "27", `{}`)
	o.FetchStatus = platform.StatusFailed
	res, err := newTestNormalizer().Normalize(context.Background(), o)
	var mp *MalformedPayloadError
	if !errors.As(err, &mp) || len(mp.Dropped) != 1 {
		t.Fatalf("err = %v, want one dropped entry", err)
	}
	if len(res.Metrics) != 0 {
		t.Errorf("metrics = %+v, want none", res.Metrics)
	}
}

func TestNormalize_InvalidJSON(t *testing.T) {
	res, err := newTestNormalizer().Normalize(context.Background(), obs(platform.NameDeezer, "27", `not json`))
	var mp *MalformedPayloadError
	if !errors.As(err, &mp) || len(mp.Dropped) != 2 {
		t.Fatalf("err = %v, want both deezer fields dropped", err)
	}
	if len(res.Metrics) != 0 {
		t.Errorf("metrics = %+v, want none", res.Metrics)
	}
}

func TestNormalize_Unresolved(t *testing.T) {
	_, err := newTestNormalizer().Normalize(context.Background(), obs(platform.NameDeezer, "999", `{"nb_fan": 1}`))
	var ue *UnresolvedIdentityError
	if !errors.As(err, &ue) || ue.PlatformArtistID != "999" {
		t.Fatalf("err = %v, want UnresolvedIdentityError", err)
	}
}

func TestConvert(t *testing.T) {
	v, unit, err := Convert(1500, "milliseconds")
	if err != nil || v != 1.5 || unit != UnitSeconds {
		t.Errorf("Convert(1500 ms) = %v %q %v", v, unit, err)
	}
	if _, _, err := Convert(1, "furlongs"); err == nil {
		t.Error("unknown unit: expected error")
	}
}

func TestLookup(t *testing.T) {
	doc := map[string]any{
		"a": map[string]any{"b": []any{map[string]any{"c": "x"}, map[string]any{"c": "y"}}},
	}
	tests := []struct {
		path    string
		want    any
		missing bool
	}{
		{path: "a.b[1].c", want: "y"},
		{path: "a.b[].c", want: []any{"x", "y"}},
		{path: "a.z", missing: true},
		{path: "a.b[5].c", missing: true},
	}
	for _, tt := range tests {
		got, err := lookup(doc, tt.path)
		if tt.missing {
			if !errors.Is(err, errMissing) {
				t.Errorf("lookup(%q) err = %v, want missing", tt.path, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("lookup(%q): %v", tt.path, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("lookup(%q) mismatch (-want +got):\n%s", tt.path, diff)
		}
	}
}

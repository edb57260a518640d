package artist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

func TestParseTracked(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    int
		wantErr string
	}{
		{
			name: "document",
			doc: `artists:
  - display_name: Daft Punk
    local_id: daft-punk
    platform_ids:
      spotify: 4tZwfgrHOc3mvqYlEYSvVi
      deezer: "27"
`,
			want: 1,
		},
		{
			name: "bare list",
			doc:  `- {display_name: Justice, platform_ids: {deezer: "1110"}}`,
			want: 1,
		},
		{
			name: "json",
			doc:  `[{"display_name": "Air", "platform_ids": {"wikipedia": "Air (French band)"}}]`,
			want: 1,
		},
		{
			name:    "unknown platform",
			doc:     `- {display_name: X, platform_ids: {myspace: "1"}}`,
			wantErr: "unknown platform",
		},
		{
			name:    "missing name",
			doc:     `- {platform_ids: {deezer: "1"}}`,
			wantErr: "display_name is required",
		},
		{
			name:    "no ids",
			doc:     `- {display_name: X}`,
			wantErr: "at least one non-empty platform id",
		},
		{
			name: "only empty ids",
			doc: `- display_name: Daft Punk
  platform_ids:
    spotify: ""
`,
			wantErr: "at least one non-empty platform id",
		},
		{
			name: "empty id next to a real one",
			doc:  `- {display_name: Daft Punk, platform_ids: {spotify: "", deezer: "27"}}`,
			want: 1,
		},
		{
			name: "duplicate local id",
			doc: `- {local_id: a, display_name: X, platform_ids: {deezer: "1"}}
- {local_id: a, display_name: Y, platform_ids: {deezer: "2"}}`,
			wantErr: "share local_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTracked([]byte(tt.doc))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTracked: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("entries = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestTrackedArtist_IDsInPriorityOrder(t *testing.T) {
	e := TrackedArtist{PlatformIDs: map[string]string{"wikipedia": "W", "spotify": "S", "youtube": "Y"}}
	want := []PlatformID{
		{Platform: platform.NameSpotify, ID: "S"},
		{Platform: platform.NameYouTube, ID: "Y"},
		{Platform: platform.NameWikipedia, ID: "W"},
	}
	if diff := cmp.Diff(want, e.IDs()); diff != "" {
		t.Errorf("IDs mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTracked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracked.yaml")
	if err := os.WriteFile(path, []byte("artists:\n  - display_name: Air\n    platform_ids: {deezer: \"4\"}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadTracked(path)
	if err != nil {
		t.Fatalf("LoadTracked: %v", err)
	}
	if len(got) != 1 || got[0].PlatformIDs["deezer"] != "4" {
		t.Errorf("LoadTracked = %+v", got)
	}
	if _, err := LoadTracked(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file: expected error")
	}
}

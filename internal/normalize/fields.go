package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

// FieldSpec describes how one metric is read from a platform document.
//
// Path is a dotted path. A segment suffixed with [N] indexes an array and a
// segment suffixed with [] fans out over every element, yielding a list.
type FieldSpec struct {
	Path   string
	Metric string
	// Unit is the source unit; see Convert.
	Unit string
	// Optional fields that are absent are reported as skipped rather than
	// dropped, and do not make the payload malformed.
	Optional bool
	// Parse validates the value found at Path and returns it as a number.
	Parse func(v any) (float64, error)
}

var errMissing = errors.New("missing")

func (s FieldSpec) extract(doc any) (NormalizedMetric, *DroppedField, bool) {
	v, err := lookup(doc, s.Path)
	if err != nil {
		if s.Optional && errors.Is(err, errMissing) {
			return NormalizedMetric{}, &DroppedField{Metric: s.Metric, Path: s.Path, Reason: "optional field absent", Optional: true}, false
		}
		return NormalizedMetric{}, &DroppedField{Metric: s.Metric, Path: s.Path, Reason: err.Error()}, false
	}
	raw, err := s.Parse(v)
	if err != nil {
		return NormalizedMetric{}, &DroppedField{Metric: s.Metric, Path: s.Path, Reason: err.Error()}, false
	}
	val, unit, err := Convert(raw, s.Unit)
	if err != nil {
		return NormalizedMetric{}, &DroppedField{Metric: s.Metric, Path: s.Path, Reason: err.Error()}, false
	}
	return NormalizedMetric{Name: s.Metric, Value: val, Unit: unit}, nil, true
}

// DefaultTables returns the field table of every supported platform.
func DefaultTables() map[platform.Name][]FieldSpec {
	return map[platform.Name][]FieldSpec{
		platform.NameSpotify: {
			{Path: "artist.followers.total", Metric: "followers", Unit: "followers", Parse: count},
			{Path: "artist.popularity", Metric: "popularity", Unit: "popularity", Parse: within(0, 100)},
			{Path: "artist.monthly_listeners", Metric: "monthly_listeners", Unit: "count", Optional: true, Parse: count},
			{Path: "top_tracks.tracks[].popularity", Metric: "top_track_popularity_max", Unit: "popularity", Parse: reduce(maxOf, within(0, 100))},
			{Path: "top_tracks.tracks[].popularity", Metric: "top_track_popularity_mean", Unit: "popularity", Parse: reduce(meanOf, within(0, 100))},
			{Path: "top_tracks.tracks", Metric: "top_track_count", Unit: "count", Parse: length},
			{Path: "top_tracks.tracks[].duration_ms", Metric: "top_track_duration_mean_seconds", Unit: "milliseconds", Parse: reduce(meanOf, count)},
		},
		platform.NameDeezer: {
			{Path: "nb_fan", Metric: "followers", Unit: "fans", Parse: count},
			{Path: "nb_album", Metric: "album_count", Unit: "count", Parse: count},
		},
		platform.NameYouTube: {
			{Path: "items[0].statistics.subscriberCount", Metric: "subscriber_count", Unit: "count", Parse: countString},
			{Path: "items[0].statistics.viewCount", Metric: "view_count", Unit: "count", Parse: countString},
			{Path: "items[0].statistics.videoCount", Metric: "video_count", Unit: "count", Parse: countString},
		},
		platform.NameWikipedia: {
			{Path: "items[].views", Metric: "pageviews", Unit: "pageviews", Parse: reduce(sumOf, count)},
		},
	}
}

func number(v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n.String())
		}
		return finite(f)
	case float64:
		return finite(n)
	case nil:
		return 0, errors.New("null")
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func finite(f float64) (float64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("not finite")
	}
	return f, nil
}

// count accepts non-negative numbers.
func count(v any) (float64, error) {
	f, err := number(v)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fmt.Errorf("negative count %v", f)
	}
	return f, nil
}

// countString accepts counts encoded as decimal strings, as YouTube does.
func countString(v any) (float64, error) {
	s, ok := v.(string)
	if !ok {
		return count(v)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a count: %q", s)
	}
	return float64(n), nil
}

func within(lo, hi float64) func(any) (float64, error) {
	return func(v any) (float64, error) {
		f, err := number(v)
		if err != nil {
			return 0, err
		}
		if f < lo || f > hi {
			return 0, fmt.Errorf("%v outside [%v, %v]", f, lo, hi)
		}
		return f, nil
	}
}

func length(v any) (float64, error) {
	list, ok := v.([]any)
	if !ok {
		return 0, fmt.Errorf("expected list, got %T", v)
	}
	return float64(len(list)), nil
}

// reduce validates every element of a list with elem, then folds them.
func reduce(fold func([]float64) float64, elem func(any) (float64, error)) func(any) (float64, error) {
	return func(v any) (float64, error) {
		list, ok := v.([]any)
		if !ok {
			return 0, fmt.Errorf("expected list, got %T", v)
		}
		if len(list) == 0 {
			return 0, errors.New("no values")
		}
		vals := make([]float64, 0, len(list))
		for i, item := range list {
			f, err := elem(item)
			if err != nil {
				return 0, fmt.Errorf("element %d: %w", i, err)
			}
			vals = append(vals, f)
		}
		return fold(vals), nil
	}
}

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		m = math.Max(m, v)
	}
	return m
}

func sumOf(vals []float64) float64 {
	var s float64
	for _, v := range vals {
		s += v
	}
	return s
}

func meanOf(vals []float64) float64 {
	return sumOf(vals) / float64(len(vals))
}

// lookup walks path through a decoded JSON document.
func lookup(doc any, path string) (any, error) {
	if path == "" {
		return doc, nil
	}
	seg, rest, _ := strings.Cut(path, ".")

	name, index, fanOut, err := parseSegment(seg)
	if err != nil {
		return nil, err
	}

	cur := doc
	if name != "" {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected object, got %T", name, cur)
		}
		v, ok := obj[name]
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, errMissing)
		}
		cur = v
	}

	switch {
	case fanOut:
		list, ok := cur.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected list, got %T", name, cur)
		}
		out := make([]any, 0, len(list))
		for i, item := range list {
			v, err := lookup(item, rest)
			if err != nil {
				return nil, fmt.Errorf("%s[%d].%w", name, i, err)
			}
			out = append(out, v)
		}
		return out, nil
	case index >= 0:
		list, ok := cur.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected list, got %T", name, cur)
		}
		if index >= len(list) {
			return nil, fmt.Errorf("%s[%d]: %w", name, index, errMissing)
		}
		cur = list[index]
	}
	return lookup(cur, rest)
}

// parseSegment splits "name", "name[3]" and "name[]".
func parseSegment(seg string) (name string, index int, fanOut bool, err error) {
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		return seg, -1, false, nil
	}
	if !strings.HasSuffix(seg, "]") {
		return "", 0, false, fmt.Errorf("bad path segment %q", seg)
	}
	name, inner := seg[:open], seg[open+1:len(seg)-1]
	if inner == "" {
		return name, -1, true, nil
	}
	index, err = strconv.Atoi(inner)
	if err != nil || index < 0 {
		return "", 0, false, fmt.Errorf("bad index in %q", seg)
	}
	return name, index, false, nil
}

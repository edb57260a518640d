package merge

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
	"github.com/adrien-gtd/artist-data-acquisition/internal/normalize"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
	"github.com/adrien-gtd/artist-data-acquisition/internal/provenance"
)

var (
	day = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	t0  = time.Date(2024, 1, 11, 2, 0, 0, 0, time.UTC)
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	return db
}

func newTestEngine(t *testing.T, priority ...platform.Name) (*Engine, *Store, *provenance.Ledger) {
	t.Helper()
	db := setupTestDB(t)
	if len(priority) == 0 {
		priority = platform.AllNames()
	}
	e := NewEngine(db, priority, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return e, NewStore(db), provenance.NewLedger(db)
}

func metric(obsID string, p platform.Name, name string, v float64, fetched time.Time) normalize.NormalizedMetric {
	return normalize.NormalizedMetric{
		ObservationID: obsID,
		LocalID:       "42",
		Platform:      p,
		Date:          day,
		Name:          name,
		Value:         v,
		Unit:          normalize.UnitCount,
		FetchedAt:     fetched,
	}
}

func TestMerge_TwoPlatformsTwoFields(t *testing.T) {
	e, store, ledger := newTestEngine(t)
	ctx := context.Background()

	out, err := e.Merge(ctx, "run-1", "42", day, []normalize.NormalizedMetric{
		metric("o-sp", platform.NameSpotify, "monthly_listeners", 500000, t0),
		metric("o-yt", platform.NameYouTube, "subscriber_count", 120000, t0),
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if diff := cmp.Diff([]string{"monthly_listeners", "subscriber_count"}, out.Changed); diff != "" {
		t.Errorf("changed mismatch (-want +got):\n%s", diff)
	}

	rec, err := store.Get(ctx, "42", day)
	if err != nil || rec == nil {
		t.Fatalf("Get = %v, %v", rec, err)
	}
	if rec.Metrics["monthly_listeners"].Value != 500000 || rec.Metrics["subscriber_count"].Value != 120000 {
		t.Errorf("metrics = %+v", rec.Metrics)
	}
	if diff := cmp.Diff([]platform.Name{platform.NameSpotify, platform.NameYouTube}, rec.Sources); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}

	prov, err := ledger.ForRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(prov) != 2 {
		t.Fatalf("provenance records = %d, want 2", len(prov))
	}
	if prov[0].OutputRef != "canonical/42/2024-01-10/monthly_listeners" || prov[0].TransformationID != TransformPriority {
		t.Errorf("first provenance = %+v", prov[0])
	}
}

func TestMerge_PriorityWinsAndListsWinnerFirst(t *testing.T) {
	e, store, ledger := newTestEngine(t, platform.NameSpotify, platform.NameDeezer)
	ctx := context.Background()

	if _, err := e.Merge(ctx, "run-1", "42", day, []normalize.NormalizedMetric{
		metric("o-dz", platform.NameDeezer, "monthly_listeners", 480000, t0.Add(time.Hour)),
		metric("o-sp", platform.NameSpotify, "monthly_listeners", 500000, t0),
	}); err != nil {
		t.Fatal(err)
	}

	rec, _ := store.Get(ctx, "42", day)
	f := rec.Metrics["monthly_listeners"]
	if f.Value != 500000 || f.Platform != platform.NameSpotify {
		t.Errorf("field = %+v, want spotify 500000", f)
	}
	prov, _ := ledger.ForOutput(ctx, "canonical/42/2024-01-10/monthly_listeners")
	if len(prov) != 1 {
		t.Fatalf("provenance = %d, want 1", len(prov))
	}
	if diff := cmp.Diff([]string{"o-sp", "o-dz"}, prov[0].SourceObservationIDs); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	e, store, ledger := newTestEngine(t)
	ctx := context.Background()
	input := []normalize.NormalizedMetric{
		metric("o1", platform.NameSpotify, "followers", 10, t0),
		metric("o2", platform.NameDeezer, "followers", 12, t0),
	}

	if _, err := e.Merge(ctx, "run-1", "42", day, input); err != nil {
		t.Fatal(err)
	}
	first, _ := store.Raw(ctx, "42", day)

	out, err := e.Merge(ctx, "run-2", "42", day, input)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Changed) != 0 {
		t.Errorf("second merge changed %v", out.Changed)
	}
	second, _ := store.Raw(ctx, "42", day)
	if !bytes.Equal(first, second) {
		t.Errorf("record bytes changed:\n%s\n%s", first, second)
	}
	if prov, _ := ledger.ForRun(ctx, "run-2"); len(prov) != 0 {
		t.Errorf("second merge emitted %d provenance records", len(prov))
	}
}

func TestMerge_PermutationDeterminism(t *testing.T) {
	input := []normalize.NormalizedMetric{
		metric("a", platform.NameSpotify, "followers", 1, t0),
		metric("b", platform.NameSpotify, "followers", 2, t0.Add(time.Minute)),
		metric("c", platform.NameDeezer, "followers", 3, t0.Add(time.Hour)),
		metric("d", "bandcamp", "followers", 4, t0),
		metric("e", "audiomack", "followers", 5, t0),
		metric("f", platform.NameYouTube, "subscriber_count", 6, t0),
	}

	var want []byte
	rng := rand.New(rand.NewPCG(1, 2))
	for i := range 10 {
		shuffled := append([]normalize.NormalizedMetric(nil), input...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		e, store, _ := newTestEngine(t, platform.NameSpotify, platform.NameDeezer)
		ctx := context.Background()
		// Split the input across two merges as well.
		half := len(shuffled) / 2
		if _, err := e.Merge(ctx, "r", "42", day, shuffled[:half]); err != nil {
			t.Fatal(err)
		}
		if _, err := e.Merge(ctx, "r", "42", day, shuffled[half:]); err != nil {
			t.Fatal(err)
		}
		got, _ := store.Raw(ctx, "42", day)
		if i == 0 {
			want = got
			rec, _ := Decode(got)
			f := rec.Metrics["followers"]
			if f.Value != 2 {
				t.Errorf("winner value = %v, want newest spotify (2)", f.Value)
			}
			if diff := cmp.Diff([]string{"b", "a", "c", "e", "d"}, f.SourceIDs()); diff != "" {
				t.Errorf("precedence mismatch (-want +got):\n%s", diff)
			}
			continue
		}
		if !bytes.Equal(want, got) {
			t.Fatalf("permutation %d produced a different record:\n%s\n%s", i, want, got)
		}
	}
}

func TestMerge_ConcurrentWritersSameRecord(t *testing.T) {
	e, store, ledger := newTestEngine(t)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Merge(ctx, fmt.Sprintf("run-%02d", i), "42", day, []normalize.NormalizedMetric{
				metric(fmt.Sprintf("o-%02d", i), platform.NameSpotify, fmt.Sprintf("field_%02d", i), float64(i), t0),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Merge: %v", err)
		}
	}

	rec, err := store.Get(ctx, "42", day)
	if err != nil || rec == nil {
		t.Fatalf("Get = %v, %v", rec, err)
	}
	if len(rec.Metrics) != writers {
		t.Fatalf("metrics = %d, want %d (a concurrent write was lost)", len(rec.Metrics), writers)
	}
	for i := range writers {
		name := fmt.Sprintf("field_%02d", i)
		if f, ok := rec.Metrics[name]; !ok || f.Value != float64(i) {
			t.Errorf("%s = %+v, want %d", name, f, i)
		}
		prov, _ := ledger.ForOutput(ctx, "canonical/42/2024-01-10/"+name)
		if len(prov) != 1 {
			t.Errorf("%s provenance = %d, want 1", name, len(prov))
		}
	}
}

func TestMerge_ConcurrentContributorsConverge(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := metric(fmt.Sprintf("o-%02d", i), platform.NameSpotify, "followers", float64(100+i), t0.Add(time.Duration(i)*time.Minute))
			if _, err := e.Merge(ctx, fmt.Sprintf("run-%02d", i), "42", day, []normalize.NormalizedMetric{m}); err != nil {
				t.Errorf("Merge: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, _ := store.Get(ctx, "42", day)
	if rec == nil {
		t.Fatal("record missing")
	}
	f := rec.Metrics["followers"]
	if f.Value != 100+writers-1 {
		t.Errorf("winner = %v, want newest fetch %d", f.Value, 100+writers-1)
	}
	if len(f.Contributors) != writers {
		t.Errorf("contributors = %d, want %d", len(f.Contributors), writers)
	}
}

func TestMerge_NonErasure(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Merge(ctx, "r1", "42", day, []normalize.NormalizedMetric{
		metric("o1", platform.NameSpotify, "followers", 10, t0),
		metric("o1", platform.NameSpotify, "popularity", 70, t0),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Merge(ctx, "r2", "42", day, []normalize.NormalizedMetric{
		metric("o2", platform.NameSpotify, "followers", 11, t0.Add(time.Hour)),
	}); err != nil {
		t.Fatal(err)
	}

	rec, _ := store.Get(ctx, "42", day)
	if rec.Metrics["popularity"].Value != 70 {
		t.Errorf("popularity erased: %+v", rec.Metrics)
	}
	if rec.Metrics["followers"].Value != 11 {
		t.Errorf("followers = %v, want newest 11", rec.Metrics["followers"].Value)
	}
}

func TestMerge_RejectsForeignMetric(t *testing.T) {
	e, _, _ := newTestEngine(t)
	m := metric("o1", platform.NameSpotify, "followers", 10, t0)
	m.LocalID = "other"
	if _, err := e.Merge(context.Background(), "r", "42", day, []normalize.NormalizedMetric{m}); err == nil {
		t.Error("expected error for metric of another artist")
	}
}

func TestRetract(t *testing.T) {
	e, store, ledger := newTestEngine(t, platform.NameSpotify, platform.NameDeezer)
	ctx := context.Background()

	if _, err := e.Merge(ctx, "r1", "42", day, []normalize.NormalizedMetric{
		metric("o-sp", platform.NameSpotify, "followers", 100, t0),
		metric("o-dz", platform.NameDeezer, "followers", 90, t0),
		metric("o-sp", platform.NameSpotify, "popularity", 70, t0),
	}); err != nil {
		t.Fatal(err)
	}

	n, err := e.Retract(ctx, "r2", "o-sp")
	if err != nil {
		t.Fatalf("Retract: %v", err)
	}
	if n != 2 {
		t.Errorf("touched = %d, want 2", n)
	}

	rec, _ := store.Get(ctx, "42", day)
	if f := rec.Metrics["followers"]; f.Value != 90 || f.Platform != platform.NameDeezer {
		t.Errorf("followers = %+v, want promoted deezer 90", f)
	}
	if _, ok := rec.Metrics["popularity"]; ok {
		t.Error("popularity should be removed with its only source")
	}
	if diff := cmp.Diff([]platform.Name{platform.NameDeezer}, rec.Sources); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}

	prov, _ := ledger.ForRun(ctx, "r2")
	if len(prov) != 2 || prov[0].TransformationID != TransformRetract {
		t.Errorf("retract provenance = %+v", prov)
	}

	// A later merge carrying the retracted observation ignores it.
	out, err := e.Merge(ctx, "r3", "42", day, []normalize.NormalizedMetric{
		metric("o-sp", platform.NameSpotify, "followers", 100, t0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Changed) != 0 {
		t.Errorf("merge of retracted observation changed %v", out.Changed)
	}
}

func TestRetract_RemovesEmptyRecord(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.Merge(ctx, "r1", "42", day, []normalize.NormalizedMetric{
		metric("only", platform.NameWikipedia, "pageviews", 5, t0),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Retract(ctx, "r2", "only"); err != nil {
		t.Fatal(err)
	}
	if rec, _ := store.Get(ctx, "42", day); rec != nil {
		t.Errorf("record = %+v, want deleted", rec)
	}
}

func TestHistory(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()
	for i := range 3 {
		d := day.AddDate(0, 0, i)
		m := metric("o"+d.Format("0102"), platform.NameDeezer, "followers", float64(100+i), t0)
		m.Date = d
		if _, err := e.Merge(ctx, "r", "42", d, []normalize.NormalizedMetric{m}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := store.History(ctx, "42", day.AddDate(0, 0, 1), day.AddDate(0, 0, 5))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || !got[0].Date.Equal(day.AddDate(0, 0, 1)) || got[1].Metrics["followers"].Value != 102 {
		t.Errorf("History = %+v", got)
	}
}

package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muesli/gominatim"

	"github.com/rubiojr/travelmate/pkg/apiclient"
	"github.com/rubiojr/travelmate/pkg/backend"
	"github.com/rubiojr/travelmate/pkg/models"
	"github.com/rubiojr/travelmate/pkg/storage"
	"github.com/rubiojr/travelmate/pkg/task"
	"github.com/rubiojr/travelmate/pkg/validation"
)

type providerFunc func(ctx context.Context, q string, limit int) ([]models.Location, error)

func (f providerFunc) Search(ctx context.Context, q string, limit int) ([]models.Location, error) {
	return f(ctx, q, limit)
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open("", "local")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

var belgrade = models.Location{Name: "Belgrade", DisplayName: "Belgrade, Serbia", Latitude: 44.8178131, Longitude: 20.4568974}

func TestSearchEmptyQueryIsValidationError(t *testing.T) {
	var calls int32
	s := NewService(providerFunc(func(context.Context, string, int) ([]models.Location, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}), nil, 5)
	_, err := s.Search(context.Background(), "   ")
	if !validation.IsValidationError(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if calls != 0 {
		t.Fatal("provider called for empty query")
	}
}

func TestSearchDedupesAndRemembers(t *testing.T) {
	st := openStore(t)
	dup := belgrade
	dup.Latitude += 1e-8
	s := NewService(providerFunc(func(_ context.Context, q string, limit int) ([]models.Location, error) {
		if limit != 3 {
			t.Errorf("limit = %d", limit)
		}
		return []models.Location{belgrade, dup, {Name: "Zemun", DisplayName: "Zemun, Serbia", Latitude: 44.84, Longitude: 20.41}}, nil
	}), st, 3)
	ctx := context.Background()

	res, err := s.Search(ctx, " belgrade ")
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 {
		t.Fatalf("results = %d, want 2 after dedupe", len(res))
	}

	for _, q := range []string{"novi sad", "Belgrade"} {
		if _, err := s.Search(ctx, q); err != nil {
			t.Fatal(err)
		}
	}
	got := s.Recent(ctx)
	want := []string{"Belgrade", "novi sad"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("recent = %v, want %v", got, want)
	}

	if err := s.ClearRecent(ctx); err != nil {
		t.Fatal(err)
	}
	if r := s.Recent(ctx); len(r) != 0 {
		t.Fatalf("recent after clear = %v", r)
	}
}

func TestRecentIsCapped(t *testing.T) {
	st := openStore(t)
	s := NewService(providerFunc(func(context.Context, string, int) ([]models.Location, error) { return nil, nil }), st, 5)
	ctx := context.Background()
	for i := 0; i < MaxRecent+5; i++ {
		if _, err := s.Search(ctx, string(rune('a'+i))+"query"); err != nil {
			t.Fatal(err)
		}
	}
	got := s.Recent(ctx)
	if len(got) != MaxRecent {
		t.Fatalf("recent len = %d, want %d", len(got), MaxRecent)
	}
	if got[0] != string(rune('a'+MaxRecent+4))+"query" {
		t.Errorf("newest = %q", got[0])
	}
}

func TestSearchLatestWins(t *testing.T) {
	started := make(chan struct{})
	s := NewService(providerFunc(func(ctx context.Context, q string, _ int) ([]models.Location, error) {
		if q == "slow" {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return []models.Location{belgrade}, nil
	}), nil, 5)

	var wg sync.WaitGroup
	var slowErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, slowErr = s.Search(context.Background(), "slow")
	}()
	<-started
	res, err := s.Search(context.Background(), "fast")
	if err != nil || len(res) != 1 {
		t.Fatalf("fast search = %v, %v", res, err)
	}
	wg.Wait()
	if !task.IsSuperseded(slowErr) {
		t.Fatalf("slow err = %v, want superseded", slowErr)
	}
}

func TestSuggestDropsFailures(t *testing.T) {
	var calls int32
	s := NewService(providerFunc(func(_ context.Context, q string, _ int) ([]models.Location, error) {
		atomic.AddInt32(&calls, 1)
		if q == "bad" {
			return nil, errors.New("upstream down")
		}
		return []models.Location{belgrade}, nil
	}), nil, 5)
	ctx := context.Background()

	if got := s.Suggest(ctx, "b"); got != nil {
		t.Errorf("short prefix = %v", got)
	}
	if calls != 0 {
		t.Error("short prefix reached provider")
	}
	if got := s.Suggest(ctx, "bad"); got != nil {
		t.Errorf("failure = %v, want nil", got)
	}
	if got := s.Suggest(ctx, "bel"); len(got) != 1 {
		t.Errorf("suggest = %v", got)
	}
}

type fakeSearcher struct {
	res backend.SearchResults
	err error
}

func (f fakeSearcher) SearchLocations(context.Context, string, int) (backend.SearchResults, error) {
	return f.res, f.err
}

func TestBackendProviderTagsSource(t *testing.T) {
	p := NewBackendProvider(fakeSearcher{res: backend.SearchResults{Results: []models.Location{belgrade}, TotalFound: 1}})
	res, err := p.Search(context.Background(), "belgrade", 5)
	if err != nil || len(res) != 1 || res[0].Source != "backend" {
		t.Fatalf("Search = %v, %v", res, err)
	}
}

func TestNominatimCachesAndThrottles(t *testing.T) {
	st := openStore(t)
	p := NewNominatimProvider("", st)
	p.interval = 30 * time.Millisecond
	var calls int32
	var times []time.Time
	p.lookup = func(server, q string, limit int) ([]gominatim.SearchResult, error) {
		atomic.AddInt32(&calls, 1)
		times = append(times, time.Now())
		if server != DefaultNominatimServer {
			t.Errorf("server = %q", server)
		}
		return []gominatim.SearchResult{
			{DisplayName: "Belgrade, City of Belgrade, Serbia", Lat: "44.8178131", Lon: "20.4568974", Class: "place", Type: "city"},
			{DisplayName: "", Lat: "1", Lon: "1"},
		}, nil
	}
	ctx := context.Background()

	res, err := p.Search(ctx, "Belgrade", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Name != "Belgrade" || res[0].Latitude != 44.8178131 || res[0].PlaceType != "city" || res[0].Source != "nominatim" {
		t.Fatalf("results = %+v", res)
	}
	if _, err := p.Search(ctx, "belgrade ", 5); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("upstream calls = %d, want 1 (cache hit)", calls)
	}

	if _, err := p.Search(ctx, "Zemun", 5); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("upstream calls = %d, want 2", calls)
	}
	if gap := times[1].Sub(times[0]); gap < 30*time.Millisecond {
		t.Errorf("calls %s apart, want >= 30ms", gap)
	}
}

func TestNominatimRetriesTruncatedResponse(t *testing.T) {
	p := NewNominatimProvider("https://nominatim.example.org/", nil)
	p.interval = 0
	var calls int32
	p.lookup = func(server, q string, limit int) ([]gominatim.SearchResult, error) {
		if server != "https://nominatim.example.org" {
			t.Errorf("server = %q", server)
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("unexpected end of JSON input")
		}
		return []gominatim.SearchResult{{DisplayName: "Novi Sad, Serbia", Lat: "45.25", Lon: "19.84"}}, nil
	}
	res, err := p.Search(context.Background(), "novi sad", 5)
	if err != nil || len(res) != 1 {
		t.Fatalf("Search = %v, %v", res, err)
	}

	p.lookup = func(string, string, int) ([]gominatim.SearchResult, error) {
		return nil, errors.New("403 forbidden")
	}
	if _, err := p.Search(context.Background(), "other", 5); err == nil {
		t.Fatal("expected error")
	}
}

func TestNominatimStalledLookupTimesOut(t *testing.T) {
	p := NewNominatimProvider("", nil, WithRequestTimeout(50*time.Millisecond))
	p.interval = 0
	release := make(chan struct{})
	defer close(release)
	p.lookup = func(string, string, int) ([]gominatim.SearchResult, error) {
		<-release
		return nil, nil
	}

	start := time.Now()
	_, err := p.Search(context.Background(), "belgrade", 5)
	if !errors.Is(err, apiclient.ErrRequestTimeout) {
		t.Fatalf("err = %v, want ErrRequestTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("returned after %s", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Search(ctx, "zemun", 5); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled search err = %v", err)
	}
}

func TestNominatimSharesSearchRateLimit(t *testing.T) {
	limiter := apiclient.NewRateLimiter(map[apiclient.Category]int{apiclient.CategorySearch: 2}, nil)
	limiter.Allow(apiclient.CategorySearch)

	st := openStore(t)
	p := NewNominatimProvider("", st, WithRateLimiter(limiter))
	p.interval = 0
	var calls int32
	p.lookup = func(string, string, int) ([]gominatim.SearchResult, error) {
		atomic.AddInt32(&calls, 1)
		return []gominatim.SearchResult{{DisplayName: "Novi Sad, Serbia", Lat: "45.25", Lon: "19.84"}}, nil
	}
	ctx := context.Background()

	if _, err := p.Search(ctx, "novi sad", 5); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Search(ctx, "nis", 5); !errors.Is(err, apiclient.ErrRateLimitExceeded) {
		t.Fatalf("err = %v, want ErrRateLimitExceeded", err)
	}
	if _, err := p.Search(ctx, "Novi Sad", 5); err != nil {
		t.Errorf("cached query err = %v", err)
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1", calls)
	}
}

func TestNominatimSkipsHitsWithBadCoordinates(t *testing.T) {
	p := NewNominatimProvider("", nil)
	p.interval = 0
	p.lookup = func(string, string, int) ([]gominatim.SearchResult, error) {
		return []gominatim.SearchResult{
			{DisplayName: "Nowhere", Lat: "", Lon: "20.1"},
			{DisplayName: "Garbled", Lat: "44.8", Lon: "east"},
			{DisplayName: "Off the globe", Lat: "95.0", Lon: "20.4"},
			{DisplayName: "Subotica, Serbia", Lat: "46.1", Lon: "19.66"},
		}, nil
	}
	res, err := p.Search(context.Background(), "subotica", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Name != "Subotica" || res[0].Latitude != 46.1 {
		t.Fatalf("results = %+v", res)
	}
}

func TestMergeKeepsFirst(t *testing.T) {
	a := models.Location{DisplayName: "A", Latitude: 1, Longitude: 2, Source: "backend"}
	b := a
	b.Source = "nominatim"
	c := models.Location{DisplayName: "A", Latitude: 1.00001, Longitude: 2}
	out := Merge([]models.Location{a}, []models.Location{b, c})
	if len(out) != 2 || out[0].Source != "backend" {
		t.Fatalf("Merge = %+v", out)
	}
}

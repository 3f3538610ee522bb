package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rubiojr/travelmate/pkg/apiclient"
	"github.com/rubiojr/travelmate/pkg/models"
)

type recorded struct {
	method, path, query, ctype, auth string
	body                             []byte
}

func newBackend(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()
	var reqs []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		reqs = append(reqs, recorded{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("Content-Type"), r.Header.Get("Authorization"), b})
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	api, err := apiclient.New(apiclient.Options{
		BaseURL:       srv.URL,
		Timeout:       time.Second,
		CacheDuration: time.Minute,
		Tokens:        apiclient.TokenFunc(func() string { return "tok" }),
	})
	if err != nil {
		t.Fatal(err)
	}
	return New(api), &reqs
}

func TestLoginUsesPasswordForm(t *testing.T) {
	c, reqs := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"access_token":"abc","token_type":"bearer"}`)
	})
	tok, err := c.Login(context.Background(), "ana@example.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "abc" || tok.TokenType != "bearer" {
		t.Fatalf("token = %+v", tok)
	}
	r := (*reqs)[0]
	if r.method != http.MethodPost || r.path != "/auth/login" || r.ctype != "application/x-www-form-urlencoded" {
		t.Fatalf("request = %+v", r)
	}
	if string(r.body) != "password=secret1&username=ana%40example.com" {
		t.Errorf("body = %q", r.body)
	}
}

func TestCreatePlaceJSON(t *testing.T) {
	c, reqs := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":7,"name":"Fortress","category":"attraction","latitude":44.8176,"longitude":20.4633,"is_public":false,"is_approved":false,"images":[],"customFields":[],"created_at":"2026-03-01T12:00:00Z"}`)
	})
	p, err := c.CreatePlace(context.Background(), PlaceInput{
		Name: "Fortress", Category: models.CategoryAttraction, Latitude: 44.8176, Longitude: 20.4633,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != 7 || p.Coordinate() != (models.Coordinate{Latitude: 44.8176, Longitude: 20.4633}) {
		t.Fatalf("place = %+v", p)
	}
	r := (*reqs)[0]
	if r.ctype != "application/json" || r.auth != "Bearer tok" {
		t.Fatalf("request = %+v", r)
	}
	var sent map[string]interface{}
	if err := json.Unmarshal(r.body, &sent); err != nil {
		t.Fatal(err)
	}
	if sent["name"] != "Fortress" || sent["category"] != "attraction" || sent["latitude"] != 44.8176 {
		t.Errorf("payload = %v", sent)
	}
}

func TestCreatePlaceWithPhotoIsMultipart(t *testing.T) {
	c, reqs := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":8,"name":"Lake"}`)
	})
	_, err := c.CreatePlace(context.Background(), PlaceInput{
		Name:         "Lake",
		Latitude:     46.36,
		Longitude:    14.09,
		CustomFields: []models.CustomField{{Name: "season", Value: "summer"}},
	}, &Photo{Filename: "lake.png", ContentType: "image/png", Data: []byte("png")})
	if err != nil {
		t.Fatal(err)
	}
	r := (*reqs)[0]
	if !strings.HasPrefix(r.ctype, "multipart/form-data; boundary=") {
		t.Fatalf("content type = %q", r.ctype)
	}
	body := string(r.body)
	for _, want := range []string{`name="photo"; filename="lake.png"`, `name="latitude"`, `[{"name":"season","value":"summer"}]`} {
		if !strings.Contains(body, want) {
			t.Errorf("multipart body missing %q", want)
		}
	}
}

func TestRoutesEndpoints(t *testing.T) {
	c, reqs := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/routes/real-route":
			_, _ = io.WriteString(w, `{"distance_km":3.2,"duration_minutes":7.5,"geometry":{"type":"LineString","coordinates":[[20.46,44.81],[20.45,44.80]]},"steps":[],"route_type":"osrm","profile":"walking"}`)
		case r.Method == http.MethodPost:
			_, _ = io.WriteString(w, `{"id":3,"name":"Walk","start_name":"Fortress","start_latitude":44.81,"start_longitude":20.46,"end_name":"Square","end_latitude":44.80,"end_longitude":20.45,"user_id":1,"created_at":"2026-03-01T12:00:00Z"}`)
		default:
			_, _ = io.WriteString(w, `{"routes":[],"total":0,"page":1,"size":10}`)
		}
	})
	ctx := context.Background()

	start := models.RouteEndpoint{Coordinate: models.Coordinate{Latitude: 44.81, Longitude: 20.46}, Label: "Fortress"}
	end := models.RouteEndpoint{Coordinate: models.Coordinate{Latitude: 44.80, Longitude: 20.45}, Label: "Square"}
	saved, err := c.CreateRoute(ctx, RouteInput{Name: "Walk", StartPoint: PointFrom(start), EndPoint: PointFrom(end)})
	if err != nil {
		t.Fatal(err)
	}
	if saved.StartPoint() != start || saved.EndPoint() != end {
		t.Errorf("saved route endpoints = %+v / %+v", saved.StartPoint(), saved.EndPoint())
	}
	var payload RouteInput
	if err := json.Unmarshal((*reqs)[0].body, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.StartPoint.Name != "Fortress" || payload.EndPoint.Latitude != 44.80 {
		t.Errorf("payload = %+v", payload)
	}

	if _, err := c.Routes(ctx, 0, 10); err != nil {
		t.Fatal(err)
	}
	if got := (*reqs)[1]; got.path != "/routes/" || got.query != "limit=10" {
		t.Errorf("list request = %+v", got)
	}

	pr, err := c.RealRoute(ctx, start.Coordinate, end.Coordinate, "walking")
	if err != nil {
		t.Fatal(err)
	}
	path, err := pr.Geometry.Path()
	if err != nil || len(path) != 2 || path[0].Latitude != 44.81 {
		t.Fatalf("path = %v, %v", path, err)
	}
	if q := (*reqs)[2].query; !strings.Contains(q, "start_lat=44.81") || !strings.Contains(q, "profile=walking") {
		t.Errorf("real-route query = %q", q)
	}
}

func TestSearchAndErrors(t *testing.T) {
	c, reqs := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/profile/places/99" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail":"Place not found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"results":[{"name":"Belgrade","display_name":"Belgrade, Serbia","latitude":44.8,"longitude":20.46,"place_type":"city"}],"query":"belgrade","total_found":1}`)
	})
	ctx := context.Background()
	res, err := c.SearchLocations(ctx, "belgrade", 5)
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalFound != 1 || res.Results[0].DisplayName != "Belgrade, Serbia" {
		t.Fatalf("results = %+v", res)
	}
	if got := (*reqs)[0]; got.path != "/locations/search" || got.query != "limit=5&query=belgrade" {
		t.Errorf("search request = %+v", got)
	}

	err = c.DeletePlace(ctx, 99)
	if !apiclient.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestReportErrorPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	api, _ := apiclient.New(apiclient.Options{BaseURL: srv.URL})
	c := New(api, WithReportPath("/telemetry/errors"))
	if err := c.ReportError(context.Background(), ErrorReport{ID: "1", Operation: "login", Kind: "network"}); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/telemetry/errors" {
		t.Errorf("path = %q", gotPath)
	}
}

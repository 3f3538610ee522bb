// Package gpx converts places and saved routes to and from GPX 1.1.
//
// Places become waypoints (<wpt>); a saved route becomes a two-point route
// (<rte>) from its start to its end. Files are written atomically: the
// document goes to path.tmp which is then renamed over path.
package gpx

import (
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rubiojr/travelmate/pkg/models"
)

// ErrEmpty is returned by Parse for documents without waypoints or routes.
var ErrEmpty = errors.New("gpx: no waypoints or routes")

// Creator is written into the gpx root element.
const Creator = "travelmate"

// Guards concurrent writes to the same export path.
var writeMu sync.Mutex

// Waypoint is a GPX point (<wpt> or <rtept>).
type Waypoint struct {
	Name string  `xml:"name" json:"name,omitempty"`
	Lat  float64 `xml:"lat,attr" json:"lat"`
	Lon  float64 `xml:"lon,attr" json:"lon"`
	Time string  `xml:"time" json:"time,omitempty"`
	Desc string  `xml:"desc" json:"desc,omitempty"`
	Type string  `xml:"type" json:"type,omitempty"`
	Link *Link   `xml:"link" json:"link,omitempty"`
}

// Link is a GPX link element.
type Link struct {
	Href string `xml:"href,attr" json:"href"`
}

// Route is a GPX route (<rte>).
type Route struct {
	Name   string     `xml:"name" json:"name,omitempty"`
	Desc   string     `xml:"desc" json:"desc,omitempty"`
	Points []Waypoint `xml:"rtept" json:"points"`
}

type gpxRoot struct {
	Waypoints []Waypoint `xml:"wpt"`
	Routes    []Route    `xml:"rte"`
}

// FromPlace converts a place to a waypoint. The category goes into <type>.
func FromPlace(p models.Place) Waypoint {
	wp := Waypoint{
		Name: p.Name,
		Lat:  p.Latitude,
		Lon:  p.Longitude,
		Desc: p.Description,
		Type: string(p.Category.Normalize()),
	}
	if !p.CreatedAt.IsZero() {
		wp.Time = p.CreatedAt.UTC().Format(time.RFC3339)
	}
	if p.Website != "" {
		wp.Link = &Link{Href: p.Website}
	}
	return wp
}

// FromRoute converts a saved route to a two-point route.
func FromRoute(r models.SavedRoute) Route {
	start, end := r.StartPoint(), r.EndPoint()
	return Route{
		Name: r.Name,
		Desc: r.Description,
		Points: []Waypoint{
			{Name: start.Label, Lat: start.Coordinate.Latitude, Lon: start.Coordinate.Longitude},
			{Name: end.Label, Lat: end.Coordinate.Latitude, Lon: end.Coordinate.Longitude},
		},
	}
}

// Encode renders places and routes as a GPX document.
func Encode(places []models.Place, routes []models.SavedRoute) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, `<gpx version="1.1" creator="%s" xmlns="http://www.topografix.com/GPX/1/1">`+"\n", Creator)
	for _, p := range places {
		writePoint(&b, "wpt", "  ", FromPlace(p))
	}
	for _, r := range routes {
		rt := FromRoute(r)
		b.WriteString("  <rte>\n")
		if rt.Name != "" {
			fmt.Fprintf(&b, "    <name>%s</name>\n", escapeXML(rt.Name))
		}
		if rt.Desc != "" {
			fmt.Fprintf(&b, "    <desc>%s</desc>\n", escapeXML(rt.Desc))
		}
		for _, pt := range rt.Points {
			writePoint(&b, "rtept", "    ", pt)
		}
		b.WriteString("  </rte>\n")
	}
	b.WriteString("</gpx>\n")
	return []byte(b.String())
}

// writePoint writes child elements in GPX schema order.
func writePoint(b *strings.Builder, tag, indent string, wp Waypoint) {
	fmt.Fprintf(b, "%s<%s lat=\"%f\" lon=\"%f\">\n", indent, tag, wp.Lat, wp.Lon)
	if wp.Time != "" {
		fmt.Fprintf(b, "%s  <time>%s</time>\n", indent, wp.Time)
	}
	if wp.Name != "" {
		fmt.Fprintf(b, "%s  <name>%s</name>\n", indent, escapeXML(wp.Name))
	}
	if wp.Desc != "" {
		fmt.Fprintf(b, "%s  <desc>%s</desc>\n", indent, escapeXML(wp.Desc))
	}
	if wp.Link != nil && wp.Link.Href != "" {
		fmt.Fprintf(b, "%s  <link href=\"%s\"/>\n", indent, escapeAttr(wp.Link.Href))
	}
	if wp.Type != "" {
		fmt.Fprintf(b, "%s  <type>%s</type>\n", indent, escapeXML(wp.Type))
	}
	fmt.Fprintf(b, "%s</%s>\n", indent, tag)
}

// WriteFile writes places and routes to path atomically.
func WriteFile(path string, places []models.Place, routes []models.SavedRoute) error {
	writeMu.Lock()
	defer writeMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("gpx: create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, Encode(places, routes), 0o644); err != nil {
		return fmt.Errorf("gpx: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("gpx: rename %s: %w", tmp, err)
	}
	return nil
}

// Parse decodes a GPX document. Timestamps are normalised to RFC3339 UTC and
// points with invalid coordinates are dropped.
func Parse(data []byte) ([]Waypoint, []Route, error) {
	var root gpxRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, nil, fmt.Errorf("gpx: decode: %w", err)
	}
	wps := normalize(root.Waypoints)
	var routes []Route
	for _, r := range root.Routes {
		r.Points = normalize(r.Points)
		if len(r.Points) >= 2 {
			routes = append(routes, r)
		}
	}
	if len(wps) == 0 && len(routes) == 0 {
		return nil, nil, ErrEmpty
	}
	return wps, routes, nil
}

func normalize(in []Waypoint) []Waypoint {
	out := in[:0]
	for _, wp := range in {
		if (models.Coordinate{Latitude: wp.Lat, Longitude: wp.Lon}).Validate() != nil {
			continue
		}
		if wp.Time != "" {
			if t, err := time.Parse(time.RFC3339, wp.Time); err == nil {
				wp.Time = t.UTC().Format(time.RFC3339)
			}
		}
		wp.Name = strings.TrimSpace(wp.Name)
		out = append(out, wp)
	}
	return out
}

// Place converts a waypoint to a place, the reverse of FromPlace.
func (wp Waypoint) Place() models.Place {
	p := models.Place{
		Name:        wp.Name,
		Description: wp.Desc,
		Category:    models.Category(wp.Type).Normalize(),
		Latitude:    wp.Lat,
		Longitude:   wp.Lon,
	}
	if wp.Link != nil {
		p.Website = wp.Link.Href
	}
	if p.Name == "" {
		p.Name = fmt.Sprintf("Waypoint %.5f, %.5f", wp.Lat, wp.Lon)
	}
	return p
}

// Same reports whether a waypoint matches a place by name and position
// within 1e-6 degrees.
func (wp Waypoint) Same(p models.Place) bool {
	const eps = 1e-6
	return wp.Name == p.Name && math.Abs(wp.Lat-p.Latitude) < eps && math.Abs(wp.Lon-p.Longitude) < eps
}

// escapeXML performs minimal escaping for XML content nodes.
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func escapeAttr(s string) string {
	return strings.ReplaceAll(escapeXML(s), `"`, "&quot;")
}

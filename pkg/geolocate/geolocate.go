// Package geolocate obtains the device position for route starts.
//
// The GeoClue locator asks geoclue2 over the system bus for a single fix:
//
//	loc := geolocate.NewGeoClue("io.github.rubiojr.travelmate")
//	fix, err := loc.Locate(ctx, geolocate.Options{Timeout: 5 * time.Second})
//
// GeoClue requires the DesktopId to match a .desktop file carrying
// X-Geoclue-2-Client=true; EnsureDesktopFile writes one when missing.
// Failures are reported as *GeolocationError with a denied, unavailable or
// timeout reason and never abort the caller's broader action.
package geolocate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rubiojr/travelmate/pkg/models"
)

// DefaultTimeout bounds a Locate call when Options.Timeout is unset.
const DefaultTimeout = 5 * time.Second

// Options tune a single position request.
type Options struct {
	Timeout      time.Duration
	HighAccuracy bool
}

// Fix is a position report.
type Fix struct {
	Coordinate models.Coordinate `json:"coordinate"`
	Accuracy   float64           `json:"accuracy_m,omitempty"`
	Altitude   float64           `json:"altitude_m,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Locator returns the current position.
type Locator interface {
	Locate(ctx context.Context, opts Options) (Fix, error)
}

// Reason classifies a geolocation failure.
type Reason string

const (
	ReasonDenied      Reason = "denied"
	ReasonUnavailable Reason = "unavailable"
	ReasonTimeout     Reason = "timeout"
)

// GeolocationError is a non-fatal failure to obtain a position.
type GeolocationError struct {
	Reason Reason
	Err    error
}

func (e *GeolocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geolocation %s: %v", e.Reason, e.Err)
	}
	return "geolocation " + string(e.Reason)
}

func (e *GeolocationError) Unwrap() error { return e.Err }

// ReasonOf returns the failure reason carried by err, or "".
func ReasonOf(err error) Reason {
	var ge *GeolocationError
	if errors.As(err, &ge) {
		return ge.Reason
	}
	return ""
}

// Static always reports the same fix. A nil Fix reports unavailable.
type Static struct {
	Fix *Fix
}

// NewStatic returns a locator pinned at c.
func NewStatic(c models.Coordinate) *Static {
	return &Static{Fix: &Fix{Coordinate: c}}
}

// Locate implements Locator.
func (s *Static) Locate(ctx context.Context, _ Options) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, err
	}
	if s == nil || s.Fix == nil {
		return Fix{}, &GeolocationError{Reason: ReasonUnavailable}
	}
	f := *s.Fix
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}
	return f, nil
}

package geolocate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/rubiojr/travelmate/pkg/logger"
	"github.com/rubiojr/travelmate/pkg/models"
)

const (
	geoService    = "org.freedesktop.GeoClue2"
	managerPath   = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	managerIface  = "org.freedesktop.GeoClue2.Manager"
	clientIface   = "org.freedesktop.GeoClue2.Client"
	locationIface = "org.freedesktop.GeoClue2.Location"
	propsIface    = "org.freedesktop.DBus.Properties"
)

// GClueAccuracyLevel values.
const (
	accuracyCity  = uint32(4)
	accuracyExact = uint32(8)
)

// GeoClue is a one-shot geoclue2 client.
type GeoClue struct {
	desktopID string
	connect   func(ctx context.Context) (*dbus.Conn, error)
	log       zerolog.Logger
}

// NewGeoClue returns a locator identifying itself with desktopID.
func NewGeoClue(desktopID string) *GeoClue {
	return &GeoClue{
		desktopID: strings.TrimSuffix(desktopID, ".desktop"),
		connect: func(ctx context.Context) (*dbus.Conn, error) {
			return dbus.ConnectSystemBus(dbus.WithContext(ctx))
		},
		log: logger.With("geolocate"),
	}
}

// Locate implements Locator.
func (g *GeoClue) Locate(parent context.Context, opts Options) (Fix, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(parent, opts.Timeout)
	defer cancel()

	fix, err := g.locate(ctx, opts)
	if err == nil {
		return fix, nil
	}
	if parent.Err() != nil {
		return Fix{}, parent.Err()
	}
	gerr := classify(ctx, err)
	g.log.Debug().Str("reason", string(gerr.Reason)).Err(err).Msg("geolocation failed")
	return Fix{}, gerr
}

func (g *GeoClue) locate(ctx context.Context, opts Options) (Fix, error) {
	bus, err := g.connect(ctx)
	if err != nil {
		return Fix{}, err
	}
	defer bus.Close()

	var clientPath dbus.ObjectPath
	manager := bus.Object(geoService, managerPath)
	if call := manager.CallWithContext(ctx, managerIface+".CreateClient", 0); call.Err != nil {
		return Fix{}, call.Err
	} else if err := call.Store(&clientPath); err != nil {
		return Fix{}, err
	}
	client := bus.Object(geoService, clientPath)

	setProp := func(name string, val interface{}) error {
		return client.CallWithContext(ctx, propsIface+".Set", 0, clientIface, name, dbus.MakeVariant(val)).Err
	}
	if err := setProp("DesktopId", g.desktopID); err != nil {
		return Fix{}, fmt.Errorf("set DesktopId: %w", err)
	}
	acc := accuracyCity
	if opts.HighAccuracy {
		acc = accuracyExact
	}
	if err := setProp("RequestedAccuracyLevel", acc); err != nil {
		return Fix{}, fmt.Errorf("set accuracy: %w", err)
	}

	// Subscribe before Start so the first update cannot be missed.
	matchRule := fmt.Sprintf("type='signal',interface='%s',path='%s'", propsIface, clientPath)
	if call := bus.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, matchRule); call.Err != nil {
		return Fix{}, call.Err
	}
	sigCh := make(chan *dbus.Signal, 10)
	bus.Signal(sigCh)
	defer bus.RemoveSignal(sigCh)

	if call := client.CallWithContext(ctx, clientIface+".Start", 0); call.Err != nil {
		return Fix{}, call.Err
	}
	defer func() {
		// Stop must run even when ctx already expired.
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = client.CallWithContext(stopCtx, clientIface+".Stop", 0)
	}()

	if locPath, err := currentLocationPath(ctx, client); err == nil && validPath(locPath) {
		if fix, ok := readFix(ctx, bus, locPath); ok {
			return fix, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return Fix{}, ctx.Err()
		case sig, ok := <-sigCh:
			if !ok || sig == nil {
				return Fix{}, errors.New("dbus signal channel closed")
			}
			locPath, ok := changedLocation(sig, clientPath)
			if !ok {
				continue
			}
			if fix, ok := readFix(ctx, bus, locPath); ok {
				return fix, nil
			}
		}
	}
}

func validPath(p dbus.ObjectPath) bool {
	return p != "" && p != "/"
}

func currentLocationPath(ctx context.Context, client dbus.BusObject) (dbus.ObjectPath, error) {
	var variant dbus.Variant
	call := client.CallWithContext(ctx, propsIface+".Get", 0, clientIface, "Location")
	if call.Err != nil {
		return "", call.Err
	}
	if err := call.Store(&variant); err != nil {
		return "", err
	}
	p, _ := variant.Value().(dbus.ObjectPath)
	return p, nil
}

// changedLocation extracts the new Location path from a PropertiesChanged
// signal emitted by the client object.
func changedLocation(sig *dbus.Signal, clientPath dbus.ObjectPath) (dbus.ObjectPath, bool) {
	if sig.Name != propsIface+".PropertiesChanged" || sig.Path != clientPath || len(sig.Body) < 2 {
		return "", false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", false
	}
	v, ok := changed["Location"]
	if !ok {
		return "", false
	}
	p, ok := v.Value().(dbus.ObjectPath)
	return p, ok && validPath(p)
}

func readFix(ctx context.Context, bus *dbus.Conn, locPath dbus.ObjectPath) (Fix, bool) {
	var props map[string]dbus.Variant
	call := bus.Object(geoService, locPath).CallWithContext(ctx, propsIface+".GetAll", 0, locationIface)
	if call.Err != nil {
		return Fix{}, false
	}
	if err := call.Store(&props); err != nil {
		return Fix{}, false
	}
	return fixFromProps(props)
}

func fixFromProps(props map[string]dbus.Variant) (Fix, bool) {
	f64 := func(key string) float64 {
		if v, ok := props[key]; ok {
			if f, ok := v.Value().(float64); ok {
				return f
			}
		}
		return 0
	}
	c := models.Coordinate{Latitude: f64("Latitude"), Longitude: f64("Longitude")}
	if (c.Latitude == 0 && c.Longitude == 0) || c.Validate() != nil {
		return Fix{}, false
	}
	return Fix{
		Coordinate: c,
		Accuracy:   f64("Accuracy"),
		Altitude:   f64("Altitude"),
		Timestamp:  time.Now().UTC(),
	}, true
}

// classify maps a GeoClue or bus failure to a GeolocationError.
func classify(ctx context.Context, err error) *GeolocationError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &GeolocationError{Reason: ReasonTimeout, Err: err}
	}
	if name := dbusErrorName(err); strings.HasSuffix(name, ".AccessDenied") || strings.HasSuffix(name, ".NotAuthorized") {
		return &GeolocationError{Reason: ReasonDenied, Err: err}
	}
	return &GeolocationError{Reason: ReasonUnavailable, Err: err}
}

func dbusErrorName(err error) string {
	var v dbus.Error
	if errors.As(err, &v) {
		return v.Name
	}
	var p *dbus.Error
	if errors.As(err, &p) && p != nil {
		return p.Name
	}
	return ""
}

// EnsureDesktopFile writes a minimal desktop entry for desktopID under the
// user's applications dir unless one already exists.
func EnsureDesktopFile(dataHome, desktopID string) (string, error) {
	if !strings.HasSuffix(desktopID, ".desktop") {
		desktopID += ".desktop"
	}
	appsDir := filepath.Join(dataHome, "applications")
	if err := os.MkdirAll(appsDir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(appsDir, desktopID)
	if _, err := os.Stat(dest); err == nil {
		// Keep user customizations.
		return dest, nil
	}
	content := `[Desktop Entry]
Type=Application
Name=TravelMate
Comment=Travel planner (GeoClue client)
Exec=travelmate
Icon=travelmate
Terminal=false
Categories=Utility;Maps;
X-Geoclue-2-Client=true
X-Geoclue-2-Access-Fine=true
`
	return dest, os.WriteFile(dest, []byte(content), 0o644)
}

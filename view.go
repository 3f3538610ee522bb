package main

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rubiojr/travelmate/pkg/mapctl"
	"github.com/rubiojr/travelmate/pkg/models"
)

const maxNotices = 20

// Notice is a status message shown to the user.
type Notice struct {
	Level   mapctl.Level `json:"level"`
	Message string       `json:"message"`
	Time    time.Time    `json:"time"`
}

// ViewState is what a renderer needs to draw the page.
type ViewState struct {
	Markers       []mapctl.Marker                `json:"markers"`
	Polylines     map[string][]models.Coordinate `json:"polylines"`
	Cursor        mapctl.Cursor                  `json:"cursor"`
	ContextMenuAt *models.Coordinate             `json:"context_menu_at,omitempty"`
	QuickAddAt    *models.Coordinate             `json:"quick_add_at,omitempty"`
	QuickAddError string                         `json:"quick_add_error,omitempty"`
	LoginModal    bool                           `json:"login_modal"`
	Notices       []Notice                       `json:"notices"`
}

// View is the in-memory map widget and page chrome. It keeps what a real
// map library would draw and pushes every change to the event hub.
type View struct {
	hub *Hub

	mu            sync.Mutex
	markers       map[string]mapctl.Marker
	polylines     map[string][]models.Coordinate
	cursor        mapctl.Cursor
	contextMenuAt *models.Coordinate
	quickAddAt    *models.Coordinate
	quickAddError string
	loginModal    bool
	notices       []Notice
}

func NewView(hub *Hub) *View {
	return &View{
		hub:       hub,
		markers:   make(map[string]mapctl.Marker),
		polylines: make(map[string][]models.Coordinate),
		cursor:    mapctl.CursorDefault,
	}
}

func (v *View) publish(typ string, data interface{}) {
	if v.hub != nil {
		v.hub.Publish(typ, data)
	}
}

func (v *View) AddMarker(m mapctl.Marker) error {
	v.mu.Lock()
	if _, ok := v.markers[m.ID]; ok {
		v.mu.Unlock()
		return fmt.Errorf("marker %s already on the map", m.ID)
	}
	v.markers[m.ID] = m
	v.mu.Unlock()
	v.publish(EventMarkerAdded, m)
	return nil
}

func (v *View) RemoveMarker(id string) error {
	v.mu.Lock()
	if _, ok := v.markers[id]; !ok {
		v.mu.Unlock()
		return fmt.Errorf("marker %s is not on the map", id)
	}
	delete(v.markers, id)
	v.mu.Unlock()
	v.publish(EventMarkerRemoved, map[string]string{"id": id})
	return nil
}

func (v *View) DrawPolyline(id string, path []models.Coordinate) error {
	if len(path) < 2 {
		return fmt.Errorf("polyline %s needs at least two points", id)
	}
	v.mu.Lock()
	v.polylines[id] = append([]models.Coordinate(nil), path...)
	v.mu.Unlock()
	v.publish(EventPolyline, map[string]interface{}{"id": id, "path": path})
	return nil
}

func (v *View) RemovePolyline(id string) error {
	v.mu.Lock()
	if _, ok := v.polylines[id]; !ok {
		v.mu.Unlock()
		return fmt.Errorf("polyline %s is not on the map", id)
	}
	delete(v.polylines, id)
	v.mu.Unlock()
	v.publish(EventPolylineGone, map[string]string{"id": id})
	return nil
}

func (v *View) SetCursor(c mapctl.Cursor) error {
	v.mu.Lock()
	v.cursor = c
	v.mu.Unlock()
	v.publish(EventCursor, c)
	return nil
}

func (v *View) ShowContextMenu(at models.Coordinate) {
	v.mu.Lock()
	v.contextMenuAt = &at
	v.mu.Unlock()
	v.publish(EventContextMenu, map[string]interface{}{"open": true, "at": at})
}

func (v *View) HideContextMenu() {
	v.mu.Lock()
	v.contextMenuAt = nil
	v.mu.Unlock()
	v.publish(EventContextMenu, map[string]interface{}{"open": false})
}

func (v *View) OpenQuickAdd(at models.Coordinate) {
	v.mu.Lock()
	v.quickAddAt = &at
	v.quickAddError = ""
	v.loginModal = false
	v.mu.Unlock()
	v.publish(EventQuickAdd, map[string]interface{}{"open": true, "at": at})
}

func (v *View) CloseQuickAdd() {
	v.mu.Lock()
	v.quickAddAt = nil
	v.quickAddError = ""
	v.mu.Unlock()
	v.publish(EventQuickAdd, map[string]interface{}{"open": false})
}

func (v *View) ShowQuickAddError(msg string) {
	v.mu.Lock()
	v.quickAddError = msg
	v.mu.Unlock()
	v.publish(EventQuickAdd, map[string]interface{}{"open": true, "error": msg})
}

func (v *View) ShowLoginModal() {
	v.mu.Lock()
	v.loginModal = true
	v.mu.Unlock()
	v.publish(EventLoginRequired, nil)
}

// HideLoginModal closes the login modal after a login or when dismissed.
func (v *View) HideLoginModal() {
	v.mu.Lock()
	v.loginModal = false
	v.mu.Unlock()
}

func (v *View) Notify(level mapctl.Level, msg string) {
	n := Notice{Level: level, Message: msg, Time: time.Now().UTC()}
	v.mu.Lock()
	v.notices = append(v.notices, n)
	if len(v.notices) > maxNotices {
		v.notices = v.notices[len(v.notices)-maxNotices:]
	}
	v.mu.Unlock()
	v.publish(EventNotify, n)
}

// State returns a copy of the view.
func (v *View) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := ViewState{
		Markers:       make([]mapctl.Marker, 0, len(v.markers)),
		Polylines:     make(map[string][]models.Coordinate, len(v.polylines)),
		Cursor:        v.cursor,
		QuickAddError: v.quickAddError,
		LoginModal:    v.loginModal,
		Notices:       append([]Notice(nil), v.notices...),
	}
	for _, m := range v.markers {
		s.Markers = append(s.Markers, m)
	}
	sort.Slice(s.Markers, func(i, j int) bool { return s.Markers[i].ID < s.Markers[j].ID })
	for id, p := range v.polylines {
		s.Polylines[id] = append([]models.Coordinate(nil), p...)
	}
	if v.contextMenuAt != nil {
		at := *v.contextMenuAt
		s.ContextMenuAt = &at
	}
	if v.quickAddAt != nil {
		at := *v.quickAddAt
		s.QuickAddAt = &at
	}
	return s
}

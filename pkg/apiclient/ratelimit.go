package apiclient

import (
	"strings"
	"sync"
	"time"
)

// Category groups operations that share a rate-limit window.
type Category string

const (
	CategorySearch  Category = "search"
	CategoryRoutes  Category = "routes"
	CategoryGeneral Category = "general"
)

// RateWindow is the length of one counting interval.
const RateWindow = 60 * time.Second

// CategoryFor resolves the operation category of a request path.
func CategoryFor(path string) Category {
	p := strings.ToLower(path)
	switch {
	case strings.Contains(p, "/locations/search"):
		return CategorySearch
	case strings.Contains(p, "/route"):
		return CategoryRoutes
	default:
		return CategoryGeneral
	}
}

type window struct {
	count int
	start time.Time
}

// RateLimiter is a fixed-window counter per category. A window restarts on the
// first call made more than RateWindow after it opened.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[Category]int
	windows map[Category]*window
	now     func() time.Time
}

// NewRateLimiter returns a limiter; a limit <= 0 leaves that category unlimited.
func NewRateLimiter(limits map[Category]int, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{limits: limits, windows: make(map[Category]*window), now: now}
}

func (l *RateLimiter) current(cat Category) *window {
	now := l.now()
	w, ok := l.windows[cat]
	if !ok || now.Sub(w.start) > RateWindow {
		w = &window{start: now}
		l.windows[cat] = w
	}
	return w
}

// Allow counts one call and reports whether it fits in the current window.
// Rejected calls are not counted.
func (l *RateLimiter) Allow(cat Category) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current(cat)
	limit := l.limits[cat]
	if limit <= 0 {
		w.count++
		return true
	}
	if w.count >= limit {
		return false
	}
	w.count++
	return true
}

// Count returns the calls counted in the category's current window.
func (l *RateLimiter) Count(cat Category) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current(cat).count
}

// Package search geocodes free-text queries for the map search box.
//
// A Service wraps a Provider (the backend /locations/search endpoint or a
// Nominatim server). Search is latest-wins: a new query cancels the one in
// flight. Suggest is for type-ahead and drops failures silently. Successful
// searches are remembered in a short recent-queries list.
package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rubiojr/travelmate/pkg/logger"
	"github.com/rubiojr/travelmate/pkg/models"
	"github.com/rubiojr/travelmate/pkg/storage"
	"github.com/rubiojr/travelmate/pkg/task"
	"github.com/rubiojr/travelmate/pkg/validation"
)

const (
	// MaxRecent caps the recent-queries list.
	MaxRecent = 10
	// MinSuggestLength is the shortest prefix Suggest sends upstream.
	MinSuggestLength = 2

	recentKey = "recent_searches"
)

// KV is the durable store holding recent queries.
type KV interface {
	GetJSON(ctx context.Context, key string, v interface{}) error
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Service runs searches against a Provider.
type Service struct {
	provider Provider
	kv       KV
	limit    int
	log      zerolog.Logger

	searches task.Latest
	suggests task.Latest

	recentMu sync.Mutex
}

// NewService returns a Service. kv may be nil to disable recent queries.
func NewService(p Provider, kv KV, limit int) *Service {
	if limit <= 0 {
		limit = 5
	}
	return &Service{provider: p, kv: kv, limit: limit, log: logger.With("search")}
}

// Search geocodes query. An empty query is a validation error and never
// reaches the provider. A search superseded by a newer one returns
// task.ErrSuperseded.
func (s *Service) Search(ctx context.Context, query string) ([]models.Location, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validation.Errorf("query", "search query is required")
	}
	res, err := task.Run(ctx, &s.searches, func(ctx context.Context) ([]models.Location, error) {
		return s.provider.Search(ctx, query, s.limit)
	})
	if err != nil {
		return nil, err
	}
	s.remember(ctx, query)
	return Dedupe(res), nil
}

// Suggest returns type-ahead matches for prefix. Any failure, including
// being superseded by a newer keystroke, yields nil.
func (s *Service) Suggest(ctx context.Context, prefix string) []models.Location {
	prefix = strings.TrimSpace(prefix)
	if len([]rune(prefix)) < MinSuggestLength {
		return nil
	}
	res, err := task.Run(ctx, &s.suggests, func(ctx context.Context) ([]models.Location, error) {
		return s.provider.Search(ctx, prefix, s.limit)
	})
	if err != nil {
		s.log.Debug().Str("prefix", prefix).Err(err).Msg("suggestion dropped")
		return nil
	}
	return Dedupe(res)
}

// Cancel aborts any in-flight search or suggestion.
func (s *Service) Cancel() {
	s.searches.Cancel()
	s.suggests.Cancel()
}

// Recent returns remembered queries, most recent first.
func (s *Service) Recent(ctx context.Context) []string {
	if s.kv == nil {
		return nil
	}
	var list []string
	if err := s.kv.GetJSON(ctx, recentKey, &list); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn().Err(err).Msg("reading recent searches")
		}
		return nil
	}
	return list
}

// ClearRecent forgets all remembered queries.
func (s *Service) ClearRecent(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	return s.kv.Delete(ctx, recentKey)
}

// remember moves query to the front of the recent list. Matching ignores
// case; failures are only logged.
func (s *Service) remember(ctx context.Context, query string) {
	if s.kv == nil {
		return
	}
	s.recentMu.Lock()
	defer s.recentMu.Unlock()

	list := s.Recent(ctx)
	out := make([]string, 0, MaxRecent)
	out = append(out, query)
	for _, q := range list {
		if strings.EqualFold(q, query) {
			continue
		}
		if len(out) == MaxRecent {
			break
		}
		out = append(out, q)
	}
	if err := s.kv.SetJSON(ctx, recentKey, out, 0); err != nil {
		s.log.Warn().Err(err).Msg("saving recent searches")
	}
}

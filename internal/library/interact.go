package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spboyer/kinetic/internal/compare"
	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/recommend"
	"github.com/spboyer/kinetic/internal/scoring"
	"github.com/spboyer/kinetic/internal/store"
)

// Query selects the candidates of a recommendation.
type Query struct {
	// Fingerprint limits candidates to one request; empty ranks the whole
	// library.
	Fingerprint string
	Filters     recommend.Filters
	TopN        int
}

// SetFavorite flips the favorite flag. A change is recorded in the
// interaction log together with the flag and the group is rescored; setting
// the current value is a no-op.
func (l *Library) SetFavorite(ctx context.Context, id string, favorited bool) (*models.Solution, error) {
	sol, changed, err := l.store.MarkFavorite(ctx, id, favorited, l.now())
	if err != nil {
		return nil, err
	}
	if !changed {
		return sol, nil
	}
	return l.rescoreAndGet(ctx, sol.RequestFingerprint, id)
}

// SetManualRating sets or, with nil, clears the manual rating and rescores
// the group.
func (l *Library) SetManualRating(ctx context.Context, id string, rating *float64) (*models.Solution, error) {
	sol, err := l.store.SetManualRating(ctx, id, rating)
	if err != nil {
		return nil, err
	}
	return l.rescoreAndGet(ctx, sol.RequestFingerprint, id)
}

// RecordEvent appends an interaction. Kinds that feed the usage signal
// trigger a rescore of the solution's group.
func (l *Library) RecordEvent(ctx context.Context, id string, kind models.EventKind) (*models.InteractionEvent, error) {
	ev, err := l.store.AppendEvent(ctx, models.InteractionEvent{SolutionID: id, Kind: kind, Timestamp: l.now()})
	if err != nil {
		return nil, err
	}
	if affectsUsage(kind) {
		sol, err := l.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if _, err := l.Rescore(ctx, sol.RequestFingerprint); err != nil {
			return nil, fmt.Errorf("rescoring after %s: %w", kind, err)
		}
	}
	return ev, nil
}

func affectsUsage(k models.EventKind) bool {
	switch k {
	case models.EventFavorited, models.EventUnfavorited, models.EventSelected, models.EventExported:
		return true
	}
	return false
}

func (l *Library) rescoreAndGet(ctx context.Context, fp, id string) (*models.Solution, error) {
	group, err := l.Rescore(ctx, fp)
	if err != nil {
		return nil, err
	}
	for _, s := range group {
		if s.ID == id {
			return s, nil
		}
	}
	return l.store.Get(ctx, id)
}

// Recommend ranks the non-archived solutions selected by q against a
// snapshot of the whole interaction history.
func (l *Library) Recommend(ctx context.Context, q Query) ([]recommend.Ranked, error) {
	candidates, err := l.store.List(ctx, store.Filter{Fingerprint: q.Fingerprint})
	if err != nil {
		return nil, err
	}
	if q.Fingerprint != "" && len(candidates) == 0 {
		if _, err := l.store.ListByFingerprint(ctx, q.Fingerprint); err != nil {
			return nil, err
		}
	}
	// Equal rank keys keep this order.
	scoring.Sort(candidates)

	history, err := l.store.Events(ctx, store.EventQuery{})
	if err != nil {
		return nil, err
	}
	attrs, err := l.attributes(ctx, candidates, history)
	if err != nil {
		return nil, err
	}

	return l.recommender.Rank(recommend.Context{
		Candidates: candidates,
		History:    history,
		Attributes: attrs,
		Filters:    q.Filters,
		Now:        l.now(),
		TopN:       q.TopN,
	})
}

// attributes resolves the category and tech stack of history events whose
// solution is outside the candidate set.
func (l *Library) attributes(ctx context.Context, candidates []*models.Solution, history []models.InteractionEvent) (map[string]recommend.Attributes, error) {
	known := make(map[string]bool, len(candidates))
	for _, s := range candidates {
		known[s.ID] = true
	}
	var missing []string
	for _, ev := range history {
		if !known[ev.SolutionID] {
			known[ev.SolutionID] = true
			missing = append(missing, ev.SolutionID)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	others, err := l.store.List(ctx, store.Filter{IDs: missing, IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	attrs := make(map[string]recommend.Attributes, len(others))
	for _, s := range others {
		attrs[s.ID] = recommend.Attributes{Category: s.Category, TechStack: s.TechStack}
	}
	return attrs, nil
}

// Compare reports per-metric differences between two or more solutions.
func (l *Library) Compare(ctx context.Context, ids []string) (*compare.Report, error) {
	return l.comparer.Compare(ctx, ids)
}

// Trending ranks non-archived solutions by the interactions they received
// within window before now; zero uses the default window.
func (l *Library) Trending(ctx context.Context, window time.Duration, limit int) ([]recommend.Trend, error) {
	if window < 0 {
		return nil, &models.ValidationError{Field: "window", Value: window, Err: errors.New("must not be negative")}
	}
	if window == 0 {
		window = recommend.DefaultTrendWindow
	}
	now := l.now()
	candidates, err := l.store.List(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}
	history, err := l.store.Events(ctx, store.EventQuery{Since: now.Add(-window)})
	if err != nil {
		return nil, err
	}
	return recommend.Trending(candidates, history, now, window, limit), nil
}

// Search finds non-archived solutions whose category, tags, tech stack or
// code mention every term of query.
func (l *Library) Search(ctx context.Context, query string, filters recommend.Filters, limit int) ([]recommend.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &models.ValidationError{Field: "query", Value: query, Err: errors.New("must not be empty")}
	}
	candidates, err := l.store.List(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}
	return recommend.Search(candidates, query, filters, limit), nil
}

package library

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spboyer/kinetic/internal/cache"
	"github.com/spboyer/kinetic/internal/fingerprint"
	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/scoring"
)

// profile analyzes source, consulting the cache first.
func (l *Library) profile(source string) models.PerformanceProfile {
	var key string
	if l.cache != nil {
		key = cache.Key(l.analyzer.Key(), fingerprint.ContentHash(source))
		if p, ok := l.cache.Get(key); ok {
			l.notifyProgress(ProgressEvent{EventType: EventAnalysisCacheHit})
			return p
		}
	}

	start := time.Now()
	p := l.analyzer.Analyze(source)
	l.notifyProgress(ProgressEvent{EventType: EventAnalysisComputed, DurationMs: time.Since(start).Milliseconds()})
	if p.ParseFailed {
		l.logger.Warn("analysis recorded parse failures", "issues", p.CountBySeverity(models.SeverityCritical))
	}
	if l.cache != nil {
		if err := l.cache.Put(key, p); err != nil {
			l.logger.Warn("failed to cache analysis", "error", err)
		}
	}
	return p
}

// Rescore recomputes every score in a fingerprint group. Members that were
// never analyzed are analyzed first. Usage shares depend on the whole group,
// so a single interaction can move every member's score.
func (l *Library) Rescore(ctx context.Context, fp string) ([]*models.Solution, error) {
	mu, _ := l.rescoring.LoadOrStore(fp, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	group, events, err := l.loadGroup(ctx, fp)
	if err != nil {
		return nil, err
	}

	for i, s := range group {
		if s.PerformanceProfile.Analyzed() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		updated, err := l.store.UpdateAnalysis(ctx, s.ID, l.profile(s.SourceCode), s.ComputedScore)
		if err != nil {
			return nil, fmt.Errorf("storing analysis of %s: %w", s.ID, err)
		}
		group[i] = updated
	}

	scores := scoring.ScoreGroup(l.scorer, group, scoring.Aggregate(events))
	if err := l.store.UpdateScores(ctx, scores); err != nil {
		return nil, err
	}
	for _, s := range group {
		s.ComputedScore = scores[s.ID]
	}
	scoring.Sort(group)

	l.logger.Debug("rescored fingerprint", "fingerprint", fingerprint.Short(fp), "solutions", len(group))
	return group, nil
}

// RescoreAll rescores every fingerprint group, bounded by the configured
// worker count. Groups are independent so they run in parallel; a failure in
// one group cancels the rest.
func (l *Library) RescoreAll(ctx context.Context) (int, error) {
	fps, err := l.store.Fingerprints(ctx)
	if err != nil {
		return 0, err
	}
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	counts := make([]int, len(fps))
	for i, fp := range fps {
		g.Go(func() error {
			group, err := l.Rescore(gctx, fp)
			if err != nil {
				return fmt.Errorf("rescoring %s: %w", fingerprint.Short(fp), err)
			}
			counts[i] = len(group)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	l.notifyProgress(ProgressEvent{
		EventType:  EventRescoreComplete,
		Total:      total,
		DurationMs: time.Since(start).Milliseconds(),
	})
	l.logger.Info("rescored library", "fingerprints", len(fps), "solutions", total)
	return total, nil
}

// RunRescoreLoop rescores the library every interval until ctx is done.
// Failed passes are logged and retried on the next tick.
func (l *Library) RunRescoreLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("rescore interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := l.RescoreAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				l.logger.Warn("background rescore failed", "error", err)
			}
		}
	}
}

// groupUsage returns the usage signal of every member of a fingerprint group.
func (l *Library) groupUsage(ctx context.Context, fp string) (map[string]scoring.Usage, error) {
	group, events, err := l.loadGroup(ctx, fp)
	if err != nil {
		return nil, err
	}
	return scoring.GroupUsage(group, scoring.Aggregate(events)), nil
}

// loadGroup returns a fingerprint group and its full interaction history.
func (l *Library) loadGroup(ctx context.Context, fp string) ([]*models.Solution, []models.InteractionEvent, error) {
	group, err := l.store.ListByFingerprint(ctx, fp)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, len(group))
	for i, s := range group {
		ids[i] = s.ID
	}
	events, err := l.store.EventsFor(ctx, ids...)
	if err != nil {
		return nil, nil, err
	}
	return group, events, nil
}

package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/spboyer/kinetic/internal/fingerprint"
	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/scoring"
)

// ErrNoGenerator is returned by Solve when the library has no answer and no
// generator is configured.
var ErrNoGenerator = errors.New("no generator configured")

// DeriveOptimized applies the safe rewrites to a stored solution and stores
// the result as a new version whose parent is id. When the rewrite produces
// code already in the group, the existing solution is returned.
func (l *Library) DeriveOptimized(ctx context.Context, id string) (*models.Solution, error) {
	parent, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	code := l.analyzer.Optimize(parent.SourceCode)
	if code == parent.SourceCode {
		return nil, fmt.Errorf("%s: %w", id, ErrNothingToOptimize)
	}

	derived, err := l.store.DeriveOptimized(ctx, id, code)
	var dup *models.DuplicateContentError
	if errors.As(err, &dup) {
		l.logger.Warn("optimized code already stored", "parent", id, "id", dup.Existing.ID)
		return dup.Existing, nil
	}
	if err != nil {
		return nil, err
	}

	p := l.profile(derived.SourceCode)
	if _, err := l.store.UpdateAnalysis(ctx, derived.ID, p, derived.ComputedScore); err != nil {
		return nil, err
	}
	l.logger.Info("derived optimized version", "parent", id, "id", derived.ID, "version", derived.Version)
	return l.rescoreAndGet(ctx, derived.RequestFingerprint, derived.ID)
}

// Solved returns the best non-archived solution of fp when it meets the
// solved threshold, or nil when the request still needs generation.
func (l *Library) Solved(ctx context.Context, fp string) (*models.Solution, error) {
	group, err := l.store.ListByFingerprint(ctx, fp)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var best *models.Solution
	for _, s := range group {
		if s.Archived || s.ComputedScore < l.threshold {
			continue
		}
		if best == nil || scoring.Compare(s, best) < 0 {
			best = s
		}
	}
	return best, nil
}

// Solve answers a request from the library when it is already solved and
// from the generator otherwise, ingesting what the generator returns. The
// boolean reports whether generation was skipped.
func (l *Library) Solve(ctx context.Context, req models.RequestInputs) (*models.Solution, bool, error) {
	fp := fingerprint.Compute(req)
	best, err := l.Solved(ctx, fp)
	if err != nil {
		return nil, false, err
	}
	if best != nil {
		l.logger.Debug("request already solved", "fingerprint", fingerprint.Short(fp), "id", best.ID)
		l.notifyProgress(ProgressEvent{EventType: EventSolveFromLibrary, Fingerprint: fp, SolutionID: best.ID, Score: best.ComputedScore})
		return best, true, nil
	}
	if l.generator == nil {
		return nil, false, ErrNoGenerator
	}

	l.notifyProgress(ProgressEvent{EventType: EventSolveFromGenerate, Fingerprint: fp})
	candidates, err := l.generator.Generate(ctx, req)
	if err != nil {
		return nil, false, fmt.Errorf("generating candidates: %w", err)
	}
	for i := range candidates {
		candidates[i].Request = req
		candidates[i].Fingerprint = fp
	}
	if _, err := l.Ingest(ctx, candidates); err != nil {
		return nil, false, err
	}

	group, err := l.Group(ctx, fp)
	if errors.Is(err, models.ErrNotFound) {
		return nil, false, &models.InsufficientCandidatesError{Need: 1, Got: 0}
	}
	if err != nil {
		return nil, false, err
	}
	for _, s := range group {
		if !s.Archived {
			return s, false, nil
		}
	}
	return nil, false, &models.InsufficientCandidatesError{Need: 1, Got: 0}
}

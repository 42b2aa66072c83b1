// Package library wires the store, analyzer, scoring model and recommendation
// engine into the solution lifecycle: ingest, analyze, score, rank and learn
// from interactions.
package library

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/spboyer/kinetic/internal/analyzer"
	"github.com/spboyer/kinetic/internal/cache"
	"github.com/spboyer/kinetic/internal/compare"
	"github.com/spboyer/kinetic/internal/generate"
	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/recommend"
	"github.com/spboyer/kinetic/internal/scoring"
	"github.com/spboyer/kinetic/internal/store"
)

// DefaultSolvedThreshold is the score a solution needs for its request to
// count as solved.
const DefaultSolvedThreshold = 0.7

// ErrNothingToOptimize is returned by DeriveOptimized when no safe rewrite
// applies to the source.
var ErrNothingToOptimize = errors.New("no safe optimization applies")

// Options configures a Library. The zero value is usable.
type Options struct {
	Logger *slog.Logger
	// Cache holds analysis results; nil disables caching.
	Cache *cache.Cache
	// Generator is consulted by Solve when the library has no good answer.
	Generator       generate.Generator
	SolvedThreshold float64
	// Workers bounds fingerprint-level parallelism in bulk passes.
	Workers int
	Now     func() time.Time
}

// Library is the solution lifecycle service. It is safe for concurrent use.
type Library struct {
	store       *store.Store
	analyzer    *analyzer.Analyzer
	scorer      scoring.Scorer
	recommender *recommend.Engine
	comparer    *compare.Engine

	cache     *cache.Cache
	generator generate.Generator
	logger    *slog.Logger
	now       func() time.Time
	threshold float64
	workers   int

	// rescoring serializes group rescoring per fingerprint so that the last
	// write always reflects the newest snapshot.
	rescoring sync.Map

	progressMu sync.Mutex
	listeners  []ProgressListener
}

// New creates a Library over an open store.
func New(st *store.Store, an *analyzer.Analyzer, sc scoring.Scorer, rec *recommend.Engine, opts Options) *Library {
	l := &Library{
		store:       st,
		analyzer:    an,
		scorer:      sc,
		recommender: rec,
		comparer:    compare.NewEngine(st),
		cache:       opts.Cache,
		generator:   opts.Generator,
		logger:      opts.Logger,
		now:         opts.Now,
		threshold:   opts.SolvedThreshold,
		workers:     opts.Workers,
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.threshold <= 0 {
		l.threshold = DefaultSolvedThreshold
	}
	if l.workers <= 0 {
		l.workers = 4
	}
	return l
}

// Get returns one solution.
func (l *Library) Get(ctx context.Context, id string) (*models.Solution, error) {
	return l.store.Get(ctx, id)
}

// List returns solutions ordered by fingerprint and version.
func (l *Library) List(ctx context.Context, f store.Filter) ([]*models.Solution, error) {
	return l.store.List(ctx, f)
}

// Group returns every version stored for a fingerprint, best first.
func (l *Library) Group(ctx context.Context, fp string) ([]*models.Solution, error) {
	sols, err := l.store.ListByFingerprint(ctx, fp)
	if err != nil {
		return nil, err
	}
	scoring.Sort(sols)
	return sols, nil
}

// Stats summarizes the library.
func (l *Library) Stats(ctx context.Context) (*store.Stats, error) {
	return l.store.Stats(ctx)
}

// Archive hides a solution from recommendations without deleting it.
func (l *Library) Archive(ctx context.Context, id string, archived bool) (*models.Solution, error) {
	return l.store.Archive(ctx, id, archived)
}

// PurgeEvents drops interaction events older than before.
func (l *Library) PurgeEvents(ctx context.Context, before time.Time) (int64, error) {
	return l.store.PurgeEvents(ctx, before)
}

// History returns a snapshot of the interaction log.
func (l *Library) History(ctx context.Context, q store.EventQuery) ([]models.InteractionEvent, error) {
	return l.store.Events(ctx, q)
}

// Breakdown explains a solution's current score.
func (l *Library) Breakdown(ctx context.Context, id string) (*scoring.Breakdown, error) {
	sol, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	model, ok := l.scorer.(*scoring.Model)
	if !ok {
		model = scoring.NewModel(scoring.DefaultConfig())
	}
	usage, err := l.groupUsage(ctx, sol.RequestFingerprint)
	if err != nil {
		return nil, err
	}
	b := model.Breakdown(sol.PerformanceProfile, sol.ManualRating, usage[sol.ID])
	return &b, nil
}

// Suggestions lists the remediations for a solution's detected issues.
func (l *Library) Suggestions(ctx context.Context, id string) ([]analyzer.Suggestion, error) {
	sol, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return analyzer.Suggestions(sol.PerformanceProfile), nil
}

// Similar returns the stored solutions most like id across all fingerprints.
func (l *Library) Similar(ctx context.Context, id string, limit int) ([]recommend.Match, error) {
	target, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	all, err := l.store.List(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}
	return recommend.Similar(target, all, limit), nil
}

package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/spboyer/kinetic/internal/fingerprint"
	"github.com/spboyer/kinetic/internal/models"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// stepClock returns a clock that advances one second per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := baseTime
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir(), &Options{Now: stepClock()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func bounceCandidate(code string) models.Candidate {
	return models.Candidate{
		SourceCode: code,
		Category:   "bounce",
		TechStack:  models.TechCSSAnimation,
		Request: models.RequestInputs{
			Description:      "A ball that bounces",
			StyleConstraints: []string{"playful"},
			TargetDuration:   2 * time.Second,
		},
		Tags: []string{"Ball", "bounce"},
	}
}

func TestOpen_SecondOpenIsLocked(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), dir, nil)
	require.NoError(t, err)

	_, err = Open(context.Background(), dir, nil)
	require.ErrorIs(t, err, ErrLibraryLocked)

	require.NoError(t, s.Close())

	again, err := Open(context.Background(), dir, nil)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, dir, nil)
	require.NoError(t, err)
	sol, err := s.Put(ctx, bounceCandidate("<div>a</div>"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, dir, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, sol.ID)
	require.NoError(t, err)
	assert.Equal(t, sol.SourceCode, got.SourceCode)
}

func TestOpen_SchemaMismatch(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, dir, nil)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, "UPDATE schema_version SET version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(ctx, dir, nil)
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestPut_AssignsVersionAndStableID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := bounceCandidate("<div class=a></div>")
	sol, err := s.Put(ctx, c)
	require.NoError(t, err)

	fp := fingerprint.Compute(c.Request)
	assert.Equal(t, fp, sol.RequestFingerprint)
	assert.Equal(t, 1, sol.Version)
	assert.Equal(t, fingerprint.SolutionID(fp, 1), sol.ID)
	assert.Equal(t, []string{"ball", "bounce"}, sol.Tags)
	assert.False(t, sol.IsDerivative())

	got, err := s.Get(ctx, sol.ID)
	require.NoError(t, err)
	assert.Equal(t, sol.SourceCode, got.SourceCode)
	assert.Equal(t, sol.Category, got.Category)
	assert.Equal(t, sol.Tags, got.Tags)
	assert.True(t, sol.CreatedAt.Equal(got.CreatedAt))
}

func TestPut_DuplicateContentReturnsCanonical(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Put(ctx, bounceCandidate("<div>same</div>"))
	require.NoError(t, err)

	_, err = s.Put(ctx, bounceCandidate("<div>same</div>"))
	var dup *models.DuplicateContentError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.Existing.ID)

	sols, err := s.ListByFingerprint(ctx, first.RequestFingerprint)
	require.NoError(t, err)
	assert.Len(t, sols, 1)

	// Same code under a different request is a different solution.
	other := bounceCandidate("<div>same</div>")
	other.Request.Description = "A ball that rolls"
	_, err = s.Put(ctx, other)
	require.NoError(t, err)
}

func TestPut_ConcurrentSameFingerprintHasNoGaps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 16
	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			_, err := s.Put(gctx, bounceCandidate(fmt.Sprintf("<div>%d</div>", i)))
			return err
		})
	}
	require.NoError(t, g.Wait())

	sols, err := s.ListByFingerprint(ctx, fingerprint.Compute(bounceCandidate("").Request))
	require.NoError(t, err)
	require.Len(t, sols, n)
	for i, sol := range sols {
		assert.Equal(t, i+1, sol.Version)
	}
}

func TestPut_RetriesOnceOnVersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Put(ctx, bounceCandidate("<div>1</div>"))
	require.NoError(t, err)

	calls := 0
	s.nextVersion = func(_ string, computed int) int {
		calls++
		if calls == 1 {
			return 1 // stale: already taken
		}
		return computed
	}

	sol, err := s.Put(ctx, bounceCandidate("<div>2</div>"))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, sol.Version)

	// A conflict that persists surfaces to the caller.
	s.nextVersion = func(string, int) int { return 1 }
	_, err = s.Put(ctx, bounceCandidate("<div>3</div>"))
	require.ErrorIs(t, err, models.ErrConcurrencyConflict)

	sols, err := s.ListByFingerprint(ctx, first.RequestFingerprint)
	require.NoError(t, err)
	assert.Len(t, sols, 2)
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "sol_missing")
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = s.ListByFingerprint(context.Background(), "nope")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestMutableFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sol, err := s.Put(ctx, bounceCandidate("<div>m</div>"))
	require.NoError(t, err)

	fav, err := s.SetFavorite(ctx, sol.ID, true)
	require.NoError(t, err)
	assert.True(t, fav.Favorited)

	rating := 4.5
	rated, err := s.SetManualRating(ctx, sol.ID, &rating)
	require.NoError(t, err)
	require.NotNil(t, rated.ManualRating)
	assert.Equal(t, 4.5, *rated.ManualRating)

	bad := 5.5
	_, err = s.SetManualRating(ctx, sol.ID, &bad)
	require.ErrorIs(t, err, models.ErrInvalidRating)

	cleared, err := s.SetManualRating(ctx, sol.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, cleared.ManualRating)
	assert.Equal(t, sol.SourceCode, cleared.SourceCode)
	assert.Equal(t, sol.Version, cleared.Version)

	_, err = s.SetFavorite(ctx, "sol_missing", true)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestPutAnalyzed_StoresProfileWithSolution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	profile := models.PerformanceProfile{DOMNodeCount: 2, CPUCost: models.CostLow, GPUCost: models.CostLow, Memory: models.MemorySmall}
	sol, err := s.PutAnalyzed(ctx, bounceCandidate("<div>p</div>"), profile, 0.7)
	require.NoError(t, err)

	got, err := s.Get(ctx, sol.ID)
	require.NoError(t, err)
	assert.True(t, got.PerformanceProfile.Analyzed())
	assert.Equal(t, profile, got.PerformanceProfile)
	assert.Equal(t, 0.7, got.ComputedScore)

	_, err = s.PutAnalyzed(ctx, bounceCandidate("<div>q</div>"), profile, 1.5)
	require.Error(t, err)
	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMarkFavorite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sol, err := s.Put(ctx, bounceCandidate("<div>f</div>"))
	require.NoError(t, err)

	fav, changed, err := s.MarkFavorite(ctx, sol.ID, true, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, fav.Favorited)

	_, changed, err = s.MarkFavorite(ctx, sol.ID, true, baseTime.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	events, err := s.EventsFor(ctx, sol.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventFavorited, events[0].Kind)
	assert.True(t, events[0].Timestamp.Equal(baseTime.Add(time.Hour)))

	_, _, err = s.MarkFavorite(ctx, "sol_missing", true, baseTime)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestMarkFavorite_FailedEventLeavesFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sol, err := s.Put(ctx, bounceCandidate("<div>g</div>"))
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, "ALTER TABLE events RENAME TO events_offline")
	require.NoError(t, err)
	_, _, err = s.MarkFavorite(ctx, sol.ID, true, baseTime)
	require.Error(t, err)
	_, err = s.db.ExecContext(ctx, "ALTER TABLE events_offline RENAME TO events")
	require.NoError(t, err)

	got, err := s.Get(ctx, sol.ID)
	require.NoError(t, err)
	assert.False(t, got.Favorited)

	// A retry applies both halves.
	_, changed, err := s.MarkFavorite(ctx, sol.ID, true, baseTime)
	require.NoError(t, err)
	assert.True(t, changed)
	events, err := s.EventsFor(ctx, sol.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestUpdateAnalysisAndScores(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Put(ctx, bounceCandidate("<div>a</div>"))
	require.NoError(t, err)
	b, err := s.Put(ctx, bounceCandidate("<div>b</div>"))
	require.NoError(t, err)

	profile := models.PerformanceProfile{
		DOMNodeCount: 3,
		CPUCost:      models.CostLow,
		GPUCost:      models.CostLow,
		Memory:       models.MemorySmall,
		Issues:       []models.Issue{{Rule: "long-duration", Severity: models.SeverityInfo, Category: models.IssueTiming}},
	}
	got, err := s.UpdateAnalysis(ctx, a.ID, profile, 0.8)
	require.NoError(t, err)
	assert.Equal(t, profile, got.PerformanceProfile)
	assert.Equal(t, 0.8, got.ComputedScore)

	_, err = s.UpdateAnalysis(ctx, a.ID, profile, 1.2)
	require.Error(t, err)

	require.NoError(t, s.UpdateScores(ctx, map[string]float64{a.ID: 0.3, b.ID: 0.6}))
	got, err = s.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.6, got.ComputedScore)

	err = s.UpdateScores(ctx, map[string]float64{a.ID: 0.9, "sol_missing": 0.1})
	require.ErrorIs(t, err, models.ErrNotFound)
	got, err = s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.3, got.ComputedScore, "failed batch must leave prior scores")
}

func TestDeriveOptimized(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent, err := s.Put(ctx, bounceCandidate("<style>@keyframes a{to{left:10px}}</style>"))
	require.NoError(t, err)
	_, err = s.SetFavorite(ctx, parent.ID, true)
	require.NoError(t, err)

	child, err := s.DeriveOptimized(ctx, parent.ID, "<style>@keyframes a{to{transform: translateX(10px)}}</style>")
	require.NoError(t, err)
	assert.Equal(t, parent.ID, child.ParentID)
	assert.Equal(t, 2, child.Version)
	assert.Equal(t, parent.RequestFingerprint, child.RequestFingerprint)
	assert.Equal(t, parent.Category, child.Category)
	assert.False(t, child.Favorited)
	assert.True(t, child.CreatedAt.After(parent.CreatedAt))

	_, err = s.DeriveOptimized(ctx, "sol_missing", "x")
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = s.DeriveOptimized(ctx, parent.ID, parent.SourceCode)
	require.ErrorIs(t, err, models.ErrDuplicateContent)
}

func TestImport_RoundTripAssignsNewVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	orig, err := s.Put(ctx, bounceCandidate("<div>x</div>"))
	require.NoError(t, err)
	rating := 3.0
	_, err = s.SetManualRating(ctx, orig.ID, &rating)
	require.NoError(t, err)
	_, err = s.SetFavorite(ctx, orig.ID, true)
	require.NoError(t, err)
	orig, err = s.UpdateAnalysis(ctx, orig.ID, models.PerformanceProfile{CPUCost: models.CostMedium, DOMNodeCount: 7}, 0.55)
	require.NoError(t, err)

	imported, err := s.Import(ctx, *orig)
	require.NoError(t, err)

	assert.NotEqual(t, orig.ID, imported.ID)
	assert.Equal(t, orig.Version+1, imported.Version)

	want := orig.Clone()
	want.ID = imported.ID
	want.Version = imported.Version
	assert.True(t, want.CreatedAt.Equal(imported.CreatedAt))
	want.CreatedAt = imported.CreatedAt
	assert.Equal(t, want, imported)

	stored, err := s.Get(ctx, imported.ID)
	require.NoError(t, err)
	assert.Equal(t, imported.SourceCode, stored.SourceCode)
	assert.Equal(t, imported.PerformanceProfile, stored.PerformanceProfile)
}

func TestImport_DropsUnknownParent(t *testing.T) {
	s := newTestStore(t)
	sol, err := s.Import(context.Background(), models.Solution{
		RequestFingerprint: "fp-external",
		SourceCode:         "<div></div>",
		Category:           models.CategoryEffect,
		ParentID:           "sol_elsewhere",
	})
	require.NoError(t, err)
	assert.Empty(t, sol.ParentID)
	assert.Equal(t, 1, sol.Version)

	_, err = s.Import(context.Background(), models.Solution{SourceCode: "x"})
	require.Error(t, err)
	assert.Equal(t, "validation", models.Kind(err))
}

func TestList_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Put(ctx, bounceCandidate("<div>a</div>"))
	require.NoError(t, err)
	fade := bounceCandidate("<div>b</div>")
	fade.Category = "fade"
	fade.TechStack = models.TechGSAP
	b, err := s.Put(ctx, fade)
	require.NoError(t, err)
	require.NoError(t, s.UpdateScores(ctx, map[string]float64{a.ID: 0.2, b.ID: 0.9}))
	_, err = s.Archive(ctx, a.ID, true)
	require.NoError(t, err)

	visible, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, b.ID, visible[0].ID)

	all, err := s.List(ctx, Filter{IncludeArchived: true, MinScore: 0.1})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byTech, err := s.List(ctx, Filter{IncludeArchived: true, TechStack: models.TechGSAP})
	require.NoError(t, err)
	require.Len(t, byTech, 1)
	assert.Equal(t, models.Category("fade"), byTech[0].Category)

	byIDs, err := s.List(ctx, Filter{IncludeArchived: true, IDs: []string{a.ID}})
	require.NoError(t, err)
	require.Len(t, byIDs, 1)

	fps, err := s.Fingerprints(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{a.RequestFingerprint}, fps)
}

func TestEvents_AppendOrderAndPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sol, err := s.Put(ctx, bounceCandidate("<div>e</div>"))
	require.NoError(t, err)

	at := baseTime.Add(time.Hour)
	first, err := s.AppendEvent(ctx, models.InteractionEvent{SolutionID: sol.ID, Kind: models.EventSelected, Timestamp: at})
	require.NoError(t, err)
	second, err := s.AppendEvent(ctx, models.InteractionEvent{SolutionID: sol.ID, Kind: models.EventViewed, Timestamp: at})
	require.NoError(t, err)
	early, err := s.AppendEvent(ctx, models.InteractionEvent{SolutionID: sol.ID, Kind: models.EventFavorited, Timestamp: baseTime})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	evs, err := s.Events(ctx, EventQuery{})
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, []string{early.ID, first.ID, second.ID}, []string{evs[0].ID, evs[1].ID, evs[2].ID})

	since, err := s.Events(ctx, EventQuery{Since: at})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	_, err = s.AppendEvent(ctx, models.InteractionEvent{SolutionID: "sol_missing", Kind: models.EventViewed})
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = s.AppendEvent(ctx, models.InteractionEvent{SolutionID: sol.ID, Kind: "liked"})
	require.ErrorIs(t, err, models.ErrInvalidEventKind)

	n, err := s.PurgeEvents(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	evs, err = s.EventsFor(ctx, sol.ID)
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestEvents_ConcurrentAppends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sol, err := s.Put(ctx, bounceCandidate("<div>c</div>"))
	require.NoError(t, err)

	const n = 32
	var g errgroup.Group
	for range n {
		g.Go(func() error {
			_, err := s.AppendEvent(ctx, models.InteractionEvent{SolutionID: sol.ID, Kind: models.EventViewed})
			return err
		})
	}
	require.NoError(t, g.Wait())

	evs, err := s.EventsFor(ctx, sol.ID)
	require.NoError(t, err)
	assert.Len(t, evs, n)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Put(ctx, bounceCandidate("<div>a</div>"))
	require.NoError(t, err)
	_, err = s.DeriveOptimized(ctx, a.ID, "<div>a2</div>")
	require.NoError(t, err)
	_, err = s.SetFavorite(ctx, a.ID, true)
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, models.InteractionEvent{SolutionID: a.ID, Kind: models.EventSelected})
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Solutions)
	assert.Equal(t, 1, st.Fingerprints)
	assert.Equal(t, 1, st.Favorited)
	assert.Equal(t, 1, st.Derivatives)
	assert.Equal(t, 1, st.Events)
	assert.Equal(t, 2, st.ByCategory["bounce"])
	assert.Equal(t, 2, st.ByTechStack[models.TechCSSAnimation])
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	km := newKeyedMutex()
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("fp")
			defer unlock()
			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, km.entries)
}

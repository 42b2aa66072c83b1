package library

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/spboyer/kinetic/internal/analyzer"
	"github.com/spboyer/kinetic/internal/cache"
	"github.com/spboyer/kinetic/internal/fingerprint"
	"github.com/spboyer/kinetic/internal/generate"
	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/recommend"
	"github.com/spboyer/kinetic/internal/scoring"
	"github.com/spboyer/kinetic/internal/store"
)

const (
	cleanCode = `<div class="ball"></div>
<style>
.ball { animation: spin 2s linear infinite; }
@keyframes spin { from { transform: rotate(0deg); } to { transform: rotate(360deg); } }
</style>`
	layoutCode = `<style>@keyframes move { from { left: 0; } to { left: 100px; } }</style>`
	brokenCode = `<style>.a { color: red; </style>`
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

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

type fixture struct {
	lib   *Library
	store *store.Store
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	clock := stepClock()
	st, err := store.Open(context.Background(), t.TempDir(), &store.Options{Now: clock})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	if opts.Now == nil {
		opts.Now = clock
	}
	lib := New(st,
		analyzer.New(analyzer.Config{}),
		scoring.NewModel(scoring.DefaultConfig()),
		recommend.NewEngine(recommend.DefaultConfig()),
		opts,
	)
	return fixture{lib: lib, store: st}
}

var ballRequest = models.RequestInputs{Description: "A ball that bounces", TargetDuration: 2 * time.Second}

func candidate(code string, cat models.Category) models.Candidate {
	return models.Candidate{
		SourceCode: code,
		Category:   cat,
		TechStack:  models.TechCSSAnimation,
		Request:    ballRequest,
	}
}

func (f fixture) ingest(t *testing.T, cands ...models.Candidate) []*models.Solution {
	t.Helper()
	res, err := f.lib.Ingest(context.Background(), cands)
	require.NoError(t, err)
	require.Empty(t, res.Failed)
	return res.Created
}

func (f fixture) score(t *testing.T, id string) float64 {
	t.Helper()
	s, err := f.lib.Get(context.Background(), id)
	require.NoError(t, err)
	return s.ComputedScore
}

func countEvents(events *[]ProgressEvent, mu *sync.Mutex, typ EventType) int {
	mu.Lock()
	defer mu.Unlock()
	n := 0
	for _, e := range *events {
		if e.EventType == typ {
			n++
		}
	}
	return n
}

func TestIngest_StoresAnalyzesAndScores(t *testing.T) {
	f := newFixture(t, Options{})
	var (
		mu     sync.Mutex
		events []ProgressEvent
	)
	f.lib.OnProgress(func(e ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	res, err := f.lib.Ingest(context.Background(), []models.Candidate{
		candidate(cleanCode, "spin"),
		candidate(layoutCode, "slide"),
		candidate(brokenCode, "broken"),
		candidate(cleanCode, "spin"),
	})
	require.NoError(t, err)

	require.Len(t, res.Created, 3)
	require.Len(t, res.Duplicates, 1)
	assert.Empty(t, res.Failed)
	assert.Equal(t, res.Created[0].ID, res.Duplicates[0].ID)

	assert.Equal(t, []int{1, 2, 3}, []int{res.Created[0].Version, res.Created[1].Version, res.Created[2].Version})
	assert.Equal(t, 1.0, res.Created[0].ComputedScore)
	assert.Equal(t, 0.8, res.Created[1].ComputedScore)
	assert.Equal(t, 0.0, res.Created[2].ComputedScore)

	broken, err := f.lib.Get(context.Background(), res.Created[2].ID)
	require.NoError(t, err)
	assert.True(t, broken.PerformanceProfile.ParseFailed)
	assert.Equal(t, 1, broken.PerformanceProfile.CountBySeverity(models.SeverityCritical))

	assert.Equal(t, 1, countEvents(&events, &mu, EventIngestStart))
	assert.Equal(t, 3, countEvents(&events, &mu, EventCandidateStored))
	assert.Equal(t, 1, countEvents(&events, &mu, EventCandidateDup))
	assert.Equal(t, 1, countEvents(&events, &mu, EventIngestComplete))
	assert.Equal(t, []string{fingerprint.Compute(ballRequest)}, res.Fingerprints())
}

func TestIngest_CancelledBetweenCandidates(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.lib.OnProgress(func(e ProgressEvent) {
		if e.EventType == EventCandidateStored {
			cancel()
		}
	})

	res, err := f.lib.Ingest(ctx, []models.Candidate{
		candidate(cleanCode, "spin"),
		candidate(layoutCode, "slide"),
		candidate(brokenCode, "broken"),
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, res.Created, 1)

	all, err := f.lib.List(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, res.Created[0].ID, all[0].ID)
	assert.True(t, all[0].PerformanceProfile.Analyzed())
}

func TestIngest_CancelledDuringAnalysis(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.lib.OnProgress(func(e ProgressEvent) {
		if e.EventType == EventAnalysisComputed {
			cancel()
		}
	})

	res, err := f.lib.Ingest(ctx, []models.Candidate{
		candidate(layoutCode, "slide"),
		candidate(cleanCode, "spin"),
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, res.Created, 1)
	assert.Empty(t, res.Failed)

	all, err := f.lib.List(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].PerformanceProfile.Analyzed())
	assert.Equal(t, 0.8, all[0].ComputedScore)
	assert.NotEmpty(t, all[0].PerformanceProfile.Issues)
}

func TestIngest_UsesAnalysisCache(t *testing.T) {
	f := newFixture(t, Options{Cache: cache.New(t.TempDir())})
	var (
		mu     sync.Mutex
		events []ProgressEvent
	)
	f.lib.OnProgress(func(e ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	other := candidate(cleanCode, "spin")
	other.Request.Description = "A spinning ball"
	f.ingest(t, candidate(cleanCode, "spin"), other)

	assert.Equal(t, 1, countEvents(&events, &mu, EventAnalysisComputed))
	assert.Equal(t, 1, countEvents(&events, &mu, EventAnalysisCacheHit))
}

func TestSetFavorite_RecordsAndRescoresGroup(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	created := f.ingest(t, candidate(cleanCode, "spin"), candidate(layoutCode, "slide"))
	clean, layout := created[0], created[1]

	fav, err := f.lib.SetFavorite(ctx, layout.ID, true)
	require.NoError(t, err)
	assert.True(t, fav.Favorited)
	assert.Equal(t, 0.8571, fav.ComputedScore)
	assert.Equal(t, 0.7143, f.score(t, clean.ID))

	// no change, no new event
	_, err = f.lib.SetFavorite(ctx, layout.ID, true)
	require.NoError(t, err)
	evs, err := f.lib.History(ctx, store.EventQuery{})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, models.EventFavorited, evs[0].Kind)

	unfav, err := f.lib.SetFavorite(ctx, layout.ID, false)
	require.NoError(t, err)
	assert.False(t, unfav.Favorited)
	assert.Equal(t, 0.8, unfav.ComputedScore)
	assert.Equal(t, 1.0, f.score(t, clean.ID))

	_, err = f.lib.SetFavorite(ctx, "sol_missing", true)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSetManualRating(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	clean := f.ingest(t, candidate(cleanCode, "spin"))[0]

	zero := 0.0
	rated, err := f.lib.SetManualRating(ctx, clean.ID, &zero)
	require.NoError(t, err)
	assert.Equal(t, 0.625, rated.ComputedScore)

	cleared, err := f.lib.SetManualRating(ctx, clean.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, cleared.ManualRating)
	assert.Equal(t, 1.0, cleared.ComputedScore)

	bad := 6.0
	_, err = f.lib.SetManualRating(ctx, clean.ID, &bad)
	require.ErrorIs(t, err, models.ErrInvalidRating)
	assert.Equal(t, "validation", models.Kind(err))
	assert.Equal(t, 1.0, f.score(t, clean.ID))
}

func TestRecordEvent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	created := f.ingest(t, candidate(cleanCode, "spin"), candidate(layoutCode, "slide"))

	ev, err := f.lib.RecordEvent(ctx, created[1].ID, models.EventSelected)
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, 0.8571, f.score(t, created[1].ID))
	assert.Equal(t, 0.7143, f.score(t, created[0].ID))

	// views do not feed the score
	_, err = f.lib.RecordEvent(ctx, created[0].ID, models.EventViewed)
	require.NoError(t, err)
	assert.Equal(t, 0.7143, f.score(t, created[0].ID))

	_, err = f.lib.RecordEvent(ctx, "sol_missing", models.EventViewed)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.lib.RecordEvent(ctx, created[0].ID, "liked")
	assert.ErrorIs(t, err, models.ErrInvalidEventKind)
}

func TestRecommend(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.lib.Recommend(ctx, Query{})
	require.ErrorIs(t, err, models.ErrInsufficientCandidates)

	created := f.ingest(t,
		candidate(layoutCode, "slide"),
		candidate(cleanCode, "spin"),
		candidate(brokenCode, "broken"),
	)
	fp := created[0].RequestFingerprint

	ranked, err := f.lib.Recommend(ctx, Query{Fingerprint: fp})
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, created[1].ID, ranked[0].Solution.ID)
	assert.Equal(t, created[0].ID, ranked[1].Solution.ID)
	assert.Equal(t, created[2].ID, ranked[2].Solution.ID)

	min := 0.9
	ranked, err = f.lib.Recommend(ctx, Query{Fingerprint: fp, Filters: recommend.Filters{MinScore: &min}})
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, created[1].ID, ranked[0].Solution.ID)

	_, err = f.lib.Archive(ctx, created[1].ID, true)
	require.NoError(t, err)
	ranked, err = f.lib.Recommend(ctx, Query{Fingerprint: fp, TopN: 1})
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, created[0].ID, ranked[0].Solution.ID)

	_, err = f.lib.Recommend(ctx, Query{Fingerprint: fingerprint.Compute(models.RequestInputs{Description: "nothing"})})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCompare(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	created := f.ingest(t, candidate(cleanCode, "spin"), candidate(layoutCode, "slide"))

	rep, err := f.lib.Compare(ctx, []string{created[0].ID, created[1].ID})
	require.NoError(t, err)
	assert.Equal(t, []string{created[0].ID, created[1].ID}, rep.IDs)
	row, ok := rep.Row("score")
	require.True(t, ok)
	assert.Equal(t, []string{created[0].ID}, row.Best)

	_, err = f.lib.Compare(ctx, []string{created[0].ID})
	assert.ErrorIs(t, err, models.ErrInsufficientCandidates)

	_, err = f.lib.Compare(ctx, []string{created[0].ID, "sol_missing"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeriveOptimized(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	created := f.ingest(t, candidate(cleanCode, "spin"), candidate(layoutCode, "slide"))
	layout := created[1]

	derived, err := f.lib.DeriveOptimized(ctx, layout.ID)
	require.NoError(t, err)
	assert.Equal(t, layout.ID, derived.ParentID)
	assert.Equal(t, 3, derived.Version)
	assert.Equal(t, layout.RequestFingerprint, derived.RequestFingerprint)
	assert.True(t, derived.PerformanceProfile.Analyzed())
	assert.Greater(t, derived.ComputedScore, layout.ComputedScore)
	for _, is := range derived.PerformanceProfile.Issues {
		assert.NotEqual(t, analyzer.RuleLayoutAnimated, is.Rule)
	}

	again, err := f.lib.DeriveOptimized(ctx, layout.ID)
	require.NoError(t, err)
	assert.Equal(t, derived.ID, again.ID)

	_, err = f.lib.DeriveOptimized(ctx, derived.ID)
	assert.ErrorIs(t, err, ErrNothingToOptimize)
	_, err = f.lib.DeriveOptimized(ctx, created[0].ID)
	assert.ErrorIs(t, err, ErrNothingToOptimize)

	_, err = f.lib.DeriveOptimized(ctx, "sol_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSolve_GeneratesOnceThenServesFromLibrary(t *testing.T) {
	ctrl := gomock.NewController(t)
	gen := generate.NewMockGenerator(ctrl)
	gen.EXPECT().Generate(gomock.Any(), ballRequest).Return([]models.Candidate{
		{SourceCode: layoutCode, Category: "slide", TechStack: models.TechCSSAnimation},
		{SourceCode: cleanCode, Category: "spin", TechStack: models.TechCSSAnimation},
	}, nil).Times(1)

	f := newFixture(t, Options{Generator: gen})
	ctx := context.Background()

	sol, fromLibrary, err := f.lib.Solve(ctx, ballRequest)
	require.NoError(t, err)
	assert.False(t, fromLibrary)
	assert.Equal(t, cleanCode, sol.SourceCode)
	assert.Equal(t, fingerprint.Compute(ballRequest), sol.RequestFingerprint)

	again, fromLibrary, err := f.lib.Solve(ctx, ballRequest)
	require.NoError(t, err)
	assert.True(t, fromLibrary)
	assert.Equal(t, sol.ID, again.ID)
}

func TestSolved_Threshold(t *testing.T) {
	f := newFixture(t, Options{SolvedThreshold: 0.9})
	ctx := context.Background()
	created := f.ingest(t, candidate(layoutCode, "slide"))
	fp := created[0].RequestFingerprint

	best, err := f.lib.Solved(ctx, fp)
	require.NoError(t, err)
	assert.Nil(t, best)

	best, err = f.lib.Solved(ctx, fingerprint.Compute(models.RequestInputs{Description: "unknown"}))
	require.NoError(t, err)
	assert.Nil(t, best)

	_, _, err = f.lib.Solve(ctx, ballRequest)
	assert.ErrorIs(t, err, ErrNoGenerator)

	f.ingest(t, candidate(cleanCode, "spin"))
	best, err = f.lib.Solved(ctx, fp)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, cleanCode, best.SourceCode)
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := newFixture(t, Options{})
	ctx := context.Background()
	created := src.ingest(t, candidate(cleanCode, "spin"), candidate(layoutCode, "slide"))
	rating := 4.0
	_, err := src.lib.SetManualRating(ctx, created[0].ID, &rating)
	require.NoError(t, err)

	doc, err := src.lib.Export(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Solutions, 2)
	evs, err := src.lib.History(ctx, store.EventQuery{})
	require.NoError(t, err)
	assert.Empty(t, evs, "a full backup is not an interaction")

	dst := newFixture(t, Options{})
	imported, err := dst.lib.Import(ctx, doc)
	require.NoError(t, err)
	require.Len(t, imported, 2)
	for i, s := range imported {
		want := doc.Solutions[i]
		assert.Equal(t, want.ID, s.ID)
		assert.Equal(t, want.RequestFingerprint, s.RequestFingerprint)
		assert.Equal(t, want.SourceCode, s.SourceCode)
		assert.Equal(t, want.Category, s.Category)
		assert.Equal(t, want.ManualRating, s.ManualRating)
		assert.Equal(t, want.ComputedScore, s.ComputedScore)
		assert.Equal(t, want.PerformanceProfile, s.PerformanceProfile)
		assert.True(t, want.CreatedAt.Equal(s.CreatedAt))
	}

	// importing again never overwrites
	again, err := dst.lib.Import(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 3, again[0].Version)
}

func TestExport_SelectedRecordsInteraction(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	created := f.ingest(t, candidate(cleanCode, "spin"), candidate(layoutCode, "slide"))

	doc, err := f.lib.Export(ctx, created[1].ID, created[1].ID)
	require.NoError(t, err)
	require.Len(t, doc.Solutions, 1)
	assert.Equal(t, 0.8, doc.Solutions[0].ComputedScore)

	evs, err := f.lib.History(ctx, store.EventQuery{})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, models.EventExported, evs[0].Kind)
	assert.Equal(t, 0.8571, f.score(t, created[1].ID))

	_, err = f.lib.Export(ctx, "sol_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRescoreAll_AnalyzesUnanalyzed(t *testing.T) {
	f := newFixture(t, Options{Workers: 2})
	ctx := context.Background()
	f.ingest(t, candidate(cleanCode, "spin"))

	raw, err := f.store.Put(ctx, models.Candidate{
		SourceCode: layoutCode,
		Category:   "slide",
		TechStack:  models.TechCSSAnimation,
		Request:    models.RequestInputs{Description: "sliding box"},
	})
	require.NoError(t, err)
	require.False(t, raw.PerformanceProfile.Analyzed())

	n, err := f.lib.RescoreAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := f.lib.Get(ctx, raw.ID)
	require.NoError(t, err)
	assert.True(t, got.PerformanceProfile.Analyzed())
	assert.Equal(t, 0.8, got.ComputedScore)
}

func TestRunRescoreLoop(t *testing.T) {
	f := newFixture(t, Options{})
	require.Error(t, f.lib.RunRescoreLoop(context.Background(), 0))

	f.ingest(t, candidate(cleanCode, "spin"))
	passes := make(chan struct{}, 8)
	f.lib.OnProgress(func(e ProgressEvent) {
		if e.EventType == EventRescoreComplete {
			select {
			case passes <- struct{}{}:
			default:
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.lib.RunRescoreLoop(ctx, 5*time.Millisecond) }()

	select {
	case <-passes:
	case <-time.After(5 * time.Second):
		t.Fatal("no rescore pass ran")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestBreakdownSuggestionsSimilar(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	created := f.ingest(t, candidate(cleanCode, "spin"), candidate(layoutCode, "slide"))

	b, err := f.lib.Breakdown(ctx, created[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 0.8, b.Structural)
	assert.Nil(t, b.Manual)
	assert.Equal(t, 0.8, b.Score)

	sugg, err := f.lib.Suggestions(ctx, created[1].ID)
	require.NoError(t, err)
	require.Len(t, sugg, 1)

	matches, err := f.lib.Similar(ctx, created[0].ID, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, created[1].ID, matches[0].Solution.ID)

	group, err := f.lib.Group(ctx, created[0].RequestFingerprint)
	require.NoError(t, err)
	assert.Equal(t, created[0].ID, group[0].ID)
}

func TestTrendingAndSearch(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	created := f.ingest(t, candidate(cleanCode, "spin"), candidate(layoutCode, "slide"))
	clean, layout := created[0], created[1]

	_, err := f.lib.RecordEvent(ctx, layout.ID, models.EventSelected)
	require.NoError(t, err)
	_, err = f.lib.RecordEvent(ctx, layout.ID, models.EventViewed)
	require.NoError(t, err)
	_, err = f.lib.RecordEvent(ctx, clean.ID, models.EventViewed)
	require.NoError(t, err)

	trends, err := f.lib.Trending(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, trends, 2)
	assert.Equal(t, layout.ID, trends[0].Solution.ID)
	assert.Equal(t, 1.3, trends[0].Score)
	assert.Equal(t, clean.ID, trends[1].Solution.ID)

	_, err = f.lib.Trending(ctx, -time.Hour, 0)
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)

	hits, err := f.lib.Search(ctx, "slide", recommend.Filters{}, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, layout.ID, hits[0].Solution.ID)

	hits, err = f.lib.Search(ctx, "spin", recommend.Filters{}, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, clean.ID, hits[0].Solution.ID)

	_, err = f.lib.Search(ctx, " ", recommend.Filters{}, 0)
	assert.ErrorAs(t, err, &verr)
}

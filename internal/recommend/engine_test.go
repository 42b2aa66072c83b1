package recommend

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/scoring"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func makeSolution(id string, score float64, cat models.Category) *models.Solution {
	return &models.Solution{
		ID:            id,
		ComputedScore: score,
		Category:      cat,
		TechStack:     models.TechCSSAnimation,
		Version:       1,
	}
}

func event(id string, kind models.EventKind, age time.Duration) models.InteractionEvent {
	return models.InteractionEvent{SolutionID: id, Kind: kind, Timestamp: now.Add(-age)}
}

func ids(sols []*models.Solution) []string {
	out := make([]string, len(sols))
	for i, s := range sols {
		out[i] = s.ID
	}
	return out
}

func TestRecommend_ColdStartRanksByScore(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	rc := Context{
		Candidates: []*models.Solution{
			makeSolution("a", 0.40, "bounce"),
			makeSolution("b", 0.75, "fade"),
			makeSolution("c", 0.90, "slide"),
			makeSolution("d", 0.75, "spin"),
		},
		Now: now,
	}

	ranked, err := engine.Rank(rc)
	require.NoError(t, err)
	for _, r := range ranked {
		if r.Adjustment != 0 {
			t.Errorf("expected zero adjustment on cold start, got %f for %s", r.Adjustment, r.Solution.ID)
		}
		assert.Equal(t, r.Solution.ComputedScore, r.Key)
	}

	sols, err := engine.Recommend(rc)
	require.NoError(t, err)
	// b and d tie; input order is kept
	assert.Equal(t, []string{"c", "b", "d", "a"}, ids(sols))
}

func TestRecommend_CategoryAffinityThreshold(t *testing.T) {
	v1 := makeSolution("f1-v1", 0.40, "bounce")
	v2 := makeSolution("f1-v2", 0.75, "fade")
	history := []models.InteractionEvent{
		event("old-bounce", models.EventFavorited, 0),
		event("old-bounce", models.EventFavorited, 0),
		event("old-bounce", models.EventFavorited, 0),
	}
	attrs := map[string]Attributes{"old-bounce": {Category: "bounce", TechStack: models.TechCSSAnimation}}

	tests := []struct {
		name  string
		bonus float64
		want  []string
	}{
		// 3 favorites x weight 2 x bonus 0.1 = 0.6, above the 0.35 gap
		{name: "bonus exceeds gap", bonus: 0.1, want: []string{"f1-v1", "f1-v2"}},
		// 3 x 2 x 0.05 = 0.30, below the gap
		{name: "bonus below gap", bonus: 0.05, want: []string{"f1-v2", "f1-v1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.CategoryBonus = tt.bonus
			cfg.TechStackBonus = 0
			cfg.MaxBonus = 1

			sols, err := NewEngine(cfg).Recommend(Context{
				Candidates: []*models.Solution{v1, v2},
				History:    history,
				Attributes: attrs,
				Now:        now,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(sols))
		})
	}
}

func TestRecommend_BonusIsCapped(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	ranked, err := engine.Rank(Context{
		Candidates: []*models.Solution{makeSolution("a", 0.40, "bounce")},
		History: []models.InteractionEvent{
			event("a", models.EventSelected, 0),
			event("a", models.EventSelected, 0),
			event("a", models.EventSelected, 0),
		},
		Now: now,
	})
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.InDelta(t, 0.15, ranked[0].Adjustment, 1e-9)
	assert.Contains(t, ranked[0].Reason, "bounce")
}

func TestRecommend_DecayByAge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TechStackBonus = 0
	engine := NewEngine(cfg)

	ranked, err := engine.Rank(Context{
		Candidates: []*models.Solution{makeSolution("a", 0.5, "bounce")},
		History:    []models.InteractionEvent{event("a", models.EventSelected, 10*24*time.Hour)},
		Now:        now,
	})
	require.NoError(t, err)
	// 0.05 x weight 3 x exp(-0.1 x 10 days)
	assert.InDelta(t, 0.05*3*math.Exp(-1), ranked[0].Adjustment, 1e-9)

	// A floor keeps old events relevant.
	cfg.MinWeight = 0.5
	ranked, err = NewEngine(cfg).Rank(Context{
		Candidates: []*models.Solution{makeSolution("a", 0.5, "bounce")},
		History:    []models.InteractionEvent{event("a", models.EventSelected, 100*24*time.Hour)},
		Now:        now,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.05*3*0.5, ranked[0].Adjustment, 1e-9)
}

func TestRecommend_DiscardPenalty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TechStackBonus = 0
	engine := NewEngine(cfg)
	cands := []*models.Solution{makeSolution("a", 0.8, "fade"), makeSolution("b", 0.75, "bounce")}

	once, err := engine.Rank(Context{
		Candidates: cands,
		History:    []models.InteractionEvent{event("a", models.EventDiscarded, 0)},
		Now:        now,
	})
	require.NoError(t, err)
	assert.Zero(t, once[0].Adjustment, "a single discard is below min_discards")

	twice, err := engine.Rank(Context{
		Candidates: cands,
		History: []models.InteractionEvent{
			event("a", models.EventDiscarded, 0),
			event("a", models.EventDiscarded, 0),
		},
		Now: now,
	})
	require.NoError(t, err)
	require.Len(t, twice, 2)
	assert.Equal(t, "b", twice[0].Solution.ID)
	assert.InDelta(t, -0.1, twice[1].Adjustment, 1e-9)
	assert.Contains(t, twice[1].Reason, "discarded")
}

func TestRecommend_UnfavoriteCancelsFavorite(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	ranked, err := engine.Rank(Context{
		Candidates: []*models.Solution{makeSolution("a", 0.5, "bounce")},
		History: []models.InteractionEvent{
			event("a", models.EventFavorited, time.Hour),
			event("a", models.EventUnfavorited, time.Hour),
		},
		Now: now,
	})
	require.NoError(t, err)
	assert.Zero(t, ranked[0].Adjustment)
}

func TestRecommend_IgnoresUnknownAndFutureEvents(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	ranked, err := engine.Rank(Context{
		Candidates: []*models.Solution{makeSolution("a", 0.5, "bounce")},
		History: []models.InteractionEvent{
			event("ghost", models.EventSelected, 0),
			event("a", models.EventSelected, -time.Hour),
		},
		Now: now,
	})
	require.NoError(t, err)
	assert.Zero(t, ranked[0].Adjustment)
}

func TestRecommend_FiltersAndTopN(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	cands := []*models.Solution{
		makeSolution("a", 0.9, "bounce"),
		makeSolution("b", 0.8, "fade"),
		makeSolution("c", 0.3, "bounce"),
		makeSolution("d", 0.6, "bounce"),
	}
	cands[3].TechStack = models.TechJavaScript

	minScore := 0.5
	sols, err := engine.Recommend(Context{
		Candidates: cands,
		Filters:    Filters{Category: "bounce", MinScore: &minScore},
		Now:        now,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d"}, ids(sols))

	sols, err = engine.Recommend(Context{Candidates: cands, Filters: Filters{TechStack: models.TechJavaScript}, Now: now})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ids(sols))

	sols, err = engine.Recommend(Context{Candidates: cands, TopN: 2, Now: now})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(sols))

	sols, err = engine.Recommend(Context{Candidates: cands, Filters: Filters{Category: "spin"}, Now: now})
	require.NoError(t, err)
	assert.Empty(t, sols)
}

func TestRecommend_NoCandidates(t *testing.T) {
	_, err := NewEngine(DefaultConfig()).Recommend(Context{})
	require.ErrorIs(t, err, models.ErrInsufficientCandidates)
}

func TestRecommend_Idempotent(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	rc := Context{
		Candidates: []*models.Solution{
			makeSolution("a", 0.5, "bounce"),
			makeSolution("b", 0.55, "fade"),
			makeSolution("c", 0.5, "fade"),
		},
		History: []models.InteractionEvent{
			event("a", models.EventViewed, time.Hour),
			event("c", models.EventSelected, 48*time.Hour),
		},
		Now: now,
	}
	first, err := engine.Rank(rc)
	require.NoError(t, err)
	second, err := engine.Rank(rc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MinWeight = 2
	assert.ErrorContains(t, cfg.Validate(), "min_weight")

	cfg = DefaultConfig()
	cfg.KindWeights = map[models.EventKind]float64{"clicked": 1}
	assert.ErrorContains(t, cfg.Validate(), "unknown event kind")
}

func TestDecodeFilters(t *testing.T) {
	f, err := DecodeFilters(map[string]any{
		"category":   "bounce",
		"tech_stack": "gsap",
		"min_score":  "0.5",
		"tags":       []any{" Loop ", "hero"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.Category("bounce"), f.Category)
	assert.Equal(t, models.TechGSAP, f.TechStack)
	require.NotNil(t, f.MinScore)
	assert.InDelta(t, 0.5, *f.MinScore, 1e-9)
	assert.Equal(t, []string{"hero", "loop"}, f.Tags)

	_, err = DecodeFilters(map[string]any{"colour": "red"})
	assert.Error(t, err)

	_, err = DecodeFilters(map[string]any{"min_score": 2})
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)

	q, err := DecodeFilters(map[string]any{"quality": "Good"})
	require.NoError(t, err)
	assert.Equal(t, scoring.QualityGood, q.Quality)
	assert.True(t, q.Match(makeSolution("ok", 0.7, "fade")))
	assert.False(t, q.Match(makeSolution("meh", 0.69, "fade")))

	_, err = DecodeFilters(map[string]any{"quality": "superb"})
	assert.ErrorAs(t, err, &verr)

	empty, err := DecodeFilters(nil)
	require.NoError(t, err)
	assert.Equal(t, Filters{}, empty)
}

func TestSimilar(t *testing.T) {
	props := func(s *models.Solution, p ...string) *models.Solution {
		s.PerformanceProfile.AnimatedProperties = p
		return s
	}
	target := props(makeSolution("t", 0.8, "bounce"), "transform")
	twin := props(makeSolution("twin", 0.8, "bounce"), "transform")
	cousin := props(makeSolution("cousin", 0.8, "bounce"), "opacity")
	stranger := props(makeSolution("stranger", 0.2, "fade"), "left")
	stranger.TechStack = models.TechJavaScript

	got := Similar(target, []*models.Solution{stranger, target, cousin, twin}, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "twin", got[0].Solution.ID)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-9)
	assert.Equal(t, "cousin", got[1].Solution.ID)
	assert.InDelta(t, 0.75, got[1].Similarity, 1e-9)

	all := Similar(target, []*models.Solution{stranger, target}, 0)
	require.Len(t, all, 1)
	// tech mismatch 0.25x0.3 + score closeness 0.15x0.4
	assert.InDelta(t, 0.135, all[0].Similarity, 1e-9)
}

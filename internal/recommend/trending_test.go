package recommend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spboyer/kinetic/internal/models"
)

func trendIDs(ts []Trend) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Solution.ID
	}
	return out
}

func TestTrending(t *testing.T) {
	sols := []*models.Solution{
		makeSolution("a", 0.5, "bounce"),
		makeSolution("b", 0.9, "bounce"),
		makeSolution("c", 0.9, "spin"),
		makeSolution("d", 0.9, "spin"),
		makeSolution("e", 0.9, "spin"),
	}
	history := []models.InteractionEvent{
		event("a", models.EventSelected, time.Hour),
		event("a", models.EventExported, 2*time.Hour),
		event("b", models.EventFavorited, 24*time.Hour),
		event("b", models.EventViewed, 72*time.Hour),
		event("c", models.EventSelected, 10*24*time.Hour),
		event("d", models.EventViewed, time.Hour),
		event("d", models.EventDiscarded, time.Hour),
		event("e", models.EventSelected, -time.Hour),
	}

	got := Trending(sols, history, now, 0, 0)
	require.Equal(t, []string{"a", "b"}, trendIDs(got))
	assert.Equal(t, 2.0, got[0].Score)
	assert.Equal(t, 2, got[0].Interactions)
	assert.Equal(t, 1.1, got[1].Score)

	wide := Trending(sols, history, now, 30*24*time.Hour, 0)
	assert.Equal(t, []string{"a", "b", "c"}, trendIDs(wide))

	assert.Equal(t, []string{"a"}, trendIDs(Trending(sols, history, now, 0, 1)))
	assert.Empty(t, Trending(sols, nil, now, 0, 0))
}

func TestTrending_TiesFollowQuality(t *testing.T) {
	sols := []*models.Solution{makeSolution("low", 0.4, "fade"), makeSolution("high", 0.8, "fade")}
	history := []models.InteractionEvent{
		event("low", models.EventViewed, time.Minute),
		event("high", models.EventViewed, time.Minute),
	}
	assert.Equal(t, []string{"high", "low"}, trendIDs(Trending(sols, history, now, time.Hour, 0)))
}

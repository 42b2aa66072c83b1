package recommend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spboyer/kinetic/internal/models"
)

func hitIDs(hs []Hit) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.Solution.ID
	}
	return out
}

func TestSearch(t *testing.T) {
	a := makeSolution("a", 0.9, "bounce")
	a.Tags = []string{"ball", "loop"}
	a.SourceCode = `<div class="ball"></div>`
	b := makeSolution("b", 0.8, "spin")
	b.Tags = []string{"loader"}
	b.SourceCode = `@keyframes spin { to { transform: rotate(1turn); } }`
	c := makeSolution("c", 0.5, "bounce")
	sols := []*models.Solution{c, b, a}

	assert.Equal(t, []string{"a", "c"}, hitIDs(Search(sols, "bounce", Filters{}, 0)))

	hits := Search(sols, "ball", Filters{}, 0)
	require.Equal(t, []string{"a"}, hitIDs(hits))
	assert.Equal(t, 2.5, hits[0].Relevance)

	assert.Equal(t, []string{"a"}, hitIDs(Search(sols, "BOUNCE loop", Filters{}, 0)))

	hits = Search(sols, "spin", Filters{}, 0)
	require.Equal(t, []string{"b"}, hitIDs(hits))
	assert.Equal(t, 3.5, hits[0].Relevance)

	assert.Equal(t, []string{"a", "b"}, hitIDs(Search(sols, "lo", Filters{}, 0)))
	assert.Equal(t, []string{"a"}, hitIDs(Search(sols, "bounce", Filters{}, 1)))
	assert.Empty(t, Search(sols, "bounce", Filters{Category: "spin"}, 0))
	assert.Empty(t, Search(sols, "  ", Filters{}, 0))
	assert.Empty(t, Search(sols, "wobble", Filters{}, 0))
}

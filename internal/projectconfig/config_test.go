package projectconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spboyer/kinetic/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestNew_ReturnsAllDefaults(t *testing.T) {
	cfg := New()

	assert.Equal(t, ".kinetic", cfg.Store.Dir)
	assert.Equal(t, "cache", cfg.Store.CacheDir)
	require.NotNil(t, cfg.Store.CacheEnabled)
	assert.True(t, *cfg.Store.CacheEnabled)

	assert.Equal(t, 0.5, cfg.Scoring.Weights.Structural)
	assert.Equal(t, 0.3, cfg.Scoring.Weights.Manual)
	assert.Equal(t, 0.2, cfg.Scoring.Weights.Usage)
	assert.Equal(t, 1.0, cfg.Scoring.Severity.Critical)

	assert.Equal(t, 10, cfg.Recommend.TopN)
	assert.Equal(t, 24*time.Hour, cfg.Recommend.DecayUnit)
	assert.Equal(t, 3.0, cfg.Recommend.KindWeights[models.EventSelected])

	assert.Equal(t, 0.7, cfg.Library.SolvedThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Library.RescoreInterval)
	assert.Equal(t, 4, cfg.Library.Workers)

	assert.Equal(t, 1500, cfg.Analyzer.MaxDOMNodes)
	assert.Equal(t, "127.0.0.1:7433", cfg.Server.Addr)
	assert.Empty(t, cfg.Path)
	require.NoError(t, cfg.Validate())
}

func TestLoad_NoFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, New(), cfg)
}

func TestLoad_OverlaysFileOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, `
store:
  dir: lib
  cache_enabled: false
scoring:
  weights:
    usage: 0
recommend:
  top_n: 3
  decay_unit: 1h
  tech_stack_bonus: 0
  kind_weights:
    viewed: 0
library:
  solved_threshold: 0.9
  rescore_interval: 30s
analyzer:
  max_dom_nodes: 200
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, FileName), cfg.Path)
	assert.Equal(t, filepath.Join(dir, "lib"), cfg.Store.Dir)
	assert.Empty(t, cfg.CachePath())

	// explicit zeros win, untouched keys keep defaults
	assert.Equal(t, 0.0, cfg.Scoring.Weights.Usage)
	assert.Equal(t, 0.5, cfg.Scoring.Weights.Structural)
	assert.Equal(t, 0.0, cfg.Recommend.TechStackBonus)
	assert.Equal(t, 0.05, cfg.Recommend.CategoryBonus)
	assert.Equal(t, 3, cfg.Recommend.TopN)
	assert.Equal(t, time.Hour, cfg.Recommend.DecayUnit)

	// maps merge key by key
	assert.Equal(t, 0.0, cfg.Recommend.KindWeights[models.EventViewed])
	assert.Equal(t, 2.0, cfg.Recommend.KindWeights[models.EventFavorited])

	assert.Equal(t, 0.9, cfg.Library.SolvedThreshold)
	assert.Equal(t, 30*time.Second, cfg.Library.RescoreInterval)
	assert.Equal(t, 200, cfg.Analyzer.MaxDOMNodes)
	assert.Equal(t, 4, cfg.Analyzer.MaxSelectorDepth)
}

func TestLoad_WalksUpDirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, FileName, "library:\n  workers: 2\n")
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0755))

	cfg, err := Load(nested)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Library.Workers)
	assert.Equal(t, filepath.Join(root, DefaultStoreDir), cfg.Store.Dir)
}

func TestLoad_AbsoluteStoreDirKept(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(t.TempDir(), "elsewhere")
	writeFile(t, dir, FileName, "store:\n  dir: "+abs+"\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, abs, cfg.Store.Dir)
	assert.Equal(t, filepath.Join(abs, DefaultCacheDir), cfg.CachePath())
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":         "store: [",
		"threshold":        "library:\n  solved_threshold: 1.5\n",
		"interval":         "library:\n  rescore_interval: -1s\n",
		"negative weight":  "scoring:\n  severity:\n    warning: -1\n",
		"unknown kind":     "recommend:\n  kind_weights:\n    liked: 1\n",
		"negative workers": "library:\n  workers: -2\n",
		"analyzer":         "analyzer:\n  dom_query_limit: -1\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, FileName, content)
			_, err := Load(dir)
			assert.Error(t, err)
		})
	}
}

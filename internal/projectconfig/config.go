// Package projectconfig provides the ProjectConfig struct and loader for
// .kinetic.yaml project-level configuration files.
package projectconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spboyer/kinetic/internal/analyzer"
	"github.com/spboyer/kinetic/internal/recommend"
	"github.com/spboyer/kinetic/internal/scoring"
)

// FileName is the configuration file looked up by Load.
const FileName = ".kinetic.yaml"

// Default values for project configuration. These are the single source of
// truth: New() references them and no other code should duplicate them.
const (
	DefaultStoreDir = ".kinetic"
	DefaultCacheDir = "cache"

	DefaultSolvedThreshold = 0.7
	DefaultRescoreInterval = 5 * time.Minute
	DefaultWorkers         = 4

	DefaultServeAddr = "127.0.0.1:7433"
)

// StoreConfig locates the library on disk.
type StoreConfig struct {
	Dir string `yaml:"dir,omitempty"`
	// CacheDir holds analysis results, relative to Dir unless absolute.
	// Caching is disabled when CacheEnabled is false.
	CacheDir     string `yaml:"cache_dir,omitempty"`
	CacheEnabled *bool  `yaml:"cache_enabled,omitempty"`
}

// LibraryConfig holds lifecycle settings.
type LibraryConfig struct {
	SolvedThreshold float64       `yaml:"solved_threshold,omitempty"`
	RescoreInterval time.Duration `yaml:"rescore_interval,omitempty"`
	Workers         int           `yaml:"workers,omitempty"`
}

// ServerConfig holds JSON-RPC server settings.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// ProjectConfig is the top-level configuration loaded from .kinetic.yaml.
type ProjectConfig struct {
	Store     StoreConfig      `yaml:"store,omitempty"`
	Scoring   scoring.Config   `yaml:"scoring,omitempty"`
	Recommend recommend.Config `yaml:"recommend,omitempty"`
	Library   LibraryConfig    `yaml:"library,omitempty"`
	Analyzer  analyzer.Config  `yaml:"analyzer,omitempty"`
	Server    ServerConfig     `yaml:"server,omitempty"`

	// Path is the file the values were read from; empty for pure defaults.
	Path string `yaml:"-"`
}

// New returns a ProjectConfig with all hard-coded defaults populated.
func New() *ProjectConfig {
	return &ProjectConfig{
		Store: StoreConfig{
			Dir:          DefaultStoreDir,
			CacheDir:     DefaultCacheDir,
			CacheEnabled: boolPtr(true),
		},
		Scoring:   scoring.DefaultConfig(),
		Recommend: recommend.DefaultConfig(),
		Library: LibraryConfig{
			SolvedThreshold: DefaultSolvedThreshold,
			RescoreInterval: DefaultRescoreInterval,
			Workers:         DefaultWorkers,
		},
		Analyzer: analyzer.DefaultConfig(),
		Server:   ServerConfig{Addr: DefaultServeAddr},
	}
}

// Load finds .kinetic.yaml by walking up from startDir (max 10 levels),
// and overlays it onto the defaults. Keys present in the file win, including
// explicit zeros; absent keys keep their default. Map values such as
// recommend.kind_weights are merged key by key.
// If no config file is found, returns defaults with a nil error.
// Real I/O errors (e.g. permission denied) are returned to the caller.
func Load(startDir string) (*ProjectConfig, error) {
	cfg := New()

	path, data, err := findConfigFile(startDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil // no file found → return defaults
		}
		return nil, fmt.Errorf("loading %s: %w", FileName, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.Path = path

	// A relative store dir is relative to the config file, not the cwd.
	if !filepath.IsAbs(cfg.Store.Dir) {
		cfg.Store.Dir = filepath.Join(filepath.Dir(path), cfg.Store.Dir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c *ProjectConfig) Validate() error {
	if c.Store.Dir == "" {
		return errors.New("store.dir must not be empty")
	}
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	if err := c.Recommend.Validate(); err != nil {
		return err
	}
	if t := c.Library.SolvedThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("library.solved_threshold must be within (0, 1], got %v", t)
	}
	if c.Library.RescoreInterval <= 0 {
		return fmt.Errorf("library.rescore_interval must be positive, got %s", c.Library.RescoreInterval)
	}
	if c.Library.Workers < 0 {
		return fmt.Errorf("library.workers must be non-negative, got %d", c.Library.Workers)
	}
	a := c.Analyzer
	if a.MaxDOMNodes < 0 || a.MaxSelectorDepth < 0 || a.LongDurationMS < 0 || a.DOMQueryLimit < 0 {
		return errors.New("analyzer thresholds must be non-negative")
	}
	return nil
}

// CachePath returns the analysis cache directory, or "" when caching is off.
func (c *ProjectConfig) CachePath() string {
	if c.Store.CacheEnabled != nil && !*c.Store.CacheEnabled {
		return ""
	}
	if c.Store.CacheDir == "" || filepath.IsAbs(c.Store.CacheDir) {
		return c.Store.CacheDir
	}
	return filepath.Join(c.Store.Dir, c.Store.CacheDir)
}

// findConfigFile walks up from dir looking for .kinetic.yaml (max 10 levels).
// Returns os.ErrNotExist if no config file is found. Propagates real I/O
// errors (e.g. permission denied) instead of silently swallowing them.
func findConfigFile(dir string) (string, []byte, error) {
	// Convert to absolute path so filepath.Dir(".") walks correctly.
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", nil, fmt.Errorf("resolving path %q: %w", dir, err)
	}
	dir = absDir

	for i := 0; i < 10; i++ {
		p := filepath.Join(dir, FileName)
		data, err := os.ReadFile(p)
		if err == nil {
			return p, data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", nil, fmt.Errorf("reading %q: %w", p, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached filesystem root
		}
		dir = parent
	}
	return "", nil, os.ErrNotExist
}

func boolPtr(b bool) *bool {
	return &b
}

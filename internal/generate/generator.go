// Package generate is the boundary to the external code generation
// collaborator. The library never generates code itself; it only stores and
// ranks what a Generator returns.
package generate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spboyer/kinetic/internal/models"
)

//go:generate go tool mockgen -source generator.go -destination mock_generate.go -package generate

// Generator produces candidate implementations for a creative request.
type Generator interface {
	Generate(ctx context.Context, req models.RequestInputs) ([]models.Candidate, error)
}

// Batch is a YAML file of pre-generated candidates for one request.
//
//	request:
//	  description: bouncing ball
//	  target_duration: 2s
//	candidates:
//	  - category: bounce
//	    tech_stack: css_animation
//	    source_file: ball.html
type Batch struct {
	Request    BatchRequest     `yaml:"request"`
	Candidates []BatchCandidate `yaml:"candidates"`
}

// BatchRequest mirrors models.RequestInputs with a human-friendly duration.
type BatchRequest struct {
	Description      string   `yaml:"description"`
	StyleConstraints []string `yaml:"style_constraints,omitempty"`
	TargetDuration   string   `yaml:"target_duration,omitempty"`
}

// BatchCandidate is one candidate. Exactly one of SourceCode or SourceFile is
// set; SourceFile is relative to the batch file.
type BatchCandidate struct {
	Category   models.Category  `yaml:"category"`
	TechStack  models.TechStack `yaml:"tech_stack"`
	Tags       []string         `yaml:"tags,omitempty"`
	SourceCode string           `yaml:"source_code,omitempty"`
	SourceFile string           `yaml:"source_file,omitempty"`
}

// ParseBatch reads and resolves a batch file.
func ParseBatch(path string) (models.RequestInputs, []models.Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.RequestInputs{}, nil, fmt.Errorf("reading batch file: %w", err)
	}

	var b Batch
	if err := yaml.Unmarshal(data, &b); err != nil {
		return models.RequestInputs{}, nil, fmt.Errorf("parsing batch YAML: %w", err)
	}
	if strings.TrimSpace(b.Request.Description) == "" {
		return models.RequestInputs{}, nil, fmt.Errorf("batch file missing required 'request.description' field")
	}

	req := models.RequestInputs{
		Description:      b.Request.Description,
		StyleConstraints: b.Request.StyleConstraints,
	}
	if b.Request.TargetDuration != "" {
		d, err := time.ParseDuration(b.Request.TargetDuration)
		if err != nil {
			return models.RequestInputs{}, nil, fmt.Errorf("parsing target_duration: %w", err)
		}
		req.TargetDuration = d
	}

	base := filepath.Dir(path)
	cands := make([]models.Candidate, 0, len(b.Candidates))
	for i, bc := range b.Candidates {
		code, err := bc.source(base)
		if err != nil {
			return models.RequestInputs{}, nil, fmt.Errorf("candidate %d: %w", i, err)
		}
		cands = append(cands, models.Candidate{
			SourceCode: code,
			Category:   bc.Category,
			TechStack:  bc.TechStack,
			Request:    req,
			Tags:       bc.Tags,
		})
	}
	return req, cands, nil
}

func (bc BatchCandidate) source(base string) (string, error) {
	switch {
	case bc.SourceCode != "" && bc.SourceFile != "":
		return "", fmt.Errorf("source_code and source_file are mutually exclusive")
	case bc.SourceCode != "":
		return bc.SourceCode, nil
	case bc.SourceFile == "":
		return "", fmt.Errorf("missing source_code or source_file")
	}
	if err := sanitizeSourcePath(bc.SourceFile); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(base, bc.SourceFile))
	if err != nil {
		return "", fmt.Errorf("reading source file: %w", err)
	}
	return string(data), nil
}

// sanitizeSourcePath rejects paths that escape the batch directory.
func sanitizeSourcePath(p string) error {
	if filepath.IsAbs(p) || strings.Contains(p, "..") || strings.Contains(p, "\\") {
		return fmt.Errorf("source_file %q contains invalid path characters", p)
	}
	return nil
}

// StaticGenerator serves candidates from a batch file regardless of the
// request's wording. It stands in for the real collaborator in the CLI.
type StaticGenerator struct {
	Path string
}

// Generate implements Generator. Candidates carry req so they are stored
// under the caller's fingerprint.
func (g StaticGenerator) Generate(ctx context.Context, req models.RequestInputs) ([]models.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, cands, err := ParseBatch(g.Path)
	if err != nil {
		return nil, err
	}
	for i := range cands {
		cands[i].Request = req
	}
	return cands, nil
}

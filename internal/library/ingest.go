package library

import (
	"context"
	"errors"
	"time"

	"github.com/spboyer/kinetic/internal/fingerprint"
	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/scoring"
)

// IngestFailure records one candidate that could not be stored.
type IngestFailure struct {
	Index int   `json:"index"`
	Err   error `json:"-"`
	// Message mirrors Err for serialized reports.
	Message string `json:"error"`
}

// IngestResult summarizes an Ingest call. Duplicates holds the canonical
// stored solution for each candidate whose code was already present.
type IngestResult struct {
	Created    []*models.Solution `json:"created"`
	Duplicates []*models.Solution `json:"duplicates"`
	Failed     []IngestFailure    `json:"failed,omitempty"`
}

// Fingerprints returns the distinct fingerprints touched by the ingest.
func (r *IngestResult) Fingerprints() []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range [][]*models.Solution{r.Created, r.Duplicates} {
		for _, s := range set {
			if !seen[s.RequestFingerprint] {
				seen[s.RequestFingerprint] = true
				out = append(out, s.RequestFingerprint)
			}
		}
	}
	return out
}

// Ingest stores, analyzes and scores freshly generated candidates in order.
// Duplicate content is recovered and reported, not failed. Cancellation is
// honored between candidates only: a candidate already being stored is
// finished, and everything stored so far stays stored and is returned along
// with the context error.
func (l *Library) Ingest(ctx context.Context, candidates []models.Candidate) (*IngestResult, error) {
	res := &IngestResult{}
	start := time.Now()
	l.notifyProgress(ProgressEvent{EventType: EventIngestStart, Total: len(candidates)})

	var stopErr error
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			stopErr = err
			l.notifyProgress(ProgressEvent{EventType: EventIngestStopped, Index: i, Total: len(candidates), Err: err})
			break
		}
		// A started candidate runs to completion.
		l.ingestOne(context.WithoutCancel(ctx), i, len(candidates), c, res)
	}

	// Group scores depend on every member, so settle each touched group once.
	// A cancelled ingest leaves the preliminary scores for the next rescore.
	if stopErr == nil {
		for _, fp := range res.Fingerprints() {
			group, err := l.Rescore(ctx, fp)
			if err != nil {
				l.logger.Warn("rescoring after ingest failed", "fingerprint", fingerprint.Short(fp), "error", err)
				continue
			}
			refresh(res.Created, group)
			refresh(res.Duplicates, group)
		}
	}

	l.notifyProgress(ProgressEvent{
		EventType:  EventIngestComplete,
		Total:      len(candidates),
		DurationMs: time.Since(start).Milliseconds(),
	})
	l.logger.Info("ingested candidates",
		"created", len(res.Created), "duplicates", len(res.Duplicates), "failed", len(res.Failed))
	return res, stopErr
}

func (l *Library) ingestOne(ctx context.Context, i, total int, c models.Candidate, res *IngestResult) {
	p := l.profile(c.SourceCode)
	sol, err := l.store.PutAnalyzed(ctx, c, p, l.scorer.Score(p, nil, scoring.Usage{}))
	var dup *models.DuplicateContentError
	switch {
	case errors.As(err, &dup):
		l.logger.Warn("duplicate candidate recovered", "index", i, "id", dup.Existing.ID)
		res.Duplicates = append(res.Duplicates, dup.Existing)
		l.notifyProgress(ProgressEvent{
			EventType:   EventCandidateDup,
			Fingerprint: dup.Existing.RequestFingerprint,
			SolutionID:  dup.Existing.ID,
			Index:       i,
			Total:       total,
		})
		return
	case err != nil:
		l.fail(res, i, total, err)
		return
	}

	l.logger.Debug("stored candidate", "id", sol.ID, "version", sol.Version, "score", sol.ComputedScore)
	res.Created = append(res.Created, sol)
	l.notifyProgress(ProgressEvent{
		EventType:   EventCandidateStored,
		Fingerprint: sol.RequestFingerprint,
		SolutionID:  sol.ID,
		Index:       i,
		Total:       total,
		Score:       sol.ComputedScore,
	})
}

func (l *Library) fail(res *IngestResult, i, total int, err error) {
	l.logger.Warn("candidate failed", "index", i, "error", err)
	res.Failed = append(res.Failed, IngestFailure{Index: i, Err: err, Message: err.Error()})
	l.notifyProgress(ProgressEvent{EventType: EventCandidateFailed, Index: i, Total: total, Err: err})
}

// refresh replaces entries of sols with their rescored copies from group.
func refresh(sols, group []*models.Solution) {
	byID := make(map[string]*models.Solution, len(group))
	for _, s := range group {
		byID[s.ID] = s
	}
	for i, s := range sols {
		if fresh, ok := byID[s.ID]; ok {
			sols[i] = fresh
		}
	}
}

package library

import (
	"context"
	"fmt"

	"github.com/spboyer/kinetic/internal/exchange"
	"github.com/spboyer/kinetic/internal/fingerprint"
	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/store"
)

// Export builds an exchange document. With no ids the whole library,
// archived solutions included, is exported as a backup. Explicitly exported
// solutions are also recorded as "exported" interactions.
func (l *Library) Export(ctx context.Context, ids ...string) (*exchange.Document, error) {
	if len(ids) == 0 {
		all, err := l.store.List(ctx, store.Filter{IncludeArchived: true})
		if err != nil {
			return nil, err
		}
		return exchange.NewDocument(all, l.now()), nil
	}

	sols := make([]*models.Solution, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		s, err := l.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		sols = append(sols, s)
	}
	doc := exchange.NewDocument(sols, l.now())

	touched := make(map[string]bool)
	for _, s := range sols {
		if _, err := l.store.AppendEvent(ctx, models.InteractionEvent{SolutionID: s.ID, Kind: models.EventExported, Timestamp: l.now()}); err != nil {
			return nil, err
		}
		touched[s.RequestFingerprint] = true
	}
	for fp := range touched {
		if _, err := l.Rescore(ctx, fp); err != nil {
			l.logger.Warn("rescoring after export failed", "fingerprint", fingerprint.Short(fp), "error", err)
		}
	}
	return doc, nil
}

// Import stores every solution of doc as a new version under its original
// fingerprint. Scores and profiles are kept as exported so a round trip is
// lossless; the next rescore brings them in line with this library's usage.
// Import stops at the first failure and returns what was stored before it.
func (l *Library) Import(ctx context.Context, doc *exchange.Document) ([]*models.Solution, error) {
	out := make([]*models.Solution, 0, len(doc.Solutions))
	for i, s := range doc.Solutions {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		stored, err := l.store.Import(ctx, *s)
		if err != nil {
			return out, fmt.Errorf("importing solution %d (%s): %w", i, s.ID, err)
		}
		l.logger.Debug("imported solution", "from", s.ID, "id", stored.ID, "version", stored.Version)
		out = append(out, stored)
	}
	l.logger.Info("imported solutions", "count", len(out))
	return out, nil
}

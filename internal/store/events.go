package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spboyer/kinetic/internal/models"
)

// EventQuery selects a snapshot of the interaction log. Zero fields do not filter.
type EventQuery struct {
	Since       time.Time
	Until       time.Time
	SolutionIDs []string
}

// AppendEvent records an interaction against an existing solution. The id and,
// when zero, the timestamp are assigned here. Appends are safe to issue
// concurrently.
func (s *Store) AppendEvent(ctx context.Context, ev models.InteractionEvent) (*models.InteractionEvent, error) {
	return s.appendEvent(ctx, s.db, ev)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) appendEvent(ctx context.Context, db execer, ev models.InteractionEvent) (*models.InteractionEvent, error) {
	if !ev.Kind.Valid() {
		return nil, &models.ValidationError{Field: "kind", Value: string(ev.Kind), Err: models.ErrInvalidEventKind}
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate event id: %w", err)
	}
	ev.ID = id.String()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	ev.Timestamp = ev.Timestamp.UTC()

	// Insert-select so that the existence check and the append are one statement.
	res, err := db.ExecContext(ctx,
		`INSERT INTO events (id, solution_id, kind, occurred_at)
		 SELECT ?, id, ?, ? FROM solutions WHERE id = ?`,
		ev.ID, string(ev.Kind), formatTime(ev.Timestamp), ev.SolutionID,
	)
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, &models.NotFoundError{Kind: "solution", Key: ev.SolutionID}
	}
	return &ev, nil
}

// Events returns a snapshot of the log ordered by timestamp, then by append
// order. Appends that land after the query are not included.
func (s *Store) Events(ctx context.Context, q EventQuery) ([]models.InteractionEvent, error) {
	var (
		where []string
		args  []any
	)
	if !q.Since.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, formatTime(q.Since))
	}
	if !q.Until.IsZero() {
		where = append(where, "occurred_at < ?")
		args = append(args, formatTime(q.Until))
	}
	if len(q.SolutionIDs) > 0 {
		where = append(where, "solution_id IN ("+placeholders(len(q.SolutionIDs))+")")
		for _, id := range q.SolutionIDs {
			args = append(args, id)
		}
	}

	query := "SELECT id, solution_id, kind, occurred_at FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at, seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []models.InteractionEvent
	for rows.Next() {
		var (
			ev   models.InteractionEvent
			kind string
			at   string
		)
		if err := rows.Scan(&ev.ID, &ev.SolutionID, &kind, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = models.EventKind(kind)
		if ev.Timestamp, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// EventsFor is shorthand for the full history of the given solutions.
func (s *Store) EventsFor(ctx context.Context, ids ...string) ([]models.InteractionEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.Events(ctx, EventQuery{SolutionIDs: ids})
}

// PurgeEvents deletes events older than before and returns how many were removed.
// It is the only way entries leave the log.
func (s *Store) PurgeEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE occurred_at < ?", formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	s.logger.Info("purged interaction events", "before", before.UTC(), "count", n)
	return n, nil
}

// Stats summarizes the library contents.
type Stats struct {
	Solutions    int                      `json:"solutions"`
	Fingerprints int                      `json:"fingerprints"`
	Favorited    int                      `json:"favorited"`
	Derivatives  int                      `json:"derivatives"`
	Archived     int                      `json:"archived"`
	Events       int                      `json:"events"`
	AverageScore float64                  `json:"average_score"`
	ByCategory   map[models.Category]int  `json:"by_category"`
	ByTechStack  map[models.TechStack]int `json:"by_tech_stack"`
}

// Stats returns counts over the whole library.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByCategory:  make(map[models.Category]int),
		ByTechStack: make(map[models.TechStack]int),
	}
	err := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COUNT(DISTINCT fingerprint),
		COALESCE(SUM(favorited), 0),
		COALESCE(SUM(CASE WHEN parent_id IS NOT NULL THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(archived), 0),
		COALESCE(AVG(computed_score), 0)
		FROM solutions`,
	).Scan(&st.Solutions, &st.Fingerprints, &st.Favorited, &st.Derivatives, &st.Archived, &st.AverageScore)
	if err != nil {
		return nil, fmt.Errorf("count solutions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&st.Events); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	if err := s.groupCount(ctx, "category", func(k string, n int) { st.ByCategory[models.Category(k)] = n }); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, "tech_stack", func(k string, n int) { st.ByTechStack[models.TechStack(k)] = n }); err != nil {
		return nil, err
	}
	return st, nil
}

// groupCount runs a GROUP BY over a fixed, internal column name.
func (s *Store) groupCount(ctx context.Context, column string, fn func(string, int)) error {
	rows, err := s.db.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM solutions GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("group by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			k string
			n int
		)
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		fn(k, n)
	}
	return rows.Err()
}

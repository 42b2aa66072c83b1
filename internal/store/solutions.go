package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/spboyer/kinetic/internal/fingerprint"
	"github.com/spboyer/kinetic/internal/models"
)

const solutionColumns = `id, fingerprint, version, content_hash, source_code, category, tech_stack,
	created_at, parent_id, favorited, manual_rating, computed_score, profile_json, tags_json, archived`

// Filter narrows List. Zero fields do not filter.
type Filter struct {
	Fingerprint     string
	Category        models.Category
	TechStack       models.TechStack
	MinScore        float64
	FavoritedOnly   bool
	IncludeArchived bool
	IDs             []string
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Put stores a freshly generated candidate as the next version under its
// fingerprint. Byte-identical code already stored under the same fingerprint
// is rejected with *models.DuplicateContentError carrying the canonical
// solution. A lost race on the version number is retried once.
func (s *Store) Put(ctx context.Context, c models.Candidate) (*models.Solution, error) {
	return s.PutAnalyzed(ctx, c, models.PerformanceProfile{}, 0)
}

// PutAnalyzed is Put with the profile and preliminary score written in the
// same transaction, so the stored solution is never observed unanalyzed.
func (s *Store) PutAnalyzed(ctx context.Context, c models.Candidate, profile models.PerformanceProfile, score float64) (*models.Solution, error) {
	if err := checkScore(score); err != nil {
		return nil, err
	}
	fp := c.Fingerprint
	if fp == "" {
		fp = fingerprint.Compute(c.Request)
	}
	rec := &models.Solution{
		RequestFingerprint: fp,
		SourceCode:         c.SourceCode,
		Category:           c.Category,
		TechStack:          c.TechStack,
		Tags:               models.NormalizeTags(c.Tags),
		CreatedAt:          s.now().UTC(),
		ComputedScore:      score,
		PerformanceProfile: profile,
	}

	unlock := s.writers.Lock(fp)
	defer unlock()
	return s.insertWithRetry(ctx, rec, true)
}

// DeriveOptimized stores newCode as the next version under the parent's
// fingerprint with ParentID set. Favorite, rating, score and profile start
// empty; the analysis pipeline fills in the last two.
func (s *Store) DeriveOptimized(ctx context.Context, parentID, newCode string) (*models.Solution, error) {
	parent, err := s.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	rec := &models.Solution{
		RequestFingerprint: parent.RequestFingerprint,
		SourceCode:         newCode,
		Category:           parent.Category,
		TechStack:          parent.TechStack,
		Tags:               parent.Tags,
		ParentID:           parent.ID,
		CreatedAt:          s.now().UTC(),
	}

	unlock := s.writers.Lock(parent.RequestFingerprint)
	defer unlock()
	return s.insertWithRetry(ctx, rec, true)
}

// Import stores an externally serialized solution. It always becomes a new
// version under its original fingerprint, so an id collision never
// overwrites. Every other field is kept as exported; a parent that does not
// exist in this library is dropped.
func (s *Store) Import(ctx context.Context, sol models.Solution) (*models.Solution, error) {
	if sol.RequestFingerprint == "" {
		return nil, &models.ValidationError{Field: "request_fingerprint", Value: "", Err: errors.New("must not be empty")}
	}
	if sol.ManualRating != nil && !models.ValidRating(*sol.ManualRating) {
		return nil, &models.ValidationError{Field: "manual_rating", Value: *sol.ManualRating, Err: models.ErrInvalidRating}
	}

	rec := sol.Clone()
	rec.ID = ""
	rec.Version = 0
	rec.Archived = false
	rec.Tags = models.NormalizeTags(rec.Tags)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	if rec.ParentID != "" {
		if _, err := s.Get(ctx, rec.ParentID); errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("dropping unknown parent on import", "parent", rec.ParentID, "fingerprint", rec.RequestFingerprint)
			rec.ParentID = ""
		} else if err != nil {
			return nil, err
		}
	}

	unlock := s.writers.Lock(rec.RequestFingerprint)
	defer unlock()
	return s.insertWithRetry(ctx, rec, false)
}

func (s *Store) insertWithRetry(ctx context.Context, rec *models.Solution, dedup bool) (*models.Solution, error) {
	sol, err := s.insertVersion(ctx, rec, dedup)
	if errors.Is(err, models.ErrConcurrencyConflict) {
		s.logger.Warn("version conflict, retrying with a fresh version",
			"fingerprint", rec.RequestFingerprint, "error", err)
		sol, err = s.insertVersion(ctx, rec, dedup)
	}
	return sol, err
}

func (s *Store) insertVersion(ctx context.Context, rec *models.Solution, dedup bool) (*models.Solution, error) {
	fp := rec.RequestFingerprint
	hash := fingerprint.ContentHash(rec.SourceCode)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin put tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if dedup {
		row := tx.QueryRowContext(ctx,
			`SELECT `+solutionColumns+` FROM solutions
			 WHERE fingerprint = ? AND content_hash = ? ORDER BY version LIMIT 1`, fp, hash)
		existing, err := scanSolution(row)
		switch {
		case err == nil:
			return nil, &models.DuplicateContentError{Existing: existing}
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("check duplicate content: %w", err)
		}
	}

	if rec.ParentID != "" {
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM solutions WHERE id = ?", rec.ParentID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &models.ValidationError{Field: "parent_id", Value: rec.ParentID, Err: models.ErrMissingParent}
		}
		if err != nil {
			return nil, fmt.Errorf("check parent: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM solutions WHERE fingerprint = ?", fp,
	).Scan(&current); err != nil {
		return nil, fmt.Errorf("read current version: %w", err)
	}
	next := current + 1
	if s.nextVersion != nil {
		next = s.nextVersion(fp, next)
	}

	sol := rec.Clone()
	sol.Version = next
	sol.ID = fingerprint.SolutionID(fp, next)

	profileJSON, err := json.Marshal(sol.PerformanceProfile)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}
	tagsJSON, err := marshalTags(sol.Tags)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO solutions (`+solutionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sol.ID, fp, sol.Version, hash, sol.SourceCode, string(sol.Category), string(sol.TechStack),
		formatTime(sol.CreatedAt), nullString(sol.ParentID), sol.Favorited, nullFloat(sol.ManualRating),
		sol.ComputedScore, string(profileJSON), tagsJSON, sol.Archived,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert %s v%d: %w", fingerprint.Short(fp), sol.Version, models.ErrConcurrencyConflict)
		}
		return nil, fmt.Errorf("insert solution: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit put: %w", err)
	}

	s.logger.Debug("stored solution", "id", sol.ID, "fingerprint", fingerprint.Short(fp), "version", sol.Version)
	return sol, nil
}

// Get returns the solution with the given id.
func (s *Store) Get(ctx context.Context, id string) (*models.Solution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+solutionColumns+` FROM solutions WHERE id = ?`, id)
	sol, err := scanSolution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Kind: "solution", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get solution %s: %w", id, err)
	}
	return sol, nil
}

// ListByFingerprint returns every solution for fp ordered by version ascending,
// archived ones included.
func (s *Store) ListByFingerprint(ctx context.Context, fp string) ([]*models.Solution, error) {
	sols, err := s.List(ctx, Filter{Fingerprint: fp, IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	if len(sols) == 0 {
		return nil, &models.NotFoundError{Kind: "fingerprint", Key: fp}
	}
	return sols, nil
}

// List returns solutions matching f ordered by fingerprint then version.
func (s *Store) List(ctx context.Context, f Filter) ([]*models.Solution, error) {
	var (
		where []string
		args  []any
	)
	if f.Fingerprint != "" {
		where = append(where, "fingerprint = ?")
		args = append(args, f.Fingerprint)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.TechStack != "" {
		where = append(where, "tech_stack = ?")
		args = append(args, string(f.TechStack))
	}
	if f.MinScore > 0 {
		where = append(where, "computed_score >= ?")
		args = append(args, f.MinScore)
	}
	if f.FavoritedOnly {
		where = append(where, "favorited = 1")
	}
	if !f.IncludeArchived {
		where = append(where, "archived = 0")
	}
	if len(f.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}

	q := `SELECT ` + solutionColumns + ` FROM solutions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY fingerprint, version"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list solutions: %w", err)
	}
	defer rows.Close()

	var out []*models.Solution
	for rows.Next() {
		sol, err := scanSolution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan solution: %w", err)
		}
		out = append(out, sol)
	}
	return out, rows.Err()
}

// Fingerprints returns every distinct fingerprint in the library, sorted.
func (s *Store) Fingerprints(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT fingerprint FROM solutions ORDER BY fingerprint")
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

// SetFavorite updates the favorite flag and returns the updated solution.
func (s *Store) SetFavorite(ctx context.Context, id string, favorited bool) (*models.Solution, error) {
	return s.updateOne(ctx, id, "UPDATE solutions SET favorited = ? WHERE id = ?", favorited, id)
}

// MarkFavorite sets the favorite flag and appends the matching favorited or
// unfavorited event in one transaction. Setting the current value changes
// nothing and records nothing; changed reports which case applied.
func (s *Store) MarkFavorite(ctx context.Context, id string, favorited bool, at time.Time) (sol *models.Solution, changed bool, err error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	unlock := s.writers.Lock(cur.RequestFingerprint)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin favorite tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"UPDATE solutions SET favorited = ? WHERE id = ? AND favorited != ?", favorited, id, favorited)
	if err != nil {
		return nil, false, fmt.Errorf("update solution %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		sol, err := s.Get(ctx, id)
		return sol, false, err
	}

	kind := models.EventFavorited
	if !favorited {
		kind = models.EventUnfavorited
	}
	if _, err := s.appendEvent(ctx, tx, models.InteractionEvent{SolutionID: id, Kind: kind, Timestamp: at}); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit favorite: %w", err)
	}
	sol, err = s.Get(ctx, id)
	return sol, err == nil, err
}

// SetManualRating sets the manual rating in [0, 5]; nil clears it.
func (s *Store) SetManualRating(ctx context.Context, id string, rating *float64) (*models.Solution, error) {
	if rating != nil && !models.ValidRating(*rating) {
		return nil, &models.ValidationError{Field: "manual_rating", Value: *rating, Err: models.ErrInvalidRating}
	}
	return s.updateOne(ctx, id, "UPDATE solutions SET manual_rating = ? WHERE id = ?", nullFloat(rating), id)
}

// Archive hides a solution from default listings without deleting it.
func (s *Store) Archive(ctx context.Context, id string, archived bool) (*models.Solution, error) {
	return s.updateOne(ctx, id, "UPDATE solutions SET archived = ? WHERE id = ?", archived, id)
}

// UpdateAnalysis replaces the derived profile and score. It belongs to the
// analysis pipeline; nothing user-facing calls it.
func (s *Store) UpdateAnalysis(ctx context.Context, id string, profile models.PerformanceProfile, score float64) (*models.Solution, error) {
	if err := checkScore(score); err != nil {
		return nil, err
	}
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}
	return s.updateOne(ctx, id,
		"UPDATE solutions SET profile_json = ?, computed_score = ? WHERE id = ?",
		string(profileJSON), score, id)
}

// UpdateScores writes a batch of computed scores in one transaction so a
// fingerprint group is rescored atomically.
func (s *Store) UpdateScores(ctx context.Context, scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}
	for _, score := range scores {
		if err := checkScore(score); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin score tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "UPDATE solutions SET computed_score = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("prepare score update: %w", err)
	}
	defer stmt.Close()

	for id, score := range scores {
		res, err := stmt.ExecContext(ctx, score, id)
		if err != nil {
			return fmt.Errorf("update score %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &models.NotFoundError{Kind: "solution", Key: id}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit scores: %w", err)
	}
	return nil
}

func (s *Store) updateOne(ctx context.Context, id, query string, args ...any) (*models.Solution, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update solution %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update solution %s: %w", id, err)
	}
	if n == 0 {
		return nil, &models.NotFoundError{Kind: "solution", Key: id}
	}
	return s.Get(ctx, id)
}

func scanSolution(r rowScanner) (*models.Solution, error) {
	var (
		sol         models.Solution
		category    string
		techStack   string
		createdAt   string
		parentID    sql.NullString
		rating      sql.NullFloat64
		contentHash string
		profileJSON string
		tagsJSON    string
	)
	err := r.Scan(
		&sol.ID, &sol.RequestFingerprint, &sol.Version, &contentHash, &sol.SourceCode,
		&category, &techStack, &createdAt, &parentID, &sol.Favorited, &rating,
		&sol.ComputedScore, &profileJSON, &tagsJSON, &sol.Archived,
	)
	if err != nil {
		return nil, err
	}

	sol.Category = models.Category(category)
	sol.TechStack = models.TechStack(techStack)
	sol.ParentID = parentID.String
	if rating.Valid {
		v := rating.Float64
		sol.ManualRating = &v
	}
	if sol.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(profileJSON), &sol.PerformanceProfile); err != nil {
		return nil, fmt.Errorf("decode profile of %s: %w", sol.ID, err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &sol.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of %s: %w", sol.ID, err)
	}
	if len(sol.Tags) == 0 {
		sol.Tags = nil
	}
	return &sol, nil
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(b), nil
}

func checkScore(score float64) error {
	if score < 0 || score > 1 {
		return &models.ValidationError{Field: "computed_score", Value: score, Err: errors.New("must be within [0, 1]")}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

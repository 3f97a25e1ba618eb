package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
)

// CreateStyleProfile inserts a new style profile. If is_active is true,
// any other active profile for the project is deactivated first so that
// invariant 3 (at most one active per project) always holds.
func (s *Store) CreateStyleProfile(p model.StyleProfile) (int64, error) {
	features, err := marshalJSON(p.Features)
	if err != nil {
		return 0, fmt.Errorf("store: marshal features: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: begin create style profile: %w", err)
	}
	defer tx.Rollback()

	if p.IsActive {
		if _, err := tx.Exec(`UPDATE style_profiles SET is_active = 0 WHERE project_id = ?`, p.ProjectID); err != nil {
			return 0, fmt.Errorf("store: deactivate style profiles: %w", err)
		}
	}

	res, err := tx.Exec(
		`INSERT INTO style_profiles (project_id, name, source_text, features, style_guide, is_active) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ProjectID, p.Name, p.SourceText, features, p.StyleGuide, boolToInt(p.IsActive),
	)
	if err != nil {
		return 0, fmt.Errorf("store: create style profile: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit create style profile: %w", err)
	}
	return id, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const styleProfileColumns = `id, project_id, name, source_text, features, style_guide, is_active`

func scanStyleProfile(row interface{ Scan(dest ...any) error }) (model.StyleProfile, error) {
	var p model.StyleProfile
	var features string
	var active int
	if err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.SourceText, &features, &p.StyleGuide, &active); err != nil {
		return model.StyleProfile{}, err
	}
	p.IsActive = active != 0
	if err := unmarshalJSON(features, &p.Features); err != nil {
		return model.StyleProfile{}, fmt.Errorf("store: unmarshal features: %w", err)
	}
	return p, nil
}

// GetActiveStyleProfile is the named query
// get_active_style_profile(project).
func (s *Store) GetActiveStyleProfile(projectID int64) (model.StyleProfile, error) {
	row := s.db.QueryRow(`SELECT `+styleProfileColumns+` FROM style_profiles WHERE project_id = ? AND is_active = 1`, projectID)
	p, err := scanStyleProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StyleProfile{}, engerr.NotFound("no active style profile")
	}
	if err != nil {
		return model.StyleProfile{}, fmt.Errorf("store: get active style profile: %w", err)
	}
	return p, nil
}

// ListStyleProfiles returns all style profiles in a project.
func (s *Store) ListStyleProfiles(projectID int64) ([]model.StyleProfile, error) {
	rows, err := s.db.Query(`SELECT `+styleProfileColumns+` FROM style_profiles WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list style profiles: %w", err)
	}
	defer rows.Close()

	var out []model.StyleProfile
	for rows.Next() {
		p, err := scanStyleProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan style profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetActiveStyleProfile activates one profile and deactivates all others
// for the same project in a single transaction (invariant 3).
func (s *Store) SetActiveStyleProfile(projectID, id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin set active style profile: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE style_profiles SET is_active = 0 WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("store: deactivate style profiles: %w", err)
	}
	res, err := tx.Exec(`UPDATE style_profiles SET is_active = 1 WHERE id = ? AND project_id = ?`, id, projectID)
	if err != nil {
		return fmt.Errorf("store: activate style profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engerr.NotFound(fmt.Sprintf("style profile %d not found in project %d", id, projectID))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit set active style profile: %w", err)
	}
	return nil
}

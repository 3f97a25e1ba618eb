package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
)

// CreateProject inserts a new project and returns its assigned id.
func (s *Store) CreateProject(p model.Project) (int64, error) {
	tags, err := marshalJSON(p.PlotTags)
	if err != nil {
		return 0, fmt.Errorf("store: marshal plot_tags: %w", err)
	}
	if p.Stage == "" {
		p.Stage = model.StageCreated
	}
	now := time.Now()
	res, err := s.db.Exec(
		`INSERT INTO projects (title, author, genre, plot_tags, description, stage, current_step, spoiler_global_config, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Title, p.Author, p.Genre, tags, p.Description, string(p.Stage), p.CurrentStep, p.SpoilerGlobalConfig, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("store: create project: %w", err)
	}
	return res.LastInsertId()
}

func scanProject(row interface {
	Scan(dest ...any) error
}) (model.Project, error) {
	var p model.Project
	var stage string
	var tags string
	err := row.Scan(
		&p.ID, &p.Title, &p.Author, &p.Genre, &tags, &p.Description,
		&p.PlanningText, &p.WorldBuildingRaw, &p.OutlineRaw,
		&stage, &p.CurrentStep, &p.SpoilerGlobalConfig, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return model.Project{}, err
	}
	p.Stage = model.Stage(stage)
	if err := unmarshalJSON(tags, &p.PlotTags); err != nil {
		return model.Project{}, fmt.Errorf("store: unmarshal plot_tags: %w", err)
	}
	return p, nil
}

const projectColumns = `id, title, author, genre, plot_tags, description,
	planning_text, world_building_raw, outline_raw,
	stage, current_step, spoiler_global_config, created_at, updated_at`

// GetProject fetches a project by id.
func (s *Store) GetProject(id int64) (model.Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Project{}, engerr.NotFound(fmt.Sprintf("project %d not found", id))
	}
	if err != nil {
		return model.Project{}, fmt.Errorf("store: get project: %w", err)
	}
	return p, nil
}

// GetProjectByTitle fetches a project by its unique title.
func (s *Store) GetProjectByTitle(title string) (model.Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE title = ?`, title)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Project{}, engerr.NotFound(fmt.Sprintf("project %q not found", title))
	}
	if err != nil {
		return model.Project{}, fmt.Errorf("store: get project by title: %w", err)
	}
	return p, nil
}

// ListProjects returns all projects ordered by id.
func (s *Store) ListProjects() ([]model.Project, error) {
	rows, err := s.db.Query(`SELECT ` + projectColumns + ` FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePlanningText overwrites project.planning_text (stage-1 side effect).
func (s *Store) UpdatePlanningText(id int64, text string) error {
	_, err := s.db.Exec(`UPDATE projects SET planning_text = ?, updated_at = ? WHERE id = ?`, text, time.Now(), id)
	if err != nil {
		return fmt.Errorf("store: update planning text: %w", err)
	}
	return nil
}

// UpdateWorldBuildingRaw persists the raw stage-2 reply when parsing fails.
func (s *Store) UpdateWorldBuildingRaw(id int64, raw string) error {
	_, err := s.db.Exec(`UPDATE projects SET world_building_raw = ?, updated_at = ? WHERE id = ?`, raw, time.Now(), id)
	if err != nil {
		return fmt.Errorf("store: update world building raw: %w", err)
	}
	return nil
}

// UpdateOutlineRaw persists the raw stage-3 reply when parsing fails.
func (s *Store) UpdateOutlineRaw(id int64, raw string) error {
	_, err := s.db.Exec(`UPDATE projects SET outline_raw = ?, updated_at = ? WHERE id = ?`, raw, time.Now(), id)
	if err != nil {
		return fmt.Errorf("store: update outline raw: %w", err)
	}
	return nil
}

// AdvanceProjectStage applies the monotonic stage-advancement rule
// (invariant 5): current_step never decreases.
func (s *Store) AdvanceProjectStage(id int64, stage model.Stage) error {
	rank := stage.Rank()
	if rank < 0 {
		return fmt.Errorf("store: unknown stage %q", stage)
	}
	_, err := s.db.Exec(
		`UPDATE projects SET stage = ?, current_step = MAX(current_step, ?), updated_at = ? WHERE id = ?`,
		string(stage), rank, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("store: advance project stage: %w", err)
	}
	return nil
}

// DeleteProject removes a project; ON DELETE CASCADE removes its volumes,
// characters, world items, plot arcs, and style profiles.
func (s *Store) DeleteProject(id int64) error {
	_, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete project: %w", err)
	}
	return nil
}

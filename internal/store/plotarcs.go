package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
)

// CreatePlotArc inserts a new plot arc.
func (s *Store) CreatePlotArc(a model.PlotArc) (int64, error) {
	if !a.ValidResolution() {
		return 0, fmt.Errorf("store: invalid plot arc resolution for %q", a.Name)
	}
	chars, err := marshalJSON(a.RelatedCharacters)
	if err != nil {
		return 0, fmt.Errorf("store: marshal related_characters: %w", err)
	}
	keywords, err := marshalJSON(a.RelatedKeywords)
	if err != nil {
		return 0, fmt.Errorf("store: marshal related_keywords: %w", err)
	}
	var embedding any
	if a.Embedding != nil {
		embedding, err = marshalJSON(a.Embedding)
		if err != nil {
			return 0, fmt.Errorf("store: marshal embedding: %w", err)
		}
	}
	res, err := s.db.Exec(
		`INSERT INTO plot_arcs (project_id, name, description, status, planted_chapter, resolved_chapter, related_characters, related_keywords, importance, embedding, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ProjectID, a.Name, a.Description, string(a.Status), nullableInt(a.PlantedChapter), nullableInt(a.ResolvedChapter),
		chars, keywords, string(a.Importance), embedding, a.Notes,
	)
	if err != nil {
		return 0, fmt.Errorf("store: create plot arc: %w", err)
	}
	return res.LastInsertId()
}

const plotArcColumns = `id, project_id, name, description, status, planted_chapter, resolved_chapter,
	related_characters, related_keywords, importance, embedding, notes`

func scanPlotArc(row interface{ Scan(dest ...any) error }) (model.PlotArc, error) {
	var a model.PlotArc
	var status, importance, chars, keywords string
	var planted, resolved sql.NullInt64
	var embedding sql.NullString
	err := row.Scan(
		&a.ID, &a.ProjectID, &a.Name, &a.Description, &status, &planted, &resolved,
		&chars, &keywords, &importance, &embedding, &a.Notes,
	)
	if err != nil {
		return model.PlotArc{}, err
	}
	a.Status = model.PlotArcStatus(status)
	a.Importance = model.Importance(importance)
	if planted.Valid {
		v := int(planted.Int64)
		a.PlantedChapter = &v
	}
	if resolved.Valid {
		v := int(resolved.Int64)
		a.ResolvedChapter = &v
	}
	if err := unmarshalJSON(chars, &a.RelatedCharacters); err != nil {
		return model.PlotArc{}, fmt.Errorf("store: unmarshal related_characters: %w", err)
	}
	if err := unmarshalJSON(keywords, &a.RelatedKeywords); err != nil {
		return model.PlotArc{}, fmt.Errorf("store: unmarshal related_keywords: %w", err)
	}
	if embedding.Valid && embedding.String != "" {
		if err := unmarshalJSON(embedding.String, &a.Embedding); err != nil {
			return model.PlotArc{}, fmt.Errorf("store: unmarshal embedding: %w", err)
		}
	}
	return a, nil
}

// GetPlotArc fetches a plot arc by id.
func (s *Store) GetPlotArc(id int64) (model.PlotArc, error) {
	row := s.db.QueryRow(`SELECT `+plotArcColumns+` FROM plot_arcs WHERE id = ?`, id)
	a, err := scanPlotArc(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlotArc{}, engerr.NotFound(fmt.Sprintf("plot arc %d not found", id))
	}
	if err != nil {
		return model.PlotArc{}, fmt.Errorf("store: get plot arc: %w", err)
	}
	return a, nil
}

// ListPlotArcs returns every plot arc in a project, insertion order.
func (s *Store) ListPlotArcs(projectID int64) ([]model.PlotArc, error) {
	rows, err := s.db.Query(`SELECT `+plotArcColumns+` FROM plot_arcs WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list plot arcs: %w", err)
	}
	defer rows.Close()

	var out []model.PlotArc
	for rows.Next() {
		a, err := scanPlotArc(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan plot arc: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetActivePlotArcs is the named query get_active_plot_arcs(project): arcs
// not yet resolved or abandoned.
func (s *Store) GetActivePlotArcs(projectID int64) ([]model.PlotArc, error) {
	rows, err := s.db.Query(
		`SELECT `+plotArcColumns+` FROM plot_arcs WHERE project_id = ? AND status NOT IN ('resolved', 'abandoned') ORDER BY id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get active plot arcs: %w", err)
	}
	defer rows.Close()

	var out []model.PlotArc
	for rows.Next() {
		a, err := scanPlotArc(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan plot arc: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetPlotArcsWithoutEmbedding is the named query
// get_plot_arcs_without_embedding(project), used for lazy indexing.
func (s *Store) GetPlotArcsWithoutEmbedding(projectID int64) ([]model.PlotArc, error) {
	rows, err := s.db.Query(
		`SELECT `+plotArcColumns+` FROM plot_arcs WHERE project_id = ? AND (embedding IS NULL OR embedding = '') ORDER BY id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get plot arcs without embedding: %w", err)
	}
	defer rows.Close()

	var out []model.PlotArc
	for rows.Next() {
		a, err := scanPlotArc(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan plot arc: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdatePlotArcEmbedding persists a freshly computed embedding.
func (s *Store) UpdatePlotArcEmbedding(id int64, embedding []float32) error {
	blob, err := marshalJSON(embedding)
	if err != nil {
		return fmt.Errorf("store: marshal embedding: %w", err)
	}
	_, err = s.db.Exec(`UPDATE plot_arcs SET embedding = ? WHERE id = ?`, blob, id)
	if err != nil {
		return fmt.Errorf("store: update plot arc embedding: %w", err)
	}
	return nil
}

// UpdatePlotArcStatus transitions an arc's lifecycle status, validating the
// state machine and invariant 4 (resolved_chapter set, >= planted_chapter).
func (s *Store) UpdatePlotArcStatus(id int64, status model.PlotArcStatus, resolvedChapter *int) error {
	arc, err := s.GetPlotArc(id)
	if err != nil {
		return err
	}
	if !arc.Status.CanTransitionTo(status) {
		return fmt.Errorf("store: plot arc %d cannot transition %s -> %s", id, arc.Status, status)
	}
	arc.Status = status
	if resolvedChapter != nil {
		arc.ResolvedChapter = resolvedChapter
	}
	if !arc.ValidResolution() {
		return fmt.Errorf("store: resolved_chapter must be set and >= planted_chapter")
	}
	_, err = s.db.Exec(
		`UPDATE plot_arcs SET status = ?, resolved_chapter = ? WHERE id = ?`,
		string(arc.Status), nullableInt(arc.ResolvedChapter), id,
	)
	if err != nil {
		return fmt.Errorf("store: update plot arc status: %w", err)
	}
	return nil
}

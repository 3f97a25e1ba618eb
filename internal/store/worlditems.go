package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
)

// CreateWorldItem inserts a new world item. Names are unique within a
// project (invariant 2).
func (s *Store) CreateWorldItem(w model.WorldItem) (int64, error) {
	props, err := marshalJSON(w.Properties)
	if err != nil {
		return 0, fmt.Errorf("store: marshal properties: %w", err)
	}
	keywords, err := marshalJSON(w.LorebookKeywords)
	if err != nil {
		return 0, fmt.Errorf("store: marshal lorebook_keywords: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO world_items (project_id, type, name, description, properties, lorebook_keywords) VALUES (?, ?, ?, ?, ?, ?)`,
		w.ProjectID, string(w.Type), w.Name, w.Description, props, keywords,
	)
	if err != nil {
		return 0, fmt.Errorf("store: create world item: %w", err)
	}
	return res.LastInsertId()
}

const worldItemColumns = `id, project_id, type, name, description, properties, lorebook_keywords`

func scanWorldItem(row interface{ Scan(dest ...any) error }) (model.WorldItem, error) {
	var w model.WorldItem
	var typ, props, keywords string
	if err := row.Scan(&w.ID, &w.ProjectID, &typ, &w.Name, &w.Description, &props, &keywords); err != nil {
		return model.WorldItem{}, err
	}
	w.Type = model.WorldItemType(typ)
	if err := unmarshalJSON(props, &w.Properties); err != nil {
		return model.WorldItem{}, fmt.Errorf("store: unmarshal properties: %w", err)
	}
	if err := unmarshalJSON(keywords, &w.LorebookKeywords); err != nil {
		return model.WorldItem{}, fmt.Errorf("store: unmarshal lorebook_keywords: %w", err)
	}
	return w, nil
}

// GetWorldItem fetches a world item by id.
func (s *Store) GetWorldItem(id int64) (model.WorldItem, error) {
	row := s.db.QueryRow(`SELECT `+worldItemColumns+` FROM world_items WHERE id = ?`, id)
	w, err := scanWorldItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WorldItem{}, engerr.NotFound(fmt.Sprintf("world item %d not found", id))
	}
	if err != nil {
		return model.WorldItem{}, fmt.Errorf("store: get world item: %w", err)
	}
	return w, nil
}

// ListWorldItems returns all world items in a project, insertion order.
func (s *Store) ListWorldItems(projectID int64) ([]model.WorldItem, error) {
	rows, err := s.db.Query(`SELECT `+worldItemColumns+` FROM world_items WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list world items: %w", err)
	}
	defer rows.Close()

	var out []model.WorldItem
	for rows.Next() {
		w, err := scanWorldItem(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan world item: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteWorldItemsByProject removes every world item owned by a project —
// used by the world-building stage's replace-all-on-success transition.
func (s *Store) DeleteWorldItemsByProject(projectID int64) error {
	_, err := s.db.Exec(`DELETE FROM world_items WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("store: delete world items: %w", err)
	}
	return nil
}

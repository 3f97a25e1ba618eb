package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
)

// CreateVolume inserts a new volume and returns its assigned id.
func (s *Store) CreateVolume(v model.Volume) (int64, error) {
	cfg, err := marshalJSON(v.Config)
	if err != nil {
		return 0, fmt.Errorf("store: marshal volume config: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO volumes (project_id, title, ordinal, description, config) VALUES (?, ?, ?, ?, ?)`,
		v.ProjectID, v.Title, v.Ordinal, v.Description, cfg,
	)
	if err != nil {
		return 0, fmt.Errorf("store: create volume: %w", err)
	}
	return res.LastInsertId()
}

func scanVolume(row interface{ Scan(dest ...any) error }) (model.Volume, error) {
	var v model.Volume
	var cfg string
	if err := row.Scan(&v.ID, &v.ProjectID, &v.Title, &v.Ordinal, &v.Description, &cfg); err != nil {
		return model.Volume{}, err
	}
	if err := unmarshalJSON(cfg, &v.Config); err != nil {
		return model.Volume{}, fmt.Errorf("store: unmarshal volume config: %w", err)
	}
	return v, nil
}

const volumeColumns = `id, project_id, title, ordinal, description, config`

// GetVolume fetches a volume by id.
func (s *Store) GetVolume(id int64) (model.Volume, error) {
	row := s.db.QueryRow(`SELECT `+volumeColumns+` FROM volumes WHERE id = ?`, id)
	v, err := scanVolume(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Volume{}, engerr.NotFound(fmt.Sprintf("volume %d not found", id))
	}
	if err != nil {
		return model.Volume{}, fmt.Errorf("store: get volume: %w", err)
	}
	return v, nil
}

// ListVolumes returns a project's volumes ordered by ordinal.
func (s *Store) ListVolumes(projectID int64) ([]model.Volume, error) {
	rows, err := s.db.Query(`SELECT `+volumeColumns+` FROM volumes WHERE project_id = ? ORDER BY ordinal`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list volumes: %w", err)
	}
	defer rows.Close()

	var out []model.Volume
	for rows.Next() {
		v, err := scanVolume(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan volume: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountVolumes reports how many volumes a project has (used by the
// pipeline runner's step-3 idempotency check).
func (s *Store) CountVolumes(projectID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM volumes WHERE project_id = ?`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count volumes: %w", err)
	}
	return n, nil
}

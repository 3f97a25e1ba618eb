package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
)

// CreateCharacter inserts a new character. Names are unique within a
// project (invariant 2); a duplicate insert surfaces the driver's
// UNIQUE-constraint error.
func (s *Store) CreateCharacter(c model.Character) (int64, error) {
	traits, err := marshalJSON(c.PersonalityTraits)
	if err != nil {
		return 0, fmt.Errorf("store: marshal personality_traits: %w", err)
	}
	rels, err := marshalJSON(c.Relationships)
	if err != nil {
		return 0, fmt.Errorf("store: marshal relationships: %w", err)
	}
	memories, err := marshalJSON(c.Memories)
	if err != nil {
		return 0, fmt.Errorf("store: marshal memories: %w", err)
	}
	keywords, err := marshalJSON(c.LorebookKeywords)
	if err != nil {
		return 0, fmt.Errorf("store: marshal lorebook_keywords: %w", err)
	}
	goals, err := marshalJSON(c.Goals)
	if err != nil {
		return 0, fmt.Errorf("store: marshal goals: %w", err)
	}
	catchphrases, err := marshalJSON(c.Catchphrases)
	if err != nil {
		return 0, fmt.Errorf("store: marshal catchphrases: %w", err)
	}

	res, err := s.db.Exec(
		`INSERT INTO characters (project_id, name, archetype, background, personality_traits, relationships, memories, lorebook_keywords, current_mood, current_status, goals, catchphrases)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ProjectID, c.Name, c.Archetype, c.Background, traits, rels, memories, keywords, c.CurrentMood, c.CurrentStatus, goals, catchphrases,
	)
	if err != nil {
		return 0, fmt.Errorf("store: create character: %w", err)
	}
	return res.LastInsertId()
}

const characterColumns = `id, project_id, name, archetype, background, personality_traits, relationships, memories,
	lorebook_keywords, current_mood, current_status, goals, catchphrases`

func scanCharacter(row interface{ Scan(dest ...any) error }) (model.Character, error) {
	var c model.Character
	var traits, rels, memories, keywords, goals, catchphrases string
	err := row.Scan(
		&c.ID, &c.ProjectID, &c.Name, &c.Archetype, &c.Background,
		&traits, &rels, &memories, &keywords, &c.CurrentMood, &c.CurrentStatus, &goals, &catchphrases,
	)
	if err != nil {
		return model.Character{}, err
	}
	if err := unmarshalJSON(traits, &c.PersonalityTraits); err != nil {
		return model.Character{}, fmt.Errorf("store: unmarshal personality_traits: %w", err)
	}
	if err := unmarshalJSON(rels, &c.Relationships); err != nil {
		return model.Character{}, fmt.Errorf("store: unmarshal relationships: %w", err)
	}
	if err := unmarshalJSON(memories, &c.Memories); err != nil {
		return model.Character{}, fmt.Errorf("store: unmarshal memories: %w", err)
	}
	if err := unmarshalJSON(keywords, &c.LorebookKeywords); err != nil {
		return model.Character{}, fmt.Errorf("store: unmarshal lorebook_keywords: %w", err)
	}
	if err := unmarshalJSON(goals, &c.Goals); err != nil {
		return model.Character{}, fmt.Errorf("store: unmarshal goals: %w", err)
	}
	if err := unmarshalJSON(catchphrases, &c.Catchphrases); err != nil {
		return model.Character{}, fmt.Errorf("store: unmarshal catchphrases: %w", err)
	}
	return c, nil
}

// GetCharacter fetches a character by id.
func (s *Store) GetCharacter(id int64) (model.Character, error) {
	row := s.db.QueryRow(`SELECT `+characterColumns+` FROM characters WHERE id = ?`, id)
	c, err := scanCharacter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Character{}, engerr.NotFound(fmt.Sprintf("character %d not found", id))
	}
	if err != nil {
		return model.Character{}, fmt.Errorf("store: get character: %w", err)
	}
	return c, nil
}

// GetCharacterByName resolves a character by its unique-within-project name.
func (s *Store) GetCharacterByName(projectID int64, name string) (model.Character, error) {
	row := s.db.QueryRow(`SELECT `+characterColumns+` FROM characters WHERE project_id = ? AND name = ?`, projectID, name)
	c, err := scanCharacter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Character{}, engerr.NotFound(fmt.Sprintf("character %q not found", name))
	}
	if err != nil {
		return model.Character{}, fmt.Errorf("store: get character by name: %w", err)
	}
	return c, nil
}

// ListCharacters returns all characters in a project, insertion order.
func (s *Store) ListCharacters(projectID int64) ([]model.Character, error) {
	rows, err := s.db.Query(`SELECT `+characterColumns+` FROM characters WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list characters: %w", err)
	}
	defer rows.Close()

	var out []model.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan character: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCharactersByProject removes every character owned by a project —
// used by the world-building stage's replace-all-on-success transition.
func (s *Store) DeleteCharactersByProject(projectID int64) error {
	_, err := s.db.Exec(`DELETE FROM characters WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("store: delete characters: %w", err)
	}
	return nil
}

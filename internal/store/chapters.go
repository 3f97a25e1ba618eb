package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
)

// CreateChapter inserts a new chapter and returns its assigned id.
func (s *Store) CreateChapter(c model.Chapter) (int64, error) {
	events, err := marshalJSON(c.KeyEvents)
	if err != nil {
		return 0, fmt.Errorf("store: marshal key_events: %w", err)
	}
	involved, err := marshalJSON(c.CharactersInvolved)
	if err != nil {
		return 0, fmt.Errorf("store: marshal characters_involved: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO chapters (volume_id, title, ordinal, content, summary, detail_outline, detail_outline_raw, word_count, key_events, characters_involved)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.VolumeID, c.Title, c.Ordinal, c.Content, nullableString(c.Summary),
		nullableString(c.DetailOutline), nullableString(c.DetailOutlineRaw),
		c.WordCount, events, involved,
	)
	if err != nil {
		return 0, fmt.Errorf("store: create chapter: %w", err)
	}
	return res.LastInsertId()
}

const chapterColumns = `id, volume_id, title, ordinal, content, summary, detail_outline, detail_outline_raw,
	word_count, key_events, characters_involved, quality_report`

func scanChapter(row interface{ Scan(dest ...any) error }) (model.Chapter, error) {
	var c model.Chapter
	var summary, detailOutline, detailOutlineRaw, qualityReport sql.NullString
	var events, involved string
	err := row.Scan(
		&c.ID, &c.VolumeID, &c.Title, &c.Ordinal, &c.Content, &summary, &detailOutline, &detailOutlineRaw,
		&c.WordCount, &events, &involved, &qualityReport,
	)
	if err != nil {
		return model.Chapter{}, err
	}
	if summary.Valid {
		c.Summary = &summary.String
	}
	if detailOutline.Valid {
		c.DetailOutline = &detailOutline.String
	}
	if detailOutlineRaw.Valid {
		c.DetailOutlineRaw = &detailOutlineRaw.String
	}
	if err := unmarshalJSON(events, &c.KeyEvents); err != nil {
		return model.Chapter{}, fmt.Errorf("store: unmarshal key_events: %w", err)
	}
	if err := unmarshalJSON(involved, &c.CharactersInvolved); err != nil {
		return model.Chapter{}, fmt.Errorf("store: unmarshal characters_involved: %w", err)
	}
	if qualityReport.Valid && qualityReport.String != "" {
		var qr model.QualityReport
		if err := unmarshalJSON(qualityReport.String, &qr); err != nil {
			return model.Chapter{}, fmt.Errorf("store: unmarshal quality_report: %w", err)
		}
		c.QualityReport = &qr
	}
	return c, nil
}

// GetChapter fetches a chapter by id.
func (s *Store) GetChapter(id int64) (model.Chapter, error) {
	row := s.db.QueryRow(`SELECT `+chapterColumns+` FROM chapters WHERE id = ?`, id)
	c, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Chapter{}, engerr.NotFound(fmt.Sprintf("chapter %d not found", id))
	}
	if err != nil {
		return model.Chapter{}, fmt.Errorf("store: get chapter: %w", err)
	}
	return c, nil
}

// GetChapterByOrder is the named query get_chapter_by_order(volume, n).
func (s *Store) GetChapterByOrder(volumeID int64, ordinal int) (model.Chapter, error) {
	row := s.db.QueryRow(`SELECT `+chapterColumns+` FROM chapters WHERE volume_id = ? AND ordinal = ?`, volumeID, ordinal)
	c, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Chapter{}, engerr.NotFound(fmt.Sprintf("chapter %d in volume %d not found", ordinal, volumeID))
	}
	if err != nil {
		return model.Chapter{}, fmt.Errorf("store: get chapter by order: %w", err)
	}
	return c, nil
}

// ListChapters returns a volume's chapters ordered by ordinal.
func (s *Store) ListChapters(volumeID int64) ([]model.Chapter, error) {
	rows, err := s.db.Query(`SELECT `+chapterColumns+` FROM chapters WHERE volume_id = ? ORDER BY ordinal`, volumeID)
	if err != nil {
		return nil, fmt.Errorf("store: list chapters: %w", err)
	}
	defer rows.Close()

	var out []model.Chapter
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan chapter: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListChaptersByProject returns every chapter in a project ordered by
// (volume ordinal, chapter ordinal) — the enumeration order the pipeline
// runner schedules tasks in.
func (s *Store) ListChaptersByProject(projectID int64) ([]model.Chapter, error) {
	rows, err := s.db.Query(
		`SELECT c.id, c.volume_id, c.title, c.ordinal, c.content, c.summary, c.detail_outline, c.detail_outline_raw,
		        c.word_count, c.key_events, c.characters_involved, c.quality_report
		 FROM chapters c
		 JOIN volumes v ON v.id = c.volume_id
		 WHERE v.project_id = ?
		 ORDER BY v.ordinal, c.ordinal`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list chapters by project: %w", err)
	}
	defer rows.Close()

	var out []model.Chapter
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan chapter: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchChaptersBySubstring is the named query
// search_chapters_by_substring(project, q): case-sensitive-as-stored
// substring match over chapter content within a project.
func (s *Store) SearchChaptersBySubstring(projectID int64, q string) ([]model.Chapter, error) {
	rows, err := s.db.Query(
		`SELECT c.id, c.volume_id, c.title, c.ordinal, c.content, c.summary, c.detail_outline, c.detail_outline_raw,
		        c.word_count, c.key_events, c.characters_involved, c.quality_report
		 FROM chapters c
		 JOIN volumes v ON v.id = c.volume_id
		 WHERE v.project_id = ? AND instr(c.content, ?) > 0
		 ORDER BY v.ordinal, c.ordinal`,
		projectID, q,
	)
	if err != nil {
		return nil, fmt.Errorf("store: search chapters: %w", err)
	}
	defer rows.Close()

	var out []model.Chapter
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan chapter: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateChapterBody overwrites content, recomputes word_count, and
// invalidates the cached summary unless reuseSummary is set (invariants
// 7 and 8).
func (s *Store) UpdateChapterBody(id int64, body string, reuseSummary bool) error {
	c := model.Chapter{Content: body}
	c.SetContent(body, reuseSummary)

	if reuseSummary {
		_, err := s.db.Exec(`UPDATE chapters SET content = ?, word_count = ? WHERE id = ?`, c.Content, c.WordCount, id)
		if err != nil {
			return fmt.Errorf("store: update chapter body: %w", err)
		}
		return nil
	}
	_, err := s.db.Exec(`UPDATE chapters SET content = ?, word_count = ?, summary = NULL WHERE id = ?`, c.Content, c.WordCount, id)
	if err != nil {
		return fmt.Errorf("store: update chapter body: %w", err)
	}
	return nil
}

// UpdateChapterSummary persists a newly computed or cached summary.
func (s *Store) UpdateChapterSummary(id int64, summary string) error {
	_, err := s.db.Exec(`UPDATE chapters SET summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return fmt.Errorf("store: update chapter summary: %w", err)
	}
	return nil
}

// UpdateChapterDetailOutline persists the parsed stage-4 JSON.
func (s *Store) UpdateChapterDetailOutline(id int64, detailOutline string) error {
	_, err := s.db.Exec(`UPDATE chapters SET detail_outline = ?, detail_outline_raw = NULL WHERE id = ?`, detailOutline, id)
	if err != nil {
		return fmt.Errorf("store: update detail outline: %w", err)
	}
	return nil
}

// UpdateChapterDetailOutlineRaw persists the raw stage-4 reply on parse failure.
func (s *Store) UpdateChapterDetailOutlineRaw(id int64, raw string) error {
	_, err := s.db.Exec(`UPDATE chapters SET detail_outline_raw = ? WHERE id = ?`, raw, id)
	if err != nil {
		return fmt.Errorf("store: update detail outline raw: %w", err)
	}
	return nil
}

// UpdateChapterQualityReport persists the stage-6 structured output.
func (s *Store) UpdateChapterQualityReport(id int64, report model.QualityReport) error {
	blob, err := marshalJSON(report)
	if err != nil {
		return fmt.Errorf("store: marshal quality report: %w", err)
	}
	_, err = s.db.Exec(`UPDATE chapters SET quality_report = ? WHERE id = ?`, blob, id)
	if err != nil {
		return fmt.Errorf("store: update quality report: %w", err)
	}
	return nil
}

// GetProjectIDForChapter resolves a chapter's owning project, walking the
// chapter -> volume -> project reference chain (invariant 1).
func (s *Store) GetProjectIDForChapter(chapterID int64) (int64, error) {
	var projectID int64
	err := s.db.QueryRow(
		`SELECT v.project_id FROM chapters c JOIN volumes v ON v.id = c.volume_id WHERE c.id = ?`,
		chapterID,
	).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, engerr.NotFound(fmt.Sprintf("chapter %d not found", chapterID))
	}
	if err != nil {
		return 0, fmt.Errorf("store: resolve chapter project: %w", err)
	}
	return projectID, nil
}

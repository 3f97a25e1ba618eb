// Package store provides SQLite-backed persistence for the narrative
// engine: projects, volumes, chapters, characters, world items, plot
// arcs, and style profiles.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps one *sql.DB. Multiple Store values may share the same
// underlying database file — each pipeline worker opens its own Store so
// that no two goroutines share a *sql.Tx or a scanned row struct.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL UNIQUE,
	author TEXT NOT NULL DEFAULT '',
	genre TEXT NOT NULL DEFAULT '',
	plot_tags TEXT NOT NULL DEFAULT '[]',
	description TEXT NOT NULL DEFAULT '',
	planning_text TEXT NOT NULL DEFAULT '',
	world_building_raw TEXT NOT NULL DEFAULT '',
	outline_raw TEXT NOT NULL DEFAULT '',
	stage TEXT NOT NULL DEFAULT 'created',
	current_step INTEGER NOT NULL DEFAULT 0,
	spoiler_global_config TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS volumes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	title TEXT NOT NULL DEFAULT '',
	ordinal INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	config TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_volumes_project ON volumes(project_id, ordinal);

CREATE TABLE IF NOT EXISTS chapters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	volume_id INTEGER NOT NULL REFERENCES volumes(id) ON DELETE CASCADE,
	title TEXT NOT NULL DEFAULT '',
	ordinal INTEGER NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	summary TEXT,
	detail_outline TEXT,
	detail_outline_raw TEXT,
	word_count INTEGER NOT NULL DEFAULT 0,
	key_events TEXT NOT NULL DEFAULT '[]',
	characters_involved TEXT NOT NULL DEFAULT '[]',
	quality_report TEXT
);
CREATE INDEX IF NOT EXISTS idx_chapters_volume ON chapters(volume_id, ordinal);

CREATE TABLE IF NOT EXISTS characters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	archetype TEXT NOT NULL DEFAULT '',
	background TEXT NOT NULL DEFAULT '',
	personality_traits TEXT NOT NULL DEFAULT '{}',
	relationships TEXT NOT NULL DEFAULT '{}',
	memories TEXT NOT NULL DEFAULT '[]',
	lorebook_keywords TEXT NOT NULL DEFAULT '[]',
	current_mood TEXT NOT NULL DEFAULT '',
	current_status TEXT NOT NULL DEFAULT '',
	goals TEXT NOT NULL DEFAULT '[]',
	catchphrases TEXT NOT NULL DEFAULT '[]',
	UNIQUE(project_id, name)
);

CREATE TABLE IF NOT EXISTS world_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	properties TEXT NOT NULL DEFAULT '{}',
	lorebook_keywords TEXT NOT NULL DEFAULT '[]',
	UNIQUE(project_id, name)
);

CREATE TABLE IF NOT EXISTS plot_arcs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'planted',
	planted_chapter INTEGER,
	resolved_chapter INTEGER,
	related_characters TEXT NOT NULL DEFAULT '[]',
	related_keywords TEXT NOT NULL DEFAULT '[]',
	importance TEXT NOT NULL DEFAULT 'medium',
	embedding TEXT,
	notes TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_plot_arcs_project ON plot_arcs(project_id, status);

CREATE TABLE IF NOT EXISTS style_profiles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL DEFAULT '',
	source_text TEXT NOT NULL DEFAULT '',
	features TEXT NOT NULL DEFAULT '{}',
	style_guide TEXT NOT NULL DEFAULT '',
	is_active INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_style_profiles_project ON style_profiles(project_id, is_active);
`

// Open creates or opens a SQLite database at path and ensures the schema
// exists, applying additive migrations for legacy stores. A migration
// failure is fatal — downstream code assumes the resulting columns exist.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenShared wraps an already-open *sql.DB, used by pipeline workers that
// want their own *Store handle over the same database connection pool.
func OpenShared(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for callers that need raw queries
// (e.g. search_chapters_by_substring).
func (s *Store) DB() *sql.DB { return s.db }

// ensureColumn adds column to table via ddl if it does not already exist.
// This is the additive-only migration primitive: schemas evolve by column
// addition, never rename or drop.
func ensureColumn(db *sql.DB, table, column, ddl string) error {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("check %s.%s column: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("add %s.%s column: %w", table, column, err)
	}
	return nil
}

// migrate applies the fixed, ordered list of additive column additions
// for databases created by older versions of this schema.
func migrate(db *sql.DB) error {
	additions := []struct{ table, column, ddl string }{
		{"chapters", "detail_outline_raw", `ALTER TABLE chapters ADD COLUMN detail_outline_raw TEXT`},
		{"chapters", "quality_report", `ALTER TABLE chapters ADD COLUMN quality_report TEXT`},
		{"projects", "spoiler_global_config", `ALTER TABLE projects ADD COLUMN spoiler_global_config TEXT NOT NULL DEFAULT ''`},
		{"plot_arcs", "embedding", `ALTER TABLE plot_arcs ADD COLUMN embedding TEXT`},
		{"plot_arcs", "notes", `ALTER TABLE plot_arcs ADD COLUMN notes TEXT NOT NULL DEFAULT ''`},
	}
	for _, a := range additions {
		if err := ensureColumn(db, a.table, a.column, a.ddl); err != nil {
			return err
		}
	}
	return nil
}

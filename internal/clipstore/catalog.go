package clipstore

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// CatalogFile is the database kept next to the clips.
const CatalogFile = "catalog.db"

// Catalog indexes saved clips so listings do not have to open every file.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens or creates the catalog in dir.
func OpenCatalog(dir string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", filepath.Join(dir, CatalogFile)+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	c := &Catalog{db: db}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return c, nil
}

func (c *Catalog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clips (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		frame_count INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		fps INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL,
		save_id TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_clips_created ON clips(created_at);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Record inserts or replaces the entry for info.ID.
func (c *Catalog) Record(info Info) error {
	_, err := c.db.Exec(`
		INSERT OR REPLACE INTO clips
			(id, path, frame_count, width, height, fps, duration_ms, size_bytes, save_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.Path, info.FrameCount, info.Width, info.Height, info.FPS,
		info.Duration.Milliseconds(), info.SizeBytes, info.SaveID, info.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record clip %s: %w", info.ID, err)
	}
	return nil
}

// Lookup returns the entry for id; ok is false when it is not catalogued.
func (c *Catalog) Lookup(id string) (Info, bool, error) {
	row := c.db.QueryRow(`
		SELECT id, path, frame_count, width, height, fps, duration_ms, size_bytes, COALESCE(save_id, ''), created_at
		FROM clips WHERE id = ?`, id)
	info, err := scanInfo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Info{}, false, nil
	}
	if err != nil {
		return Info{}, false, fmt.Errorf("failed to look up clip %s: %w", id, err)
	}
	return info, true, nil
}

// All returns every entry keyed by id.
func (c *Catalog) All() (map[string]Info, error) {
	rows, err := c.db.Query(`
		SELECT id, path, frame_count, width, height, fps, duration_ms, size_bytes, COALESCE(save_id, ''), created_at
		FROM clips`)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Info)
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, err
		}
		out[info.ID] = info
	}
	return out, rows.Err()
}

// Remove deletes the entry for id. Missing entries are not an error.
func (c *Catalog) Remove(id string) error {
	if _, err := c.db.Exec(`DELETE FROM clips WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove clip %s: %w", id, err)
	}
	return nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInfo(s scanner) (Info, error) {
	var (
		info       Info
		durationMS int64
		createdAt  time.Time
	)
	err := s.Scan(&info.ID, &info.Path, &info.FrameCount, &info.Width, &info.Height, &info.FPS,
		&durationMS, &info.SizeBytes, &info.SaveID, &createdAt)
	if err != nil {
		return Info{}, err
	}
	info.Duration = time.Duration(durationMS) * time.Millisecond
	info.CreatedAt = createdAt.Local()
	return info, nil
}

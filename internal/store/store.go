package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"deployhook/internal/app"
	"deployhook/internal/security"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Update when no app matches and upsert is false.
var ErrNotFound = errors.New("app not found")

// Query selects apps. The zero Query matches every app.
type Query struct {
	Name string
}

// Store persists application configs in SQLite, in configuration order.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the configuration store at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := os.Stat(dbPath); err == nil {
			if err := security.FixFilePermissions(dbPath, security.PermDBFile); err != nil {
				db.Close()
				return nil, err
			}
		}
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS apps (
			name TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			config TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_apps_position ON apps(position)`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// Find returns the apps matching q in configuration order.
func (s *Store) Find(ctx context.Context, q Query) ([]app.Config, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if q.Name == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT config FROM apps ORDER BY position, name`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT config FROM apps WHERE name = ?`, q.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query apps: %w", err)
	}
	defer rows.Close()

	var apps []app.Config
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan app config: %w", err)
		}
		apps = append(apps, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return apps, nil
}

// Update replaces the config of the app selected by q wholesale. When no
// app matches, upsert appends cfg at the end of the configuration order,
// otherwise ErrNotFound is returned.
func (s *Store) Update(ctx context.Context, q Query, cfg app.Config, upsert bool) error {
	name := q.Name
	if name == "" {
		name = cfg.Name
	}
	if cfg.Name != name {
		return fmt.Errorf("cannot rename app '%s' to '%s'", name, cfg.Name)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode app config: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE apps SET config = ?, updated_at = ? WHERE name = ?`, string(data), now, name)
	if err != nil {
		return fmt.Errorf("failed to update app config: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		if !upsert {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO apps (name, position, config, updated_at)
			VALUES (?, (SELECT COALESCE(MAX(position), -1) + 1 FROM apps), ?, ?)
		`, name, string(data), now)
		if err != nil {
			return fmt.Errorf("failed to insert app config: %w", err)
		}
	}

	return tx.Commit()
}

// ReplaceAll swaps the whole stored configuration for apps, keeping their order.
func (s *Store) ReplaceAll(ctx context.Context, apps []app.Config) error {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM apps`); err != nil {
		return fmt.Errorf("failed to clear apps: %w", err)
	}

	for i, cfg := range apps {
		data, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode app config '%s': %w", cfg.Name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO apps (name, position, config, updated_at) VALUES (?, ?, ?, ?)
		`, cfg.Name, i, string(data), now)
		if err != nil {
			return fmt.Errorf("failed to insert app config '%s': %w", cfg.Name, err)
		}
	}

	return tx.Commit()
}

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanConfig(s scanner) (app.Config, error) {
	var raw string
	if err := s.Scan(&raw); err != nil {
		return app.Config{}, err
	}

	var cfg app.Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return app.Config{}, fmt.Errorf("failed to decode app config: %w", err)
	}
	return cfg, nil
}

package properties

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/knadh/koanf/providers/confmap"
)

const propertySchema = `
CREATE TABLE IF NOT EXISTS properties (
    key   TEXT NOT NULL PRIMARY KEY,
    value TEXT NOT NULL
);
`

var (
	ErrNoDatabase = errors.New("properties: no database configured")
	ErrInvalidKey = errors.New("properties: invalid key")
	ErrNotFound   = errors.New("properties: key not found")
)

// SetupSchema creates the table holding property overrides.
func SetupSchema(db *sql.DB) error {
	if _, err := db.Exec(propertySchema); err != nil {
		return err
	}
	return nil
}

// Set stores an override in the database and reloads the environment.
func (e *Environment) Set(ctx context.Context, key, value string) error {
	if e.db == nil {
		return ErrNoDatabase
	}
	if !validKey(key) {
		return ErrInvalidKey
	}
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO properties (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to store property %s: %w", key, err)
	}
	return e.Reload()
}

// Delete removes an override from the database and reloads the environment.
func (e *Environment) Delete(ctx context.Context, key string) error {
	if e.db == nil {
		return ErrNoDatabase
	}
	res, err := e.db.ExecContext(ctx, `DELETE FROM properties WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete property %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return e.Reload()
}

// Overrides returns the properties stored in the database.
func (e *Environment) Overrides(ctx context.Context) (map[string]string, error) {
	if e.db == nil {
		return map[string]string{}, nil
	}
	return readOverrides(ctx, e.db)
}

func readOverrides(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM properties ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err = rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

// dbProvider is a koanf.Provider over the properties table. Keys are kept flat.
type dbProvider struct {
	db *sql.DB
}

func (p *dbProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (p *dbProvider) Read() (map[string]interface{}, error) {
	overrides, err := readOverrides(context.Background(), p.db)
	if err != nil {
		return nil, err
	}
	flat := make(map[string]interface{}, len(overrides))
	for key, value := range overrides {
		flat[key] = value
	}
	return confmap.Provider(flat, "").Read()
}

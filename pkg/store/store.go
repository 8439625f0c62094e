// Package store persists OpenAPI specification documents in Postgres so
// the bridge can load them with a db:<name> source and specctl can manage
// them without touching the serving process.
package store

import (
	"context"
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/tradebridge/openapi-mcp/pkg/server"
)

// SpecRecord is one stored specification document.
type SpecRecord struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Title     string    `json:"title"`
	Version   string    `json:"version"`
	Content   string    `json:"content"`
	Format    string    `json:"format"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS api_specs (
	id SERIAL PRIMARY KEY,
	name VARCHAR(255) UNIQUE NOT NULL,
	title VARCHAR(255) NOT NULL DEFAULT '',
	version VARCHAR(100) NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	format VARCHAR(10) NOT NULL DEFAULT 'json',
	active BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMP NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_api_specs_active ON api_specs(active);
`

// Connect opens the database, verifies connectivity, and applies the
// schema migration.
func Connect(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeDatabase, "failed to open database")
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, server.Wrap(err, server.ErrorTypeDatabase, "failed to connect to database")
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, server.Wrap(err, server.ErrorTypeDatabase, "failed to apply database schema")
	}

	log.Printf("Connected to specification database")
	return db, nil
}

// Repository provides CRUD access to stored specifications.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps an open database handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = "id, name, title, version, content, format, active, created_at, updated_at"

// Create inserts a new specification record. The name must be unique.
func (r *Repository) Create(ctx context.Context, rec *SpecRecord) error {
	query := `
		INSERT INTO api_specs (name, title, version, content, format, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		rec.Name, rec.Title, rec.Version, rec.Content, rec.Format, rec.Active,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return server.Wrap(err, server.ErrorTypeDatabase, "failed to store specification")
	}
	return nil
}

// GetAll returns every stored specification, newest first, without the
// document content.
func (r *Repository) GetAll(ctx context.Context) ([]SpecRecord, error) {
	query := `
		SELECT id, name, title, version, '', format, active, created_at, updated_at
		FROM api_specs ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeDatabase, "failed to list specifications")
	}
	defer rows.Close()

	var records []SpecRecord
	for rows.Next() {
		var rec SpecRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Title, &rec.Version,
			&rec.Content, &rec.Format, &rec.Active, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, server.Wrap(err, server.ErrorTypeDatabase, "failed to scan specification row")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, server.Wrap(err, server.ErrorTypeDatabase, "failed to list specifications")
	}
	return records, nil
}

// GetByName returns the named specification including its content.
func (r *Repository) GetByName(ctx context.Context, name string) (*SpecRecord, error) {
	query := "SELECT " + recordColumns + " FROM api_specs WHERE name = $1"
	return r.queryOne(ctx, query, name)
}

// GetActive returns the single active specification, if any.
func (r *Repository) GetActive(ctx context.Context) (*SpecRecord, error) {
	query := "SELECT " + recordColumns + " FROM api_specs WHERE active = true LIMIT 1"
	return r.queryOne(ctx, query)
}

func (r *Repository) queryOne(ctx context.Context, query string, args ...any) (*SpecRecord, error) {
	var rec SpecRecord
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&rec.ID, &rec.Name, &rec.Title, &rec.Version, &rec.Content,
		&rec.Format, &rec.Active, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, server.NewError(server.ErrorTypeDatabase, "specification not found", "")
	}
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeDatabase, "failed to load specification")
	}
	return &rec, nil
}

// SetActive marks the named specification active and deactivates all
// others in one transaction.
func (r *Repository) SetActive(ctx context.Context, name string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return server.Wrap(err, server.ErrorTypeDatabase, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE api_specs SET active = false, updated_at = NOW() WHERE active = true"); err != nil {
		return server.Wrap(err, server.ErrorTypeDatabase, "failed to deactivate specifications")
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE api_specs SET active = true, updated_at = NOW() WHERE name = $1", name)
	if err != nil {
		return server.Wrap(err, server.ErrorTypeDatabase, "failed to activate specification")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return server.Wrap(err, server.ErrorTypeDatabase, "failed to activate specification")
	}
	if affected == 0 {
		return server.NewError(server.ErrorTypeDatabase, "specification not found", name)
	}

	if err := tx.Commit(); err != nil {
		return server.Wrap(err, server.ErrorTypeDatabase, "failed to commit activation")
	}
	return nil
}

// SetInactive clears the active flag on the named specification.
func (r *Repository) SetInactive(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE api_specs SET active = false, updated_at = NOW() WHERE name = $1", name)
	if err != nil {
		return server.Wrap(err, server.ErrorTypeDatabase, "failed to deactivate specification")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return server.Wrap(err, server.ErrorTypeDatabase, "failed to deactivate specification")
	}
	if affected == 0 {
		return server.NewError(server.ErrorTypeDatabase, "specification not found", name)
	}
	return nil
}

// Delete removes the named specification.
func (r *Repository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM api_specs WHERE name = $1", name)
	if err != nil {
		return server.Wrap(err, server.ErrorTypeDatabase, "failed to delete specification")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return server.Wrap(err, server.ErrorTypeDatabase, "failed to delete specification")
	}
	if affected == 0 {
		return server.NewError(server.ErrorTypeDatabase, "specification not found", name)
	}
	return nil
}

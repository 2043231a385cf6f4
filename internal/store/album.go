package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Album is a named collection of photos.
type Album struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// AlbumRepository provides operations on albums.
type AlbumRepository struct {
	db *sql.DB
}

// Albums returns the album repository for this store.
func (s *Store) Albums() *AlbumRepository {
	return &AlbumRepository{db: s.db}
}

// GetOrCreate returns the album with the given name, creating it first if
// it does not exist.
func (r *AlbumRepository) GetOrCreate(name string) (*Album, error) {
	_, err := r.db.Exec(
		`INSERT INTO albums (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		uuid.NewString(), name, time.Now(),
	)
	if err != nil {
		return nil, err
	}
	return r.GetByName(name)
}

// GetByName retrieves an album by its name.
func (r *AlbumRepository) GetByName(name string) (*Album, error) {
	a := &Album{}
	err := r.db.QueryRow(
		`SELECT id, name, created_at FROM albums WHERE name = ?`,
		name,
	).Scan(&a.ID, &a.Name, &a.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// List retrieves all albums ordered by name.
func (r *AlbumRepository) List() ([]*Album, error) {
	rows, err := r.db.Query(`SELECT id, name, created_at FROM albums ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var albums []*Album
	for rows.Next() {
		a := &Album{}
		if err := rows.Scan(&a.ID, &a.Name, &a.CreatedAt); err != nil {
			return nil, err
		}
		albums = append(albums, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return albums, nil
}

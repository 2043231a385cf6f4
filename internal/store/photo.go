package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Photo is a saved frame.
type Photo struct {
	ID         string
	AlbumID    string
	Path       string
	VerdictKey string
	SizeBytes  int64
	CreatedAt  time.Time
}

// PhotoRepository provides operations on photos.
type PhotoRepository struct {
	db *sql.DB
}

// Photos returns the photo repository for this store.
func (s *Store) Photos() *PhotoRepository {
	return &PhotoRepository{db: s.db}
}

// Create inserts a photo. An empty ID is replaced with a fresh UUID.
func (r *PhotoRepository) Create(p *Photo) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now()

	_, err := r.db.Exec(
		`INSERT INTO photos (id, album_id, path, verdict_key, size_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.AlbumID, p.Path, p.VerdictKey, p.SizeBytes, p.CreatedAt,
	)
	return err
}

// ListByAlbum retrieves the photos of an album, newest first.
func (r *PhotoRepository) ListByAlbum(albumID string) ([]*Photo, error) {
	rows, err := r.db.Query(
		`SELECT id, album_id, path, verdict_key, size_bytes, created_at
		 FROM photos WHERE album_id = ? ORDER BY created_at DESC, id`,
		albumID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []*Photo
	for rows.Next() {
		p := &Photo{}
		if err := rows.Scan(&p.ID, &p.AlbumID, &p.Path, &p.VerdictKey, &p.SizeBytes, &p.CreatedAt); err != nil {
			return nil, err
		}
		photos = append(photos, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return photos, nil
}

// CountByAlbum returns the number of photos in an album.
func (r *PhotoRepository) CountByAlbum(albumID string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM photos WHERE album_id = ?`, albumID).Scan(&n)
	return n, err
}

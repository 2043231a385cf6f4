package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Albums table - named collections of saved photos
		`CREATE TABLE IF NOT EXISTS albums (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Photos table - frames saved after a positive verdict
		`CREATE TABLE IF NOT EXISTS photos (
			id TEXT PRIMARY KEY,
			album_id TEXT NOT NULL REFERENCES albums(id) ON DELETE CASCADE,
			path TEXT NOT NULL,
			verdict_key TEXT NOT NULL,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_photos_album_id ON photos(album_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}

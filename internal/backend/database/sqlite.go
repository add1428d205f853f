package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteDatabase struct {
	db               *sql.DB
	connectionString string
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}
	// Every pooled connection to ":memory:" would open its own empty database.
	db.SetMaxOpenConns(1)

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
	}, nil
}

func (s *SQLiteDatabase) CreateDatabase() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS image_slot (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		content_type TEXT NOT NULL,
		stored_at INTEGER NOT NULL
	)`)
	return err
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist() bool {
	// In SQLite, the database file is created when you connect to it.
	// So we can assume it exists if we can successfully ping the database.
	err := s.db.Ping()
	return err == nil
}

func (s *SQLiteDatabase) ReplaceImage(image *Image) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // no-op after a successful commit
	}()

	if _, err := tx.Exec("DELETE FROM image_slot"); err != nil {
		return fmt.Errorf("failed to clear image slot: %w", err)
	}
	_, err = tx.Exec("INSERT INTO image_slot (id, data, content_type, stored_at) VALUES (?, ?, ?, ?)",
		image.ID, image.Data, image.ContentType, image.StoredAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert image: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteDatabase) GetImage() (*Image, error) {
	row := s.db.QueryRow("SELECT id, data, content_type, stored_at FROM image_slot ORDER BY stored_at DESC LIMIT 1")

	var img Image
	var storedAt int64
	if err := row.Scan(&img.ID, &img.Data, &img.ContentType, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	img.StoredAt = time.Unix(0, storedAt)
	return &img, nil
}

func (s *SQLiteDatabase) DeleteImage() error {
	_, err := s.db.Exec("DELETE FROM image_slot")
	return err
}

// Package history keeps a local SQLite log of the events seen on each
// appliance and of the recordings uploaded to it. The appliance only reports
// its latest detections, so this is the only place older ones survive.
package history

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/moka-remote/mokactl/internal/domain"
	"github.com/moka-remote/mokactl/internal/errors"
	"github.com/moka-remote/mokactl/internal/interfaces"
	"github.com/moka-remote/mokactl/internal/logging"
)

const dbFileName = "history.db"

// Store implements interfaces.HistoryStore.
type Store struct {
	db     *sql.DB
	path   string
	logger *logging.Logger
}

var _ interfaces.HistoryStore = (*Store)(nil)

// DefaultPath returns $XDG_DATA_HOME/mokactl/history.db, falling back to
// ~/.local/share.
func DefaultPath() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "mokactl", dbFileName), nil
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.FileIO("open_history", path, err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.FileIO("open_history", path, err)
	}

	store := &Store{db: db, path: path, logger: logging.GetHistoryLogger()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.FileIO("migrate_history", path, err)
	}

	store.logger.Debug("History opened", "path", path)
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		profile TEXT NOT NULL,
		event_time TEXT NOT NULL,
		status TEXT NOT NULL,
		voice TEXT NOT NULL,
		first_seen TIMESTAMP NOT NULL,
		UNIQUE (profile, event_time, status, voice)
	);

	CREATE INDEX IF NOT EXISTS idx_events_profile ON events(profile);

	CREATE TABLE IF NOT EXISTS uploads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		profile TEXT NOT NULL,
		voice TEXT NOT NULL,
		file_name TEXT NOT NULL,
		size INTEGER NOT NULL,
		digest TEXT NOT NULL,
		uploaded_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_uploads_digest ON uploads(profile, digest);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordEvents inserts the events not already stored for profile and returns
// how many were new. Events are identified by their three fields.
func (s *Store) RecordEvents(profile string, events domain.EventList) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO events (profile, event_time, status, voice, first_seen) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	added := 0
	for _, e := range events {
		result, err := stmt.Exec(profile, e.Timestamp, e.Status, e.Voice, now)
		if err != nil {
			return 0, fmt.Errorf("failed to store event %s: %w", e.Timestamp, err)
		}
		n, _ := result.RowsAffected()
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if added > 0 {
		s.logger.Debug("Stored events", "profile", profile, "new", added)
	}
	return added, nil
}

// ListEvents returns up to limit events for profile, newest first. A
// non-positive limit returns all of them.
func (s *Store) ListEvents(profile string, limit int) ([]interfaces.StoredEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, profile, event_time, status, voice, first_seen
		 FROM events WHERE profile = ? ORDER BY id DESC LIMIT ?`,
		profile, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []interfaces.StoredEvent
	for rows.Next() {
		var e interfaces.StoredEvent
		if err := rows.Scan(&e.ID, &e.Profile, &e.Event.Timestamp, &e.Event.Status, &e.Event.Voice, &e.FirstSeen); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecordUpload stores an upload. A zero UploadedAt is set to now.
func (s *Store) RecordUpload(upload interfaces.StoredUpload) (int64, error) {
	if upload.UploadedAt.IsZero() {
		upload.UploadedAt = time.Now()
	}
	result, err := s.db.Exec(
		`INSERT INTO uploads (profile, voice, file_name, size, digest, uploaded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		upload.Profile, upload.Voice, upload.FileName, upload.Size, upload.Digest, upload.UploadedAt.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ListUploads returns up to limit uploads for profile, newest first.
func (s *Store) ListUploads(profile string, limit int) ([]interfaces.StoredUpload, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, profile, voice, file_name, size, digest, uploaded_at
		 FROM uploads WHERE profile = ? ORDER BY id DESC LIMIT ?`,
		profile, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []interfaces.StoredUpload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, *u)
	}
	return uploads, rows.Err()
}

// FindUploadByDigest returns the latest upload of the same content to
// profile, or nil when there is none.
func (s *Store) FindUploadByDigest(profile, digest string) (*interfaces.StoredUpload, error) {
	row := s.db.QueryRow(
		`SELECT id, profile, voice, file_name, size, digest, uploaded_at
		 FROM uploads WHERE profile = ? AND digest = ? ORDER BY id DESC LIMIT 1`,
		profile, digest,
	)
	u, err := scanUpload(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(row scanner) (*interfaces.StoredUpload, error) {
	var u interfaces.StoredUpload
	if err := row.Scan(&u.ID, &u.Profile, &u.Voice, &u.FileName, &u.Size, &u.Digest, &u.UploadedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

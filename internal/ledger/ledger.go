// package ledger persists which items have already been downloaded and
// which ones terminally failed, so the same item is never re-fetched.
package ledger

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nathom/streamrip-sub000/internal/shared"
)

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS failed_downloads (
	source TEXT NOT NULL,
	media_type TEXT NOT NULL,
	id TEXT NOT NULL,
	UNIQUE(source, media_type, id)
);
`

// Store is the dedup/failure ledger shared by all concurrently running
// items. Inserts are idempotent; membership is a point lookup.
type Store interface {
	// Downloaded reports whether the item id is recorded as completed.
	Downloaded(id string) (bool, error)
	// SetDownloaded records a completed download. Duplicate inserts are
	// ignored.
	SetDownloaded(id string) error
	// SetFailed records a terminally failed item.
	SetFailed(source, mediaType, id string) error
	// AllFailed returns every recorded failure tuple.
	AllFailed() ([]shared.FailedItem, error)
	Close() error
}

// Open returns a sqlite-backed Store at the given path, creating the
// tables if needed. An empty path yields a no-op store.
func Open(path string) (Store, error) {
	if path == "" {
		return Dummy{}, nil
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger tables: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

type sqliteStore struct {
	db *sql.DB
}

func (s *sqliteStore) Downloaded(id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM downloads WHERE id = ?)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ledger lookup failed: %w", err)
	}
	return exists, nil
}

func (s *sqliteStore) SetDownloaded(id string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO downloads (id) VALUES (?)`, id)
	if err != nil {
		return fmt.Errorf("ledger insert failed: %w", err)
	}
	return nil
}

func (s *sqliteStore) SetFailed(source, mediaType, id string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO failed_downloads (source, media_type, id) VALUES (?, ?, ?)`,
		source, mediaType, id,
	)
	if err != nil {
		return fmt.Errorf("ledger insert failed: %w", err)
	}
	return nil
}

func (s *sqliteStore) AllFailed() ([]shared.FailedItem, error) {
	rows, err := s.db.Query(`SELECT source, media_type, id FROM failed_downloads`)
	if err != nil {
		return nil, fmt.Errorf("ledger query failed: %w", err)
	}
	defer rows.Close()

	var items []shared.FailedItem
	for rows.Next() {
		var f shared.FailedItem
		if err := rows.Scan(&f.Source, &f.MediaType, &f.ID); err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// Dummy is the store used when the ledger is disabled in configuration.
// It reports no membership and accepts all inserts silently.
type Dummy struct{}

func (Dummy) Downloaded(string) (bool, error)         { return false, nil }
func (Dummy) SetDownloaded(string) error              { return nil }
func (Dummy) SetFailed(string, string, string) error  { return nil }
func (Dummy) AllFailed() ([]shared.FailedItem, error) { return nil, nil }
func (Dummy) Close() error                            { return nil }

// FromConfig builds the two-table ledger described by the database config
// section. Disabled tables map to Dummy stores.
func FromConfig(c *shared.DatabaseConfig) (downloads, failed Store, err error) {
	downloads = Dummy{}
	failed = Dummy{}
	if c.DownloadsEnabled {
		downloads, err = Open(c.DownloadsPath)
		if err != nil {
			return nil, nil, err
		}
	}
	if c.FailedEnabled {
		if c.FailedPath == c.DownloadsPath && c.DownloadsEnabled {
			// Both tables live in the same file; reuse the connection.
			failed = downloads
		} else {
			failed, err = Open(c.FailedPath)
			if err != nil {
				return nil, nil, err
			}
		}
	}
	return downloads, failed, nil
}

// Ledger bundles the completed and failed stores behind the operations the
// pipeline actually uses.
type Ledger struct {
	Downloads Store
	Failures  Store
}

// New builds a Ledger from the database config section.
func New(c *shared.DatabaseConfig) (*Ledger, error) {
	d, f, err := FromConfig(c)
	if err != nil {
		return nil, err
	}
	return &Ledger{Downloads: d, Failures: f}, nil
}

// Downloaded reports whether id is recorded as completed.
func (l *Ledger) Downloaded(id string) bool {
	ok, err := l.Downloads.Downloaded(id)
	if err != nil {
		return false
	}
	return ok
}

// SetDownloaded records a completed item, ignoring duplicates.
func (l *Ledger) SetDownloaded(id string) {
	_ = l.Downloads.SetDownloaded(id)
}

// SetFailed records a failure tuple, ignoring duplicates.
func (l *Ledger) SetFailed(source, mediaType, id string) {
	_ = l.Failures.SetFailed(source, mediaType, id)
}

// AllFailed lists every recorded failure tuple.
func (l *Ledger) AllFailed() []shared.FailedItem {
	items, err := l.Failures.AllFailed()
	if err != nil {
		return nil
	}
	return items
}

// Close closes both stores.
func (l *Ledger) Close() {
	_ = l.Downloads.Close()
	if l.Failures != l.Downloads {
		_ = l.Failures.Close()
	}
}

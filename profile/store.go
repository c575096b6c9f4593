package profile

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrSnapshotNotFound indicates the requested snapshot doesn't exist.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Store keeps a history of snapshots in SQLite. Each snapshot is stored
// whole as CBOR plus one row per site for aggregation.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// SiteTotal aggregates one site across every recorded snapshot.
type SiteTotal struct {
	Source    string
	Snapshots int
	Hits      uint64
	Misses    uint64
	Rebinds   uint64
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL,
		taken INTEGER NOT NULL,
		data BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sites (
		snapshot INTEGER NOT NULL REFERENCES snapshots(id),
		source TEXT NOT NULL,
		kind TEXT NOT NULL,
		hits INTEGER NOT NULL,
		misses INTEGER NOT NULL,
		rebinds INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sites_source ON sites (source)`,
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	for _, ddl := range schema {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating tables: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record persists snap and returns its id.
func (s *Store) Record(snap *Snapshot) (int64, error) {
	data, err := Marshal(snap)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("INSERT INTO snapshots (label, taken, data) VALUES (?, ?, ?)",
		snap.Label, snap.Taken, data)
	if err != nil {
		return 0, fmt.Errorf("saving snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, st := range snap.Sites {
		_, err := tx.Exec(
			"INSERT INTO sites (snapshot, source, kind, hits, misses, rebinds) VALUES (?, ?, ?, ?, ?, ?)",
			id, st.Source, st.Kind, int64(st.Hits), int64(st.Misses), int64(st.Rebinds),
		)
		if err != nil {
			return 0, fmt.Errorf("saving site %s: %w", st.Source, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing snapshot: %w", err)
	}
	return id, nil
}

// Load retrieves a recorded snapshot.
func (s *Store) Load(id int64) (*Snapshot, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM snapshots WHERE id = ?", id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	return Unmarshal(data)
}

// Labels returns snapshot ids and labels, oldest first.
func (s *Store) Labels() (ids []int64, labels []string, err error) {
	rows, err := s.db.Query("SELECT id, label FROM snapshots ORDER BY id")
	if err != nil {
		return nil, nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var label string
		if err := rows.Scan(&id, &label); err != nil {
			return nil, nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		ids = append(ids, id)
		labels = append(labels, label)
	}
	return ids, labels, rows.Err()
}

// Totals aggregates hits, misses and rebinds per site source, ordered by
// source.
func (s *Store) Totals() ([]SiteTotal, error) {
	rows, err := s.db.Query(`SELECT source, COUNT(DISTINCT snapshot), SUM(hits), SUM(misses), SUM(rebinds)
		FROM sites GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("querying totals: %w", err)
	}
	defer rows.Close()

	var out []SiteTotal
	for rows.Next() {
		var t SiteTotal
		var hits, misses, rebinds int64
		if err := rows.Scan(&t.Source, &t.Snapshots, &hits, &misses, &rebinds); err != nil {
			return nil, fmt.Errorf("scanning totals: %w", err)
		}
		t.Hits, t.Misses, t.Rebinds = uint64(hits), uint64(misses), uint64(rebinds)
		out = append(out, t)
	}
	return out, rows.Err()
}

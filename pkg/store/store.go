// Package store keeps decompilation results in a SQLite database so repeated
// runs can skip methods whose bytecode has not changed.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"github.com/zeebo/xxh3"
	_ "modernc.org/sqlite"

	"github.com/chazu/unstack/pkg/bytecode"
	"github.com/chazu/unstack/pkg/decompile"
	"github.com/chazu/unstack/pkg/wire"
)

// ErrNotFound indicates no successful result is stored for a method.
var ErrNotFound = errors.New("result not found")

// ErrUnknownRun indicates a run id that BeginRun did not return.
var ErrUnknownRun = errors.New("unknown run")

var log = commonlog.GetLogger("unstack.store")

const (
	statusOK     = "ok"
	statusFailed = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS methods (
	run_id TEXT NOT NULL REFERENCES runs(id),
	name TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	status TEXT NOT NULL,
	listing TEXT NOT NULL DEFAULT '',
	wire BLOB,
	error TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, name)
);
CREATE INDEX IF NOT EXISTS methods_by_fingerprint ON methods (name, fingerprint, status);
`

// CurrentVersion tags results with the reconstruction rules and wire format
// that produced them. Lookup ignores results with any other tag.
var CurrentVersion = fmt.Sprintf("%d.%d", decompile.Version, wire.Version)

// Store is a results database. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	path    string
	version string
	mu      sync.Mutex
}

// Record is a stored successful result.
type Record struct {
	RunID       string
	Name        string
	Fingerprint uint64
	Listing     string
	Wire        []byte
}

// Failure is a method that could not be reconstructed in a run.
type Failure struct {
	Name  string
	Error string
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Debugf("opened %s", path)
	return &Store{db: db, path: path, version: CurrentVersion}, nil
}

// migrate adds the version column to databases created before it existed.
// Their rows keep an empty version and never match a Lookup.
func migrate(db *sql.DB) error {
	rows, err := db.Query("PRAGMA table_info(methods)")
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return fmt.Errorf("reading schema: %w", err)
		}
		if name == "version" {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}
	rows.Close()

	if _, err := db.Exec("ALTER TABLE methods ADD COLUMN version TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding version column: %w", err)
	}
	log.Infof("added version column; earlier results will be reconstructed again")
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database path given to Open.
func (s *Store) Path() string {
	return s.path
}

// Fingerprint hashes the serialized form of a chunk. Chunks that serialize
// identically have the same fingerprint.
func Fingerprint(c *bytecode.Chunk) (uint64, error) {
	data, err := c.Serialize()
	if err != nil {
		return 0, fmt.Errorf("fingerprint %s: %w", c.Name, err)
	}
	return xxh3.Hash(data), nil
}

// BeginRun registers a new run and returns its id.
func (s *Store) BeginRun() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	_, err := s.db.Exec("INSERT INTO runs (id, started_at) VALUES (?, ?)", id, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("starting run: %w", err)
	}
	return id, nil
}

// Record stores the outcome of one method in a run. A successful result is
// kept as its listing text and its CBOR encoding; a failure keeps the error
// text.
func (s *Store) Record(runID string, fingerprint uint64, r decompile.Result) error {
	status, listing, errText := statusOK, "", ""
	var data []byte
	if r.Err != nil {
		status, errText = statusFailed, r.Err.Error()
	} else {
		var err error
		if data, err = wire.MarshalSequence(r.Name, r.Sequence); err != nil {
			return fmt.Errorf("encoding %s: %w", r.Name, err)
		}
		listing = r.Sequence.String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRun(runID); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO methods (run_id, name, fingerprint, status, listing, wire, error, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Name, formatFingerprint(fingerprint), status, listing, data, errText, s.version,
	)
	if err != nil {
		return fmt.Errorf("saving %s: %w", r.Name, err)
	}
	return nil
}

// Save copies a previously stored record into a run, for methods skipped
// because their bytecode was unchanged. Records only come from Lookup, so
// they carry the current version.
func (s *Store) Save(runID string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRun(runID); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO methods (run_id, name, fingerprint, status, listing, wire, error, version)
		 VALUES (?, ?, ?, ?, ?, ?, '', ?)`,
		runID, rec.Name, formatFingerprint(rec.Fingerprint), statusOK, rec.Listing, rec.Wire, s.version,
	)
	if err != nil {
		return fmt.Errorf("saving %s: %w", rec.Name, err)
	}
	return nil
}

func (s *Store) checkRun(runID string) error {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM runs WHERE id = ?", runID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	if err != nil {
		return fmt.Errorf("querying run: %w", err)
	}
	return nil
}

// Lookup returns the most recent successful result for a method with the
// given fingerprint that was produced by the current version, or
// ErrNotFound.
func (s *Store) Lookup(name string, fingerprint uint64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &Record{Name: name, Fingerprint: fingerprint}
	err := s.db.QueryRow(
		`SELECT m.run_id, m.listing, m.wire FROM methods m JOIN runs r ON r.id = m.run_id
		 WHERE m.name = ? AND m.fingerprint = ? AND m.status = ? AND m.version = ?
		 ORDER BY r.started_at DESC LIMIT 1`,
		name, formatFingerprint(fingerprint), statusOK, s.version,
	).Scan(&rec.RunID, &rec.Listing, &rec.Wire)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying %s: %w", name, err)
	}
	return rec, nil
}

// Failures lists the methods of a run that could not be reconstructed, in
// name order.
func (s *Store) Failures(runID string) ([]Failure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT name, error FROM methods WHERE run_id = ? AND status = ? ORDER BY name",
		runID, statusFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("querying failures: %w", err)
	}
	defer rows.Close()

	var failures []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.Name, &f.Error); err != nil {
			return nil, fmt.Errorf("scanning failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

func formatFingerprint(fp uint64) string {
	return strconv.FormatUint(fp, 16)
}

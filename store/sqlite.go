package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/timzifer/pulsed/pulse"
)

// SQLite persists the in-memory state to a single SQLite table holding one
// JSON document per entity kind. The full state is written after every
// successful mutation.
type SQLite struct {
	*Memory
	db   *sql.DB
	mu   sync.Mutex
	path string
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens or creates the database at path and loads its content.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "pulsed.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &SQLite{Memory: NewMemory(), db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// Path returns the database path.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var d decoder
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		docs, err := pulse.DecodeJSON(payload)
		if err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
		if err := d.bucket(bucket, docs); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	s.Import(d.library())
	return nil
}

func (s *SQLite) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lib := s.Snapshot()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range buckets {
		docs := bucketDocs(lib, bucket)
		data, err := json.Marshal(docs)
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) after(err error) error {
	if err != nil {
		return err
	}
	return s.persist()
}

// PutBlock stores a block and persists the state.
func (s *SQLite) PutBlock(block *pulse.Block) error { return s.after(s.Memory.PutBlock(block)) }

// PutEnsemble stores an ensemble and persists the state.
func (s *SQLite) PutEnsemble(ens *pulse.Ensemble) error {
	return s.after(s.Memory.PutEnsemble(ens))
}

// PutSequence stores a sequence and persists the state.
func (s *SQLite) PutSequence(seq *pulse.Sequence) error {
	return s.after(s.Memory.PutSequence(seq))
}

// DeleteBlock removes a block and persists the state.
func (s *SQLite) DeleteBlock(name string) error { return s.after(s.Memory.DeleteBlock(name)) }

// DeleteEnsemble removes an ensemble and persists the state.
func (s *SQLite) DeleteEnsemble(name string) error { return s.after(s.Memory.DeleteEnsemble(name)) }

// DeleteSequence removes a sequence and persists the state.
func (s *SQLite) DeleteSequence(name string) error { return s.after(s.Memory.DeleteSequence(name)) }

// SetEnsembleSamplingInfo records sampler output and persists the state.
func (s *SQLite) SetEnsembleSamplingInfo(name string, at Generation, info map[string]interface{}) error {
	return s.after(s.Memory.SetEnsembleSamplingInfo(name, at, info))
}

// SetSequenceSamplingInfo records sampler output and persists the state.
func (s *SQLite) SetSequenceSamplingInfo(name string, at Generation, info map[string]interface{}) error {
	return s.after(s.Memory.SetSequenceSamplingInfo(name, at, info))
}

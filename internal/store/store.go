// Package store keeps experiment runs, their per-epoch training losses and
// their evaluation scores in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("store is closed")

// Run is one experiment run.
type Run struct {
	ID      string
	Name    string
	N, K    int
	Layers  int
	Created time.Time
}

// Loss is the mean training loss of one layer over one epoch.
type Loss struct {
	Layer, Epoch int
	ISI, Alpha   float64
}

// Store is a SQLite backed store of runs.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// Open opens or creates the database at path. ":memory:" keeps it in memory.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(err, "creating store directory")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening store")
	}
	// a single connection keeps an in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			n INTEGER NOT NULL,
			k INTEGER NOT NULL,
			layers INTEGER NOT NULL,
			created INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS losses (
			run_id TEXT NOT NULL REFERENCES runs(id),
			layer INTEGER NOT NULL,
			epoch INTEGER NOT NULL,
			isi REAL,
			alpha REAL,
			PRIMARY KEY (run_id, layer, epoch)
		);

		CREATE TABLE IF NOT EXISTS evals (
			run_id TEXT NOT NULL REFERENCES runs(id),
			eval INTEGER NOT NULL,
			layer INTEGER NOT NULL,
			isi REAL,
			used INTEGER NOT NULL,
			PRIMARY KEY (run_id, eval, layer)
		);

		CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, "creating schema")
	}
	return nil
}

// CreateRun registers a new run and returns it with a fresh ID.
func (s *Store) CreateRun(ctx context.Context, name string, n, k, layers int) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Run{}, ErrClosed
	}
	run := Run{
		ID:      uuid.New().String(),
		Name:    name,
		N:       n,
		K:       k,
		Layers:  layers,
		Created: time.Now().UTC().Truncate(time.Second),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, n, k, layers, created) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.N, run.K, run.Layers, run.Created.Unix())
	if err != nil {
		return Run{}, errors.Wrap(err, "inserting run")
	}
	return run, nil
}

// GetRun returns the run with the given ID.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Run{}, ErrClosed
	}
	var run Run
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, n, k, layers, created FROM runs WHERE id = ?`, id).
		Scan(&run.ID, &run.Name, &run.N, &run.K, &run.Layers, &created)
	if err != nil {
		return Run{}, errors.Wrapf(err, "run %s", id)
	}
	run.Created = time.Unix(created, 0).UTC()
	return run, nil
}

// Runs lists every run, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, n, k, layers, created FROM runs ORDER BY created, id`)
	if err != nil {
		return nil, errors.Wrap(err, "listing runs")
	}
	defer rows.Close()

	var retVal []Run
	for rows.Next() {
		var run Run
		var created int64
		if err := rows.Scan(&run.ID, &run.Name, &run.N, &run.K, &run.Layers, &created); err != nil {
			return nil, errors.WithStack(err)
		}
		run.Created = time.Unix(created, 0).UTC()
		retVal = append(retVal, run)
	}
	return retVal, errors.WithStack(rows.Err())
}

// AddLoss records the mean loss of a layer over one epoch.
func (s *Store) AddLoss(ctx context.Context, runID string, l Loss) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO losses (run_id, layer, epoch, isi, alpha) VALUES (?, ?, ?, ?, ?)`,
		runID, l.Layer, l.Epoch, nullable(l.ISI), nullable(l.Alpha))
	return errors.Wrap(err, "inserting loss")
}

// Losses returns the losses of a run ordered by layer then epoch. A loss
// stored as NULL is read back as NaN.
func (s *Store) Losses(ctx context.Context, runID string) ([]Loss, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT layer, epoch, isi, alpha FROM losses WHERE run_id = ? ORDER BY layer, epoch`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "listing losses")
	}
	defer rows.Close()

	var retVal []Loss
	for rows.Next() {
		var l Loss
		var isi, alpha sql.NullFloat64
		if err := rows.Scan(&l.Layer, &l.Epoch, &isi, &alpha); err != nil {
			return nil, errors.WithStack(err)
		}
		l.ISI, l.Alpha = orNaN(isi), orNaN(alpha)
		retVal = append(retVal, l)
	}
	return retVal, errors.WithStack(rows.Err())
}

// AddEval records one evaluation: the mean score after each layer.
func (s *Store) AddEval(ctx context.Context, runID string, perLayer []float64, used int) (eval int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer tx.Rollback()

	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(eval), -1) + 1 FROM evals WHERE run_id = ?`, runID).Scan(&eval); err != nil {
		return 0, errors.WithStack(err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO evals (run_id, eval, layer, isi, used) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer stmt.Close()
	for layer, isi := range perLayer {
		if _, err = stmt.ExecContext(ctx, runID, eval, layer, nullable(isi), used); err != nil {
			return 0, errors.Wrapf(err, "inserting layer %d", layer)
		}
	}
	return eval, errors.WithStack(tx.Commit())
}

// Evals returns the scores of every evaluation of a run, in order. Scores
// stored as NULL are read back as NaN.
func (s *Store) Evals(ctx context.Context, runID string) ([][]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT eval, layer, isi FROM evals WHERE run_id = ? ORDER BY eval, layer`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "listing evals")
	}
	defer rows.Close()

	var retVal [][]float64
	for rows.Next() {
		var eval, layer int
		var isi sql.NullFloat64
		if err := rows.Scan(&eval, &layer, &isi); err != nil {
			return nil, errors.WithStack(err)
		}
		for len(retVal) <= eval {
			retVal = append(retVal, nil)
		}
		retVal[eval] = append(retVal[eval], orNaN(isi))
	}
	return retVal, errors.WithStack(rows.Err())
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Package store persists benchmark results. ResultStore keeps every
// candidate and trial outcome in SQLite for cross-run analysis; Snapshot
// writes a human-readable JSON document per trial.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"hdlbench/internal/cache"
	"hdlbench/internal/logging"
)

// ResultStore persists candidates and trial results to SQLite.
type ResultStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// TrialResult is the final outcome of one (design, trial) run.
type TrialResult struct {
	ID         int64
	Design     string
	Dataset    string
	Trial      int
	Model      string
	Code       string
	Quality    float64
	Passed     bool
	Layers     int
	Candidates int
	DurationMs int64
	CreatedAt  time.Time
}

// ModelStats aggregates candidate quality per model across a run.
type ModelStats struct {
	Model      string
	Count      int
	AvgQuality float64
	MaxQuality float64
}

// LayerStats aggregates candidate quality per layer across a run.
type LayerStats struct {
	Layer      int
	Count      int
	AvgQuality float64
	MaxQuality float64
}

// NewResultStore opens (or creates) the store at dbPath.
func NewResultStore(dbPath string) (*ResultStore, error) {
	log := logging.Get(logging.CategoryStore)
	log.Debugw("initializing result store", "path", dbPath)

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &ResultStore{db: db, dbPath: dbPath}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	log.Infow("result store ready", "path", dbPath)
	return store, nil
}

// initialize creates the database schema.
func (s *ResultStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS candidates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		candidate_id TEXT UNIQUE NOT NULL,
		design TEXT NOT NULL,
		trial INTEGER NOT NULL,
		layer INTEGER NOT NULL,
		path TEXT NOT NULL,
		model TEXT NOT NULL,
		code TEXT NOT NULL,
		quality REAL NOT NULL,
		original_quality REAL NOT NULL,
		aux_language TEXT,
		aux_code TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS trial_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		design TEXT NOT NULL,
		dataset TEXT NOT NULL,
		trial INTEGER NOT NULL,
		model TEXT NOT NULL,
		code TEXT NOT NULL,
		quality REAL NOT NULL,
		passed INTEGER NOT NULL DEFAULT 0,
		layers INTEGER NOT NULL,
		candidates INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_candidates_design_trial ON candidates(design, trial);
	CREATE INDEX IF NOT EXISTS idx_candidates_layer ON candidates(layer);
	CREATE INDEX IF NOT EXISTS idx_candidates_quality ON candidates(quality);
	CREATE INDEX IF NOT EXISTS idx_trial_results_design ON trial_results(design);
	CREATE INDEX IF NOT EXISTS idx_trial_results_passed ON trial_results(passed);
	`

	_, err := s.db.Exec(schema)
	return err
}

// PersistCandidates implements cache.Persister.
func (s *ResultStore) PersistCandidates(design string, trial, layer int, candidates []cache.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candidates
		(candidate_id, design, trial, layer, path, model, code, quality,
		 original_quality, aux_language, aux_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, cand := range candidates {
		var auxLang, auxCode sql.NullString
		if cand.Auxiliary != nil {
			auxLang = sql.NullString{String: string(cand.Auxiliary.Language), Valid: true}
			auxCode = sql.NullString{String: cand.Auxiliary.Code, Valid: true}
		}
		if _, err := stmt.Exec(cand.ID, design, trial, layer, cand.Path, cand.Model,
			cand.Code, cand.QualityScore, cand.OriginalQuality, auxLang, auxCode); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// StoreTrialResult persists a finished trial.
func (s *ResultStore) StoreTrialResult(result TrialResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	passed := 0
	if result.Passed {
		passed = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO trial_results
		(design, dataset, trial, model, code, quality, passed, layers, candidates, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.Design, result.Dataset, result.Trial, result.Model, result.Code,
		result.Quality, passed, result.Layers, result.Candidates, result.DurationMs,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Errorw("failed to store trial result",
			"design", result.Design, "trial", result.Trial, "error", err)
	}
	return err
}

// TrialResults returns all stored trials for a design, oldest first.
func (s *ResultStore) TrialResults(design string) ([]TrialResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, design, dataset, trial, model, code, quality, passed,
		       layers, candidates, duration_ms, created_at
		FROM trial_results WHERE design = ? ORDER BY id`, design)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrialResults(rows)
}

// AllTrialResults returns every stored trial, oldest first.
func (s *ResultStore) AllTrialResults() ([]TrialResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, design, dataset, trial, model, code, quality, passed,
		       layers, candidates, duration_ms, created_at
		FROM trial_results ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrialResults(rows)
}

// ModelBreakdown aggregates candidate quality per model.
func (s *ResultStore) ModelBreakdown() ([]ModelStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT model, COUNT(*), AVG(quality), MAX(quality)
		FROM candidates GROUP BY model ORDER BY AVG(quality) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []ModelStats
	for rows.Next() {
		var ms ModelStats
		if err := rows.Scan(&ms.Model, &ms.Count, &ms.AvgQuality, &ms.MaxQuality); err != nil {
			return nil, err
		}
		stats = append(stats, ms)
	}
	return stats, rows.Err()
}

// LayerBreakdown aggregates candidate quality per layer.
func (s *ResultStore) LayerBreakdown() ([]LayerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT layer, COUNT(*), AVG(quality), MAX(quality)
		FROM candidates GROUP BY layer ORDER BY layer`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []LayerStats
	for rows.Next() {
		var ls LayerStats
		if err := rows.Scan(&ls.Layer, &ls.Count, &ls.AvgQuality, &ls.MaxQuality); err != nil {
			return nil, err
		}
		stats = append(stats, ls)
	}
	return stats, rows.Err()
}

// Close closes the underlying database.
func (s *ResultStore) Close() error {
	return s.db.Close()
}

func scanTrialResults(rows *sql.Rows) ([]TrialResult, error) {
	var results []TrialResult
	for rows.Next() {
		var r TrialResult
		var passed int
		if err := rows.Scan(&r.ID, &r.Design, &r.Dataset, &r.Trial, &r.Model, &r.Code,
			&r.Quality, &passed, &r.Layers, &r.Candidates, &r.DurationMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Passed = passed == 1
		results = append(results, r)
	}
	return results, rows.Err()
}

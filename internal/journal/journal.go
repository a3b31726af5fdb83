// Package journal keeps a local sqlite record of what each run did to
// which identifier, so past batches can be audited after the console
// output is gone.
package journal

import (
	"database/sql"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Entity outcomes.
const (
	StatusDone    = "done"
	StatusRetried = "retried"
	StatusSkipped = "skipped"
	StatusAborted = "aborted"
)

type Journal struct {
	DB     *sql.DB
	runID  string
	logger *zap.Logger
}

// Open opens (or creates) the journal database and registers a new run.
func Open(dbPath string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME,
			outcome TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS entities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			group_key TEXT,
			siren TEXT,
			item_index INTEGER,
			status TEXT,
			detail TEXT,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, err
		}
	}

	j := &Journal{DB: db, runID: uuid.NewString(), logger: logger}
	if _, err := db.Exec(`INSERT INTO runs (id) VALUES (?)`, j.runID); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) RunID() string { return j.runID }

// Record stores one entity outcome. Journaling is best effort: a write
// failure must never interrupt the batch, so it logs and moves on.
func (j *Journal) Record(group, siren string, index int, status, detail string) {
	query := `INSERT INTO entities (run_id, group_key, siren, item_index, status, detail) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := j.DB.Exec(query, j.runID, group, siren, index, status, detail); err != nil {
		j.logger.Warn("journal write failed",
			zap.String("group", group),
			zap.String("siren", siren),
			zap.Error(err))
	}
}

// FinishRun stamps the run row with its final outcome.
func (j *Journal) FinishRun(outcome string) {
	query := `UPDATE runs SET finished_at = datetime('now'), outcome = ? WHERE id = ?`
	if _, err := j.DB.Exec(query, outcome, j.runID); err != nil {
		j.logger.Warn("journal run update failed", zap.Error(err))
	}
}

func (j *Journal) Close() error {
	return j.DB.Close()
}

package storage

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mpataki/stride/internal/models"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		query TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		response TEXT,
		chart_path TEXT,
		error TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		branch TEXT NOT NULL,
		attempt_num INTEGER NOT NULL,
		code TEXT NOT NULL,
		accepted INTEGER NOT NULL DEFAULT 0,
		reason TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(run_id, branch, attempt_num)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) CreateRun(run *models.Run) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO runs (uid, query, status) VALUES (?, ?, ?)`,
		run.UID, run.Query, run.Status,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) GetRun(id int64) (*models.Run, error) {
	row := s.db.QueryRow(
		`SELECT id, uid, created_at, completed_at, query, status, response, chart_path, error, duration_ms
		 FROM runs WHERE id = ?`, id,
	)
	return scanRun(row)
}

func scanRun(row *sql.Row) (*models.Run, error) {
	var run models.Run
	var completedAt sql.NullTime
	var response, chartPath, errMsg sql.NullString

	err := row.Scan(
		&run.ID, &run.UID, &run.CreatedAt, &completedAt, &run.Query,
		&run.Status, &response, &chartPath, &errMsg, &run.DurationMS,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	run.Response = response.String
	run.ChartPath = chartPath.String
	run.Error = errMsg.String

	return &run, nil
}

func (s *Storage) UpdateRun(run *models.Run) error {
	_, err := s.db.Exec(
		`UPDATE runs SET uid = ?, completed_at = ?, status = ?, response = ?, chart_path = ?, error = ?, duration_ms = ?
		 WHERE id = ?`,
		run.UID, run.CompletedAt, run.Status, run.Response, run.ChartPath, run.Error, run.DurationMS, run.ID,
	)
	return err
}

func (s *Storage) ListRuns(limit int) ([]*models.Run, error) {
	rows, err := s.db.Query(
		`SELECT id, uid, created_at, completed_at, query, status, response, chart_path, error, duration_ms
		 FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		var run models.Run
		var completedAt sql.NullTime
		var response, chartPath, errMsg sql.NullString

		err := rows.Scan(
			&run.ID, &run.UID, &run.CreatedAt, &completedAt, &run.Query,
			&run.Status, &response, &chartPath, &errMsg, &run.DurationMS,
		)
		if err != nil {
			return nil, err
		}

		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		run.Response = response.String
		run.ChartPath = chartPath.String
		run.Error = errMsg.String

		runs = append(runs, &run)
	}

	return runs, rows.Err()
}

func (s *Storage) DeleteRun(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM attempts WHERE run_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	return err
}

func (s *Storage) CreateAttempt(a *models.Attempt) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO attempts (run_id, branch, attempt_num, code, accepted, reason)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.RunID, a.Branch, a.AttemptNum, a.Code, a.Accepted, a.Reason,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) GetAttemptsForRun(runID int64) ([]*models.Attempt, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, branch, attempt_num, code, accepted, reason, created_at
		 FROM attempts WHERE run_id = ? ORDER BY branch, attempt_num`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*models.Attempt
	for rows.Next() {
		var a models.Attempt
		var reason sql.NullString

		err := rows.Scan(&a.ID, &a.RunID, &a.Branch, &a.AttemptNum, &a.Code, &a.Accepted, &reason, &a.CreatedAt)
		if err != nil {
			return nil, err
		}
		a.Reason = reason.String

		attempts = append(attempts, &a)
	}

	return attempts, rows.Err()
}

// MarkRunComplete stamps the final state of a finished run.
func (s *Storage) MarkRunComplete(run *models.Run, status models.RunStatus) error {
	now := time.Now()
	run.Status = status
	run.CompletedAt = &now
	return s.UpdateRun(run)
}

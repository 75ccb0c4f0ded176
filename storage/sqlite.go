package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"review_scrooper/identity"
	"review_scrooper/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS harvest_runs (
		id INTEGER PRIMARY KEY,
		uuid TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		listing_id TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		reviews_found INTEGER DEFAULT 0,
		reviews_new INTEGER DEFAULT 0,
		load_rounds INTEGER DEFAULT 0,
		output_path TEXT,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS harvest_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		listing_id TEXT
	);

	CREATE TABLE IF NOT EXISTS reviews (
		id INTEGER PRIMARY KEY,
		listing_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		data_review_id TEXT,
		username TEXT,
		data JSON,
		first_seen_at DATETIME,
		last_seen_at DATETIME,
		last_run_id INTEGER,
		UNIQUE(listing_id, fingerprint)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON harvest_runs(status, started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_listing ON harvest_runs(listing_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON harvest_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_reviews_listing ON reviews(listing_id, first_seen_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun inserts a running harvest and fills in its ID and UUID.
func (s *SQLiteStore) CreateRun(run *models.HarvestRun) (int64, error) {
	if run.UUID == "" {
		run.UUID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	result, err := s.db.Exec(`
		INSERT INTO harvest_runs (uuid, url, listing_id, started_at, status)
		VALUES (?, ?, ?, ?, ?)`,
		run.UUID, run.URL, run.ListingID, run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	run.ID = id
	return id, nil
}

func (s *SQLiteStore) UpdateRun(run *models.HarvestRun) error {
	_, err := s.db.Exec(`
		UPDATE harvest_runs SET finished_at = ?, status = ?, reviews_found = ?,
			reviews_new = ?, load_rounds = ?, output_path = ?, error_message = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.ReviewsFound, run.ReviewsNew,
		run.LoadRounds, run.OutputPath, run.ErrorMessage, run.ID)
	return err
}

func (s *SQLiteStore) GetRun(id int64) (*models.HarvestRun, error) {
	row := s.db.QueryRow(`
		SELECT id, uuid, url, listing_id, started_at, finished_at, status,
			reviews_found, reviews_new, load_rounds, output_path, error_message
		FROM harvest_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// RecentRuns returns the newest runs first.
func (s *SQLiteStore) RecentRuns(limit int) ([]models.HarvestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, uuid, url, listing_id, started_at, finished_at, status,
			reviews_found, reviews_new, load_rounds, output_path, error_message
		FROM harvest_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.HarvestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// MarkInterruptedRuns fails every run still marked running. Only call it
// before any harvest of this process has started.
func (s *SQLiteStore) MarkInterruptedRuns() (int64, error) {
	result, err := s.db.Exec(`
		UPDATE harvest_runs SET status = ?, finished_at = ?, error_message = 'interrupted'
		WHERE status = ?`,
		models.RunStatusFailed, time.Now(), models.RunStatusRunning)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*models.HarvestRun, error) {
	var run models.HarvestRun
	var listingID, outputPath, errMsg sql.NullString
	var finished sql.NullTime
	err := row.Scan(&run.ID, &run.UUID, &run.URL, &listingID, &run.StartedAt, &finished,
		&run.Status, &run.ReviewsFound, &run.ReviewsNew, &run.LoadRounds, &outputPath, &errMsg)
	if err != nil {
		return nil, err
	}
	run.ListingID = listingID.String
	run.OutputPath = outputPath.String
	run.ErrorMessage = errMsg.String
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, listingID string) error {
	_, err := s.db.Exec(`
		INSERT INTO harvest_logs (run_id, timestamp, level, message, listing_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, listingID)
	return err
}

func (s *SQLiteStore) RunLogs(runID int64) ([]models.HarvestLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, listing_id
		FROM harvest_logs WHERE run_id = ? ORDER BY timestamp, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.HarvestLog
	for rows.Next() {
		var l models.HarvestLog
		var rid sql.NullInt64
		var listingID sql.NullString
		if err := rows.Scan(&l.ID, &rid, &l.Timestamp, &l.Level, &l.Message, &listingID); err != nil {
			return nil, err
		}
		if rid.Valid {
			l.RunID = &rid.Int64
		}
		l.ListingID = listingID.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// SaveReviews upserts reviews for a listing and reports how many were not
// seen in any earlier run.
func (s *SQLiteStore) SaveReviews(runID int64, listingID string, reviews []models.Review) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	exists, err := tx.Prepare(`SELECT 1 FROM reviews WHERE listing_id = ? AND fingerprint = ?`)
	if err != nil {
		return 0, err
	}
	defer exists.Close()

	upsert, err := tx.Prepare(`
		INSERT INTO reviews (listing_id, fingerprint, data_review_id, username, data,
			first_seen_at, last_seen_at, last_run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_id, fingerprint) DO UPDATE SET
			data = excluded.data,
			username = excluded.username,
			last_seen_at = excluded.last_seen_at,
			last_run_id = excluded.last_run_id`)
	if err != nil {
		return 0, err
	}
	defer upsert.Close()

	now := time.Now()
	added := 0
	for i := range reviews {
		r := &reviews[i]
		fp := identity.Fingerprint(r)

		var one int
		switch err := exists.QueryRow(listingID, fp).Scan(&one); err {
		case sql.ErrNoRows:
			added++
		case nil:
		default:
			return 0, err
		}

		data, err := json.Marshal(r)
		if err != nil {
			return 0, fmt.Errorf("encode review: %w", err)
		}
		if _, err := upsert.Exec(listingID, fp, r.DataReviewID, r.Username, string(data), now, now, runID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

func (s *SQLiteStore) GetReviews(listingID string) ([]models.Review, error) {
	rows, err := s.db.Query(`
		SELECT data FROM reviews WHERE listing_id = ? ORDER BY first_seen_at, id`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r models.Review
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, err
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

func (s *SQLiteStore) ReviewCount(listingID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM reviews WHERE listing_id = ?`, listingID).Scan(&count)
	return count, err
}

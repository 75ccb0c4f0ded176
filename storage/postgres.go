package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"review_scrooper/identity"
	"review_scrooper/models"
)

// PostgresStore is the optional shared sink for harvested reviews and runs.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS harvest_runs (
			id UUID PRIMARY KEY,
			url TEXT NOT NULL,
			listing_id TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			status TEXT NOT NULL,
			reviews_found INTEGER NOT NULL DEFAULT 0,
			reviews_new INTEGER NOT NULL DEFAULT 0,
			load_rounds INTEGER NOT NULL DEFAULT 0,
			error_message TEXT
		);

		CREATE TABLE IF NOT EXISTS reviews (
			id UUID PRIMARY KEY,
			listing_id TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			data_review_id TEXT,
			username TEXT,
			time_in_airbnb TEXT,
			rating TEXT,
			post_time TEXT,
			comment TEXT NOT NULL,
			response TEXT,
			images JSONB NOT NULL DEFAULT '[]',
			first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_run_id UUID,
			UNIQUE (listing_id, fingerprint)
		);`)
	return err
}

// =============================================================================
// Harvest Runs
// =============================================================================

func (s *PostgresStore) UpsertRun(ctx context.Context, run *models.HarvestRun) error {
	id, err := uuid.Parse(run.UUID)
	if err != nil {
		return fmt.Errorf("run uuid: %w", err)
	}

	query := `
		INSERT INTO harvest_runs (id, url, listing_id, started_at, finished_at, status,
			reviews_found, reviews_new, load_rounds, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			status = EXCLUDED.status,
			reviews_found = EXCLUDED.reviews_found,
			reviews_new = EXCLUDED.reviews_new,
			load_rounds = EXCLUDED.load_rounds,
			error_message = EXCLUDED.error_message`

	_, err = s.pool.Exec(ctx, query,
		id, run.URL, run.ListingID, run.StartedAt, run.FinishedAt, string(run.Status),
		run.ReviewsFound, run.ReviewsNew, run.LoadRounds, run.ErrorMessage,
	)
	return err
}

// =============================================================================
// Reviews
// =============================================================================

// UpsertReviews writes the batch in one transaction keyed by fingerprint.
func (s *PostgresStore) UpsertReviews(ctx context.Context, runUUID, listingID string, reviews []models.Review) error {
	runID, err := uuid.Parse(runUUID)
	if err != nil {
		return fmt.Errorf("run uuid: %w", err)
	}

	query := `
		INSERT INTO reviews (id, listing_id, fingerprint, data_review_id, username, time_in_airbnb,
			rating, post_time, comment, response, images, last_run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (listing_id, fingerprint) DO UPDATE SET
			username = COALESCE(EXCLUDED.username, reviews.username),
			time_in_airbnb = COALESCE(EXCLUDED.time_in_airbnb, reviews.time_in_airbnb),
			rating = COALESCE(EXCLUDED.rating, reviews.rating),
			post_time = COALESCE(EXCLUDED.post_time, reviews.post_time),
			comment = EXCLUDED.comment,
			response = COALESCE(EXCLUDED.response, reviews.response),
			images = EXCLUDED.images,
			last_seen_at = NOW(),
			last_run_id = EXCLUDED.last_run_id`

	batch := &pgx.Batch{}
	for i := range reviews {
		r := &reviews[i]
		images, err := json.Marshal(r.Images)
		if err != nil {
			return fmt.Errorf("encode images: %w", err)
		}
		batch.Queue(query,
			uuid.New(), listingID, identity.Fingerprint(r), r.DataReviewID, r.Username, r.TimeInAirbnb,
			r.Rating, r.PostTime, r.Comment, r.Response, images, runID,
		)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert reviews: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ReviewCount(ctx context.Context, listingID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reviews WHERE listing_id = $1`, listingID).Scan(&count)
	return count, err
}

package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"review_scrooper/config"
	"review_scrooper/models"
	"review_scrooper/storage"
	"review_scrooper/workers"
)

// Orchestrator wraps a Harvester with run bookkeeping and the output sinks:
// the JSON artifact, SQLite history, and the optional Postgres, S3 and
// media mirror sinks.
type Orchestrator struct {
	cfg       *config.Config
	harvester *Harvester
	artifacts *storage.Artifacts
	store     *storage.SQLiteStore

	pgStore  *storage.PostgresStore
	uploader workers.Uploader
	media    *workers.MediaWorker
	checker  *workers.ListingChecker
}

// HarvesterConfigFrom maps loaded configuration onto harvester settings.
func HarvesterConfigFrom(cfg *config.Config) HarvesterConfig {
	h := cfg.Harvest
	site := cfg.Site
	return HarvesterConfig{
		Loader: LoaderConfig{
			ReviewSelector:   site.ReviewSelector,
			LoadMoreSelector: site.LoadMoreSelector,
			Settle:           h.Settle,
			StallLimit:       h.StallLimit,
			MaxIterations:    h.MaxIterations,
			MaxDuration:      h.MaxDuration,
			OpTimeout:        h.OpTimeout,
		},
		NavTimeout:    h.NavTimeout,
		WaitTimeout:   h.WaitTimeout,
		OpTimeout:     h.OpTimeout,
		ElementSettle: h.ElementSettle,
		ReviewIDAttr:  site.ReviewIDAttr,
		StateMarker:   site.StateMarker,
	}
}

func NewOrchestrator(cfg *config.Config, harvester *Harvester, artifacts *storage.Artifacts, store *storage.SQLiteStore) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		harvester: harvester,
		artifacts: artifacts,
		store:     store,
	}
}

// SetSinks injects the optional remote sinks. Any of them may be nil.
func (o *Orchestrator) SetSinks(pgStore *storage.PostgresStore, uploader workers.Uploader, media *workers.MediaWorker) {
	o.pgStore = pgStore
	o.uploader = uploader
	o.media = media
}

func (o *Orchestrator) SetChecker(checker *workers.ListingChecker) {
	o.checker = checker
}

type RunOutcome struct {
	Run     *models.HarvestRun
	Reviews []models.Review
}

// Run harvests one URL and records the run. The returned outcome is non-nil
// whenever the run record was created, including on failure.
func (o *Orchestrator) Run(ctx context.Context, url string) (*RunOutcome, error) {
	listingID := o.artifacts.ListingID(url)
	run := &models.HarvestRun{
		URL:       url,
		ListingID: listingID,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	if _, err := o.store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	outcome := &RunOutcome{Run: run}

	o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Starting harvest of %s", url), listingID)

	// bookkeeping must survive cancellation of the harvest itself
	finalCtx := context.WithoutCancel(ctx)
	defer func() {
		now := time.Now()
		run.FinishedAt = &now
		if err := o.store.UpdateRun(run); err != nil {
			log.Printf("Warning: failed to update run %d: %v", run.ID, err)
		}
		if o.pgStore != nil {
			if err := o.pgStore.UpsertRun(finalCtx, run); err != nil {
				log.Printf("Warning: failed to record run in Postgres: %v", err)
			}
		}
	}()

	res, err := o.harvester.Harvest(ctx, url)
	if err != nil {
		run.Status = models.RunStatusFailed
		if errors.Is(err, ErrCancelled) {
			run.Status = models.RunStatusCancelled
		}
		run.ErrorMessage = err.Error()
		o.log(run.ID, models.LogLevelError, fmt.Sprintf("Harvest failed: %v", err), listingID)
		return outcome, err
	}

	outcome.Reviews = res.Reviews
	run.ReviewsFound = len(res.Reviews)
	run.LoadRounds = res.Load.Iterations

	if res.Load.Reason != ReasonConverged {
		o.log(run.ID, models.LogLevelWarn,
			fmt.Sprintf("Loading stopped early (%s) at %d reviews, results may be incomplete", res.Load.Reason, res.Load.Count), listingID)
	}
	if res.Skipped > 0 {
		o.log(run.ID, models.LogLevelWarn, fmt.Sprintf("Skipped %d unreadable review elements", res.Skipped), listingID)
	}

	if len(res.Reviews) == 0 {
		run.Status = models.RunStatusCompleted
		if res.Partial() {
			run.Status = models.RunStatusPartial
		}
		o.log(run.ID, models.LogLevelWarn, "No reviews extracted, no output written", listingID)
		return outcome, nil
	}

	path, err := o.artifacts.Write(url, res.Reviews)
	if err != nil {
		run.Status = models.RunStatusFailed
		run.ErrorMessage = err.Error()
		o.log(run.ID, models.LogLevelError, fmt.Sprintf("Write output failed: %v", err), listingID)
		return outcome, err
	}
	run.OutputPath = path

	added, err := o.store.SaveReviews(run.ID, listingID, res.Reviews)
	if err != nil {
		o.log(run.ID, models.LogLevelWarn, fmt.Sprintf("Saving reviews failed: %v", err), listingID)
	}
	run.ReviewsNew = added
	if total, err := o.store.ReviewCount(listingID); err == nil {
		o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("%d reviews stored for this listing", total), listingID)
	}

	o.publish(finalCtx, run, res.Reviews)

	run.Status = models.RunStatusCompleted
	if res.Partial() {
		run.Status = models.RunStatusPartial
	}
	o.log(run.ID, models.LogLevelInfo,
		fmt.Sprintf("Completed: %d reviews (%d new) in %d load rounds -> %s",
			run.ReviewsFound, run.ReviewsNew, run.LoadRounds, path), listingID)

	return outcome, nil
}

// publish pushes a finished harvest to the optional sinks. Failures are
// logged on the run and never fail it.
func (o *Orchestrator) publish(ctx context.Context, run *models.HarvestRun, reviews []models.Review) {
	if o.pgStore != nil {
		if err := o.pgStore.UpsertReviews(ctx, run.UUID, run.ListingID, reviews); err != nil {
			o.log(run.ID, models.LogLevelWarn, fmt.Sprintf("Postgres sync failed: %v", err), run.ListingID)
		} else if n, err := o.pgStore.ReviewCount(ctx, run.ListingID); err == nil {
			o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Postgres holds %d reviews for this listing", n), run.ListingID)
		}
	}

	if o.uploader != nil {
		data, err := storage.EncodeReviews(reviews)
		if err == nil {
			key := storage.ArtifactKey(run.ListingID, run.UUID)
			err = o.uploader.Upload(ctx, key, bytes.NewReader(data), "application/json")
			if err == nil {
				o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Uploaded %s", o.uploader.PublicURL(key)), run.ListingID)
			}
		}
		if err != nil {
			o.log(run.ID, models.LogLevelWarn, fmt.Sprintf("Artifact upload failed: %v", err), run.ListingID)
		}
	}

	if o.media != nil {
		o.media.SetLogger(o.logFunc(run.ID))
		stats := o.media.Mirror(ctx, run.ListingID, reviews)
		if stats.Uploaded > 0 || stats.Failed > 0 {
			o.log(run.ID, models.LogLevelInfo,
				fmt.Sprintf("Mirrored %d images (%d failed)", stats.Uploaded, stats.Failed), run.ListingID)
		}
	}
}

// RunAll harvests every watched listing in order. A failing listing is
// logged and the rest still run.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	listings := o.cfg.Site.Listings
	if len(listings) == 0 {
		log.Println("No listings configured, nothing to harvest")
		return nil
	}

	for _, url := range listings {
		if err := ctx.Err(); err != nil {
			return err
		}
		listingID := o.artifacts.ListingID(url)
		if o.checker != nil {
			o.checker.SetLogger(o.logFunc(0))
			if !o.checker.Live(ctx, listingID, url) {
				continue
			}
		}
		if _, err := o.Run(ctx, url); err != nil {
			log.Printf("Error harvesting %s: %v", listingID, err)
		}
	}
	return ctx.Err()
}

// MarkInterrupted fails runs left running by a previous process.
func (o *Orchestrator) MarkInterrupted() {
	n, err := o.store.MarkInterruptedRuns()
	if err != nil {
		log.Printf("Warning: could not clean up interrupted runs: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Marked %d interrupted runs as failed", n)
	}
}

func (o *Orchestrator) log(runID int64, level models.LogLevel, message, listingID string) {
	log.Printf("[%s] %s: %s", level, listingID, message)
	var rid *int64
	if runID != 0 {
		rid = &runID
	}
	if err := o.store.Log(rid, level, message, listingID); err != nil {
		log.Printf("Warning: failed to persist log: %v", err)
	}
}

func (o *Orchestrator) logFunc(runID int64) workers.LogFunc {
	return func(level models.LogLevel, listingID, message string) {
		o.log(runID, level, message, listingID)
	}
}

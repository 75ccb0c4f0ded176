package storage

import (
	"path/filepath"
	"testing"
	"time"

	"review_scrooper/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "reviews.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := newTestStore(t)

	run := &models.HarvestRun{
		URL:       "https://www.airbnb.com/rooms/42",
		ListingID: "42",
		StartedAt: time.Now().Add(-time.Minute),
	}
	id, err := store.CreateRun(run)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if id == 0 || run.ID != id || run.UUID == "" {
		t.Fatalf("run not populated: %+v", run)
	}

	finished := time.Now()
	run.FinishedAt = &finished
	run.Status = models.RunStatusPartial
	run.ReviewsFound = 12
	run.ReviewsNew = 3
	run.LoadRounds = 9
	run.OutputPath = "airbnb_reviews_42.json"
	if err := store.UpdateRun(run); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}

	got, err := store.GetRun(id)
	if err != nil || got == nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != models.RunStatusPartial || got.ReviewsFound != 12 || got.ReviewsNew != 3 || got.LoadRounds != 9 {
		t.Fatalf("unexpected run %+v", got)
	}
	if got.FinishedAt == nil || got.Duration() <= 0 {
		t.Fatalf("expected finished run with a duration, got %+v", got)
	}

	missing, err := store.GetRun(id + 100)
	if err != nil || missing != nil {
		t.Fatalf("expected no run, got %+v %v", missing, err)
	}
}

func TestRecentRunsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().Add(-time.Hour)

	for i, listing := range []string{"1", "2", "3"} {
		run := &models.HarvestRun{
			URL:       "https://www.airbnb.com/rooms/" + listing,
			ListingID: listing,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if _, err := store.CreateRun(run); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	runs, err := store.RecentRuns(2)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ListingID != "3" || runs[1].ListingID != "2" {
		t.Fatalf("unexpected order %+v", runs)
	}
	if runs[0].Status != models.RunStatusRunning || runs[0].FinishedAt != nil {
		t.Fatalf("expected running run, got %+v", runs[0])
	}
}

func TestRunLogs(t *testing.T) {
	store := newTestStore(t)
	run := &models.HarvestRun{URL: "https://www.airbnb.com/rooms/7", ListingID: "7", StartedAt: time.Now()}
	if _, err := store.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	store.Log(&run.ID, models.LogLevelInfo, "Starting harvest", "7")
	store.Log(&run.ID, models.LogLevelWarn, "Load stopped early", "7")
	store.Log(nil, models.LogLevelError, "unrelated", "8")

	logs, err := store.RunLogs(run.ID)
	if err != nil {
		t.Fatalf("RunLogs failed: %v", err)
	}
	if len(logs) != 2 || logs[1].Level != models.LogLevelWarn || logs[1].ListingID != "7" {
		t.Fatalf("unexpected logs %+v", logs)
	}
}

func TestSaveReviewsCountsOnlyNew(t *testing.T) {
	store := newTestStore(t)

	first := []models.Review{
		models.NewReview(models.ReviewFields{Username: str("Jane"), Comment: "Great"}, str("101"), nil),
		models.NewReview(models.ReviewFields{Username: str("Sam"), Comment: "Loved it"}, nil, nil),
	}
	added, err := store.SaveReviews(1, "42", first)
	if err != nil {
		t.Fatalf("SaveReviews failed: %v", err)
	}
	if added != 2 {
		t.Fatalf("expected 2 new reviews, got %d", added)
	}

	second := []models.Review{
		models.NewReview(models.ReviewFields{Username: str("Jane"), Comment: "Great, edited"}, str("101"), nil),
		models.NewReview(models.ReviewFields{Username: str("Sam"), Comment: "Loved it"}, nil, nil),
		models.NewReview(models.ReviewFields{Username: str("Omar"), Comment: "Spotless"}, str("103"), nil),
		models.NewReview(models.ReviewFields{Username: str("Omar"), Comment: "Spotless"}, str("103"), nil),
	}
	added, err = store.SaveReviews(2, "42", second)
	if err != nil {
		t.Fatalf("SaveReviews failed: %v", err)
	}
	if added != 1 {
		t.Fatalf("expected 1 new review, got %d", added)
	}

	count, err := store.ReviewCount("42")
	if err != nil || count != 3 {
		t.Fatalf("expected 3 stored reviews, got %d (%v)", count, err)
	}

	reviews, err := store.GetReviews("42")
	if err != nil {
		t.Fatalf("GetReviews failed: %v", err)
	}
	if reviews[0].Comment != "Great, edited" {
		t.Fatalf("expected latest text to win, got %q", reviews[0].Comment)
	}

	other, _ := store.ReviewCount("43")
	if other != 0 {
		t.Fatalf("reviews leaked across listings")
	}
}

func TestMarkInterruptedRuns(t *testing.T) {
	store := newTestStore(t)

	stuck := &models.HarvestRun{URL: "https://www.airbnb.com/rooms/1", ListingID: "1", StartedAt: time.Now()}
	done := &models.HarvestRun{URL: "https://www.airbnb.com/rooms/2", ListingID: "2", StartedAt: time.Now()}
	store.CreateRun(stuck)
	store.CreateRun(done)
	finished := time.Now()
	done.FinishedAt = &finished
	done.Status = models.RunStatusCompleted
	store.UpdateRun(done)

	n, err := store.MarkInterruptedRuns()
	if err != nil || n != 1 {
		t.Fatalf("expected 1 interrupted run, got %d (%v)", n, err)
	}

	got, _ := store.GetRun(stuck.ID)
	if got.Status != models.RunStatusFailed || got.ErrorMessage != "interrupted" {
		t.Fatalf("unexpected run %+v", got)
	}
	got, _ = store.GetRun(done.ID)
	if got.Status != models.RunStatusCompleted {
		t.Fatalf("completed run was touched: %+v", got)
	}
}

package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"review_scrooper/browser/browsertest"
	"review_scrooper/config"
	"review_scrooper/models"
	"review_scrooper/parser"
	"review_scrooper/storage"
	"review_scrooper/workers"
)

type testRig struct {
	orch     *Orchestrator
	store    *storage.SQLiteStore
	launcher *browsertest.Launcher
	dir      string
}

func newRig(t *testing.T, sess *browsertest.Session, listings ...string) *testRig {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewSQLiteStore(filepath.Join(dir, "reviews.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	artifacts, err := storage.NewArtifacts(dir, "", "")
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}

	site := config.DefaultSite()
	site.Listings = listings
	cfg := &config.Config{Site: site}

	launcher := &browsertest.Launcher{Session: sess}
	h := NewHarvester(launcher, parser.MustDefault(), testHarvesterConfig())

	return &testRig{
		orch:     NewOrchestrator(cfg, h, artifacts, store),
		store:    store,
		launcher: launcher,
		dir:      dir,
	}
}

func TestRunWritesArtifactAndHistory(t *testing.T) {
	rig := newRig(t, fixtureSession(t))
	url := "https://www.airbnb.com/rooms/12345/reviews"

	out, err := rig.orch.Run(context.Background(), url)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	run := out.Run
	if run.Status != models.RunStatusCompleted || run.ReviewsFound != 3 || run.ReviewsNew != 3 {
		t.Fatalf("unexpected run %+v", run)
	}
	wantPath := filepath.Join(rig.dir, "airbnb_reviews_12345.json")
	if run.OutputPath != wantPath {
		t.Fatalf("output path = %q, want %q", run.OutputPath, wantPath)
	}

	written, err := storage.ReadReviews(wantPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if len(written) != 3 || *written[0].Username != "Jane" {
		t.Fatalf("unexpected artifact contents %+v", written)
	}

	stored, err := rig.store.GetRun(run.ID)
	if err != nil || stored == nil || stored.Status != models.RunStatusCompleted || stored.FinishedAt == nil {
		t.Fatalf("run not persisted: %+v %v", stored, err)
	}

	logs, _ := rig.store.RunLogs(run.ID)
	if len(logs) < 2 {
		t.Fatalf("expected start and completion logs, got %+v", logs)
	}

	again, err := rig.orch.Run(context.Background(), url)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if again.Run.ReviewsNew != 0 {
		t.Fatalf("reharvest should find no new reviews, got %d", again.Run.ReviewsNew)
	}

	logs, _ = rig.store.RunLogs(again.Run.ID)
	found := false
	for _, l := range logs {
		if l.Message == "3 reviews stored for this listing" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing stored total in %+v", logs)
	}
}

func TestRunMarksPartial(t *testing.T) {
	sess := fixtureSession(t)
	sess.OuterHTMLErr = map[int]error{2: errors.New("detached")}
	rig := newRig(t, sess)

	out, err := rig.orch.Run(context.Background(), "https://www.airbnb.com/rooms/1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Run.Status != models.RunStatusPartial || out.Run.ReviewsFound != 2 {
		t.Fatalf("unexpected run %+v", out.Run)
	}
}

func TestRunWithoutReviewsWritesNoArtifact(t *testing.T) {
	rig := newRig(t, &browsertest.Session{})

	out, err := rig.orch.Run(context.Background(), "https://www.airbnb.com/rooms/77")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Run.Status != models.RunStatusCompleted || out.Run.ReviewsFound != 0 || out.Run.OutputPath != "" {
		t.Fatalf("unexpected run %+v", out.Run)
	}
	if _, err := os.Stat(filepath.Join(rig.dir, "airbnb_reviews_77.json")); !os.IsNotExist(err) {
		t.Fatalf("artifact written for an empty harvest: %v", err)
	}

	logs, _ := rig.store.RunLogs(out.Run.ID)
	found := false
	for _, l := range logs {
		if l.Level == models.LogLevelWarn && strings.Contains(l.Message, "No reviews extracted") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing empty-harvest warning in %+v", logs)
	}
}

func TestRunRecordsFailures(t *testing.T) {
	rig := newRig(t, &browsertest.Session{WaitErr: errors.New("selector missing")})

	out, err := rig.orch.Run(context.Background(), "https://www.airbnb.com/rooms/1")
	if !errors.Is(err, ErrPageNotLoaded) {
		t.Fatalf("expected ErrPageNotLoaded, got %v", err)
	}
	if out == nil || out.Run.Status != models.RunStatusFailed || out.Run.ErrorMessage == "" {
		t.Fatalf("failure not recorded: %+v", out)
	}
	stored, _ := rig.store.GetRun(out.Run.ID)
	if stored.Status != models.RunStatusFailed {
		t.Fatalf("stored status %s", stored.Status)
	}
}

func TestRunRecordsCancellation(t *testing.T) {
	rig := newRig(t, fixtureSession(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := rig.orch.Run(ctx, "https://www.airbnb.com/rooms/1")
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	stored, _ := rig.store.GetRun(out.Run.ID)
	if stored.Status != models.RunStatusCancelled || stored.FinishedAt == nil {
		t.Fatalf("cancellation not recorded: %+v", stored)
	}
}

func TestRunAllSkipsRemovedListings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rooms/2" {
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	rig := newRig(t, fixtureSession(t), srv.URL+"/rooms/1", srv.URL+"/rooms/2", srv.URL+"/rooms/3")
	rig.orch.SetChecker(workers.NewListingChecker(srv.Client()))

	if err := rig.orch.RunAll(context.Background()); err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	if rig.launcher.Opened != 2 {
		t.Fatalf("expected 2 harvests, got %d", rig.launcher.Opened)
	}

	runs, _ := rig.store.RecentRuns(10)
	seen := map[string]bool{}
	for _, r := range runs {
		seen[r.ListingID] = true
	}
	if !seen["1"] || seen["2"] || !seen["3"] {
		t.Fatalf("unexpected harvested listings %v", seen)
	}
}

func TestRunMirrorsImages(t *testing.T) {
	rig := newRig(t, fixtureSession(t))
	media := workers.NewMediaWorker(&http.Client{Transport: failingTransport{}}, workers.NewNoOpUploader())
	media.Delay = 0
	rig.orch.SetSinks(nil, workers.NewNoOpUploader(), media)

	out, err := rig.orch.Run(context.Background(), "https://www.airbnb.com/rooms/5")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Run.Status != models.RunStatusCompleted {
		t.Fatalf("sink failures must not fail the run: %+v", out.Run)
	}

	logs, _ := rig.store.RunLogs(out.Run.ID)
	warnings := 0
	for _, l := range logs {
		if l.Level == models.LogLevelWarn {
			warnings++
		}
	}
	// one per distinct image
	if warnings != 3 {
		t.Fatalf("expected 3 mirror warnings, got %d: %+v", warnings, logs)
	}
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("offline")
}

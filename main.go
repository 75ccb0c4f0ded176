package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"review_scrooper/browser"
	"review_scrooper/config"
	"review_scrooper/httputil"
	"review_scrooper/logging"
	"review_scrooper/models"
	"review_scrooper/parser"
	"review_scrooper/scheduler"
	"review_scrooper/scraper"
	"review_scrooper/storage"
	"review_scrooper/workers"
)

var version = "dev"

var (
	outputDir   string
	printResult bool
	showUI      bool
	proxyURL    string
	driver      string
	runsLimit   int
	watchNow    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "review_scrooper [URL]",
		Short:   "Harvest every guest review from an Airbnb listing",
		Version: version,
		Long: `review_scrooper opens a listing's reviews in a real browser, keeps loading
until the count stops growing, and writes the parsed reviews to
airbnb_reviews_<listing id>.json.`,
		Example: `  # Harvest one listing
  review_scrooper https://www.airbnb.com/rooms/12345/reviews

  # Watch the listings in config/site.yaml on HARVEST_CRON or HARVEST_INTERVAL
  review_scrooper watch

  # Show the last runs
  review_scrooper runs -n 5`,
		Args:         cobra.MaximumNArgs(1),
		RunE:         runHarvest,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVar(&showUI, "showui", false, "Show the browser window")
	rootCmd.PersistentFlags().StringVar(&proxyURL, "proxy", "", "Proxy URL for the browser and HTTP clients")
	rootCmd.PersistentFlags().StringVar(&driver, "driver", "", "Browser driver: playwright or rod")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for the review JSON file")
	rootCmd.Flags().BoolVarP(&printResult, "print", "p", false, "Print a summary of each review")

	watchCmd := &cobra.Command{
		Use:          "watch",
		Short:        "Re-harvest the configured listings on a schedule",
		Args:         cobra.NoArgs,
		RunE:         runWatch,
		SilenceUsage: true,
	}
	watchCmd.Flags().BoolVar(&watchNow, "now", false, "Harvest once immediately before waiting for the schedule")

	runsCmd := &cobra.Command{
		Use:          "runs",
		Short:        "List recent harvest runs",
		Args:         cobra.NoArgs,
		RunE:         runRuns,
		SilenceUsage: true,
	}
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 10, "Number of runs to show")

	reviewsCmd := &cobra.Command{
		Use:          "reviews LISTING_ID",
		Short:        "Print the stored reviews of a listing",
		Args:         cobra.ExactArgs(1),
		RunE:         runReviews,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(watchCmd, runsCmd, reviewsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds everything a command needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	store   *storage.SQLiteStore
	pgStore *storage.PostgresStore
	orch    *scraper.Orchestrator
	clients *httputil.Clients
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func setup(ctx context.Context) (*app, error) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg)

	a := &app{cfg: cfg}

	logFile, err := logging.Setup(cfg.LogPath, logging.DefaultMaxSize)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		a.closers = append(a.closers, func() { logFile.Close() })
	}

	log.Printf("Site: %s (%s), driver: %s", cfg.Site.Name, cfg.Site.ID, cfg.Browser.Driver)
	if cfg.Browser.ProxyURL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.Browser.ProxyURL))
	}

	a.store, err = storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open SQLite: %w", err)
	}
	a.closers = append(a.closers, func() { a.store.Close() })
	log.Printf("SQLite database: %s", cfg.Storage.DBPath)

	p, err := parser.New(cfg.Site.Patterns.ParserPatterns())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("compile patterns: %w", err)
	}

	artifacts, err := storage.NewArtifacts(cfg.OutputDir, cfg.Site.OutputPrefix, cfg.Site.ListingIDPattern)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("output: %w", err)
	}

	launcher := browser.NewLauncher(cfg.Browser.Driver, browser.Options{
		Headless:  cfg.Browser.Headless,
		ProxyURL:  cfg.Browser.ProxyURL,
		UserAgent: cfg.Browser.UserAgent,
	})
	harvester := scraper.NewHarvester(launcher, p, scraper.HarvesterConfigFrom(cfg))
	a.orch = scraper.NewOrchestrator(cfg, harvester, artifacts, a.store)
	a.clients = httputil.NewClients(cfg.Browser.ProxyURL)

	if err := a.wireSinks(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.orch.MarkInterrupted()
	return a, nil
}

func applyFlags(cfg *config.Config) {
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if showUI {
		cfg.Browser.Headless = false
	}
	if proxyURL != "" {
		cfg.Browser.ProxyURL = proxyURL
	}
	if driver != "" {
		cfg.Browser.Driver = driver
	}
}

// wireSinks connects the optional Postgres, S3 and media mirror sinks.
func (a *app) wireSinks(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Storage.PostgresURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect to Postgres: %w", err)
		}
		a.pgStore = pgStore
		a.closers = append(a.closers, pgStore.Close)
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Storage.PostgresURL))
	}

	var uploader workers.Uploader
	if cfg.S3.Enabled() {
		s3Uploader, err := storage.NewS3Uploader(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("init S3: %w", err)
		}
		uploader = s3Uploader
		log.Printf("S3 bucket: %s", cfg.S3.Bucket)
	}

	var media *workers.MediaWorker
	if cfg.MirrorImages {
		if uploader == nil {
			log.Println("Warning: MIRROR_IMAGES is set but S3 is not configured, images will not be mirrored")
		} else {
			media = workers.NewMediaWorker(a.clients.Media, uploader)
		}
	}

	a.orch.SetSinks(a.pgStore, uploader, media)
	return nil
}

func runHarvest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	url := ""
	if len(args) == 1 {
		url = args[0]
	} else {
		var err error
		if url, err = promptURL(); err != nil {
			return err
		}
	}

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.orch.Run(ctx, url)
	if err != nil {
		if errors.Is(err, scraper.ErrCancelled) {
			log.Println("Harvest cancelled")
		}
		return err
	}

	if printResult {
		printReviews(cmd, out.Reviews)
	}
	if out.Run.OutputPath == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "No reviews extracted.")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d reviews (%s) written to %s\n",
		out.Run.ReviewsFound, out.Run.Status, out.Run.OutputPath)
	return nil
}

func promptURL() (string, error) {
	fmt.Print("Listing URL: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read URL: %w", err)
	}
	url := strings.TrimSpace(line)
	if url == "" {
		return "", errors.New("no URL given")
	}
	return url, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	log.Printf("Watching %d listings", len(a.cfg.Site.Listings))
	for _, l := range a.cfg.Site.Listings {
		log.Printf("  - %s", l)
	}

	a.orch.SetChecker(workers.NewListingChecker(a.clients.Check))

	sched := scheduler.New(a.cfg.Scheduler, a.orch)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	if watchNow {
		go sched.TriggerNow(ctx)
	}

	log.Println("Watching. Press Ctrl+C to stop.")
	<-ctx.Done()

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
	return nil
}

func openStore() (*storage.SQLiteStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open SQLite: %w", err)
	}
	return store, nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.RecentRuns(runsLimit)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs yet")
		return nil
	}

	totals := map[string]int{}
	for _, r := range runs {
		fmt.Fprintf(w, "#%-4d %s  %-9s  %-12s  %4d reviews (%d new)  %s\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04"), r.Status, r.ListingID,
			r.ReviewsFound, r.ReviewsNew, r.Duration().Round(time.Second))
		if r.ErrorMessage != "" {
			fmt.Fprintf(w, "      %s\n", r.ErrorMessage)
		}
		if _, seen := totals[r.ListingID]; !seen {
			n, err := store.ReviewCount(r.ListingID)
			if err != nil {
				return err
			}
			totals[r.ListingID] = n
		}
	}

	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintln(w, "\nStored reviews:")
	for _, id := range ids {
		fmt.Fprintf(w, "  %-12s %d\n", id, totals[id])
	}
	return nil
}

func runReviews(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	reviews, err := store.GetReviews(args[0])
	if err != nil {
		return err
	}
	if len(reviews) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No reviews stored for %s\n", args[0])
		return nil
	}
	printReviews(cmd, reviews)
	return nil
}

func printReviews(cmd *cobra.Command, reviews []models.Review) {
	w := cmd.OutOrStdout()
	for i, r := range reviews {
		fmt.Fprintf(w, "[%d] %s (%s) %s %s\n", i+1,
			orDash(r.Username), orDash(r.TimeInAirbnb), orDash(r.Rating), orDash(r.PostTime))
		fmt.Fprintf(w, "    %s\n", r.Comment)
		if r.Response != nil {
			fmt.Fprintf(w, "    response: %s\n", *r.Response)
		}
		if len(r.Images) > 0 {
			fmt.Fprintf(w, "    images: %s\n", strings.Join(r.Images, ", "))
		}
	}
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

// maskConnectionString masks the password in a connection string for logging
func maskConnectionString(connStr string) string {
	start := strings.Index(connStr, "://")
	if start < 0 {
		return connStr
	}
	start += 3

	atIdx := strings.Index(connStr[start:], "@")
	if atIdx < 0 {
		return connStr
	}
	atIdx += start

	colonIdx := strings.Index(connStr[start:atIdx], ":")
	if colonIdx < 0 {
		return connStr
	}
	colonIdx += start

	return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
}

package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/crosswatch-data/crossing.report/internal/api"
	"github.com/crosswatch-data/crossing.report/internal/config"
	"github.com/crosswatch-data/crossing.report/internal/counter"
	"github.com/crosswatch-data/crossing.report/internal/db"
	"github.com/crosswatch-data/crossing.report/internal/feed"
	"github.com/crosswatch-data/crossing.report/internal/monitoring"
	"github.com/crosswatch-data/crossing.report/internal/units"
	"github.com/crosswatch-data/crossing.report/internal/version"
)

var (
	listen     = flag.String("listen", ":8080", "Listen address")
	dbFile     = flag.String("db", "crossings.db", "Path to the sqlite database")
	input      = flag.String("input", "-", "JSONL observation feed ('-' for stdin)")
	configFile = flag.String("config", "", "Path to the counting config JSON file")
	devMode    = flag.Bool("dev", false, "Run in dev mode (replay the feed without rate limiting)")
)

// progressEvery is the frame interval for progress log lines.
const progressEvery = 300

func main() {
	flag.Parse()

	// Optional .env for local overrides; absence is fine.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		monitoring.Logf("failed to load .env: %v", err)
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	monitoring.Logf("crossing.report %s", version.String())

	cfg := &config.CountingConfig{}
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	engine, err := counter.NewEngine(cfg.EngineConfig())
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}

	source, err := feed.Open(*input)
	if err != nil {
		log.Fatalf("failed to open feed %q: %v", *input, err)
	}
	defer source.Close()

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	runID, err := database.CreateRun(*input, engine.Line())
	if err != nil {
		log.Fatalf("failed to create run: %v", err)
	}
	monitoring.Logf("run %s started: input=%s line=%+v", runID, *input, engine.Line())

	server := api.NewServer(api.NewStatusStore(), database)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Feed processing goroutine. The engine is single-threaded; all reads go
	// through snapshots published to the server after each frame.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := processFeed(ctx, engine, source, database, server, runID); err != nil {
			monitoring.Logf("feed processing stopped: %v", err)
		}

		stats := engine.Stats()
		level := units.LevelFor(stats.PerMinute)
		if err := database.FinishRun(runID, stats, level); err != nil {
			monitoring.Logf("failed to finish run %s: %v", runID, err)
		}
		monitoring.Logf("run %s finished: enter=%d exit=%d frames=%d rejected=%d rate=%.1f/min traffic=%s",
			runID, stats.Counts.Enter, stats.Counts.Exit, stats.FramesProcessed,
			stats.RejectedObservations, stats.PerMinute, level)
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// admin debugging routes (tailSQL, backups)
		database.AttachAdminRoutes(mux)

		apiMux := server.ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			monitoring.Logf("listening on %s", *listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		monitoring.Logf("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
		}
		monitoring.Logf("HTTP server routine stopped")
	}()

	wg.Wait()
	monitoring.Logf("graceful shutdown complete")
}

// processFeed drains the observation source through the engine, persisting
// credited crossings and publishing a snapshot after every frame. Returns nil
// when the source is exhausted.
func processFeed(ctx context.Context, engine *counter.Engine, source feed.Source,
	database *db.DB, server *api.Server, runID string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := source.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		summary := engine.ProcessFrame(frame.Index, frame.Observations)
		for _, ev := range summary.Crossings {
			if err := database.RecordCrossing(runID, ev); err != nil {
				monitoring.Logf("failed to record crossing for track %d: %v", ev.TrackID, err)
			}
		}

		stats := engine.Stats()
		server.Publish(api.Snapshot{
			RunID:        runID,
			Line:         engine.Line(),
			Counts:       summary.Counts,
			Stats:        stats,
			Frame:        summary,
			TrafficLevel: units.LevelFor(stats.PerMinute),
		})

		if frame.Index%progressEvery == 0 {
			monitoring.Logf("frame %d: enter=%d exit=%d active=%d rejected=%d",
				frame.Index, summary.Counts.Enter, summary.Counts.Exit,
				stats.ActiveTracks, stats.RejectedObservations)
		}

		// Pace replay roughly at video rate unless running in dev mode.
		if !*devMode {
			time.Sleep(33 * time.Millisecond)
		}
	}
}

// Command turbidity runs the formulation-analysis service: an HTTP API over
// the batch pipeline with a SQLite store for run history and per-image
// results.
//
// The 'migrate' subcommand manages the database schema:
//
//	turbidity -db turbidity.db migrate up
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/formulab-data/turbidity.report/internal/api"
	"github.com/formulab-data/turbidity.report/internal/config"
	"github.com/formulab-data/turbidity.report/internal/fsutil"
	"github.com/formulab-data/turbidity.report/internal/report"
	"github.com/formulab-data/turbidity.report/internal/store"
	"github.com/formulab-data/turbidity.report/internal/turbidity"
	"github.com/formulab-data/turbidity.report/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	dbFile        = flag.String("db", "turbidity.db", "Path to the results database")
	configFile    = flag.String("config", "", "Path to an analysis config JSON file (optional)")
	migrationsDir = flag.String("migrations", "internal/store/migrations", "Path to the migration files")
	autoMigrate   = flag.Bool("auto-migrate", false, "Apply pending schema migrations on startup")
)

func main() {
	flag.Parse()

	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		store.RunMigrateCommand(args[1:], *dbFile, *migrationsDir)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.EmptyAnalysisConfig()
	if *configFile != "" {
		loaded, err := config.LoadAnalysisConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", *configFile, err)
		}
		cfg = loaded
	}

	st, err := store.NewStoreWithMigrationCheck(*dbFile, *migrationsDir, *autoMigrate)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	osfs := fsutil.OSFileSystem{}
	analyzer := &turbidity.Analyzer{
		FS:       osfs,
		Renderer: report.New(osfs, cfg.GetOutputDir()),
	}
	runner := turbidity.NewRunner(analyzer, st, nil)

	log.Printf("turbidity %s listening on %s (db %s)", version.String(), *listen, *dbFile)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(runner, st, cfg, osfs).ServeMux()
		st.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

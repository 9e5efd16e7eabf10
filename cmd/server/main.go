/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the clinic reconciliation server: configuration,
  store wiring, startup healing, the scheduled retention sweep, and
  graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env, parse command-line flags (flags win)
  2. Open the SQLite store
  3. Run the integrity heal passes (packages, balance history)
  4. Optionally run the retention sweep immediately
  5. Schedule the daily sweep at 03:00 local
  6. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, env PORT)
  -db      SQLite database path (default: clinic.db, env DB_PATH)
           Use ":memory:" for an in-memory database

ENVIRONMENT (.env):
  PORT            HTTP server port
  DB_PATH         SQLite database path
  SWEEP_ON_START  "true" runs the retention sweep at startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, wait up to 30s for active
  requests, stop the scheduler, close the database.

SEE ALSO:
  - api/server.go: router configuration
  - daybook/service.go: the service behind every endpoint
  - store/sqlite/sqlite.go: database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/joho/godotenv"

	"github.com/sereno/clinic-ledger/api"
	"github.com/sereno/clinic-ledger/daybook"
	"github.com/sereno/clinic-ledger/store/sqlite"
)

func main() {
	// .env is optional; flags override whatever it sets.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envString("DB_PATH", "clinic.db"), "SQLite database path")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	service := daybook.New(store)

	// Repair anomalies left by crashes or older versions before serving.
	if err := service.Heal(context.Background()); err != nil {
		log.Printf("Warning: startup heal failed: %v", err)
	}

	if os.Getenv("SWEEP_ON_START") == "true" {
		if purged, err := service.Sweep(context.Background()); err != nil {
			log.Printf("Warning: startup sweep failed: %v", err)
		} else if purged > 0 {
			log.Printf("Startup sweep purged %d old day(s)", purged)
		}
	}

	// Daily retention sweep, off-hours.
	scheduler := gocron.NewScheduler(time.Local)
	if _, err := scheduler.Every(1).Day().At("03:00").Do(func() {
		if _, err := service.Sweep(context.Background()); err != nil {
			log.Printf("Scheduled sweep failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("Failed to schedule retention sweep: %v", err)
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	router := api.NewRouter(api.NewHandler(service))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

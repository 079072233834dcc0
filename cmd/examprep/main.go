package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/mind-engage/examprep/internal/api/http"
	"github.com/mind-engage/examprep/internal/apiservice"
	auth "github.com/mind-engage/examprep/internal/auth/middleware"
	"github.com/mind-engage/examprep/internal/config"
	"github.com/mind-engage/examprep/internal/db"
	"github.com/mind-engage/examprep/internal/journal"
	"github.com/mind-engage/examprep/internal/metrics"
	"github.com/mind-engage/examprep/internal/session"
	"github.com/mind-engage/examprep/internal/storage"
)

func main() {
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	defer dbh.Close()
	repo := journal.NewRepo(dbh)

	// --- Images ---
	signer, err := storage.New(ctx, cfg)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	// --- Sessions ---
	hub := api.NewHub()
	rec := metrics.New()
	mgr := session.NewManager(session.ManagerConfig{
		Session:     session.Config{AutosaveInterval: cfg.AutosaveInterval},
		SaveWorkers: cfg.SaveWorkers,
		Retention:   cfg.SessionRetention,
	}, session.Deps{
		Backend: apiservice.New(apiservice.Config{
			BaseURL:   cfg.APIBaseURL,
			Timeout:   cfg.APITimeout,
			UserAgent: "examprep-runner",
		}),
		Sink:     hub,
		Observer: session.Observers{journal.NewObserver(repo), rec},
		Signer:   signer,
	})

	deps := api.RouterDeps{
		Manager:     mgr,
		Hub:         hub,
		Auth:        auth.NewAuthService(cfg.AuthHMACSecret),
		Journal:     repo,
		Metrics:     rec.Handler(),
		CORSOrigins: cfg.CORSOrigins(),
		Ready:       dbh.PingContext,
	}
	if fs, ok := signer.(*storage.FSStore); ok {
		deps.Assets, deps.AssetPrefix = fs.Handler(), cfg.AssetBaseURL
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on %s (mode=%s, db=%s, api=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver, cfg.APIBaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := mgr.Shutdown(shutCtx); err != nil {
		log.Printf("session shutdown: %v", err)
	}
	log.Printf("bye")
}

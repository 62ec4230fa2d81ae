package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/text/language"

	"github.com/feedward/feedward/app/api"
	"github.com/feedward/feedward/app/cfg"
	"github.com/feedward/feedward/app/database"
	"github.com/feedward/feedward/app/dateclaim"
	"github.com/feedward/feedward/app/export"
	"github.com/feedward/feedward/app/feed"
	"github.com/feedward/feedward/app/harvest"
	"github.com/feedward/feedward/app/subscription"
	"github.com/feedward/feedward/app/tasks"
	"github.com/feedward/feedward/app/webfeed"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Feedward", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	feedRepo := database.NewFeedRepository(db)
	articleRepo := database.NewArticleRepository(db)
	exporterRepo := database.NewExporterRepository(db)

	// Materialize declared subscriptions before anything is scheduled.
	loader := subscription.NewLoader(appCfg.FeedsDir)
	subscriptions, err := loader.LoadAll()
	if err != nil {
		slog.Error("Failed to load subscriptions", "dir", appCfg.FeedsDir, "error", err)
		os.Exit(1)
	}
	registrar := subscription.NewRegistrar(feedRepo, exporterRepo)
	created, err := registrar.RegisterAll(subscriptions)
	if err != nil {
		slog.Error("Failed to register subscriptions", "error", err)
		os.Exit(1)
	}
	slog.Info("Subscriptions registered", "loaded", len(subscriptions), "created", created)

	locale, err := language.Parse(appCfg.DefaultLocale)
	if err != nil {
		slog.Warn("Invalid default locale, falling back to English", "locale", appCfg.DefaultLocale)
		locale = language.English
	}
	claimer := dateclaim.NewClaimer(locale)
	recoverer := database.NewPublishedAtRecoverer(articleRepo)
	transformer := webfeed.NewTransformer(claimer, recoverer)
	parser := feed.NewParser()

	fetcher := harvest.NewFetcher(harvest.FetcherOptions{
		ConnectTimeout: time.Duration(appCfg.FetchConnectTimeout) * time.Second,
		TTL:            time.Duration(appCfg.FetchTimeout) * time.Second,
		MaxRedirects:   appCfg.MaxRedirects,
		UserAgent:      appCfg.UserAgent,
		PrerenderURL:   appCfg.PrerenderUrl,
	})

	fanout := export.NewFanout(articleRepo)
	harvester := harvest.NewHarvester(fetcher, parser, transformer, feedRepo, articleRepo, fanout,
		harvest.Options{
			HarvestInterval:      time.Duration(appCfg.HarvestInterval) * time.Second,
			MaxBackoff:           time.Duration(appCfg.MaxBackoff) * time.Second,
			DisableThreshold:     appCfg.DisableThreshold,
			MaxArticlesPerStream: appCfg.MaxArticlesPerStream,
		})

	renderCache := export.NewRenderCache()
	dueScheduler := export.NewDueScheduler(exporterRepo, articleRepo, renderCache)

	slog.Info("Starting background scheduler", "workers", appCfg.WorkerCount)
	scheduler := tasks.NewScheduler(harvester, dueScheduler, feedRepo)
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(feedRepo, articleRepo, exporterRepo, renderCache,
		fetcher, transformer, harvester, scheduler)
	server := api.NewServer(handler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Scheduler is stopped via defer
	slog.Info("Shutdown complete")
}

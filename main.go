package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"

	"xtream-resolver/work/cache"
	"xtream-resolver/work/client"
	"xtream-resolver/work/config"
	"xtream-resolver/work/database"
	"xtream-resolver/work/filter"
	"xtream-resolver/work/handlers"
	"xtream-resolver/work/logger"
	"xtream-resolver/work/playback"
	"xtream-resolver/work/resolver"
	"xtream-resolver/work/xtream"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {
	exampleConfig := flag.String("example-config", "", "write an example config file to this path and exit")
	flag.Parse()

	if *exampleConfig != "" {
		if err := config.CreateExampleConfig(*exampleConfig); err != nil {
			log.Fatalf("Failed to write example config: %v", err)
		}
		fmt.Printf("Example config written to %s\n", *exampleConfig)
		return
	}

	// load our config
	cfg := config.LoadConfig()
	logger.SetLogLevel(cfg.LogLevel)

	// open the library database
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.EnableSealing(cfg.StorageSecret); err != nil {
		log.Fatalf("Failed to set up credential sealing: %v", err)
	}

	// catalog filters
	catalogFilter, err := filter.Compile(cfg.Catalog)
	if err != nil {
		log.Fatalf("Invalid catalog filter: %v", err)
	}

	// Initialize HTTP client
	httpClient := client.NewHeaderSettingClient(cfg)

	// Initialize worker pool
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	portPolicy := resolver.PortPolicy{
		Mode:        resolver.PortMode(cfg.Resolver.PortPolicy),
		DefaultPort: cfg.Resolver.DefaultPort,
		Hosts:       cfg.Resolver.PortHosts,
	}

	// the resolver and its prober
	prober := resolver.NewHTTPProber(httpClient, resolver.ProbeOptions{
		Timeout:           cfg.Probe.Timeout,
		RatePerSecond:     cfg.Probe.RatePerSecond,
		ValidatePlaylists: cfg.Probe.ValidatePlaylists,
		ObfuscateURLs:     cfg.ObfuscateUrls,
	})
	streamResolver := resolver.New(resolver.Options{
		Prober:        prober,
		ProbeEnabled:  cfg.Probe.Enabled,
		PreferHint:    cfg.Resolver.PreferHint,
		PortPolicy:    portPolicy,
		MaxRetries:    cfg.Resolver.MaxRetries,
		ObfuscateURLs: cfg.ObfuscateUrls,
	})

	// panel API client
	panel := xtream.New(httpClient, xtream.Options{
		RatePerSecond: cfg.APIRateLimit,
		Timeout:       cfg.RequestTimeout,
		PortPolicy:    portPolicy,
		ObfuscateURLs: cfg.ObfuscateUrls,
	})

	resolveCache := cache.NewResolveCache(cfg.Cache.Enabled, cfg.Cache.MaxSize, cfg.Cache.Duration)
	tracker := playback.NewTracker(streamResolver, resolveCache, db)

	api := handlers.New(handlers.Options{
		DB:           db,
		Panel:        panel,
		Resolver:     streamResolver,
		Tracker:      tracker,
		ResolveCache: resolveCache,
		Filter:       catalogFilter,
		Pool:         workerPool,
		CatalogTTL:   cfg.Cache.Duration,
	})

	// Setup HTTP routes
	router := mux.NewRouter()
	api.Routes(router)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// show info
	logger.Info("Starting Xtream Resolver %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Listen Address: %s", cfg.ListenAddr)
	logger.Info("  - Database: %s", cfg.DatabasePath)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Max. Retries: %d", cfg.Resolver.MaxRetries)
	logger.Info("  - Port Policy: %s (default port %d)", portPolicy.Mode, cfg.Resolver.DefaultPort)
	logger.Info("  - Probing Enabled: %v", cfg.Probe.Enabled)
	logger.Info("  - Probe Timeout: %s", cfg.Probe.Timeout)
	logger.Info("  - Cache Enabled: %v", cfg.Cache.Enabled)
	logger.Info("  - Cache Duration: %s", cfg.Cache.Duration)
	logger.Info("  - Panel Rate Limit: %d/s", cfg.APIRateLimit)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// SIGHUP re-reads the log level from the config file
	go func() {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		for range hup {
			config.ClearConfigCache()
			reloaded := config.LoadConfig()
			logger.SetLogLevel(reloaded.LogLevel)
			logger.Info("Configuration reloaded, log level %s", logger.GetLogLevel())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// fire us up
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	tracker.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed: %v", err)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"card-reward-advisor/internal/cache"
	"card-reward-advisor/internal/config"
	"card-reward-advisor/internal/database"
	"card-reward-advisor/internal/events"
	"card-reward-advisor/internal/features"
	"card-reward-advisor/internal/handler"
	"card-reward-advisor/internal/insight"
	"card-reward-advisor/internal/middleware"
	"card-reward-advisor/internal/provider"
	"card-reward-advisor/internal/service"
	"card-reward-advisor/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "Optional JSON config file path")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize database
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Initialize tracing
	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
	}); err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracing: %v", err)
		}
	}()

	// Initialize response cache
	var responseCache cache.Cache
	if cfg.Cache.Enabled {
		if cfg.Cache.RedisAddr != "" {
			redisCache, err := cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
			if err != nil {
				log.Printf("Redis unavailable, falling back to in-memory cache: %v", err)
				responseCache = cache.NewInMemoryCache()
			} else {
				defer redisCache.Close()
				responseCache = redisCache
			}
		} else {
			responseCache = cache.NewInMemoryCache()
		}
	}

	// Feature flags
	flags := features.NewManager()
	flags.Register(features.FeatureCacheEnabled, cfg.Cache.Enabled, "Cache recommendation responses")
	flags.Register(features.FeatureInsightsEnabled, cfg.Insight.Enabled, "Attach community insights and LLM summaries")
	flags.Register(features.FeatureEventHooksEnabled, true, "Publish domain events")
	flags.Register(features.FeatureSplitStrategy, true, "Allow multi-card split suggestions")

	eventManager := events.NewManager(flags.IsEnabled(features.FeatureEventHooksEnabled))
	defer eventManager.Shutdown()

	// Offer sources
	var sources []provider.Source
	if cfg.Refresh.BankOffersPath != "" {
		sources = append(sources, provider.NewJSONFileSource("bank", cfg.Refresh.BankOffersPath))
	}
	if cfg.Refresh.SocialOffersPath != "" {
		sources = append(sources, provider.NewJSONFileSource("social", cfg.Refresh.SocialOffersPath))
	}

	var refresher *provider.Refresher
	if len(sources) > 0 {
		refresher = provider.NewRefresher(db, sources)
		daemon, err := refresher.StartDaemon(context.Background(), cfg.Refresh.CronSpec)
		if err != nil {
			log.Fatalf("Failed to start offer refresh daemon: %v", err)
		}
		defer daemon.Stop()
	}

	// Insight collaborators
	insightTimeout := time.Duration(cfg.Insight.TimeoutSeconds) * time.Second
	var scanner *insight.Scanner
	var refiner *insight.Refiner
	if cfg.Insight.Enabled {
		scanner = insight.NewScanner(insightTimeout)
		refiner = insight.NewRefiner(cfg.Insight.OllamaEndpoint, cfg.Insight.OllamaModel, insightTimeout)
	}

	// Initialize service
	svc := service.NewService(db, service.Options{
		Refresher: refresher,
		Scanner:   scanner,
		Refiner:   refiner,
		Cache:     responseCache,
		CacheTTL:  time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		Features:  flags,
		Events:    eventManager,
	})

	// Initialize handlers
	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
	})

	// Initialize rate limiter
	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware())

	if rateLimiter != nil {
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.Security.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Routes
	r.Route("/cards", func(r chi.Router) {
		r.Post("/", h.SyncCards)
		r.Get("/", h.GetCards)
		r.Delete("/{card_id}", h.DeleteCard)
	})

	r.Route("/offers", func(r chi.Router) {
		r.Get("/", h.GetOffers)
		r.Post("/refresh", h.RefreshOffers)
	})

	r.Post("/expenses", h.RecordExpense)
	r.Post("/recommend", h.Recommend)

	r.Handle("/metrics", promhttp.Handler())

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Printf("Database: %s", cfg.Database.Path)
	log.Printf("Offer sources: %d", len(sources))

	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down server: %v", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}

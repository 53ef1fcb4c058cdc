package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/BeiningSAN/market-panic-server/internal/config"
	"github.com/BeiningSAN/market-panic-server/internal/game"
	"github.com/BeiningSAN/market-panic-server/internal/metrics"
	"github.com/BeiningSAN/market-panic-server/internal/scenario"
	"github.com/BeiningSAN/market-panic-server/internal/session"
	"github.com/BeiningSAN/market-panic-server/internal/store"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		slog.Warn("unknown LOG_LEVEL, using info", "value", cfg.LogLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	fmt.Println("market-panic-server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- Journal ---
	journal, cleanup, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// --- Scenarios ---
	table, err := loadScenarios(cfg.ScenarioFile)
	if err != nil {
		return err
	}
	slog.Info("scenarios loaded", "count", table.Len(), "file", cfg.ScenarioFile)

	// --- Session ---
	state, err := session.New(session.Config{
		InitialBalance: cfg.InitialBalance,
		InitialPrice:   cfg.InitialPrice,
	}, table)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	writer := game.NewJournalWriter(journal, game.DefaultJournalBuffer)
	wsHub := game.NewWSHub()
	svc := game.NewService(state, table, wsHub, journal, writer)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for browser clients on other origins.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// Long-lived socket; kept out of the timeout group below.
	r.Get("/ws", wsHub.Serve(svc))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok","service":"market-panic-server"}`))
		})

		// Prometheus metrics endpoint.
		r.Handle("/metrics", metrics.Handler())

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/session", svc.GetSession)
			r.Get("/scenarios", svc.ListScenarios)
			r.Get("/sessions/{sessionID}/news", svc.GetNewsHistory)
			r.Get("/sessions/{sessionID}/settlements", svc.GetSettlements)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		writer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("market-panic-server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		slog.Info("shutting down market-panic-server...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// openJournal picks PostgreSQL (optionally behind Redis) when DATABASE_URL
// is set and an in-memory journal otherwise.
func openJournal(ctx context.Context, cfg *config.Config) (store.Journal, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for _, fn := range cleanup {
			fn()
		}
	}

	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory journal (history will not persist)")
		return store.NewMemoryStore(), closeAll, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)

	pg := store.NewPostgresStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		closeAll()
		return nil, nil, err
	}
	slog.Info("connected to PostgreSQL")

	var journal store.Journal = pg
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		journal = store.NewCachedStore(pg, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}
	return journal, closeAll, nil
}

func loadScenarios(path string) (*scenario.Table, error) {
	entries := scenario.Default()
	if path != "" {
		var err error
		if entries, err = scenario.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return scenario.NewTable(entries, nil)
}

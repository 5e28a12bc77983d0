package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/neelesh18904/CryptoProject/internal/api"
	"github.com/neelesh18904/CryptoProject/internal/auth"
	"github.com/neelesh18904/CryptoProject/internal/config"
	"github.com/neelesh18904/CryptoProject/internal/docstore"
	"github.com/neelesh18904/CryptoProject/internal/market"
	"github.com/neelesh18904/CryptoProject/internal/session"
	"github.com/neelesh18904/CryptoProject/internal/watchlist"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	// --- Initialize document store ---
	var docs docstore.Store
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := docstore.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
		docs = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Store.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Store.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			cached := docstore.NewCachedStore(pg, rdb, cfg.Store.CacheTTL)
			docs = cached
			g.Go(func() error { return cached.Listen(gctx) })
			slog.Info("Redis cache enabled")
		} else {
			g.Go(func() error { return pg.Listen(gctx) })
		}
	default:
		slog.Warn("using in-memory document store (data will not persist)")
		docs = docstore.NewMemoryStore()
	}

	// --- Identity provider ---
	var newProvider func() auth.Provider
	switch cfg.Auth.Provider {
	case "identitytoolkit":
		client := auth.NewToolkitClient(auth.ToolkitConfig{
			BaseURL:     cfg.Auth.BaseURL,
			APIKey:      cfg.Auth.APIKey,
			CallbackURL: cfg.Auth.CallbackURL,
			Timeout:     cfg.Auth.Timeout,
		})
		newProvider = func() auth.Provider { return client.NewProvider() }
		slog.Info("using Identity Toolkit auth")
	default:
		dir := auth.NewMemoryDirectory(cfg.Auth.AuthorizedDomains...)
		opts := []auth.MemoryOption{auth.WithDomain(cfg.Auth.Domain)}
		if cfg.Auth.PopupsBlocked {
			opts = append(opts, auth.WithPopupsBlocked())
		}
		newProvider = func() auth.Provider { return auth.NewMemoryProvider(dir, opts...) }
		slog.Warn("using in-memory auth directory (accounts will not persist)")
	}

	// --- Sessions ---
	fetcher := market.NewFetcher(market.Config{
		BaseURL: cfg.Market.BaseURL,
		Timeout: cfg.Market.Timeout,
		PerPage: cfg.Market.PerPage,
	})
	watchlists := watchlist.NewStore(docs)

	registry := api.NewRegistry(gctx, func() *session.Context {
		return session.New(session.Config{
			Fetcher:         fetcher,
			Watchlist:       watchlists,
			Provider:        newProvider(),
			DefaultCurrency: cfg.Session.DefaultCurrency,
			AlertTimeout:    cfg.Session.AlertTimeout,
		})
	}, cfg.Session.IdleTimeout)
	cleanup = append(cleanup, registry.Close)
	g.Go(func() error { return registry.RunReaper(gctx, cfg.Session.ReapInterval) })

	// --- WebSocket hub ---
	hub := api.NewWSHub()
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	svc := api.NewService(registry, hub, api.Options{
		CookieName:     cfg.Session.CookieName,
		CookieSecure:   cfg.Session.CookieSecure,
		CallbackURL:    cfg.Auth.CallbackURL,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      api.NewRouter(svc, cfg.Server.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	g.Go(func() error {
		slog.Info("crypto-tracker listening", "port", cfg.Server.Port)
		return api.Serve(gctx, srv, cfg.Server.ShutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
	}
	fmt.Println("crypto-tracker stopped")
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	server "dna_property_hub/internal/adapters/http_server"
	"dna_property_hub/internal/adapters/observability"
	redisad "dna_property_hub/internal/adapters/redis"
	"dna_property_hub/internal/app"
	"dna_property_hub/internal/shared"
	mysqlrepo "dna_property_hub/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogFile)

	policy, err := app.ParseSinglePolicy(cfg.SingleValuePolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid SINGLE_VALUE_POLICY")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	if cfg.AutoMigrate {
		if err := mysqlrepo.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
	}

	// deps
	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err := cache.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("redis unreachable, reads will go to the database")
	}

	var limiter *rate.Limiter
	if cfg.AdminRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.AdminRPS), cfg.AdminRPS)
	}

	h := &server.Handlers{
		Taxonomy:   app.NewTaxonomyService(repo, cache),
		Facets:     app.NewFacetService(repo, cache, cfg.CacheTTL, cfg.FacetCacheTTL),
		Attach:     app.NewAttachmentService(repo, cache, policy),
		JWTSecret:  []byte(cfg.JWTSecret),
		AdminLimit: limiter,
	}

	// http
	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(h)
	observability.Serve(cfg.MetricsAddr, reg)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Str("single_value_policy", string(policy)).Msg("API listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server failed")
	}
	log.Info().Msg("API stopped")
}

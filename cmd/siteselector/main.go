package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/globalscale/siteselector/pkg/apptoken"
	"github.com/globalscale/siteselector/pkg/config"
	"github.com/globalscale/siteselector/pkg/directory"
	"github.com/globalscale/siteselector/pkg/discovery"
	"github.com/globalscale/siteselector/pkg/httpapi"
	"github.com/globalscale/siteselector/pkg/httputil"
	"github.com/globalscale/siteselector/pkg/identity"
	"github.com/globalscale/siteselector/pkg/lookup"
	"github.com/globalscale/siteselector/pkg/master"
	"github.com/globalscale/siteselector/pkg/observability"
	"github.com/globalscale/siteselector/pkg/slave"
	"github.com/globalscale/siteselector/pkg/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger("info").WithError(err).Fatal("invalid configuration")
	}

	log := observability.NewLogger(cfg.LogLevel)
	log.WithField("mode", cfg.Federation.Mode).Info("starting site selector")

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	httpClient := httputil.NewClient(cfg.HTTPClient.ConnectTimeout,
		cfg.HTTPClient.RequestTimeout, cfg.Federation.AllowSelfSigned)
	tokens := token.NewService(cfg.Federation.JWTSecret)
	lookupClient := lookup.New(cfg.Federation.LookupURL, cfg.Federation.JWTSecret,
		cfg.Federation.UsernameFormat, httpClient, metrics, log)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	var (
		db          *sql.DB
		redisClient *redis.Client
		sessions    *directory.SessionStore
		masterSide  *master.Master
		slaveSide   *slave.Slave
	)

	if cfg.IsMaster() {
		discoveryModule, err := discovery.New(cfg.Discovery, httpClient, log)
		if err != nil {
			log.WithError(err).Fatal("failed to set up the discovery module")
		}
		if manual, ok := discoveryModule.(*discovery.ManualMapping); ok {
			go func() {
				if err := manual.Watch(runCtx); err != nil {
					log.WithError(err).Error("mapping file watcher stopped")
				}
			}()
		}
		masterSide = master.New(cfg, tokens, lookupClient, discoveryModule, httpClient, metrics, log)
	}

	if cfg.IsSlave() {
		store, err := directory.NewStore(cfg.Storage.PostgresURL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to postgres")
		}
		db = store.DB()
		sessions = directory.NewSessionStore(db)

		var pending slave.PendingDeletions
		if cfg.Storage.RedisURL != "" {
			opts, err := redis.ParseURL(cfg.Storage.RedisURL)
			if err != nil {
				log.WithError(err).Fatal("invalid redis url")
			}
			redisClient = redis.NewClient(opts)
			pending = slave.NewRedisPendingDeletions(redisClient, cfg.Storage.PendingDeletionTTL)
		} else {
			pending = slave.NewMemoryPendingDeletions(cfg.Storage.PendingDeletionTTL)
		}

		users := directory.NewPseudoBackend(store)
		users.RegisterFallback(directory.NewRegistryBackend(lookupClient))

		slaveSide = slave.New(cfg, tokens, lookupClient, store,
			users, apptoken.NewHandler(db), pending, metrics, log)
	}

	if db != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					metrics.ObserveDBStats(db.Stats())
				}
			}
		}()
	}

	identityService := identity.NewService(cfg, lookupClient, httpClient, log)
	health := observability.NewHealthChecker(db, redisClient)

	srv := httpapi.NewServer(cfg, masterSide, slaveSide, sessions, identityService,
		tokens, health, metrics, registry, log)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	stop()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown did not finish cleanly")
	}
	if db != nil {
		db.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}
	log.Info("stopped")
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/globalscale/siteselector/pkg/apptoken"
	"github.com/globalscale/siteselector/pkg/config"
	"github.com/globalscale/siteselector/pkg/directory"
	"github.com/globalscale/siteselector/pkg/httputil"
	"github.com/globalscale/siteselector/pkg/identity"
	"github.com/globalscale/siteselector/pkg/lookup"
	"github.com/globalscale/siteselector/pkg/observability"
	"github.com/globalscale/siteselector/pkg/slave"
	"github.com/globalscale/siteselector/pkg/token"
)

var (
	syncSchedule    = flag.String("sync-schedule", "0 2 * * *", "Cron schedule for the full account push to the lookup registry")
	refreshSchedule = flag.String("refresh-schedule", "30 * * * *", "Cron schedule for refreshing peer instance tokens")
	cleanupSchedule = flag.String("cleanup-schedule", "15 * * * *", "Cron schedule for expired session cleanup")
	runOnce         = flag.Bool("run-once", false, "Run one full sync and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger("info").WithError(err).Fatal("invalid configuration")
	}

	log := observability.NewLogger(cfg.LogLevel)
	if !cfg.IsSlave() {
		log.Fatal("the sync job only runs on slave instances")
	}

	store, err := directory.NewStore(cfg.Storage.PostgresURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to postgres")
	}
	db := store.DB()
	defer db.Close()

	httpClient := httputil.NewClient(cfg.HTTPClient.ConnectTimeout,
		cfg.HTTPClient.RequestTimeout, cfg.Federation.AllowSelfSigned)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	lookupClient := lookup.New(cfg.Federation.LookupURL, cfg.Federation.JWTSecret,
		cfg.Federation.UsernameFormat, httpClient, metrics, log)

	slaveSide := slave.New(cfg, token.NewService(cfg.Federation.JWTSecret), lookupClient,
		store, directory.NewPseudoBackend(store), apptoken.NewHandler(db),
		slave.NewMemoryPendingDeletions(cfg.Storage.PendingDeletionTTL), metrics, log)
	identityService := identity.NewService(cfg, lookupClient, httpClient, log)
	sessions := directory.NewSessionStore(db)

	if *runOnce {
		ctx := context.Background()
		if err := slaveSide.BatchUpdate(ctx); err != nil {
			log.WithError(err).Fatal("account sync failed")
		}
		identityService.RefreshFromGlobalScale(ctx)
		if deleted, err := sessions.DeleteExpired(ctx); err != nil {
			log.WithError(err).Error("session cleanup failed")
		} else {
			log.WithField("deleted", deleted).Info("expired sessions removed")
		}
		log.Info("sync completed")
		return
	}

	c := cron.New()

	if _, err := c.AddFunc(*syncSchedule, func() {
		log.Info("starting full account sync")
		if err := slaveSide.BatchUpdate(context.Background()); err != nil {
			log.WithError(err).Error("account sync failed")
		} else {
			log.Info("account sync completed")
		}
	}); err != nil {
		log.WithError(err).Fatal("failed to schedule the account sync")
	}

	if _, err := c.AddFunc(*refreshSchedule, func() {
		identityService.RefreshFromGlobalScale(context.Background())
	}); err != nil {
		log.WithError(err).Fatal("failed to schedule the token refresh")
	}

	if _, err := c.AddFunc(*cleanupSchedule, func() {
		if deleted, err := sessions.DeleteExpired(context.Background()); err != nil {
			log.WithError(err).Error("session cleanup failed")
		} else if deleted > 0 {
			log.WithField("deleted", deleted).Info("expired sessions removed")
		}
	}); err != nil {
		log.WithError(err).Fatal("failed to schedule the session cleanup")
	}

	c.Start()
	log.WithField("schedule", *syncSchedule).Info("sync job started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	<-c.Stop().Done()
	log.Info("stopped")
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	_ "github.com/jackc/pgx/v5/stdlib"

	"aidantsconnect/internal/broker"
	brokerhandler "aidantsconnect/internal/broker/handler"
	connectionstore "aidantsconnect/internal/broker/store/connection"
	"aidantsconnect/internal/identity"
	identityhandler "aidantsconnect/internal/identity/handler"
	aidantstore "aidantsconnect/internal/identity/store/aidant"
	organisationstore "aidantsconnect/internal/identity/store/organisation"
	usagerstore "aidantsconnect/internal/identity/store/usager"
	"aidantsconnect/internal/idtoken"
	"aidantsconnect/internal/journal"
	journalstore "aidantsconnect/internal/journal/store"
	"aidantsconnect/internal/mandate"
	mandatehandler "aidantsconnect/internal/mandate/handler"
	autorisationstore "aidantsconnect/internal/mandate/store/autorisation"
	mandatstore "aidantsconnect/internal/mandate/store/mandat"
	"aidantsconnect/internal/platform/config"
	"aidantsconnect/internal/platform/httpserver"
	"aidantsconnect/internal/platform/logger"
	"aidantsconnect/internal/platform/metrics"
	platformredis "aidantsconnect/internal/platform/redis"
	httptransport "aidantsconnect/internal/transport/http"
	"aidantsconnect/pkg/platform/tx"
)

// main wires stores, services, and handlers, then runs the API and metrics
// servers until a shutdown signal arrives. Backends are picked from config:
// postgres and redis when URLs are set, in-memory otherwise.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	m := metrics.New()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		if err := db.Ping(); err != nil {
			log.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Stores.
	var (
		organisations identity.OrganisationStore
		aidants       identity.AidantStore
		usagers       identity.UsagerStore
		journalStore  journal.Store
		mandats       mandate.MandatStore
		autorisations mandate.AutorisationStore
		connections   broker.ConnectionStore
	)
	if db != nil {
		organisations = organisationstore.NewPostgres(db)
		aidants = aidantstore.NewPostgres(db)
		usagers = usagerstore.NewPostgres(db)
		journalStore = journalstore.NewPostgres(db)
		mandats = mandatstore.NewPostgres(db)
		autorisations = autorisationstore.NewPostgres(db)
	} else {
		organisations = organisationstore.NewInMemory()
		aidants = aidantstore.NewInMemory()
		usagers = usagerstore.NewInMemory()
		journalStore = journalstore.NewInMemory()
		memMandats := mandatstore.NewInMemory()
		mandats = memMandats
		autorisations = autorisationstore.NewInMemory(memMandats)
	}
	if redisClient != nil {
		connections = connectionstore.NewRedis(redisClient.Client, connectionstore.WithMetrics(m))
	} else {
		connections = connectionstore.NewInMemory()
	}

	// Services.
	journalSvc := journal.New(journalStore, log,
		journal.WithMetrics(m),
		journal.WithStaffOrganisation(cfg.StaffOrganisationName),
	)
	sessionSvc := idtoken.NewSessionService(cfg.SessionSigningKey, cfg.Issuer, cfg.SessionTTL)
	assertionIssuer := idtoken.NewIssuer(cfg.FCClientID, cfg.FCClientSecret, cfg.Issuer, cfg.IDTokenTTL)

	identitySvc := identity.New(organisations, aidants, usagers, mandats, journalSvc, sessionSvc, log)

	mandateOpts := []mandate.Option{mandate.WithMetrics(m)}
	if db != nil {
		mandateOpts = append(mandateOpts, mandate.WithTxRunner(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return tx.RunInTx(ctx, db, fn)
		}))
	}
	mandateSvc := mandate.New(mandats, autorisations, identitySvc, journalSvc, cfg.AttestationSalt, log, mandateOpts...)

	brokerSvc := broker.New(
		connections,
		identitySvc,
		mandateSvc,
		journalSvc,
		assertionIssuer,
		broker.ClientCredentials{
			ClientID:     cfg.FCClientID,
			ClientSecret: cfg.FCClientSecret,
			CallbackURL:  cfg.FCCallbackURL,
		},
		cfg.ConnectionTTL,
		cfg.IDTokenTTL,
		log,
		broker.WithMetrics(m),
	)

	router := httptransport.NewRouter(httptransport.Deps{
		Identity: identityhandler.New(identitySvc, sessionSvc, log),
		Mandates: mandatehandler.New(mandateSvc, sessionSvc, log),
		Broker:   brokerhandler.New(brokerSvc, mandateSvc, sessionSvc, log),
		Metrics:  m,
		Logger:   log,
		Health: func() error {
			if db != nil {
				if err := db.Ping(); err != nil {
					return err
				}
			}
			if redisClient != nil {
				return redisClient.Health(context.Background())
			}
			return nil
		},
	})

	apiServer := httpserver.New(cfg.Addr, router)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := httpserver.New(cfg.MetricsAddr, metricsMux)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting api server", "addr", cfg.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("starting metrics server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"eudi-verifier/internal/platform/config"
	"eudi-verifier/internal/platform/httpserver"
	"eudi-verifier/internal/platform/logger"
	platformredis "eudi-verifier/internal/platform/redis"
	httptransport "eudi-verifier/internal/transport/http"
	"eudi-verifier/internal/verification/bridge"
	"eudi-verifier/internal/verification/handler"
	"eudi-verifier/internal/verification/metrics"
	"eudi-verifier/internal/verification/request"
	"eudi-verifier/internal/verification/service"
	"eudi-verifier/internal/verification/store"
	"eudi-verifier/internal/verification/validator"
	"eudi-verifier/pkg/audit"
	"eudi-verifier/pkg/notify"
)

// main wires the dependencies together and owns the process lifecycle.
// Domain logic lives under internal/verification.
func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("configuration error", "error", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Session store: redis when configured, in-memory otherwise.
	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err.Error())
		os.Exit(1)
	}

	var sessions store.Store
	var healthChecks []httptransport.HealthCheck
	if redisClient != nil {
		sessions = store.NewRedisStore(redisClient.Client)
		healthChecks = append(healthChecks, httptransport.HealthCheck{
			Name:  "redis",
			Check: redisClient.Health,
		})
		log.Info("using redis session store")
	} else {
		sessions = store.NewInMemoryStore()
		log.Warn("redis not configured, using in-memory session store; sessions are lost on restart")
	}

	// Verifier signing key. Without one the service still starts, but
	// session creation fails until the key is configured.
	signingKey, keyID, err := request.ParseSigningKey(cfg.Verifier.PrivateKeyJWK)
	if err != nil {
		log.Warn("verifier signing key not usable, session creation will fail",
			"error", err.Error())
	}
	metadata := request.ClientMetadata{
		ClientName: cfg.Verifier.ClientName,
		LogoURI:    cfg.Verifier.LogoURI,
	}
	if cfg.Verifier.Contact != "" {
		metadata.Contacts = []string{cfg.Verifier.Contact}
	}
	builder := request.NewBuilder(
		cfg.Verifier.DID,
		cfg.CallbackURL(),
		metadata,
		cfg.SessionTTL,
		signingKey, keyID,
	)

	keyResolver, err := validator.ParseKeyResolver(cfg.TrustedIssuerKeys)
	if err != nil {
		log.Error("invalid trusted issuer keys", "error", err.Error())
		os.Exit(1)
	}

	m := metrics.New()
	events := bridge.New(sessions, log, m)
	vld := validator.New(
		validator.NewStaticTrustList(cfg.TrustedIssuers),
		keyResolver,
		validator.NewIntrusionLog(),
		m, log,
	)

	auditOpts := []audit.Option{audit.WithAsyncBuffer(256)}
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Error("kafka audit sink failed", "error", err.Error())
			os.Exit(1)
		}
		auditOpts = append(auditOpts, audit.WithSink(sink))
		log.Info("audit events mirrored to kafka", "topic", cfg.Kafka.Topic)
	}
	auditor := audit.NewPublisher(audit.NewInMemoryStore(), log, auditOpts...)
	defer auditor.Close()

	notifier := notify.New(cfg.WebhookURL, log)

	svc := service.New(builder, sessions, events, vld, m, auditor, notifier, log,
		cfg.RequestedClaims, cfg.SessionTTL)

	router := httptransport.NewRouter(
		httptransport.RouterConfig{DebugEndpoints: cfg.DebugEndpoints},
		log,
		handler.New(svc, events, log),
		sessions,
		healthChecks...,
	)

	srv := httpserver.New(cfg.Addr, router)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting eudi-verifier", "addr", cfg.Addr, "callback_url", cfg.CallbackURL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err.Error())
		os.Exit(1)
	}

	if redisClient != nil {
		_ = redisClient.Close()
	}
	log.Info("shutdown complete")
}

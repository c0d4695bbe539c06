// Command gateway runs the multi-tenant messaging gateway: socket session
// supervision, provider webhook ingress, the dashboard API, and the live
// event stream, all behind one HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/shoptalk/go-gateway-backend/internal/broadcast"
	"github.com/shoptalk/go-gateway-backend/internal/config"
	"github.com/shoptalk/go-gateway-backend/internal/deadletter"
	httpapi "github.com/shoptalk/go-gateway-backend/internal/http"
	"github.com/shoptalk/go-gateway-backend/internal/observability"
	"github.com/shoptalk/go-gateway-backend/internal/repo"
	"github.com/shoptalk/go-gateway-backend/internal/services"
	"github.com/shoptalk/go-gateway-backend/internal/session"
)

// version is stamped at build time (-ldflags "-X main.version=...").
var version = "dev"

func main() {
	// Best effort: local development reads .env, production injects env vars.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	setupLogger(cfg)
	gin.SetMode(cfg.GinMode)

	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database failed")
	}
	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			log.Warn().Err(err).Msg("database tracing plugin failed")
		}
	}

	// Credential containers for the socket provider.
	var creds session.CredentialStore
	switch cfg.Session.StoreDriver {
	case "postgres", "pgx":
		creds = &session.PostgresCredentialStore{ConnString: cfg.Session.StoreDSN}
	default:
		fs, err := session.NewFileCredentialStore(cfg.Session.StoreDir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.Session.StoreDir).Msg("credential store setup failed")
		}
		creds = fs
	}

	// Dead-letter sink: AMQP when a broker is configured, logging otherwise.
	var dead services.DeadLetterer
	var deadClose func() error
	if cfg.DeadLetter.AMQPURL != "" {
		pub, err := deadletter.NewPublisher(cfg.DeadLetter.AMQPURL, cfg.DeadLetter.Exchange, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("dead-letter broker connect failed")
		}
		dead = pub
		deadClose = pub.Close
	} else {
		dead = deadletter.Noop{Log: log.Logger}
	}

	events := broadcast.New(cfg.StreamBuffer, log.Logger)
	registry := services.NewChannelRegistry(db, log.Logger)
	store := services.NewConversationStore(db, dead, events, services.StoreOptions{
		MaxRetries:   cfg.IngestMaxRetries,
		RetryBackoff: cfg.IngestRetryBackoff,
	}, log.Logger)

	manager := session.NewManager(
		session.NewWhatsAppFactory(creds, log.Logger),
		creds,
		registry,
		store,
		events,
		session.ManagerOptions{
			PairingTimeout: cfg.Session.PairingTimeout,
			Backoff: session.Backoff{
				Base:   cfg.Session.ReconnectBase,
				Max:    cfg.Session.ReconnectMax,
				Factor: session.DefaultBackoff.Factor,
				Jitter: session.DefaultBackoff.Jitter,
			},
		},
		log.Logger,
	)

	// Re-dial every shop that was connected before the restart.
	if err := manager.ResumeAll(ctx); err != nil {
		log.Warn().Err(err).Msg("session resume incomplete")
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:       db,
		Sessions: manager,
		Store:    store,
		Registry: registry,
		Events:   events,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	manager.Close()
	events.Close()
	if deadClose != nil {
		if err := deadClose(); err != nil {
			log.Warn().Err(err).Msg("dead-letter broker close failed")
		}
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown failed")
	}

	log.Info().Msg("gateway stopped")
}

// setupLogger configures the global zerolog logger from config: level, and
// pretty console output for local development.
func setupLogger(cfg config.Config) {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

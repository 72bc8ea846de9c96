package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"

	shared "github.com/trailblazerplus/server/pkg"
	"github.com/trailblazerplus/server/pkg/api"
	"github.com/trailblazerplus/server/pkg/domain/stats"
	"github.com/trailblazerplus/server/pkg/infrastructure/database"
	"github.com/trailblazerplus/server/pkg/infrastructure/dedup"
	"github.com/trailblazerplus/server/pkg/infrastructure/identity"
	"github.com/trailblazerplus/server/pkg/infrastructure/oauth"
	infrapubsub "github.com/trailblazerplus/server/pkg/infrastructure/pubsub"
	"github.com/trailblazerplus/server/pkg/infrastructure/sentry"
	infrastorage "github.com/trailblazerplus/server/pkg/infrastructure/storage"
	"github.com/trailblazerplus/server/pkg/ingest"
	"github.com/trailblazerplus/server/pkg/integrations/strava"
	"github.com/trailblazerplus/server/pkg/storage/memory"
	"github.com/trailblazerplus/server/pkg/storage/postgres"
	"github.com/trailblazerplus/server/pkg/vault"
	"github.com/trailblazerplus/server/pkg/webhook"
)

// Service holds initialized dependencies
type Service struct {
	DB       shared.Database
	Store    shared.BlobStore // nil without GCS_ARTIFACT_BUCKET
	Pub      shared.Publisher
	Identity shared.IdentityVerifier
	Guard    shared.DeliveryGuard // nil without REDIS_URL

	Strava *strava.Client
	Stats  *stats.Aggregator
	Ingest *ingest.Engine
	Tokens *oauth.TokenManager

	Config *Config
	Logger *slog.Logger

	closers []func() error
}

// NewService initializes all standard dependencies
func NewService(ctx context.Context, serviceName string) (*Service, error) {
	InitLogger()
	logger := NewLogger(serviceName)

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		return nil, err
	}

	logger.Info("Initializing service", "project_id", cfg.ProjectID, "store_backend", cfg.StoreBackend)

	if err := sentry.Init(sentry.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		ServerName:  serviceName,
	}, logger); err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}

	svc := &Service{Config: cfg, Logger: logger}
	if err := svc.init(ctx); err != nil {
		_ = svc.Close()
		return nil, err
	}
	return svc, nil
}

func (s *Service) init(ctx context.Context) error {
	cfg, logger := s.Config, s.Logger

	// Database
	switch cfg.StoreBackend {
	case BackendFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore init failed", "error", err)
			return fmt.Errorf("firestore init: %w", err)
		}
		s.DB = database.NewFirestoreAdapter(fsClient, logger)
	case BackendPostgres:
		if err := postgres.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres init: %w", err)
		}
		s.DB = postgres.NewStore(db)
	case BackendMemory:
		logger.Warn("Using in-memory store, data is lost on restart")
		s.DB = memory.New()
	}
	s.closers = append(s.closers, s.DB.Close)

	// Pub/Sub
	if cfg.EnablePublish {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub init failed", "error", err)
			return fmt.Errorf("pubsub init: %w", err)
		}
		s.closers = append(s.closers, psClient.Close)
		s.Pub = &infrapubsub.PubSubAdapter{Client: psClient}
		logger.Info("Pub/Sub: REAL (ENABLE_PUBLISH=true)")
	} else {
		s.Pub = &infrapubsub.LogPublisher{Logger: logger}
		logger.Info("Pub/Sub: MOCK (LogPublisher)")
	}

	// Storage
	if cfg.GCSArtifactBucket != "" {
		gcsClient, err := storage.NewClient(ctx)
		if err != nil {
			logger.Error("Storage init failed", "error", err)
			return fmt.Errorf("storage init: %w", err)
		}
		s.closers = append(s.closers, gcsClient.Close)
		s.Store = infrastorage.NewStorageAdapter(gcsClient)
	}

	// Identity
	if cfg.StoreBackend == BackendMemory {
		s.Identity = identity.DevVerifier{}
	} else {
		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return fmt.Errorf("firebase init: %w", err)
		}
		verifier, err := identity.NewFirebaseVerifier(ctx, app, logger)
		if err != nil {
			return err
		}
		s.Identity = verifier
	}

	// Redelivery guard
	if cfg.RedisURL != "" {
		client, err := dedup.Connect(ctx, cfg.RedisURL)
		if err != nil {
			// The guard is an optimisation; the queue tolerates duplicates.
			logger.Warn("Redis unavailable, webhook redelivery guard disabled", "error", err)
		} else {
			s.closers = append(s.closers, client.Close)
			s.Guard = dedup.NewRedisGuard(client, dedup.DefaultTTL, logger)
		}
	}

	cipher, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	s.Strava = strava.NewClient(strava.Config{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		RedirectURL:  cfg.StravaRedirectURI,
		Timeout:      cfg.ProviderTimeout,
	})
	s.Stats = stats.NewAggregator(s.DB, s.DB, cfg.StreakLocation, logger)
	s.Ingest = ingest.NewEngine(s.DB, s.Stats, s.Strava, s.Store, ingest.Options{
		WindowDays:    cfg.SyncWindowDays,
		ArchiveBucket: cfg.GCSArtifactBucket,
	}, logger)
	s.Tokens = oauth.NewTokenManager(s.DB, cipher, s.Strava, s.Ingest, logger)
	return nil
}

// Receiver builds the webhook endpoint on the service's dependencies.
func (s *Service) Receiver() *webhook.Receiver {
	var opts []webhook.ReceiverOption
	if s.Guard != nil {
		opts = append(opts, webhook.WithGuard(s.Guard))
	}
	return webhook.NewReceiver(s.Config.StravaVerifyToken, s.Tokens, s.DB, s.Pub, s.Logger, opts...)
}

// Processor builds the queue consumer on the service's dependencies.
func (s *Service) Processor() *webhook.Processor {
	return webhook.NewProcessor(s.DB, s.Tokens, s.Ingest, s.Stats, s.Logger)
}

// API builds the callable handler. Backends that push document changes feed
// the status stream directly; the rest are polled.
func (s *Service) API() *api.Handler {
	watcher, _ := s.DB.(shared.ConnectionWatcher)
	return api.NewHandler(api.Deps{
		Identity:    s.Identity,
		Users:       s.DB,
		Tokens:      s.Tokens,
		Ingest:      s.Ingest,
		Authorizer:  s.Strava,
		Watcher:     watcher,
		RedirectURI: s.Config.StravaRedirectURI,
	}, s.Logger)
}

// Close releases every client opened by NewService.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

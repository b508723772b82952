package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/campus-brew/api/internal/di"
	"github.com/campus-brew/api/internal/handlers"
	"github.com/campus-brew/api/internal/platform/auth"
	"github.com/campus-brew/api/internal/platform/config"
	pfirestore "github.com/campus-brew/api/internal/platform/firestore"
	"github.com/campus-brew/api/internal/platform/idempotency"
	"github.com/campus-brew/api/internal/platform/jobs"
	"github.com/campus-brew/api/internal/platform/observability"
	"github.com/campus-brew/api/internal/platform/secrets"
	platformstorage "github.com/campus-brew/api/internal/platform/storage"
	"github.com/campus-brew/api/internal/repositories"
	firestoreRepo "github.com/campus-brew/api/internal/repositories/firestore"
	"github.com/campus-brew/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	uploader, urlSigner := newExportStorage(ctx, logger, cfg)

	var publisher services.OrderEventPublisher
	if !cfg.PubSub.Disabled && cfg.PubSub.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
		defer topic.Stop()
		publisher, err = jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
	}

	healthRepo, err := newHealthRepository(firestoreClient, fetcher)
	if err != nil {
		logger.Warn("health: dependency checks unavailable", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, di.ContainerDeps{
		Config:    cfg,
		Registry:  registry,
		Logger:    logger,
		Events:    publisher,
		Uploader:  uploader,
		URLSigner: urlSigner,
		Health:    healthRepo,
		Build:     buildInfo(cfg, startedAt),
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	authenticator := newAuthenticator(logger.Named("auth"), cfg)

	svc := container.Services
	meHandlers := handlers.NewMeHandlers(authenticator, svc.Users, svc.Quota, svc.Statistics)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders)
	catalogHandlers := handlers.NewCatalogHandlers(svc.Catalog)
	settingsHandlers := handlers.NewSettingsHandlers(svc.Settings)
	adminHandlers := handlers.NewAdminHandlers(handlers.AdminHandlersDeps{
		Authenticator: authenticator,
		Orders:        svc.Orders,
		Catalog:       svc.Catalog,
		Settings:      svc.Settings,
		Users:         svc.Users,
		Statistics:    svc.Statistics,
		Exports:       svc.Exports,
		Audit:         svc.Audit,
	})
	healthHandlers := handlers.NewHealthHandlers(svc.System)

	idempotencyMiddleware := idempotency.Middleware(
		idempotency.NewFirestoreStore(firestoreClient),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
			idempotencyMiddleware,
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCatalogRoutes(catalogHandlers.Routes),
		handlers.WithSettingsRoutes(settingsHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithMeRoutes(meHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	)

	scheduleCtx, scheduleCancel := context.WithCancel(ctx)
	var scheduleWG sync.WaitGroup
	if schedule := svc.Schedule; schedule != nil {
		scheduleWG.Add(1)
		go func() {
			defer scheduleWG.Done()
			if err := schedule.Run(scheduleCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("shop schedule stopped", zap.Error(err))
			}
		}()
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("campus-brew api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	scheduleCancel()
	scheduleWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfo(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func newAuthenticator(logger *zap.Logger, cfg config.Config) *auth.Authenticator {
	jwksURL := strings.TrimSpace(cfg.Auth.JWKSURL)
	if jwksURL == "" {
		logger.Warn("auth: JWKS URL not configured; authenticated routes will reject requests")
		return nil
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(jwksURL, auth.WithJWKSLogger(adapter))
	verifier := auth.NewSSOVerifier(cache, cfg.Auth.Issuer, cfg.Auth.Audience, auth.WithSSOLogger(adapter))
	return auth.NewAuthenticator(verifier)
}

// newExportStorage prepares the upload and signing clients behind workbook
// exports. Both are optional: without a signer key the export endpoints stay dark.
func newExportStorage(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.ExportUploader, services.ExportURLSigner) {
	if strings.TrimSpace(cfg.Storage.ExportsBucket) == "" {
		return nil, nil
	}

	keyFile := strings.TrimSpace(cfg.Storage.SignerKeyFile)
	if keyFile == "" {
		logger.Warn("storage: signer key file not configured; exports disabled")
		return nil, nil
	}
	signer, err := platformstorage.NewServiceAccountSignerFromFile(keyFile)
	if err != nil {
		logger.Warn("storage: failed to load signer key; exports disabled", zap.Error(err))
		return nil, nil
	}
	urlSigner, err := platformstorage.NewClient(signer)
	if err != nil {
		logger.Warn("storage: failed to build signing client; exports disabled", zap.Error(err))
		return nil, nil
	}

	gcsClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Warn("storage: failed to build client; exports disabled", zap.Error(err))
		return nil, nil
	}
	uploader, err := platformstorage.NewUploader(gcsClient)
	if err != nil {
		logger.Warn("storage: failed to build uploader; exports disabled", zap.Error(err))
		return nil, nil
	}
	return uploader, urlSigner
}

func newHealthRepository(client *firestore.Client, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(os.Getenv(key))
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}

	return secrets.NewFetcher(ctx, opts...)
}

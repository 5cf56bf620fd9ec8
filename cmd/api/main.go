package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/atelier-aurea/api/internal/handlers"
	"github.com/atelier-aurea/api/internal/notifications"
	"github.com/atelier-aurea/api/internal/payments"
	"github.com/atelier-aurea/api/internal/platform/config"
	pfirestore "github.com/atelier-aurea/api/internal/platform/firestore"
	"github.com/atelier-aurea/api/internal/platform/observability"
	"github.com/atelier-aurea/api/internal/platform/secrets"
	firestoreRepo "github.com/atelier-aurea/api/internal/repositories/firestore"
	"github.com/atelier-aurea/api/internal/services"
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

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.ResolveSecret)),
	)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, cfg.Pricing)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	if strings.TrimSpace(cfg.PSP.StripeWebhookSecret) == "" {
		logger.Fatal("stripe webhook signing secret is required")
	}
	eventVerifier, err := payments.NewStripeEventVerifier(cfg.PSP.StripeWebhookSecret,
		payments.WithSignatureTolerance(cfg.PSP.WebhookTolerance),
	)
	if err != nil {
		logger.Fatal("failed to initialise stripe event verifier", zap.Error(err))
	}

	pricingEngine, err := services.NewProductPricingEngine(services.ProductPricingEngineDeps{
		Settings: registry.Settings(),
		Logger:   observability.FieldLogger(logger.Named("pricing")),
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing engine", zap.Error(err))
	}

	converter, err := services.NewCurrencyConverter(services.CurrencyConverterDeps{
		Settings:      registry.Settings(),
		DefaultLocale: cfg.Notifications.DefaultLocale,
	})
	if err != nil {
		logger.Fatal("failed to initialise currency converter", zap.Error(err))
	}

	mailPublisher, pubsubClient, err := newMailPublisher(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise mail publisher", zap.Error(err))
	}
	if pubsubClient != nil {
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	}

	if strings.TrimSpace(cfg.Notifications.AdminEmail) == "" {
		logger.Fatal("admin notification email is required")
	}
	notifier, err := notifications.NewMailNotifier(notifications.MailNotifierDeps{
		Publisher:     mailPublisher,
		FormatAmount:  converter.FormatAmount,
		AdminEmail:    cfg.Notifications.AdminEmail,
		DefaultLocale: cfg.Notifications.DefaultLocale,
		Logger:        observability.FieldLogger(logger.Named("notifications")),
		Clock:         time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise notifier", zap.Error(err))
	}

	reconciler, err := services.NewPaymentReconciler(services.PaymentReconcilerDeps{
		Verifier:      eventVerifier,
		Orders:        registry.Orders(),
		WebhookEvents: registry.WebhookEvents(),
		Notifier:      notifier,
		Logger:        observability.FieldLogger(logger.Named("reconciler")),
		Clock:         time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment reconciler", zap.Error(err))
	}

	projectID := cfg.Firestore.ProjectID
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, startedAt)),
		handlers.WithHealthRepository(registry.Health()),
	)
	webhookHandlers := handlers.NewWebhookHandlers(reconciler, observability.FieldLogger(logger.Named("webhooks")))
	pricingHandlers := handlers.NewPricingHandlers(pricingEngine, converter)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPricingRoutes(pricingHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

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
		serverLogger.Info("atelier-aurea api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	project := strings.TrimSpace(env["GOOGLE_CLOUD_PROJECT"])
	if project == "" {
		project = strings.TrimSpace(env["FIRESTORE_PROJECT_ID"])
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithDefaultProject(project),
	}
	if fallback := strings.TrimSpace(env["SECRETS_FALLBACK_FILE"]); fallback != "" {
		opts = append(opts, secrets.WithFallbackFile(fallback))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// newMailPublisher wires the Pub/Sub mail topic when one is configured and
// falls back to a log-only publisher for local development.
func newMailPublisher(ctx context.Context, logger *zap.Logger, cfg *config.Config) (notifications.MailPublisher, *pubsub.Client, error) {
	topicID := strings.TrimSpace(cfg.Notifications.MailTopic)
	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	if topicID == "" || strings.TrimSpace(cfg.Firestore.EmulatorHost) != "" {
		logger.Info("mail dispatch running in log-only mode")
		return notifications.NewLogMailPublisher(logger.Named("mail")), nil, nil
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	publisher, err := notifications.NewPubSubMailPublisher(client.Topic(topicID))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return publisher, client, nil
}

func buildInfoFromEnv(env map[string]string, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(env["API_ENVIRONMENT"])
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

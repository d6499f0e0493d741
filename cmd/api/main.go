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

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lumen-studio/booking/internal/di"
	"github.com/lumen-studio/booking/internal/handlers"
	"github.com/lumen-studio/booking/internal/payments"
	"github.com/lumen-studio/booking/internal/platform/auth"
	"github.com/lumen-studio/booking/internal/platform/calendar"
	"github.com/lumen-studio/booking/internal/platform/config"
	pfirestore "github.com/lumen-studio/booking/internal/platform/firestore"
	"github.com/lumen-studio/booking/internal/platform/idempotency"
	"github.com/lumen-studio/booking/internal/platform/jobs"
	"github.com/lumen-studio/booking/internal/platform/observability"
	"github.com/lumen-studio/booking/internal/platform/pdf"
	"github.com/lumen-studio/booking/internal/platform/secrets"
	platformstorage "github.com/lumen-studio/booking/internal/platform/storage"
	"github.com/lumen-studio/booking/internal/repositories"
	firestoreRepo "github.com/lumen-studio/booking/internal/repositories/firestore"
	"github.com/lumen-studio/booking/internal/services"
)

const (
	sessionCreateLimit  = 30
	sessionCreateWindow = time.Minute
	sweepInterval       = 5 * time.Minute
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

	logger := baseLogger.Named("booking")

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, secretManagerCheck(fetcher))
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	storageClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()
	uploader, err := platformstorage.NewUploader(storageClient, cfg.Storage.ContractsBucket,
		platformstorage.WithObjectMetadata(map[string]string{"environment": buildInfo.Environment}),
	)
	if err != nil {
		logger.Fatal("failed to initialise contract uploader", zap.Error(err))
	}
	downloadLinks, err := platformstorage.NewDownloadLinks(storageClient)
	if err != nil {
		logger.Fatal("failed to initialise download links", zap.Error(err))
	}

	location, err := time.LoadLocation(cfg.Calendar.TimeZone)
	if err != nil {
		logger.Fatal("invalid calendar time zone", zap.Error(err))
	}

	infra := di.Infrastructure{
		Renderer: pdf.NewRenderer(pdf.Options{Location: location}),
		Uploader: uploader,
		Build:    buildInfo,
		Clock:    time.Now,
		Logger:   observability.EventLogger(logger.Named("booking")),
	}

	var eventPublisher *jobs.PubSubBookingEventPublisher
	if topicID := strings.TrimSpace(cfg.PubSub.BookingEventsTopic); topicID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicID)
		topic.EnableMessageOrdering = true
		eventPublisher, err = jobs.NewPubSubBookingEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise booking event publisher", zap.Error(err))
		}
		infra.Events = eventPublisher
	} else {
		logger.Warn("pubsub topic not configured; booking events will not be published")
	}

	if cfg.Features.Payments {
		paymentsLogger := logger.Named("payments")
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:    cfg.PSP.StripeAPIKey,
			AccountID: cfg.PSP.StripeAccountID,
			Logger:    observability.EventLogger(paymentsLogger),
			Clock:     time.Now,
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
		}
		paymentManager, err := payments.NewManager(map[string]payments.Provider{
			"stripe": stripeProvider,
		})
		if err != nil {
			logger.Fatal("failed to initialise payment manager", zap.Error(err))
		}
		infra.Payments = paymentManager
	}

	if cfg.Features.Calendar && strings.TrimSpace(cfg.Calendar.AccessToken) != "" {
		scheduler, err := calendar.NewScheduler(ctx, calendar.Config{
			CalendarID:  cfg.Calendar.CalendarID,
			AccessToken: cfg.Calendar.AccessToken,
			TimeZone:    cfg.Calendar.TimeZone,
		})
		if err != nil {
			logger.Fatal("failed to initialise calendar scheduler", zap.Error(err))
		}
		infra.Calendar = scheduler
	} else if cfg.Features.Calendar {
		logger.Warn("calendar access token not configured; calendar stage will be skipped")
	}

	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()
	svc := container.Services

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	idempotencyStore := idempotency.NewStore()
	bookingHandlers := handlers.NewBookingHandlers(authenticator, svc.Sessions,
		handlers.WithBookingIdempotency(idempotencyStore,
			idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
		),
		handlers.WithSessionCreateLimit(sessionCreateLimit, sessionCreateWindow, time.Now),
	)
	catalogHandlers := handlers.NewCatalogHandlers(svc.Catalog, svc.Reviews)
	adminHandlers := handlers.NewAdminContractHandlers(authenticator, svc.Contracts, downloadLinks)
	internalHandlers := handlers.NewInternalHandlers(svc.Sessions, idempotencyStore, time.Now)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	var sweepWG sync.WaitGroup
	sweepTicker := time.NewTicker(sweepInterval)
	sweepWG.Add(1)
	go func() {
		defer sweepWG.Done()
		sweepLogger := logger.Named("sweep")
		for {
			select {
			case <-sweepTicker.C:
				runCtx, cancel := context.WithTimeout(sweepCtx, time.Minute)
				removed, err := svc.Sessions.Sweep(runCtx)
				expired := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC())
				cancel()
				if err != nil {
					sweepLogger.Error("booking session sweep error", zap.Error(err))
					continue
				}
				if removed > 0 || expired > 0 {
					sweepLogger.Info("sweep removed records", zap.Int("sessions", removed), zap.Int("idempotency", expired))
				}
			case <-sweepCtx.Done():
				return
			}
		}
	}()

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(middlewares...))
	opts = append(opts, handlers.WithHealthHandlers(healthHandlers))
	opts = append(opts, handlers.WithBookingRoutes(bookingHandlers.Routes))
	opts = append(opts, handlers.WithCatalogRoutes(catalogHandlers.Routes))
	opts = append(opts, handlers.WithAdminRoutes(adminHandlers.Routes))
	opts = append(opts, handlers.WithInternalRoutes(internalHandlers.Routes))
	verificationMetrics, err := observability.NewVerificationMetrics(nil)
	if err != nil {
		logger.Warn("auth verification metrics disabled", zap.Error(err))
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg, verificationMetrics); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}
	if svc.Webhooks != nil {
		webhookMiddleware := buildWebhookMiddleware(logger.Named("auth"), cfg, verificationMetrics)
		if webhookMiddleware == nil {
			logger.Warn("payment webhook secret not configured; webhook route disabled")
		} else {
			webhookHandlers := handlers.NewPaymentWebhookHandlers(svc.Webhooks)
			opts = append(opts, handlers.WithWebhookMiddlewares(webhookMiddleware))
			opts = append(opts, handlers.WithWebhookRoutes(webhookHandlers.Routes))
		}
	}

	router := handlers.NewRouter(opts...)
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
		serverLogger.Info("booking api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	sweepTicker.Stop()
	sweepCancel()
	sweepWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if eventPublisher != nil {
		eventPublisher.Stop()
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version := lookupEnv("BOOKING_BUILD_VERSION")
	if version == "" {
		version = "dev"
	}
	commit := lookupEnv("BOOKING_BUILD_COMMIT_SHA")
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// secretManagerCheck treats a missing health secret as reachable: the probe
// only verifies that Secret Manager answers.
func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	const secretHealthReference = "secret://system/healthz?version=latest"
	return repositories.DependencyCheck{
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
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, metrics auth.MetricsRecorder) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(cache,
		auth.WithOIDCLogger(adapter),
		auth.WithOIDCMetrics(metrics),
		auth.WithOIDCServiceAccounts(cfg.Security.OIDC.ServiceAccounts...),
	)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func buildWebhookMiddleware(logger *zap.Logger, cfg config.Config, metrics auth.MetricsRecorder) func(http.Handler) http.Handler {
	secret := strings.TrimSpace(cfg.PSP.StripeWebhookSecret)
	if secret == "" {
		return nil
	}
	verifier := auth.NewWebhookVerifier(secret, auth.NewInMemoryNonceStore(),
		auth.WithWebhookLogger(observability.NewPrintfAdapter(logger)),
		auth.WithWebhookHeader(cfg.Security.Webhook.Header),
		auth.WithWebhookTolerance(cfg.Security.Webhook.Tolerance),
		auth.WithWebhookMetrics(metrics),
	)
	return verifier.RequireSignature()
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func lookupEnv(key string) string {
	value, err := config.Lookup(key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	envLabel := strings.ToLower(lookupEnv("BOOKING_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookupEnv("BOOKING_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookupEnv("BOOKING_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookupEnv("BOOKING_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookupEnv("BOOKING_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projects := parseKeyValueList(lookupEnv("BOOKING_SECRET_PROJECT_IDS")); len(projects) > 0 {
		lowered := make(map[string]string, len(projects))
		for env, project := range projects {
			lowered[strings.ToLower(env)] = project
		}
		opts = append(opts, secrets.WithProjectMap(lowered))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(lookupEnv("BOOKING_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/MosquitoCurtains/new-sub007/internal/handlers"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/auth"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/config"
	pfirestore "github.com/MosquitoCurtains/new-sub007/internal/platform/firestore"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/httpx"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/idempotency"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/jobs"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/observability"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/requestctx"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/secrets"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/session"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/textutil"
	"github.com/MosquitoCurtains/new-sub007/internal/repositories"
	"github.com/MosquitoCurtains/new-sub007/internal/repositories/export"
	firestoreRepo "github.com/MosquitoCurtains/new-sub007/internal/repositories/firestore"
	redisRepo "github.com/MosquitoCurtains/new-sub007/internal/repositories/redis"
	"github.com/MosquitoCurtains/new-sub007/internal/services"
)

const warmupTimeout = 10 * time.Second

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
	ctx = requestctx.WithLogger(ctx, logger)

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
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	metrics, err := observability.NewMetrics(nil)
	if err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	var probes []repositories.Probe

	var firestoreProvider *pfirestore.Provider
	if usesFirestore(cfg) {
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := firestoreProvider.Close(closeCtx); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}()
		probes = append(probes, repositories.Probe{
			Name:     "firestore",
			Critical: true,
			Check:    firestoreProvider.Ping,
		})
	}

	redisClient, err := redisRepo.NewClient(ctx, cfg.Redis)
	if err != nil {
		if cfg.Cart.Store == config.CartStoreRedis {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		logger.Warn("redis unavailable; nonces and idempotency keys stay in process memory", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		client := redisClient
		probes = append(probes, repositories.Probe{
			Name:     "redis",
			Critical: cfg.Cart.Store == config.CartStoreRedis,
			Check:    func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}

	var storageClient *cloudstorage.Client
	if cfg.Catalog.Source == config.CatalogSourceBucket {
		storageClient, err = cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
	}

	catalogSource, ruleSource, err := newRecordSources(cfg, firestoreProvider, storageClient)
	if err != nil {
		logger.Fatal("failed to initialise catalog sources", zap.Error(err))
	}

	catalogProvider, err := services.NewCatalogProvider(services.CatalogProviderDeps{
		Source:   catalogSource,
		TTL:      cfg.Catalog.CacheTTL,
		Logger:   observability.EventLogger(logger.Named("catalog")),
		Metrics:  metrics,
		Sanitize: textutil.StripMarkup,
	})
	if err != nil {
		logger.Fatal("failed to initialise catalog provider", zap.Error(err))
	}
	ruleProvider, err := services.NewRuleProvider(services.RuleProviderDeps{
		Source:   ruleSource,
		TTL:      cfg.Catalog.RulesCacheTTL,
		Logger:   observability.EventLogger(logger.Named("rules")),
		Metrics:  metrics,
		Sanitize: textutil.StripMarkup,
	})
	if err != nil {
		logger.Fatal("failed to initialise rule provider", zap.Error(err))
	}
	probes = append(probes, repositories.Probe{
		Name:     "catalog",
		Critical: true,
		Check: func(ctx context.Context) error {
			_, err := catalogProvider.Snapshot(ctx)
			return err
		},
	})

	warmCtx, warmCancel := context.WithTimeout(ctx, warmupTimeout)
	if snap, err := catalogProvider.Snapshot(warmCtx); err != nil {
		logger.Warn("catalog warm-up failed; first request will retry", zap.Error(err))
	} else {
		logger.Info("catalog loaded", zap.String("version", snap.Version), zap.Int("entries", snap.Len()))
	}
	if _, err := ruleProvider.ActiveRules(warmCtx); err != nil {
		logger.Warn("rule warm-up failed; recommendations retry on demand", zap.Error(err))
	}
	warmCancel()

	cartStore, err := newCartStore(cfg, redisClient, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise cart store", zap.Error(err))
	}

	configuratorService, err := services.NewConfiguratorService(services.ConfiguratorServiceDeps{
		Catalog: catalogProvider,
		Rules:   ruleProvider,
		Logger:  observability.EventLogger(logger.Named("configurator")),
		Metrics: metrics,
	})
	if err != nil {
		logger.Fatal("failed to initialise configurator service", zap.Error(err))
	}

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Store:           cartStore,
		Catalog:         catalogProvider,
		Rules:           ruleProvider,
		Clock:           time.Now,
		Logger:          observability.EventLogger(logger.Named("cart")),
		Metrics:         metrics,
		DefaultCurrency: cfg.Cart.DefaultCurrency,
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	invalidationLogger := observability.EventLogger(logger.Named("invalidation"))
	cacheInvalidator, err := services.NewCacheInvalidation(catalogProvider, ruleProvider, invalidationLogger)
	if err != nil {
		logger.Fatal("failed to initialise cache invalidation", zap.Error(err))
	}

	internalOpts := []handlers.InternalOption{
		handlers.WithLocalInvalidator(cacheInvalidator),
		handlers.WithInternalLogger(invalidationLogger),
	}

	listenerCtx, listenerCancel := context.WithCancel(context.Background())
	var listenerWG sync.WaitGroup
	if projectID := strings.TrimSpace(cfg.PubSub.ProjectID); projectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()

		topic := pubsubClient.Topic(cfg.PubSub.Topic)
		defer topic.Stop()
		publisher, err := jobs.NewPubSubInvalidationPublisher(topic, instanceName())
		if err != nil {
			logger.Fatal("failed to initialise invalidation publisher", zap.Error(err))
		}
		internalOpts = append(internalOpts, handlers.WithInvalidationPublisher(publisher))
		probes = append(probes, repositories.Probe{
			Name: "pubsub",
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", cfg.PubSub.Topic)
				}
				return nil
			},
		})

		if subscription := strings.TrimSpace(cfg.PubSub.Subscription); subscription != "" {
			listener, err := jobs.NewInvalidationListener(pubsubClient.Subscription(subscription), cacheInvalidator, invalidationLogger)
			if err != nil {
				logger.Fatal("failed to initialise invalidation listener", zap.Error(err))
			}
			listenerWG.Add(1)
			go func() {
				defer listenerWG.Done()
				listenerLogger := logger.Named("invalidation").With(zap.String("subscription", subscription))
				listenerLogger.Info("invalidation listener started")
				if err := listener.Run(listenerCtx); err != nil && !errors.Is(err, context.Canceled) {
					listenerLogger.Error("invalidation listener stopped", zap.Error(err))
				}
			}()
		}
	} else {
		logger.Warn("pubsub project not configured; invalidations apply to this instance only")
	}

	systemService, err := newSystemService(probes, catalogProvider, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	sessions, err := session.NewManager(session.Options{
		CookieName: cfg.Session.CookieName,
		Secret:     cfg.Session.Secret,
		MaxAge:     cfg.Session.MaxAge,
		Secure:     cfg.Session.Secure,
	})
	if err != nil {
		logger.Fatal("failed to initialise session manager", zap.Error(err))
	}

	idempotencyMiddleware := idempotency.Middleware(
		newIdempotencyStore(logger, cfg, redisClient),
		idempotency.WithLogger(observability.EventLogger(logger.Named("idempotency"))),
	)

	hmacMiddleware := buildHMACMiddleware(logger.Named("auth"), cfg, redisClient)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(metrics),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)
	configuratorHandlers := handlers.NewConfiguratorHandlers(configuratorService)
	cartHandlers := handlers.NewCartHandlers(cartService)
	internalHandlers := handlers.NewInternalHandlers(internalOpts...)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithConfiguratorRoutes(configuratorHandlers.Routes,
			sessions.Middleware,
			handlers.RateLimit(cfg.Server.QuoteRateLimit, time.Minute),
		),
		handlers.WithCartRoutes(cartHandlers.Routes, sessions.Middleware, idempotencyMiddleware),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if hmacMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(hmacMiddleware))
	} else {
		logger.Warn("auth: no HMAC secrets configured; internal routes will reject requests")
		opts = append(opts, handlers.WithInternalMiddlewares(rejectInternal))
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
		serverLogger.Info("panel configurator api listening",
			zap.String("catalogSource", cfg.Catalog.Source),
			zap.String("cartStore", cfg.Cart.Store),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	listenerCancel()
	listenerWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func usesFirestore(cfg config.Config) bool {
	return cfg.Catalog.Source == config.CatalogSourceFirestore || cfg.Cart.Store == config.CartStoreFirestore
}

func newRecordSources(cfg config.Config, provider *pfirestore.Provider, storageClient *cloudstorage.Client) (repositories.CatalogSource, repositories.RuleSource, error) {
	switch cfg.Catalog.Source {
	case config.CatalogSourceFile:
		source := export.NewFileSource(cfg.Catalog.File, cfg.Catalog.RulesFile)
		return source, source, nil
	case config.CatalogSourceBucket:
		source, err := export.NewBucketSource(export.StorageOpener{Client: storageClient}, cfg.Catalog.Bucket, cfg.Catalog.CatalogObject, cfg.Catalog.RulesObject)
		if err != nil {
			return nil, nil, err
		}
		return source, source, nil
	case config.CatalogSourceFirestore:
		catalog, err := firestoreRepo.NewCatalogRepository(provider)
		if err != nil {
			return nil, nil, err
		}
		rules, err := firestoreRepo.NewRuleRepository(provider)
		if err != nil {
			return nil, nil, err
		}
		return catalog, rules, nil
	default:
		return nil, nil, fmt.Errorf("unsupported catalog source %q", cfg.Catalog.Source)
	}
}

func newCartStore(cfg config.Config, client *goredis.Client, provider *pfirestore.Provider) (repositories.CartSnapshotStore, error) {
	switch cfg.Cart.Store {
	case config.CartStoreRedis:
		if client == nil {
			return nil, errors.New("redis client is required for the redis cart store")
		}
		return redisRepo.NewCartStore(client, cfg.Redis.KeyPrefix, cfg.Cart.TTL)
	case config.CartStoreFirestore:
		return firestoreRepo.NewCartRepository(provider)
	default:
		return nil, fmt.Errorf("unsupported cart store %q", cfg.Cart.Store)
	}
}

func newIdempotencyStore(logger *zap.Logger, cfg config.Config, client *goredis.Client) idempotency.Store {
	if client != nil {
		store, err := redisRepo.NewIdempotencyStore(client, cfg.Redis.KeyPrefix)
		if err == nil {
			return store
		}
		logger.Warn("idempotency: redis store unavailable; using process memory", zap.Error(err))
	}
	return idempotency.NewMemoryStore()
}

func newSystemService(probes []repositories.Probe, catalog services.CatalogProvider, build services.BuildInfo) (services.SystemService, error) {
	repo, err := repositories.NewProbeHealthRepository(probes)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Catalog:          catalog,
		Clock:            time.Now,
		Build:            build,
	})
}

func buildHMACMiddleware(logger *zap.Logger, cfg config.Config, client *goredis.Client) func(http.Handler) http.Handler {
	secretsByCaller := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) == "" {
			continue
		}
		secretsByCaller[strings.ToLower(key)] = value
	}
	if len(secretsByCaller) == 0 {
		return nil
	}

	var nonces auth.NonceStore = auth.NewMemoryNonceStore()
	if client != nil {
		store, err := redisRepo.NewNonceStore(client, cfg.Redis.KeyPrefix)
		if err != nil {
			logger.Warn("auth: redis nonce store unavailable; nonces are per instance", zap.Error(err))
		} else {
			nonces = store
		}
	}

	verifier, err := auth.NewVerifier(secretsByCaller, nonces,
		auth.WithHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithNonceTTL(cfg.Security.HMAC.NonceTTL),
		auth.WithLogger(observability.EventLogger(logger)),
	)
	if err != nil {
		logger.Error("auth: hmac verifier init failed", zap.Error(err))
		return nil
	}
	return verifier.Require
}

func rejectInternal(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "internal routes are not configured", http.StatusUnauthorized))
	})
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
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

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firestore.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.PubSub.ProjectID)
}

func instanceName() string {
	if name := strings.TrimSpace(os.Getenv("K_REVISION")); name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil {
		return "api"
	}
	return host
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIRESTORE_PROJECT_ID")
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if path := lookup("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames(env map[string]string) []string {
	required := []string{"Session.Secret"}

	hmacRaw := ""
	if env != nil {
		hmacRaw = strings.TrimSpace(env["API_SECURITY_HMAC_SECRETS"])
		if password := strings.TrimSpace(env["API_REDIS_PASSWORD"]); password != "" {
			required = append(required, "Redis.Password")
		}
	}
	for _, key := range parseHMACSecretKeys(hmacRaw) {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}

	return uniqueStrings(required)
}

func parseHMACSecretKeys(raw string) []string {
	values := parseKeyValueList(raw)
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, strings.ToLower(key))
	}
	sort.Strings(keys)
	return keys
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}

// hivemindd is the composition root wiring the knowledge store, every
// pluggable capability, the ingestion/retrieval/access layers, the
// periodic maintenance workers, and the webhook dispatcher into one
// runnable process (spec.md §6). It exposes no transport of its own —
// an HTTP/gRPC/CLI front end is a separate concern layered on top of
// pkg/service.Service — so main simply wires dependencies, starts the
// background workers, and blocks until told to stop, in the same
// dependency-wiring shape as the teacher's cmd/tarsy/main.go.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/redis/go-redis/v9"

	"github.com/hivemind/core/pkg/access"
	"github.com/hivemind/core/pkg/capability"
	"github.com/hivemind/core/pkg/capability/embedding"
	"github.com/hivemind/core/pkg/capability/injection"
	"github.com/hivemind/core/pkg/capability/llm"
	"github.com/hivemind/core/pkg/capability/pii"
	"github.com/hivemind/core/pkg/capability/policy"
	"github.com/hivemind/core/pkg/capability/ratelimit"
	"github.com/hivemind/core/pkg/dedup"
	"github.com/hivemind/core/pkg/dedup/lsh"
	"github.com/hivemind/core/pkg/hmconfig"
	"github.com/hivemind/core/pkg/ingest"
	"github.com/hivemind/core/pkg/masking"
	"github.com/hivemind/core/pkg/retrieval"
	"github.com/hivemind/core/pkg/service"
	"github.com/hivemind/core/pkg/store"
	"github.com/hivemind/core/pkg/version"
	"github.com/hivemind/core/pkg/webhook"
	"github.com/hivemind/core/pkg/workers"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: invalid int for %s=%q, using default %d", key, v, defaultValue)
		return defaultValue
	}
	return n
}

func main() {
	configDir := getEnv("CONFIG_DIR", "./deploy/config")
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := hmconfig.Default()

	dbClient, err := store.NewClient(ctx, store.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "hivemind"),
		Password: getEnv("DB_PASSWORD", ""),
		Database: getEnv("DB_NAME", "hivemind"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),

		MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.DB().Close(); err != nil {
			log.Printf("Error closing database connection: %v", err)
		}
	}()
	log.Println("Connected to PostgreSQL, migrations applied")

	pg := store.NewPostgresStore(dbClient)

	redisClient := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{getEnv("REDIS_ADDR", "localhost:6379")},
	})
	rateStore := ratelimit.NewStore(redisClient)

	policyEngine, err := policy.NewEngine(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}
	policies, err := pg.ListPolicies(ctx)
	if err != nil {
		log.Fatalf("Failed to load policy tuples: %v", err)
	}
	if err := policyEngine.RestorePolicies(ctx, policies); err != nil {
		log.Fatalf("Failed to restore policy tuples: %v", err)
	}
	roles, err := pg.ListRoleAssignments(ctx)
	if err != nil {
		log.Fatalf("Failed to load role assignments: %v", err)
	}
	if err := policyEngine.RestoreRoles(ctx, roles); err != nil {
		log.Fatalf("Failed to restore role assignments: %v", err)
	}
	log.Printf("Policy engine restored: %d policies, %d role assignments", len(policies), len(roles))

	keySet := jwk.NewSet()
	if jwksPath := os.Getenv("JWT_JWKS_PATH"); jwksPath != "" {
		loaded, err := jwk.ParseFile(jwksPath)
		if err != nil {
			log.Fatalf("Failed to load JWKS from %s: %v", jwksPath, err)
		}
		keySet = loaded
	} else {
		log.Printf("Warning: JWT_JWKS_PATH not set; bearer-token authentication will reject every token")
	}

	identity := access.NewResolver(access.NewKeySetVerifier(keySet), pg, time.Now)
	authz := access.NewAuthorizer(policyEngine)
	rateLimiter := access.NewRateLimiter(rateStore, cfg, time.Now)
	burstChecker := access.NewBurstChecker(rateStore, cfg, time.Now)
	_ = identity // wired for a future transport layer to call before invoking Service

	// Heavyweight capabilities (spec.md §5: "lazy singletons... process-
	// wide values initialized behind a one-shot initializer") go through
	// sync.OnceValue even though the default implementations here are
	// cheap — a deployment that swaps in a real embedding model or NLP
	// PII pipeline gets the one-shot, race-free construction for free,
	// with no call site change required.
	embedProviderOnce := sync.OnceValue(func() capability.EmbeddingProvider { return embedding.NewHashingProvider(256) })
	injectionClassifierOnce := sync.OnceValue(func() capability.InjectionClassifier { return injection.NewHeuristicClassifier() })
	piiAnalyzerOnce := sync.OnceValue(func() capability.PIIAnalyzer { return pii.NewPatternAnalyzer() })
	piiAnonymizerOnce := sync.OnceValue(func() capability.Anonymizer { return pii.NewPatternAnonymizer() })

	embedProvider := embedProviderOnce()
	injectionClassifier := injectionClassifierOnce()
	piiAnalyzer := piiAnalyzerOnce()
	piiAnonymizer := piiAnonymizerOnce()
	llmClient := llm.NewAnthropicClient()

	maskingPipeline := masking.NewPipeline(piiAnalyzer, piiAnonymizer, masking.Config{
		MinVerbatimLen:    cfg.PIIMinVerbatimLen,
		MaxRedactionRatio: cfg.PIIRedactionRatioMax,
	})
	lshIndex := lsh.New(lsh.Config{NumPerm: cfg.MinHashNumPerm, Threshold: cfg.MinHashThreshold, ShingleK: 3})
	detector := dedup.NewDetector(pg, lshIndex, llmClient, func(ctx context.Context, id string) (string, error) {
		item, err := pg.GetKnowledgeItemByID(ctx, id)
		if err != nil {
			return "", err
		}
		return item.Content, nil
	}, cfg)
	resolver := dedup.NewResolver(llmClient, cfg)

	pipeline := &ingest.Pipeline{
		Authz:     authz,
		RateLimit: rateLimiter,
		Burst:     burstChecker,
		Injection: injectionClassifier,
		Masking:   maskingPipeline,
		Embedding: embedProvider,
		Detector:  detector,
		Resolver:  resolver,
		Store:     pg,
		Pending:   pg,
		Cfg:       cfg,
	}

	retrievalEngine := retrieval.NewEngine(pg, pg, cfg, time.Now)

	dispatcher := webhook.NewDispatcher(pg, cfg, time.Now)

	svc := service.New(pipeline, retrievalEngine, authz, pg, pg, pg, policyEngine, dispatcher, embedProvider, time.Now)
	_ = svc // the composition root's deliverable; a transport layer drives it

	scheduler := workers.NewScheduler(time.Minute,
		workers.NewQualityAggregator(pg, pg, pg, cfg, time.Now),
		workers.NewDistillation(pg, pg, pg, llmClient, maskingPipeline, embedProvider, cfg, time.Now),
		workers.NewRetention(pg, pg, cfg, time.Now),
	)
	scheduler.Start(ctx)
	log.Println("Maintenance workers started (quality aggregation, distillation, retention)")

	slog.Info("hivemindd ready", "version", version.Full())
	<-ctx.Done()

	log.Println("Shutting down...")
	scheduler.Stop()
}

// chaoscore is the proof-of-agency service: it records agent actions,
// verifies them against schemas, attestations and domain rules, anchors the
// verified claims, assesses outcomes and settles reputation and rewards.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	_ "github.com/lib/pq"        // Postgres driver
	_ "modernc.org/sqlite"       // SQLite driver

	"github.com/chaoschain/chaoscore/pkg/anchor"
	"github.com/chaoschain/chaoscore/pkg/api"
	"github.com/chaoschain/chaoscore/pkg/archive"
	"github.com/chaoschain/chaoscore/pkg/attestation"
	"github.com/chaoschain/chaoscore/pkg/audit"
	"github.com/chaoschain/chaoscore/pkg/auth"
	"github.com/chaoschain/chaoscore/pkg/config"
	"github.com/chaoschain/chaoscore/pkg/crypto"
	"github.com/chaoschain/chaoscore/pkg/executor"
	"github.com/chaoschain/chaoscore/pkg/identity"
	"github.com/chaoschain/chaoscore/pkg/outcome"
	"github.com/chaoschain/chaoscore/pkg/payload"
	"github.com/chaoschain/chaoscore/pkg/registry"
	"github.com/chaoschain/chaoscore/pkg/reputation"
	"github.com/chaoschain/chaoscore/pkg/reward"
	"github.com/chaoschain/chaoscore/pkg/service"
	"github.com/chaoschain/chaoscore/pkg/verification"
)

func main() {
	if err := run(); err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	ctx := context.Background()

	profile, err := config.LoadProfile(cfg.ProfilesDir, cfg.Profile)
	if err != nil {
		slog.Warn("policy profile not found, using built-in defaults", "profile", cfg.Profile, "error", err)
		profile = defaultProfile()
	}
	slog.Info("policy profile loaded", "code", profile.Code, "quorum", profile.Verification.Quorum)

	db, stores, err := openStores(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	reg := registry.New(stores.actions, stores.outcomes)

	signer, err := crypto.NewEd25519Signer("chaoscore-executor")
	if err != nil {
		return err
	}
	signers := crypto.NewTrustedSignerRegistry()
	signers.RegisterSigner(signer)
	attMgr := attestation.NewManager(signer, signers, stores.attestations)

	backend, err := buildBackend(ctx, profile)
	if err != nil {
		return err
	}
	exec := executor.New(backend, attMgr, stores.executions)

	payloads := payload.NewRegistry()
	for actionType, schema := range profile.Schemas {
		if err := payloads.Register(actionType, schema); err != nil {
			return err
		}
	}

	rules, err := verification.NewCELRuleEvaluator()
	if err != nil {
		return err
	}
	engine := verification.NewEngine(reg, exec, attMgr, payloads, rules, profile.Verification.DomainRules)

	anchors := anchor.NewClient(reg, anchor.NewChainLedger(), stores.anchors, rate.NewLimiter(rate.Limit(10), 20))

	calc := reputation.NewCalculator(stores.scores, buildCache(cfg.RedisURL), reputationParams(profile))
	assessor := outcome.NewAssessor(reg, calc)

	policy := reward.ProportionalPolicy{
		BaseReward:        profile.Reward.BaseReward,
		FailureMultiplier: profile.Reward.FailureMultiplier,
		VerifierRate:      profile.Reward.VerifierRate,
	}
	distributor := reward.NewDistributor(reg, anchors, stores.distributions, policy, profile.Reward.MaxPerAction)

	evidence, err := buildEvidence(ctx, cfg)
	if err != nil {
		return err
	}

	svc, err := service.NewValidated(service.Components{
		Registry:   reg,
		Executor:   exec,
		Engine:     engine,
		Consensus:  verification.NewCoordinator(reg, profile.Verification.Quorum),
		Anchors:    anchors,
		Outcomes:   assessor,
		Reputation: calc,
		Rewards:    distributor,
		Identity:   buildDirectory(profile),
		Evidence:   evidence,
		Audit:      audit.NewLogger(),
		Verifiers:  profile.Verification.Verifiers,
	})
	if err != nil {
		return err
	}

	handler := buildHandler(svc, cfg)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("chaoscore listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// storeSet holds the persistence layer, SQLite or Postgres backed.
type storeSet struct {
	actions       registry.ActionStore
	outcomes      registry.OutcomeStore
	executions    executor.ExecutionStore
	attestations  attestation.Store
	anchors       anchor.Store
	scores        reputation.ScoreStore
	distributions reward.DistributionStore
}

func openStores(ctx context.Context, databaseURL string) (*sql.DB, *storeSet, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, nil, err
		}
		slog.Info("postgres connected")
		// Schema is managed by migrations; only the action store has a
		// Postgres implementation so far, the rest rides on SQLite-compatible
		// stores over the same pool.
		return db, &storeSet{
			actions:       registry.NewPostgresActionStore(db),
			outcomes:      registry.NewMemoryOutcomeStore(),
			executions:    executor.NewMemoryExecutionStore(),
			attestations:  attestation.NewMemoryStore(),
			anchors:       anchor.NewMemoryStore(),
			scores:        reputation.NewMemoryScoreStore(),
			distributions: reward.NewMemoryDistributionStore(),
		}, nil
	}

	db, err := sql.Open("sqlite", databaseURL)
	if err != nil {
		return nil, nil, err
	}
	// modernc sqlite needs a single writer connection
	db.SetMaxOpenConns(1)

	actions, err := registry.NewSQLiteActionStore(db)
	if err != nil {
		return nil, nil, err
	}
	outcomes, err := registry.NewSQLiteOutcomeStore(db)
	if err != nil {
		return nil, nil, err
	}
	executions, err := executor.NewSQLiteExecutionStore(db)
	if err != nil {
		return nil, nil, err
	}
	attestations, err := attestation.NewSQLiteStore(db)
	if err != nil {
		return nil, nil, err
	}
	anchors, err := anchor.NewSQLiteStore(db)
	if err != nil {
		return nil, nil, err
	}
	scores, err := reputation.NewSQLiteScoreStore(db)
	if err != nil {
		return nil, nil, err
	}
	distributions, err := reward.NewSQLiteDistributionStore(db)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("sqlite ready", "url", databaseURL)

	return db, &storeSet{
		actions:       actions,
		outcomes:      outcomes,
		executions:    executions,
		attestations:  attestations,
		anchors:       anchors,
		scores:        scores,
		distributions: distributions,
	}, nil
}

func buildBackend(ctx context.Context, profile *config.PolicyProfile) (executor.Backend, error) {
	if profile.Execution.Environment == "wasm-sandbox" {
		return executor.NewWasmBackend(ctx, executor.WasmConfig{
			MemoryLimitBytes: uint64(profile.Execution.MemoryLimitBytes),
			CPUTimeLimit:     30 * time.Second,
		})
	}
	env := profile.Execution.Environment
	if env == "" {
		env = "sgx-sim"
	}
	return executor.NewSimBackend(env), nil
}

// buildDirectory populates the identity directory from the profile's agent
// roster. No roster means open registration.
func buildDirectory(profile *config.PolicyProfile) identity.Directory {
	if len(profile.Agents) == 0 {
		slog.Warn("no agents configured, identity checks disabled")
		return nil
	}
	dir := identity.NewStaticDirectory()
	for _, a := range profile.Agents {
		dir.Register(&identity.Agent{
			AgentID:      a.AgentID,
			PublicKey:    a.PublicKey,
			Capabilities: a.Capabilities,
		})
	}
	slog.Info("identity directory loaded", "agents", len(profile.Agents))
	return dir
}

func buildCache(redisURL string) reputation.Cache {
	if redisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		slog.Warn("invalid REDIS_URL, reputation cache disabled", "error", err)
		return nil
	}
	slog.Info("redis reputation cache enabled")
	return reputation.NewRedisCache(redis.NewClient(opts), time.Minute)
}

func buildEvidence(ctx context.Context, cfg *config.Config) (*archive.Archive, error) {
	if cfg.S3Bucket == "" {
		return archive.NewArchive(archive.NewMemoryStore()), nil
	}
	store, err := archive.NewS3Store(ctx, archive.S3Config{
		Bucket:   cfg.S3Bucket,
		Region:   cfg.S3Region,
		Endpoint: cfg.S3Endpoint,
		Prefix:   "evidence/",
	})
	if err != nil {
		return nil, err
	}
	slog.Info("s3 evidence archive enabled", "bucket", cfg.S3Bucket)
	return archive.NewArchive(store), nil
}

func reputationParams(profile *config.PolicyProfile) reputation.Params {
	params := reputation.DefaultParams()
	if profile.Reputation.InitialScore > 0 {
		params.InitialScore = profile.Reputation.InitialScore
	}
	if profile.Reputation.MaxScore > 0 {
		params.MaxScore = profile.Reputation.MaxScore
	}
	if profile.Reputation.SuccessGain > 0 {
		params.SuccessGain = profile.Reputation.SuccessGain
	}
	if profile.Reputation.FailurePenalty > 0 {
		params.FailurePenalty = profile.Reputation.FailurePenalty
	}
	if profile.Reputation.DecayHalfLifeHrs > 0 {
		params.DecayHalfLife = time.Duration(profile.Reputation.DecayHalfLifeHrs) * time.Hour
	}
	return params
}

func defaultProfile() *config.PolicyProfile {
	return &config.PolicyProfile{
		Name: "Default",
		Code: "default",
		Verification: config.VerificationCfg{
			Verifiers: []string{"verifier-1"},
			Quorum:    1,
		},
		Reward: config.RewardCfg{
			BaseReward:        100,
			FailureMultiplier: 0.25,
			VerifierRate:      0.10,
		},
		Execution: config.ExecutionCfg{Environment: "sgx-sim"},
	}
}

func buildHandler(svc *service.Service, cfg *config.Config) http.Handler {
	mux := api.NewServer(svc).Routes()

	var handler http.Handler = mux
	handler = api.IdempotencyMiddleware(api.NewIdempotencyStore(10 * time.Minute))(handler)
	if cfg.JWTSecret != "" {
		handler = auth.NewMiddleware(auth.NewHMACValidator(cfg.JWTSecret))(handler)
	} else {
		slog.Warn("JWT_SECRET not set, API authentication disabled")
	}
	handler = auth.NewActorLimiter(50, 100).Middleware(handler)
	handler = auth.CORSMiddleware(nil)(handler)
	handler = auth.RequestIDMiddleware(handler)
	return handler
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dhawalhost/riskgate/internal/audit"
	"github.com/dhawalhost/riskgate/internal/behavior"
	"github.com/dhawalhost/riskgate/internal/idp"
	"github.com/dhawalhost/riskgate/internal/mfa"
	"github.com/dhawalhost/riskgate/internal/policy"
	"github.com/dhawalhost/riskgate/internal/risk"
	"github.com/dhawalhost/riskgate/internal/token"
	"github.com/dhawalhost/riskgate/pkg/database"
	"github.com/dhawalhost/riskgate/pkg/logger"
	"github.com/dhawalhost/riskgate/pkg/middleware"
	"github.com/dhawalhost/riskgate/pkg/observability"
)

const serviceName = "riskgate"

func main() {
	env := envOr("RISKGATE_ENV", "development")
	log, err := logger.New(envOr("RISKGATE_LOG_LEVEL", "info"), env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: envOr("RISKGATE_VERSION", "dev"),
		Environment:    env,
	}, log)
	if err != nil {
		log.Fatal("tracer init failed", zap.Error(err))
	}

	metrics := observability.NewMetrics(nil)

	scorerCfg := risk.DefaultConfig()
	if v := os.Getenv("RISKGATE_NOISE_MAX"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			scorerCfg.NoiseMax = f
		}
	}
	scorer := risk.NewScorer(scorerCfg)

	// Postgres backs both the behavior profile and the audit trail when
	// configured; otherwise everything runs in-process, which is fine for a
	// single node and for development but loses state on restart.
	var behaviorStore behavior.Store
	var auditStore audit.Store
	if os.Getenv("RISKGATE_DB_HOST") != "" {
		db, err := database.Connect(ctx, database.ConfigFromEnv())
		if err != nil {
			log.Fatal("database connection failed", zap.Error(err))
		}
		defer db.Close()
		behaviorStore = behavior.NewSQLStore(db, scorer.ActionContribution)
		auditStore = audit.NewSQLStore(db)
		log.Info("using postgres-backed stores")
	} else {
		behaviorStore = behavior.NewMemoryStore(scorer.ActionContribution)
		auditStore = audit.NewMemoryStore()
		log.Warn("RISKGATE_DB_HOST not set, using in-memory stores; state will not survive restarts")
	}

	recorder := audit.NewRecorder(auditStore, log)
	defer recorder.Close()

	policies := policy.DefaultPolicies()
	if path := os.Getenv("RISKGATE_POLICY_FILE"); path != "" {
		policies, err = policy.LoadPolicies(path)
		if err != nil {
			log.Fatal("policy file rejected", zap.String("path", path), zap.Error(err))
		}
		log.Info("policies loaded", zap.String("path", path), zap.Int("count", len(policies)))
	}
	registry := policy.NewRegistry(policies)

	extractor := token.NewExtractor(token.DefaultFilterConfig())
	verifier := mfa.NewVerifier(serviceName, mfa.NewMemorySecretStore(), log)

	pdp := policy.NewPDP(policy.PDPConfig{
		Registry: registry,
		Behavior: behaviorStore,
		Scorer:   scorer,
		Recorder: recorder,
		Observer: metrics,
		Logger:   log,
	})
	resolver := policy.NewResolver(pdp, registry)

	if env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.SecurityHeadersMiddleware(),
		middleware.RateLimitMiddleware(rate.Limit(envFloat("RISKGATE_RATE_LIMIT", 50)), envInt("RISKGATE_RATE_BURST", 100)),
		cors.New(cors.Config{
			AllowOrigins:     []string{envOr("RISKGATE_CORS_ORIGIN", "http://localhost:3000")},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.LocationHeader, middleware.DeviceHeader, middleware.MFAVerifiedHeader, middleware.VPNConnectedHeader, policy.MFACodeHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		otelgin.Middleware(serviceName),
		observability.PrometheusMiddleware(metrics),
		middleware.RiskContextExtractor(),
	)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(observability.PrometheusHandler()))

	v1 := router.Group("/v1")
	policy.NewHTTPHandler(extractor, pdp, resolver, verifier, log).RegisterRoutes(v1)
	risk.NewHTTPHandler(extractor, behaviorStore, scorer, recorder, log).RegisterRoutes(v1)
	audit.NewHTTPHandler(recorder, log).RegisterRoutes(v1)
	mfa.NewHTTPHandler(verifier, log).RegisterRoutes(v1)

	if issuer := os.Getenv("RISKGATE_OIDC_ISSUER"); issuer != "" {
		client := idp.NewClient(idp.Config{
			IssuerURL:    issuer,
			ClientID:     envOr("RISKGATE_OIDC_CLIENT_ID", serviceName),
			ClientSecret: os.Getenv("RISKGATE_OIDC_CLIENT_SECRET"),
			RedirectURL:  envOr("RISKGATE_OIDC_REDIRECT_URL", "http://localhost:8080/v1/auth/callback"),
		})
		idp.NewHTTPHandler(client, behaviorStore, recorder, log).RegisterRoutes(v1)
		log.Info("oidc login flow enabled", zap.String("issuer", issuer))
	}

	addr := ":" + envOr("RISKGATE_PORT", "8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("tracer shutdown failed", zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

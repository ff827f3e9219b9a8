package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ctrl-labs/ctrl-gateway/internal/api"
	"github.com/ctrl-labs/ctrl-gateway/internal/config"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/account"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/admission"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/apikey"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/auth"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/billing"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/database"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/middleware"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/openrouter"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/prober"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/router"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/scheduler"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/tier"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/usage"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

// Gateway owns the HTTP server and every service behind it.
type Gateway struct {
	config *config.Config

	app         *fiber.App
	redisClient *redis.Client
	db          *database.DB
}

func New(cfg *config.Config) *Gateway {
	return &Gateway{config: cfg}
}

// Run brings the gateway up and blocks until shutdown.
func (g *Gateway) Run() error {
	if err := g.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogLevel(g.config)

	listenAddr := ":" + g.config.Server.Port

	g.app = createFiberApp(g.config)

	redisClient, err := createRedisClient(g.config)
	if err != nil {
		return err
	}
	g.redisClient = redisClient
	defer func() {
		if err := g.redisClient.Close(); err != nil {
			fiberlog.Errorf("Failed to close Redis client: %v", err)
		}
	}()

	db, err := database.New(g.config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	g.db = db
	defer func() {
		if err := g.db.Close(); err != nil {
			fiberlog.Errorf("Failed to close database connection: %v", err)
		}
	}()

	if err := g.db.AutoMigrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	setupMiddleware(g.app, g.config)

	svcs := buildServices(g.config, g.db, g.redisClient)
	setupRoutes(g.app, g.config, g.db, g.redisClient, svcs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if interval := g.config.Scheduler.HealthCheckInterval; interval > 0 {
		sched := scheduler.NewHealthCheckScheduler(svcs.prober, interval)
		go sched.Start(ctx)
		defer sched.Stop()
	}

	fiberlog.Infof("Gateway starting on %s (environment: %s)", listenAddr, g.config.Server.Environment)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := g.app.Listen(listenAddr); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		fiberlog.Infof("Received signal: %v. Starting graceful shutdown...", sig)
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	}

	if err := g.app.ShutdownWithTimeout(30 * time.Second); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	fiberlog.Info("Server shutdown completed")
	return nil
}

type services struct {
	accounts  *account.Service
	apiKeys   *apikey.Service
	tiers     *tier.Service
	admission *admission.Service
	router    *router.Service
	upstream  *openrouter.Client
	prober    *prober.Service
	billing   *billing.Service
	usage     *usage.Service
}

func buildServices(cfg *config.Config, db *database.DB, redisClient *redis.Client) *services {
	accounts := account.NewService(db.DB)
	apiKeys := apikey.NewService(db.DB)
	tiers := tier.NewService(db.DB, redisClient)
	admissionService := admission.NewService(redisClient, tiers)
	routerService := router.NewService(db.DB, redisClient, cfg.Upstream.HealthCooldown)
	upstream := openrouter.NewClient(cfg.Upstream)
	proberService := prober.NewService(db.DB, upstream, routerService, cfg.Upstream.HealthCooldown)
	billingService := billing.NewService(db.DB, cfg.Billing)
	usageService := usage.NewService(db.DB, redisClient, tiers, billingService)

	return &services{
		accounts:  accounts,
		apiKeys:   apiKeys,
		tiers:     tiers,
		admission: admissionService,
		router:    routerService,
		upstream:  upstream,
		prober:    proberService,
		billing:   billingService,
		usage:     usageService,
	}
}

func setupRoutes(app *fiber.App, cfg *config.Config, db *database.DB, redisClient *redis.Client, svcs *services) {
	proxyHandler := api.NewProxyHandler(cfg, svcs.apiKeys, svcs.tiers, svcs.admission, svcs.router, svcs.upstream, svcs.usage)
	app.Post("/v1/ai", proxyHandler.HandleChat)

	app.Get("/health", api.NewHealthHandler(db, redisClient).GetHealth)

	var providers []auth.Provider
	if cfg.Auth.ClerkSecretKey != "" {
		providers = append(providers, auth.NewClerkProvider(cfg.Auth.ClerkSecretKey))
	}
	if cfg.Auth.ServiceTokenSecret != "" {
		providers = append(providers, auth.NewServiceTokenProvider(cfg.Auth.ServiceTokenSecret))
	}
	adminAuth := middleware.NewAdminMiddleware(svcs.accounts, providers...)

	admin := app.Group("/v1/admin", adminAuth.RequireAdmin())

	keyHandler := api.NewAPIKeyHandler(svcs.apiKeys)
	admin.Get("/keys", keyHandler.ListKeys)
	admin.Post("/keys", keyHandler.CreateKey)
	admin.Patch("/keys/:key", keyHandler.UpdateKey)
	admin.Delete("/keys/:key", keyHandler.RevokeKey)

	credHandler := api.NewCredentialHandler(db.DB, svcs.router)
	admin.Get("/credentials", credHandler.ListCredentials)
	admin.Post("/credentials", credHandler.CreateCredential)
	admin.Delete("/credentials/:id", credHandler.DeleteCredential)

	tierHandler := api.NewTierHandler(svcs.tiers)
	admin.Get("/tiers", tierHandler.ListTiers)
	admin.Post("/tiers", tierHandler.UpsertTier)
	admin.Delete("/tiers/:name", tierHandler.DeleteTier)

	admin.Get("/analytics", api.NewAnalyticsHandler(svcs.usage).GetAnalytics)

	cronAuth := middleware.NewCronMiddleware(cfg.Auth.CronSecret)
	app.Get("/api/cron/healthcheck", cronAuth.RequireCronSecret(), api.NewHealthCheckHandler(svcs.prober).RunHealthCheck)

	billingHandler := api.NewBillingHandler(svcs.billing)
	app.Post("/v1/billing/settle", adminAuth.RequireAdmin(), billingHandler.CreateSettlement)
	app.Post("/webhooks/stripe", billingHandler.HandleStripeWebhook)

	if cfg.Auth.ClerkWebhookSecret != "" {
		app.Post("/webhooks/clerk", api.NewClerkWebhookHandler(cfg.Auth.ClerkWebhookSecret, svcs.accounts).HandleWebhook)
	}
}

func createFiberApp(cfg *config.Config) *fiber.App {
	isProd := cfg.IsProduction()

	return fiber.New(fiber.Config{
		AppName:           "ctrl-gateway",
		EnablePrintRoutes: !isProd,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		ServerHeader:      "ctrl-gateway",
		CaseSensitive:     true,
	})
}

func setupMiddleware(app *fiber.App, cfg *config.Config) {
	isProd := cfg.IsProduction()

	app.Use(recover.New(recover.Config{
		EnableStackTrace: !isProd,
	}))

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	if isProd {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency}\n",
		}))
	} else {
		app.Use(logger.New())
	}

	allowedOrigins := cfg.Server.AllowedOrigins
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
}

func setupLogLevel(cfg *config.Config) {
	switch cfg.Server.LogLevel {
	case "trace":
		fiberlog.SetLevel(fiberlog.LevelTrace)
	case "debug":
		fiberlog.SetLevel(fiberlog.LevelDebug)
	case "info", "":
		fiberlog.SetLevel(fiberlog.LevelInfo)
	case "warn", "warning":
		fiberlog.SetLevel(fiberlog.LevelWarn)
	case "error":
		fiberlog.SetLevel(fiberlog.LevelError)
	default:
		fiberlog.SetLevel(fiberlog.LevelInfo)
		fiberlog.Warnf("Unknown log level '%s', defaulting to 'info'", cfg.Server.LogLevel)
	}
}

func createRedisClient(cfg *config.Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.MaxRetries = 3

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

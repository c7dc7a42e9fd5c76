package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/etag"

	"mailflow_server/adapter/in/http"
	"mailflow_server/config"
	"mailflow_server/infra/middleware"
	"mailflow_server/pkg/logger"
)

const (
	bodyLimit = 10 * 1024 * 1024

	authRateLimit  = 30
	authRateWindow = time.Minute
)

func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := NewApp(cfg, deps)
	logger.Info("API server initialized successfully")
	return app, cleanup, nil
}

// NewApp builds the fiber app from already constructed dependencies.
func NewApp(cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               cfg.ProjectName,
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		// go-json for request and response bodies
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:    bodyLimit,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		ServerHeader: "",
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityHeaders())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	// AllowCredentials requires explicit origins
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := allowOrigins != "" && allowOrigins != "*"
	if !allowCredentials && cfg.IsProduction() {
		allowOrigins = cfg.FrontendURL
		allowCredentials = true
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-Cache,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))
	app.Use(etag.New())
	app.Use(deps.Sessions.Middleware())
	app.Use(middleware.Latency(deps.Latency))

	api := app.Group("/api")

	health := http.NewHealthHandler().
		WithCheck("database", deps.TokenRepo).
		WithCircuit(deps.GmailProvider.CircuitState)
	if deps.Redis != nil {
		health.WithCheck("redis", http.PingFunc(func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		}))
	} else {
		health.WithCheck("redis", nil)
	}
	health.Register(api)

	http.NewMetricsHandler(deps.Latency, deps.SQLDB.DB, deps.LocalCache).Register(api)

	http.NewAuthHandler(deps.AuthService, deps.Sessions, deps.Cache, cfg.FrontendURL).
		Register(api, middleware.SensitiveEndpointLimiter(authRateLimit, authRateWindow))

	http.NewGmailHandler(deps.MailService, deps.Cache, cfg.CacheListTTL, cfg.CacheDetailTTL).
		Register(api)

	return app
}

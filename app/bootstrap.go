package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"cloudarc/internal/audit"
	"cloudarc/internal/auth"
	"cloudarc/internal/cache"
	"cloudarc/internal/db"
	"cloudarc/internal/mail"
	"cloudarc/internal/maintenance"
	"cloudarc/internal/observability"
	"cloudarc/internal/task"
	"cloudarc/internal/user"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	accessSecret, err := mustEnv("ACCESS_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}
	refreshSecret, err := mustEnv("REFRESH_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}
	if accessSecret == refreshSecret {
		return nil, fmt.Errorf("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	// Redis is optional. When absent the cache degrades into a no-op and
	// every read goes to Postgres.
	var redisClient *redis.Client
	if redisURL := strings.TrimSpace(os.Getenv("REDIS_URL")); redisURL != "" {
		opts, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			logger.Error("parse_redis_url_failed", map[string]any{"error": parseErr.Error()})
		} else {
			redisClient = redis.NewClient(opts)
		}
	}
	readCache := cache.New(redisClient, envSecondsOrDefault("CACHE_TTL_SECONDS", 60), logger)

	var mailer mail.Mailer
	if smtpHost := strings.TrimSpace(os.Getenv("SMTP_HOST")); smtpHost != "" {
		mailer = mail.NewSMTP(
			smtpHost,
			os.Getenv("SMTP_PORT"),
			os.Getenv("SMTP_USERNAME"),
			os.Getenv("SMTP_PASSWORD"),
			os.Getenv("SMTP_FROM"),
		)
	} else {
		mailer = mail.NewLogMailer(logger)
	}

	codec := auth.NewTokenCodec(accessSecret, refreshSecret)
	codec.WithTTLs(
		envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
	)

	authRepo := auth.NewRepository(database)
	authService := auth.NewService(authRepo, authRepo, authRepo, codec, mailer, logger)
	authService.WithResetConfig(
		envMinutesOrDefault("RESET_TOKEN_TTL_MINUTES", 30),
		envOrDefault("APP_BASE_URL", "http://localhost:3000"),
	)
	authHandler := auth.NewHandler(authService)

	auditRecorder := audit.NewRecorder(database, logger)
	auditHandler := audit.NewHandler(auditRecorder)
	authService.WithAuditRecorder(auditRecorder)

	taskRepo := task.NewRepository(database)
	taskService := task.NewService(taskRepo, readCache, auditRecorder, logger)
	taskHandler := task.NewHandler(taskService)

	userRepo := user.NewRepository(database)
	userHandler := user.NewHandler(userRepo, auditRecorder)

	cleanupHandler := maintenance.NewCleanupHandler(
		authRepo,
		logger,
		os.Getenv("CRON_SECRET"),
		envIntOrDefault("TOKEN_CLEANUP_BATCH_SIZE", 500),
	)

	authed := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(codec, h)
	}
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(codec, auth.RequireRole(auth.RoleAdmin, h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", authHandler.Register)
	mux.HandleFunc("POST /auth/login", authHandler.Login)
	mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /auth/logout", authHandler.Logout)
	mux.Handle("POST /auth/logout-all", authed(authHandler.LogoutAll))
	mux.HandleFunc("POST /auth/forgot-password", authHandler.ForgotPassword)
	mux.HandleFunc("POST /auth/reset-password", authHandler.ResetPassword)

	mux.Handle("GET /users", adminOnly(userHandler.List))
	mux.Handle("GET /users/{id}", authed(userHandler.Get))
	mux.Handle("PUT /users/{id}", authed(userHandler.Update))
	mux.Handle("DELETE /users/{id}", adminOnly(userHandler.Delete))

	mux.Handle("GET /tasks", authed(taskHandler.List))
	mux.Handle("GET /tasks/{id}", authed(taskHandler.Get))
	mux.Handle("POST /tasks", authed(taskHandler.Create))
	mux.Handle("PUT /tasks/{id}", authed(taskHandler.Update))
	mux.Handle("DELETE /tasks/{id}", authed(taskHandler.Delete))

	mux.Handle("GET /admin/audit-logs", adminOnly(auditHandler.List))

	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger,
		observability.RequestIDMiddleware(
			observability.RequestLoggingMiddleware(logger, mux)))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			logger.Sync()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return database.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

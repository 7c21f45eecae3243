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

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"citizen-portal/internal/auth"
	"citizen-portal/internal/db"
	"citizen-portal/internal/maintenance"
	"citizen-portal/internal/media"
	"citizen-portal/internal/observability"
	"citizen-portal/internal/profile"
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

	hasher := auth.NewHasher(auth.HashParams{
		Memory:      uint32(envIntOrDefault("ARGON2_MEMORY_KIB", 19456)),
		Time:        uint32(envIntOrDefault("ARGON2_TIME_COST", 3)),
		Parallelism: uint8(envIntOrDefault("ARGON2_PARALLELISM", 1)),
	})

	authRepo := auth.NewRepository(database)
	sessions := auth.NewSessionManager(database, envMinutesOrDefault("SESSION_TTL_MINUTES", 5))
	resets := auth.NewResetManager(database, envMinutesOrDefault("RESET_TOKEN_TTL_MINUTES", 10))

	authService := auth.NewService(authRepo, sessions, resets, hasher, logger)
	authService.WithAdminSecret(os.Getenv("ADMIN_PASSWORD"))

	profileRepo := profile.NewRepository(database)

	photoStorage, err := media.NewLocalStorage(
		envOrDefault("STORAGE_DIR", "data/storage"),
		envOrDefault("STORAGE_URL_BASE", "/storage"),
	)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init photo storage: %w", err)
	}

	secureCookies := envOrDefault("APP_ENV", "development") == "production"
	authHandler := auth.NewHandler(authService, profileRepo, secureCookies)
	profileHandler := profile.NewHandler(profileRepo, photoStorage)

	cleanupHandler := maintenance.NewCleanupHandler(
		sessions,
		resets,
		authRepo,
		logger,
		os.Getenv("CRON_SECRET"),
		envHoursOrDefault("SESSION_RETENTION_HOURS", 24),
		envDaysOrDefault("LOGIN_ATTEMPT_RETENTION_DAYS", 30),
		envIntOrDefault("CLEANUP_BATCH_SIZE", 500),
	)

	if EnvBoolOrDefault("RUN_CLEANUP_ON_STARTUP", true) {
		if result, err := cleanupHandler.Run(context.Background()); err != nil {
			logger.Error("startup_cleanup_failed", map[string]any{"error": err.Error()})
		} else {
			logger.Info("startup_cleanup_completed", map[string]any{
				"deleted_sessions":       result.DeletedSessions,
				"deleted_reset_tokens":   result.DeletedResetTokens,
				"deleted_login_attempts": result.DeletedLoginAttempts,
			})
		}
	}

	loginLimiter := auth.NewLoginRateLimiter(
		envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", healthHandler(database))
	mux.Handle("POST /api/auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /api/admin/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.AdminLogin)))
	mux.Handle("POST /api/auth/logout", auth.RequireAuth(http.HandlerFunc(authHandler.Logout)))
	mux.HandleFunc("POST /api/auth/forgot", authHandler.Forgot)
	mux.HandleFunc("GET /api/auth/reset-password/validate", authHandler.ValidateResetToken)
	mux.HandleFunc("POST /api/auth/reset-password", authHandler.ResetPassword)
	mux.Handle("POST /api/auth/change-password", auth.RequireAuth(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("GET /api/auth/me", auth.RequireAuth(http.HandlerFunc(authHandler.Me)))
	mux.Handle("GET /api/profile", auth.RequireAuth(http.HandlerFunc(profileHandler.Get)))
	mux.Handle("POST /api/profile", auth.RequireAuth(http.HandlerFunc(profileHandler.Update)))
	mux.Handle("POST /api/profile/photo", auth.RequireAuth(http.HandlerFunc(profileHandler.UploadPhoto)))
	mux.Handle("GET /api/admin/profiles", auth.RequireAdmin(http.HandlerFunc(profileHandler.AdminList)))
	mux.Handle("GET /api/admin/profiles/{id}", auth.RequireAdmin(http.HandlerFunc(profileHandler.AdminDetail)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.Handle("GET /storage/", http.StripPrefix("/storage/", http.FileServer(http.Dir(photoStorage.Dir()))))

	handler := observability.RecoverMiddleware(logger,
		observability.RequestIDMiddleware(
			observability.RequestLoggingMiddleware(logger,
				auth.Hydrate(sessions, logger, mux))))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "timestamp": time.Now().UTC().Format(time.RFC3339)}
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

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
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

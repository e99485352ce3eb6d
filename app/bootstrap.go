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

	"taskman-server/internal/admin"
	"taskman-server/internal/auth"
	"taskman-server/internal/db"
	"taskman-server/internal/lockout"
	"taskman-server/internal/observability"
	"taskman-server/internal/ratelimit"
	"taskman-server/internal/task"
	"taskman-server/internal/token"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Logger  *observability.Logger
	Close   func() error
}

// Build wires the full request pipeline:
// recover -> request log -> admission filter -> mux.
func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(
		os.Getenv("SENTRY_DSN"),
		envOrDefault("APP_ENV", "development"),
		envOrDefault("APP_RELEASE", "dev"),
	); err != nil {
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
		if err := db.RunMigrations(context.Background(), database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	codec := token.NewCodec(
		jwtSecret,
		envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
	)

	userStore := auth.NewRepository(database)
	authService := auth.NewService(userStore, codec, logger)
	authHandler := auth.NewHandler(authService)
	adminHandler := admin.NewHandler(authService, logger)

	taskRepo := task.NewRepository(database)
	taskHandler := task.NewHandler(taskRepo)

	admissionConfig := auth.AdmissionConfig{
		DefaultPolicy: ratelimit.Policy{
			MaxRequests: envIntOrDefault("RATE_LIMIT_DEFAULT_MAX", 60),
			Window:      envSecondsOrDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		AuthPolicy: ratelimit.Policy{
			MaxRequests: envIntOrDefault("RATE_LIMIT_AUTH_MAX", 20),
			Window:      envSecondsOrDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		AuthPathPrefixes:   []string{"/api/auth/login", "/api/auth/register"},
		PublicPathPrefixes: []string{"/api/auth/login", "/api/auth/register", "/api/auth/refresh-token"},
		BypassPathPrefixes: []string{"/health", "/docs"},
	}

	maxWindow := admissionConfig.DefaultPolicy.Window
	if admissionConfig.AuthPolicy.Window > maxWindow {
		maxWindow = admissionConfig.AuthPolicy.Window
	}
	limiter := ratelimit.NewLimiter(maxWindow)
	admission := auth.NewAdmissionFilter(limiter, authService, admissionConfig)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/refresh-token", authHandler.Refresh)
	mux.HandleFunc("POST /api/auth/change-password", authHandler.ChangePassword)
	mux.HandleFunc("GET /api/auth/current-user", authHandler.CurrentUser)
	mux.HandleFunc("POST /api/admin/users/{username}/unlock", adminHandler.Unlock)
	mux.HandleFunc("GET /api/tasks", taskHandler.ListTasks)
	mux.HandleFunc("POST /api/tasks", taskHandler.CreateTask)
	mux.HandleFunc("PUT /api/tasks/{id}", taskHandler.UpdateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", taskHandler.DeleteTask)
	mux.HandleFunc("GET /health", healthHandler(database))
	mux.HandleFunc("GET /docs", docsHandler)

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger,
			admission.Wrap(mux)))

	logger.Info("app_configured", map[string]any{
		"lock_threshold":     lockout.Threshold,
		"rate_limit_default": admissionConfig.DefaultPolicy.MaxRequests,
		"rate_limit_auth":    admissionConfig.AuthPolicy.MaxRequests,
	})

	return &Runtime{
		Handler: handler,
		Logger:  logger,
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

func docsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"routes": []string{
			"POST /api/auth/login",
			"POST /api/auth/register",
			"POST /api/auth/refresh-token",
			"POST /api/auth/change-password",
			"GET /api/auth/current-user",
			"POST /api/admin/users/{username}/unlock",
			"GET /api/tasks",
			"POST /api/tasks",
			"PUT /api/tasks/{id}",
			"DELETE /api/tasks/{id}",
			"GET /health",
		},
	})
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

//	@title			ModelVault API
//	@version		1.0
//	@description	Upload, browse and manage 3D models (.obj, .mtl, .glb) stored on local disk or in a remote object store.
//
//	@host		localhost:8080
//	@BasePath	/api/v1
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Session token. Format: **Bearer {token}**. Browsers may send the session cookie instead.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/modelvault/service/internal/auth"
	"github.com/modelvault/service/internal/config"
	"github.com/modelvault/service/internal/db"
	"github.com/modelvault/service/internal/logger"
	appMiddleware "github.com/modelvault/service/internal/middleware"
	"github.com/modelvault/service/internal/object"
	"github.com/modelvault/service/internal/storage"
	"github.com/modelvault/service/internal/user"

	_ "github.com/modelvault/service/docs/swagger"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	local, err := storage.NewLocalStorage(cfg.UploadDir, cfg.LocalBaseURL())
	if err != nil {
		log.Fatal().Err(err).Msg("local storage init failed")
	}
	remote, err := newRemoteStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("remote storage init failed")
	}
	router := storage.NewRouter(local, remote)
	log.Info().Bool("remote", router.RemoteEnabled()).Str("provider", cfg.StorageProvider).Msg("storage ready")

	var revoker auth.Revoker = auth.NewRepository(pool)
	if cfg.RedisURL != "" {
		rr, err := auth.NewRedisRevoker(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer rr.Close()
		revoker = rr
	}

	// Wire dependencies: repository → service → handler
	objectRepo := object.NewRepository(pool)
	objectSvc := object.NewService(objectRepo, router, cfg.MaxFileSize)
	objectHandler := object.NewHandler(objectSvc, cfg.MaxRequestSize)

	userRepo := user.NewRepository(pool)
	userSvc := user.NewService(userRepo, objectSvc)

	authSvc := auth.NewService(userSvc, revoker, cfg.JWTSecret, cfg.SessionTTL)
	authHandler := auth.NewHandler(authSvc, userSvc, cfg.IsProduction())

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger(log.Logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(appMiddleware.Options)
	r.Use(appMiddleware.Authenticate(authSvc))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Swagger UI, available at http://localhost:8080/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// Locally stored model files
	r.Handle("/uploads/*", http.StripPrefix("/uploads/", noDirListing(http.FileServer(http.Dir(cfg.UploadDir)))))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(appMiddleware.RateLimit(cfg.AuthRateLimit)).Post("/register", authHandler.Register)
			r.With(appMiddleware.RateLimit(cfg.AuthRateLimit)).Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(appMiddleware.RequireAuth)
			r.Get("/me", authHandler.GetMe)
			r.Delete("/me", authHandler.DeleteMe)
		})

		r.Route("/objects", objectHandler.Routes)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Msg("server listening")
		log.Info().Msgf("swagger UI at http://localhost:%s/swagger/", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-quit
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
		return
	}

	log.Info().Msg("server stopped")
}

// newRemoteStorage builds the configured remote backend, or returns nil when
// remote storage is not enabled.
func newRemoteStorage(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	if !cfg.RemoteStorageEnabled() {
		return nil, nil
	}
	switch cfg.StorageProvider {
	case config.ProviderMinio:
		s, err := storage.NewMinioStorage(ctx, storage.MinioConfig{
			Endpoint:   cfg.StorageEndpoint,
			AccessKey:  cfg.StorageAccessKey,
			SecretKey:  cfg.StorageSecretKey,
			Bucket:     cfg.StorageBucket,
			UseSSL:     cfg.StorageUseSSL,
			PublicBase: cfg.StoragePublicBase,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := storage.NewSupabaseStorage(storage.SupabaseConfig{
			URL:    cfg.SupabaseURL,
			Key:    cfg.SupabaseKey,
			Bucket: cfg.SupabaseBucket,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// noDirListing hides directory indexes of the upload directory.
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

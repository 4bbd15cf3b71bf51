package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sosband-backend/cache"
	"sosband-backend/config"
	"sosband-backend/database"
	"sosband-backend/firebase"
	"sosband-backend/middleware"
	"sosband-backend/routes"
	"sosband-backend/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// Load environment variables
	if err := config.LoadEnv(); err != nil {
		log.Fatal("Error loading .env file:", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Environment validation failed: ", err)
	}

	logger, err := utils.NewLogger(cfg.LogLevel, cfg.LogFormat, "sosband-backend")
	if err != nil {
		log.Fatal("Failed to build logger: ", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	// Initialize database pools
	adminDB, err := database.ConnectElevated(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database (elevated)", zap.Error(err))
	}
	appDB := adminDB
	if cfg.DatabaseURL != cfg.AdminDatabaseURL {
		appDB, err = database.Connect(cfg)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
	}

	// Run migrations
	if err := database.Migrate(adminDB); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	if err := database.CreateDefaultAdmin(adminDB, cfg, logger); err != nil {
		logger.Warn("could not create default admin", zap.Error(err))
	}
	if cfg.SeedSampleData {
		if err := database.SeedSampleBracelets(adminDB, logger); err != nil {
			logger.Warn("could not seed sample bracelets", zap.Error(err))
		}
	}

	redisClient := cache.NewRedisClient(cfg)
	if redisClient != nil {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := cache.Ping(pingCtx, redisClient); err != nil {
			logger.Warn("redis unreachable at startup, sos pages will be served uncached until it recovers",
				zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cancel()
	}

	deps := routes.Deps{
		AppDB:   appDB,
		AdminDB: adminDB,
		Redis:   redisClient,
		Logger:  logger,
		Config:  cfg,
	}

	storage, err := firebase.Init(context.Background(), cfg, logger)
	if err != nil {
		logger.Warn("firebase storage unavailable, photo upload disabled", zap.Error(err))
	}
	if storage != nil {
		deps.Storage = storage
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Metrics())

	// Limit multipart form memory to 10MB
	r.MaxMultipartMemory = 10 << 20

	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins(cfg.FrontendURL),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	cleanup := routes.SetupRoutes(r, deps)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	cleanup()

	closeDB(logger, "app", appDB)
	if appDB != adminDB {
		closeDB(logger, "elevated", adminDB)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("error closing redis client", zap.Error(err))
		}
	}

	logger.Info("server exited gracefully")
}

// allowedOrigins splits FRONTEND_URL on commas and drops empty entries.
func allowedOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return origins
}

func closeDB(logger *zap.Logger, name string, db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("error closing database connection", zap.String("pool", name), zap.Error(err))
		return
	}
	logger.Info("database connection closed", zap.String("pool", name))
}

package routes

import (
	"net/http"
	"time"

	"sosband-backend/cache"
	"sosband-backend/config"
	"sosband-backend/database"
	"sosband-backend/firebase"
	"sosband-backend/handlers"
	"sosband-backend/middleware"
	"sosband-backend/models"
	"sosband-backend/services"
	"sosband-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps are the collaborators the HTTP surface is built from. AppDB is the
// caller-scoped pool and AdminDB the elevated one; AppDB falls back to
// AdminDB when nil. Redis and Storage are optional.
type Deps struct {
	AppDB   *gorm.DB
	AdminDB *gorm.DB
	Redis   *redis.Client
	Storage firebase.StorageClient
	Logger  *zap.Logger
	Config  *config.Config
}

// SetupRoutes registers the session guard and every route on r. The
// returned func releases background resources and should be called on
// shutdown.
func SetupRoutes(r *gin.Engine, deps Deps) (cleanup func()) {
	utils.RegisterValidators()

	appDB := deps.AppDB
	if appDB == nil {
		appDB = deps.AdminDB
	}
	elevated := database.NewGateway(deps.AdminDB)
	scoped := database.NewGateway(appDB)

	var pageCache services.PageCache
	if deps.Redis != nil {
		pageCache = cache.NewPageCache(deps.Redis, deps.Config.SosCacheTTL, deps.Logger)
	}

	bracelets := services.NewBraceletService(elevated, scoped, pageCache, deps.Logger)
	users := services.NewUserService(elevated, deps.Logger)
	resolver := services.NewResolver(elevated, pageCache, deps.Logger)

	secure := deps.Config.IsProduction()
	authHandler := &handlers.AuthHandler{Users: users, Logger: deps.Logger, SecureCookies: secure}
	adminHandler := &handlers.AdminHandler{Bracelets: bracelets, Users: users, Logger: deps.Logger}
	customerHandler := &handlers.CustomerHandler{Bracelets: bracelets, Logger: deps.Logger}
	if deps.Storage != nil {
		customerHandler.Storage = deps.Storage
	}
	sosHandler := &handlers.SosHandler{Resolver: resolver, Logger: deps.Logger}
	healthHandler := &handlers.HealthHandler{DB: deps.AdminDB, Redis: deps.Redis}

	loginLimiter := middleware.NewRateLimiter(deps.Config.LoginRateLimit, time.Minute)

	r.Use(middleware.SessionGuard())

	// Public routes
	r.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, middleware.LoginPath) })
	r.GET("/login", authHandler.LoginPage)
	r.GET("/logout", authHandler.LogoutRedirect)
	r.GET("/health", healthHandler.Check)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/sos/:identifier", sosHandler.Show)

	auth := r.Group("/auth")
	{
		auth.POST("/login", loginLimiter.Middleware(), authHandler.Login)
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/me", middleware.RequireSession(), authHandler.Me)
		auth.POST("/register", middleware.RequireSession(), middleware.RequireRole(models.RoleAdmin), authHandler.Register)
	}

	// Admin routes
	admin := r.Group("/admin")
	admin.Use(middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("", adminHandler.Landing)
		admin.GET("/stats", adminHandler.Stats)
		admin.GET("/users", adminHandler.ListUsers)

		admin.GET("/customers", adminHandler.ListCustomers)
		admin.POST("/customers", adminHandler.CreateCustomer)
		admin.PATCH("/customers/:id", adminHandler.UpdateCustomer)

		admin.GET("/bracelets", adminHandler.ListBracelets)
		admin.POST("/bracelets", adminHandler.CreateBracelet)
		admin.PATCH("/bracelets/:id/assign", adminHandler.Assign)
		admin.PATCH("/bracelets/:id/transfer", adminHandler.Transfer)
	}

	partner := r.Group("/partner")
	partner.Use(middleware.RequireRole(models.RolePartner, models.RoleAdmin))
	{
		partner.GET("", authHandler.PartnerLanding)
	}

	r.GET("/dashboard", middleware.RequireRole(models.RoleCustomer), customerHandler.Dashboard)

	// Customer self-service
	me := r.Group("/me")
	me.Use(middleware.RequireRole(models.RoleCustomer))
	{
		me.GET("/bracelets", customerHandler.ListBracelets)
		me.GET("/bracelets/:id", customerHandler.GetBracelet)
		me.PATCH("/bracelets/:id", customerHandler.UpdateProfile)
		me.POST("/bracelets/:id/photo", customerHandler.UploadPhoto)
		me.POST("/bracelets/:id/fields", customerHandler.AddField)
		me.PUT("/bracelets/:id/fields/order", customerHandler.ReorderFields)
		me.PATCH("/fields/:fieldId", customerHandler.UpdateField)
		me.DELETE("/fields/:fieldId", customerHandler.DeleteField)
	}

	return loginLimiter.Stop
}

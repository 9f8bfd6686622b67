package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stemsi/kontrol-backend/internal/config"
	"github.com/stemsi/kontrol-backend/internal/handler"
	"github.com/stemsi/kontrol-backend/internal/i18n"
	"github.com/stemsi/kontrol-backend/internal/middleware"
	"github.com/stemsi/kontrol-backend/internal/response"
	"github.com/stemsi/kontrol-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Device  *handler.DeviceHandler
	Attempt *handler.AttemptHandler
	Console *handler.ConsoleHandler
	Status  *handler.StatusHandler
	WS      *handler.WSHandler
}

// Limiters are the rate limiters of the public and reset routes. Nil fields
// disable limiting.
type Limiters struct {
	Devices *middleware.RateLimiter
	Reset   *middleware.RateLimiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiters Limiters,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{
		"Origin", "Content-Type", "Authorization", "X-Request-ID",
		"Accept-Language", middleware.HeaderConsoleToken,
	}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Every response carries request metadata and localized messages.
	router.Use(response.RequestIDMiddleware())
	router.Use(i18n.Middleware())
	router.Use(middleware.Brotli())

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Devices (public, rate limited) ─────────────────────────────
	devices := router.Group("/api/v1/devices")
	devices.Use(limit(limiters.Devices))
	{
		devices.POST("", handlers.Device.Register)
		devices.POST("/refresh",
			middleware.RequireDeviceJWT(authService),
			middleware.CheckDeviceSession(authService),
			handlers.Device.Refresh,
		)
	}

	// ─── 2. Student Group (device JWT + latest token) ──────────────────
	studentAPI := router.Group("/api/v1")
	studentAPI.Use(
		middleware.RequireDeviceJWT(authService),
		middleware.CheckDeviceSession(authService),
	)
	{
		studentAPI.GET("/subjects/:subject/manifest", middleware.CacheControl(60), handlers.Device.Manifest)

		attempts := studentAPI.Group("/attempts/:subject/:variant")
		attempts.Use(middleware.NoStore())
		{
			attempts.POST("/open", handlers.Attempt.Open)
			attempts.GET("/state", handlers.Attempt.State)
			attempts.PUT("/answers/:task_id", handlers.Attempt.Answer)
			attempts.PUT("/student", handlers.Attempt.Student)
			attempts.POST("/navigate", handlers.Attempt.Navigate)
			attempts.POST("/finish", handlers.Attempt.Finish)
			attempts.POST("/submit", handlers.Attempt.Submit)
			attempts.POST("/reset", limit(limiters.Reset), handlers.Attempt.Reset)
		}
	}

	// ─── 3. WebSocket Group (device WS auth) ───────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireDeviceWSAuth(authService),
		middleware.CheckDeviceSession(authService),
	)
	{
		ws.GET("/attempts/:subject/:variant/stream", handlers.WS.AttemptStream)
	}

	// ─── 4. Console Group (instructor token) ───────────────────────────
	consoleAPI := router.Group("/api/v1/console")
	consoleAPI.Use(middleware.RequireConsoleToken(authService), middleware.NoStore())
	{
		consoleAPI.POST("/list", handlers.Console.List)
		consoleAPI.POST("/filter", handlers.Console.Filter)
		consoleAPI.GET("/results/:key", handlers.Console.Get)
		consoleAPI.GET("/results/:key/print.pdf", handlers.Console.PrintPDF)
		consoleAPI.GET("/results/:key/print.html", handlers.Console.PrintHTML)
		consoleAPI.POST("/autocheck", handlers.Console.Autocheck)
		consoleAPI.POST("/autocheck/upload", handlers.Console.AutocheckUpload)
		consoleAPI.POST("/void", handlers.Console.Void)
		consoleAPI.POST("/reset-codes", handlers.Console.ResetCode)
		consoleAPI.GET("/timer", handlers.Console.GetTimer)
		consoleAPI.PUT("/timer", handlers.Console.SetTimer)
		consoleAPI.GET("/export.csv", handlers.Console.ExportCSV)
		consoleAPI.GET("/export.xlsx", handlers.Console.ExportXLSX)
		consoleAPI.GET("/report.pdf", handlers.Console.ReportPDF)
		consoleAPI.GET("/report.html", handlers.Console.ReportHTML)
		consoleAPI.GET("/status", handlers.Status.Status)
		consoleAPI.GET("/status/stream", handlers.Status.StatusStream)
	}

	return router
}

func limit(rl *middleware.RateLimiter) gin.HandlerFunc {
	if rl == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return rl.Middleware()
}

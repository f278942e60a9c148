package http

import (
	"net/http"
	"time"

	"github.com/EternisAI/silo-relay/internal/api/http/handler"
	"github.com/EternisAI/silo-relay/internal/api/http/middleware"
	"github.com/EternisAI/silo-relay/internal/auth"
	"github.com/EternisAI/silo-relay/internal/pairing"
	"github.com/EternisAI/silo-relay/internal/registry"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WebSocketServer serves the relay event endpoint.
type WebSocketServer interface {
	http.Handler
	ConnectionCount() int
}

type Services struct {
	Version     string
	Config      Config
	AuthService *auth.Service
	Verifier    auth.Verifier
	Registry    *registry.Registry
	Directory   *pairing.Directory
	WebSocket   WebSocketServer
	Flusher     handler.Flusher
}

// NewEngine builds the gin engine with the relay's middleware stack.
func NewEngine(config Config) *gin.Engine {
	engine := gin.New()

	origins := config.Cors.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	maxAge := config.Cors.MaxAge
	if maxAge == 0 {
		maxAge = 12 * time.Hour
	}
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: len(origins) != 1 || origins[0] != "*",
		MaxAge:           maxAge,
	}))
	engine.Use(gin.Recovery())
	return engine
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	var connections handler.ConnectionCounter
	if srvs.WebSocket != nil {
		connections = srvs.WebSocket
	}
	healthHandler := handler.NewHealthHandler(srvs.Version, srvs.Registry, srvs.Directory, connections)
	engine.GET("/health", healthHandler.Check)
	engine.GET("/api/status", healthHandler.Status)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if srvs.AuthService != nil {
		authHandler := handler.NewAuthHandler(srvs.AuthService)
		engine.POST("/api/auth/login", authHandler.Login)
	}

	if srvs.Verifier != nil && srvs.Registry != nil && srvs.Directory != nil {
		api := engine.Group("/api")
		api.Use(middleware.JWTAuth(srvs.Verifier))

		pairingHandler := handler.NewPairingHandler(srvs.Directory, srvs.Registry)
		api.POST("/pair", pairingHandler.Pair)

		devicesHandler := handler.NewDevicesHandler(srvs.Directory, srvs.Registry)
		api.GET("/devices", devicesHandler.ListDevices)

		admin := engine.Group("/api/admin")
		admin.Use(middleware.APIKeyAuth(srvs.Config.AdminAPIKey))

		adminHandler := handler.NewAdminHandler(srvs.Registry, srvs.Directory, srvs.Flusher)
		admin.GET("/agents", adminHandler.ListAgents)
		admin.POST("/snapshot", adminHandler.Flush)
	}

	if srvs.WebSocket != nil {
		engine.GET("/ws", gin.WrapH(srvs.WebSocket))
	}
}

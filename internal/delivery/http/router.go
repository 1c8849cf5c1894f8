package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"improv-server/pkg/middleware"
)

// RouterConfig настраивает NewRouter.
type RouterConfig struct {
	Env            string
	AllowedOrigins []string
	// EnableMetrics включает /metrics и middleware метрик запросов на default registry.
	EnableMetrics bool
}

// NewRouter собирает gin engine: логирование, recovery, CORS, health, API и эндпоинт /ws.
// ws может быть nil.
func NewRouter(cfg RouterConfig, handler *Handler, ws http.Handler, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(middleware.ZapLoggingMiddlewareForGin(logger))
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	// gin собирает цепочки обработчиков при регистрации, поэтому middleware метрик ставится до роутов
	if cfg.EnableMetrics {
		p := ginprometheus.NewPrometheus("gin")
		p.Use(router)
	}

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	if ws != nil {
		router.GET("/ws", gin.WrapH(ws))
	}
	handler.RegisterRoutes(router)
	return router
}

func corsConfig(allowed []string) cors.Config {
	c := cors.DefaultConfig()
	wildcard := len(allowed) == 0
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
	}
	if wildcard {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = allowed
		c.AllowCredentials = true
	}
	c.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	c.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "X-Request-ID"}
	c.MaxAge = 12 * time.Hour
	return c
}

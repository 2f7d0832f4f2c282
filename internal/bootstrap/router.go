package bootstrap

import (
	"time"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	httpapi "github.com/cspwatch/cspwatch/internal/api/http"
	"github.com/cspwatch/cspwatch/internal/api/http/middleware"
	authmw "github.com/cspwatch/cspwatch/internal/auth/middleware"
	"github.com/cspwatch/cspwatch/internal/dashboard"
	"github.com/cspwatch/cspwatch/internal/metrics"
	violationshttp "github.com/cspwatch/cspwatch/internal/violations/http"
)

type RouterDeps struct {
	ServiceName string
	Version     string
	CORSOrigins []string
	DB          *pgxpool.Pool
	Redis       *redis.Client
	Logger      *zap.Logger

	Metrics   *metrics.Metrics
	Ingest    *violationshttp.IngestHandler
	API       *violationshttp.APIHandler
	Stream    *violationshttp.StreamHandler
	Dashboard *dashboard.Handler

	// APIKey is the static dashboard API credential, used when no
	// Firebase client is configured.
	APIKey       string
	FirebaseAuth *fbauth.Client
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID(dep.Logger))
	r.Use(cors.New(corsConfig(dep.CORSOrigins)))

	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Version, dep.DB, dep.Redis)
	healthHandler.RegisterRoutes(r)

	if dep.Metrics != nil {
		r.GET("/metrics", gin.WrapH(dep.Metrics.Handler()))
	}

	// Browser report deliveries authenticate with the per-project
	// ingest key in the path, nothing else.
	if dep.Ingest != nil {
		dep.Ingest.Register(r)
	}

	api := r.Group("/api/v1")
	switch {
	case dep.FirebaseAuth != nil:
		api.Use(authmw.FirebaseAuth(dep.FirebaseAuth))
	case dep.APIKey != "":
		api.Use(middleware.APIKey(dep.APIKey))
	}
	if dep.API != nil {
		dep.API.Register(api)
	}
	if dep.Stream != nil {
		dep.Stream.Register(api)
	}

	if dep.Dashboard != nil {
		dep.Dashboard.Register(r.Group("/dashboard"))
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-API-Key", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

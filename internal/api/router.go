package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facewatch/internal/api/handlers"
	"github.com/your-org/facewatch/internal/api/ws"
	"github.com/your-org/facewatch/internal/auth"
	"github.com/your-org/facewatch/internal/queue"
	"github.com/your-org/facewatch/internal/recognize"
	"github.com/your-org/facewatch/internal/storage"
)

type RouterConfig struct {
	APIKey      string
	CORSOrigins []string
	Store       storage.Store
	Archive     *storage.Archive // nil when minio is disabled
	Producer    *queue.Producer  // nil when nats is disabled
	Hub         *ws.Hub
	Service     *recognize.Service
	FrameWidth  int
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(corsMiddleware(cfg.CORSOrigins))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Store, cfg.Archive, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Persons
	personH := handlers.NewPersonHandler(cfg.Store, cfg.Service, cfg.Archive)
	v1.POST("/persons", personH.Create)
	v1.GET("/persons", personH.List)
	v1.GET("/persons/:id", personH.Get)
	v1.PUT("/persons/:id", personH.Update)
	v1.DELETE("/persons/:id", personH.Delete)
	v1.POST("/persons/:id/encoding", personH.ReplaceEncoding)
	v1.GET("/persons/:id/detections", personH.ListDetections)
	v1.GET("/persons/:id/photos", personH.ListPhotos)
	v1.GET("/persons/:id/photos/:name", personH.GetPhoto)

	// Recognition
	recH := handlers.NewRecognizeHandler(cfg.Service, cfg.Producer, cfg.Archive, cfg.FrameWidth)
	v1.POST("/recognize", recH.Recognize)
	v1.POST("/recognize/async", recH.RecognizeAsync)

	// Detections
	detH := handlers.NewDetectionHandler(cfg.Store)
	v1.GET("/detections", detH.List)

	// Stats
	statsH := handlers.NewStatsHandler(cfg.Store)
	v1.GET("/stats/overview", statsH.Overview)
	v1.GET("/stats/daily", statsH.Daily)
	v1.GET("/stats/top", statsH.Top)
	v1.GET("/stats/system", statsH.System)

	return r
}

// corsMiddleware allows the configured origins, or everything when
// none are configured.
func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return cors.Default()
	}
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = origins
	cfg.AllowHeaders = append(cfg.AllowHeaders, "X-API-Key", "Authorization")
	return cors.New(cfg)
}

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xpanvictor/voicemode/internal/domains/voice"
	"github.com/xpanvictor/voicemode/internal/handlers"
	"github.com/xpanvictor/voicemode/internal/handlers/websocket"
	"github.com/xpanvictor/voicemode/pkg/Logger"
)

type Dependencies struct {
	Voice     voice.Service
	Meter     voice.Meter
	Devices   handlers.DeviceLister
	WebSocket *websocket.WebSocketHandler
	Gatherer  prometheus.Gatherer
	JWTSecret string
	Logger    *Logger.Logger
}

func InitializeRoutes(r *gin.Engine, dep Dependencies) {
	r.Use(handlers.ErrorHandlerMiddleware(dep.Logger))
	r.Use(handlers.RequestLoggerMiddleware(dep.Logger))
	r.Use(handlers.CORSMiddleware())

	r.GET("/", func(ctx *gin.Context) { ctx.JSON(http.StatusOK, gin.H{"message": "Server healthy"}) })
	r.GET("/health", func(ctx *gin.Context) {
		snap := dep.Voice.Snapshot()
		status := "ok"
		if snap.DeviceFault != "" {
			status = "degraded"
		}
		ctx.JSON(http.StatusOK, gin.H{"status": status, "state": snap.State})
	})
	if dep.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(dep.Gatherer, promhttp.HandlerOpts{})))
	}

	auth := handlers.AuthMiddleware(dep.JWTSecret, dep.Logger)

	api := r.Group("/api", auth)
	handlers.NewVoiceHandler(dep.Voice, dep.Meter, dep.Devices, dep.Logger).RegisterRoutes(api)

	if dep.WebSocket != nil {
		dep.WebSocket.RegisterRoutes(r.Group("", auth))
	}
}

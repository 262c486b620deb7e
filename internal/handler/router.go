package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-registration-bot/internal/middleware"
	"github.com/noah-isme/olympiad-registration-bot/internal/service"
	"github.com/noah-isme/olympiad-registration-bot/pkg/logger"
	reqidmiddleware "github.com/noah-isme/olympiad-registration-bot/pkg/middleware/requestid"
)

// NewAdminRouter assembles the admin HTTP server: probes, metrics and
// signed export downloads.
func NewAdminRouter(logr *zap.Logger, metrics *service.MetricsService, metricsHandler *MetricsHandler, exportHandler *ExportHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/exports/:token", exportHandler.Download)
	return r
}

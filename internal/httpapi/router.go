package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/chatvault/internal/common"
	"github.com/suPer8Hu/chatvault/internal/httpapi/handlers"
	"github.com/suPer8Hu/chatvault/internal/httpapi/middleware"
	"github.com/suPer8Hu/chatvault/internal/metrics"
)

type Options struct {
	// APISecret enables JWT auth on every route but /ping and /metrics.
	APISecret string
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
}

func NewRouter(h *handlers.Handler, opts Options) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(opts.Log))
	r.Use(middleware.Recovery(opts.Log))
	if opts.Metrics != nil {
		r.Use(middleware.Metrics(opts.Metrics))
	}

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	api := r.Group("/")
	if opts.APISecret != "" {
		api.Use(middleware.AuthRequired(opts.APISecret))
	}

	api.POST("/chat/exchanges", h.RequestExchange)
	api.GET("/chats", h.SavedChats)
	api.PATCH("/chats/:chat_id", h.RenameChat)
	api.DELETE("/chats/:chat_id", h.DeleteChat)
	api.GET("/chats/:chat_id/history", h.History)
	api.GET("/chats/:chat_id/transcript", h.Transcript)
	api.GET("/chats/:chat_id/in-flight", h.InFlight)
	api.POST("/chats/:chat_id/context/reset", h.ResetContext)
	api.GET("/chats/:chat_id/export.csv", h.ExportCSV)
	api.GET("/search", h.SearchHistory)
	api.GET("/events", h.StreamEvents)
	return r
}

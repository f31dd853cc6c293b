package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/chatvault/internal/chat"
	"github.com/suPer8Hu/chatvault/internal/common"
	"github.com/suPer8Hu/chatvault/internal/events"
	"github.com/suPer8Hu/chatvault/internal/search"
)

// SearchObserver is satisfied by *metrics.Metrics.
type SearchObserver interface {
	ObserveSearch(resultCount int)
}

type Handler struct {
	ChatSvc *chat.Service
	Search  *search.Engine
	Events  *events.Bus
	Metrics SearchObserver
	Log     zerolog.Logger
}

func NewHandler(svc *chat.Service, engine *search.Engine, bus *events.Bus, m SearchObserver, log zerolog.Logger) *Handler {
	return &Handler{ChatSvc: svc, Search: engine, Events: bus, Metrics: m, Log: log}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func chatIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil || id <= 0 {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid chat_id")
		return 0, false
	}
	return id, true
}

// status maps an error class to the HTTP status and envelope code.
func status(err error) (int, int, string) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return http.StatusBadRequest, 10001, err.Error()
	case errors.Is(err, chat.ErrExchangeInFlight):
		return http.StatusConflict, 40901, "exchange already in flight"
	case errors.Is(err, chat.ErrChatNotFound):
		return http.StatusNotFound, 40401, "chat not found"
	case errors.Is(err, chat.ErrProvider):
		return http.StatusBadGateway, 50201, "provider request failed"
	case errors.Is(err, chat.ErrStorage):
		return http.StatusInternalServerError, 50001, "storage failure"
	default:
		return http.StatusInternalServerError, 50000, "internal error"
	}
}

func (h *Handler) fail(c *gin.Context, err error, data any) {
	httpStatus, code, msg := status(err)
	if httpStatus >= 500 {
		h.Log.Error().Err(err).Str("request_id", c.GetString("request_id")).Str("path", c.FullPath()).Msg("request failed")
	}
	common.FailData(c, httpStatus, code, msg, data)
}

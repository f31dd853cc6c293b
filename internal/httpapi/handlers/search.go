package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chatvault/internal/chat"
	"github.com/suPer8Hu/chatvault/internal/common"
	"github.com/suPer8Hu/chatvault/internal/search"
)

func (h *Handler) SearchHistory(c *gin.Context) {
	mode, err := search.ParseMode(c.Query("mode"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	query := c.Query("q")

	rows, err := h.ChatSvc.SavedChats(c.Request.Context())
	if err != nil {
		h.Log.Error().Err(err).Msg("search pool")
		common.Fail(c, http.StatusInternalServerError, 50002, "saved-chats-retrieval-failure")
		return
	}
	results, err := h.Search.Search(search.PoolFromRows(rows), query, mode)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	if h.Metrics != nil {
		h.Metrics.ObserveSearch(len(results))
	}
	h.Events.Emit(chat.EventSearchResultsReady, gin.H{"query": query, "results": results})
	common.OK(c, gin.H{"query": query, "mode": mode, "results": results})
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chatvault/internal/chat"
	"github.com/suPer8Hu/chatvault/internal/common"
	"github.com/suPer8Hu/chatvault/internal/export"
)

func (h *Handler) RequestExchange(c *gin.Context) {
	var req chat.ExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := h.ChatSvc.Exchange(c.Request.Context(), req)
	if err != nil {
		// hand the prompt back so the client can restore its input box
		var xe *chat.ExchangeError
		if errors.As(err, &xe) {
			h.fail(c, err, gin.H{"chat_id": xe.ChatID, "prompt": xe.Prompt, "row": chat.ErrorRow(xe.Err)})
			return
		}
		h.fail(c, err, nil)
		return
	}
	common.OK(c, res)
}

func (h *Handler) SavedChats(c *gin.Context) {
	rows, err := h.ChatSvc.SavedChats(c.Request.Context())
	if err != nil {
		h.Log.Error().Err(err).Msg("saved chats")
		common.Fail(c, http.StatusInternalServerError, 50002, "saved-chats-retrieval-failure")
		return
	}
	if rows == nil {
		rows = []chat.ViewRow{}
	}
	common.OK(c, gin.H{"rows": rows})
}

type renameReq struct {
	OldTitle string `json:"oldTitle"`
	NewTitle string `json:"newTitle"`
}

func (h *Handler) RenameChat(c *gin.Context) {
	id, ok := chatIDParam(c)
	if !ok {
		return
	}
	var req renameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.ChatSvc.RenameChat(c.Request.Context(), id, req.NewTitle); err != nil {
		h.fail(c, err, gin.H{"chatId": id, "oldTitle": req.OldTitle})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteChat(c *gin.Context) {
	id, ok := chatIDParam(c)
	if !ok {
		return
	}
	if err := h.ChatSvc.DeleteChat(c.Request.Context(), id); err != nil {
		h.fail(c, err, gin.H{"chatId": id})
		return
	}
	common.OK(c, gin.H{"chat_id": id})
}

func (h *Handler) History(c *gin.Context) {
	id, ok := chatIDParam(c)
	if !ok {
		return
	}
	hist, err := h.ChatSvc.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	common.OK(c, gin.H{"chat_id": id, "history": hist})
}

func (h *Handler) Transcript(c *gin.Context) {
	id, ok := chatIDParam(c)
	if !ok {
		return
	}
	rows, err := h.ChatSvc.Transcript(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	common.OK(c, gin.H{"chat_id": id, "rows": rows})
}

func (h *Handler) ResetContext(c *gin.Context) {
	id, ok := chatIDParam(c)
	if !ok {
		return
	}
	if err := h.ChatSvc.ResetContext(c.Request.Context(), id); err != nil {
		h.fail(c, err, nil)
		return
	}
	common.OK(c, gin.H{"chat_id": id})
}

func (h *Handler) InFlight(c *gin.Context) {
	id, ok := chatIDParam(c)
	if !ok {
		return
	}
	busy, err := h.ChatSvc.InFlight(c.Request.Context(), id, "")
	if err != nil {
		h.fail(c, &chat.StorageError{Op: "flight state", Err: err}, nil)
		return
	}
	common.OK(c, gin.H{"chat_id": id, "in_flight": busy})
}

func (h *Handler) ExportCSV(c *gin.Context) {
	id, ok := chatIDParam(c)
	if !ok {
		return
	}
	rows, err := h.ChatSvc.ChatExchanges(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	title := ""
	if len(rows) > 0 {
		title = rows[0].ChatTitle
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(id, title)+`"`)
	c.Status(http.StatusOK)
	if err := export.WriteCSV(c.Writer, rows); err != nil {
		h.Log.Error().Err(err).Int64("chat_id", id).Msg("csv export")
	}
}

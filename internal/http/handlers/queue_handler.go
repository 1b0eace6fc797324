// README: Queue handlers for the terminal reader and dispatch tooling.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"toda/internal/modules/queue"
)

type QueueHandler struct {
	queue *queue.Service
}

func NewQueueHandler(svc *queue.Service) *QueueHandler {
	return &QueueHandler{queue: svc}
}

type queueTapReq struct {
	RFID     string `json:"rfid"`
	DeviceID string `json:"deviceId"`
}

func (h *QueueHandler) Join(c *gin.Context) {
	var req queueTapReq
	if !bindJSON(c, &req) {
		return
	}
	e, err := h.queue.Join(c.Request.Context(), queue.JoinCommand{RFID: req.RFID, DeviceID: req.DeviceID})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, e)
}

func (h *QueueHandler) Leave(c *gin.Context) {
	var req queueTapReq
	if !bindJSON(c, &req) {
		return
	}
	if err := h.queue.Leave(c.Request.Context(), req.RFID); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *QueueHandler) List(c *gin.Context) {
	entries, err := h.queue.Entries(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"entries": entries})
}

// Rematch runs one rematch pass immediately instead of waiting for the tick.
func (h *QueueHandler) Rematch(c *gin.Context) {
	n, err := h.queue.RematchOnce(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"matched": n})
}

// README: Chat handlers for the booking side-channel.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"toda/internal/http/middleware"
	"toda/internal/modules/chat"
	"toda/internal/types"
)

type ChatHandler struct {
	chat *chat.Service
}

func NewChatHandler(svc *chat.Service) *ChatHandler {
	return &ChatHandler{chat: svc}
}

// room loads the booking's room and checks the caller is a participant.
func (h *ChatHandler) room(c *gin.Context) (*chat.Room, bool) {
	r, err := h.chat.FindRoom(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return nil, false
	}
	uid := middleware.CallerUID(c)
	if !isStaff(c) && uid != r.CustomerID && uid != r.DriverID {
		writeError(c, http.StatusForbidden, "not a participant")
		return nil, false
	}
	return r, true
}

func (h *ChatHandler) Room(c *gin.Context) {
	r, ok := h.room(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *ChatHandler) Messages(c *gin.Context) {
	r, ok := h.room(c)
	if !ok {
		return
	}
	msgs, err := h.chat.Messages(c.Request.Context(), r.BookingID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"messages": msgs})
}

type sendMessageReq struct {
	SenderName  string `json:"senderName"`
	ReceiverID  string `json:"receiverId"`
	Message     string `json:"message"`
	MessageType string `json:"messageType"`
}

func (h *ChatHandler) Send(c *gin.Context) {
	var req sendMessageReq
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.chat.Send(c.Request.Context(), chat.SendCommand{
		BookingID:  types.ID(c.Param("id")),
		SenderID:   middleware.CallerUID(c),
		SenderName: req.SenderName,
		ReceiverID: req.ReceiverID,
		Message:    req.Message,
		Type:       chat.MessageType(req.MessageType),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, msg)
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	n, err := h.chat.MarkRead(c.Request.Context(), types.ID(c.Param("id")), middleware.CallerUID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"marked": n})
}

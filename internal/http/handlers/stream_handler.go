// README: WebSocket streaming of live feeds (bookings, queue, chat).
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"toda/internal/http/middleware"
	"toda/internal/modules/chat"
	"toda/internal/modules/feed"
	"toda/internal/modules/queue"
	"toda/internal/store"
	"toda/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

const (
	frameSnapshot = "snapshot"
	frameError    = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Mobile clients do not send an Origin; auth is by token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// frame is one message on the socket. Every snapshot carries the full list;
// an error frame is the last frame before close.
type frame struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

type StreamHandler struct {
	feed  *feed.Service
	queue *queue.Service
	chat  *chat.Service
	log   logrus.FieldLogger
}

func NewStreamHandler(feeds *feed.Service, q *queue.Service, c *chat.Service, log logrus.FieldLogger) *StreamHandler {
	return &StreamHandler{feed: feeds, queue: q, chat: c, log: log}
}

// Bookings streams one booking view. Staff may watch another user's view via
// ?uid=.
func (h *StreamHandler) Bookings(c *gin.Context) {
	uid := middleware.CallerUID(c)
	if v := c.Query("uid"); v != "" && isStaff(c) {
		uid = v
	}
	view := c.DefaultQuery("view", "passenger")
	var open func(context.Context) (*feed.Feed, error)
	switch view {
	case "active":
		open = h.feed.PublicActiveBookings
		if isStaff(c) {
			open = h.feed.ActiveBookings
		}
	case "dispatch":
		if !isStaff(c) {
			writeError(c, http.StatusForbidden, "dispatch view requires staff role")
			return
		}
		open = h.feed.DispatchFeed
	case "passenger":
		p := feed.ParsePartition(c.Query("partition"))
		open = func(ctx context.Context) (*feed.Feed, error) { return h.feed.PassengerFeed(ctx, uid, p) }
	case "driver":
		open = func(ctx context.Context) (*feed.Feed, error) { return h.feed.DriverFeed(ctx, uid) }
	default:
		writeError(c, http.StatusBadRequest, "unknown view")
		return
	}
	serveStream(c, h.log.WithField("stream", "bookings:"+view), open)
}

func (h *StreamHandler) Queue(c *gin.Context) {
	serveStream(c, h.log.WithField("stream", "queue"), h.queue.QueueFeed)
}

// Chat streams a booking's messages to its participants.
func (h *StreamHandler) Chat(c *gin.Context) {
	bookingID := types.ID(c.Param("id"))
	r, err := h.chat.FindRoom(c.Request.Context(), bookingID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	uid := middleware.CallerUID(c)
	if !isStaff(c) && uid != r.CustomerID && uid != r.DriverID {
		writeError(c, http.StatusForbidden, "not a participant")
		return
	}
	serveStream(c, h.log.WithField("stream", "chat"), func(ctx context.Context) (*store.Stream[[]chat.Message], error) {
		return h.chat.MessagesFeed(ctx, bookingID)
	})
}

// serveStream opens the stream before upgrading so setup failures still get a
// plain HTTP status, then pumps snapshots until either side goes away.
func serveStream[T any](c *gin.Context, log logrus.FieldLogger, open func(context.Context) (*store.Stream[T], error)) {
	// A hijacked connection does not cancel the request context; the read
	// pump cancels ctx instead.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	stream, err := open(ctx)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	defer stream.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	go readPump(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-stream.Updates():
			if !ok {
				closeConn(conn, websocket.CloseGoingAway, "stream ended")
				return
			}
			if item.Err != nil {
				log.WithError(item.Err).Warn("stream cancelled")
				_ = writeFrame(conn, frame{Type: frameError, Error: item.Err.Error()})
				closeConn(conn, websocket.CloseInternalServerErr, "stream cancelled")
				return
			}
			if err := writeFrame(conn, frame{Type: frameSnapshot, Data: item.Value}); err != nil {
				log.WithError(err).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and keeps the pong deadline fresh.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, f frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

func closeConn(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"npuprof/internal/service"
	"npuprof/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	defaultListLimit = 100
	maxListLimit     = 10000
	writeWait        = 10 * time.Second
	pingPeriod       = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // auth middleware guards the route
	},
}

// RecordHandler serves stored op records and the live stream
type RecordHandler struct {
	records *service.RecordService
	hub     *service.StreamHub
}

// NewRecordHandler creates record handler. hub may be nil.
func NewRecordHandler(records *service.RecordService, hub *service.StreamHub) *RecordHandler {
	return &RecordHandler{records: records, hub: hub}
}

func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func (h *RecordHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, service.ErrStoreDisabled) {
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
		return
	}
	logger.ErrorCtx(c.Request.Context(), "record query failed: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// Recent lists the newest records
// @Router /v1/records/recent [get]
func (h *RecordHandler) Recent(c *gin.Context) {
	recs, err := h.records.Recent(c.Request.Context(), int64(limitParam(c)))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs, "count": len(recs)})
}

// Sessions lists the stored sessions
// @Router /v1/sessions [get]
func (h *RecordHandler) Sessions(c *gin.Context) {
	sessions, err := h.records.Sessions(c.Request.Context(), limitParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// SessionRecords lists the records of one session
// @Router /v1/sessions/{id}/records [get]
func (h *RecordHandler) SessionRecords(c *gin.Context) {
	id := c.Param("id")
	recs, err := h.records.SessionRecords(c.Request.Context(), id, limitParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "records": recs, "count": len(recs)})
}

// Stream upgrades to a websocket and pushes every new record as JSON text
// @Param session query string false "Only records of this session"
// @Router /v1/descriptors/stream [get]
func (h *RecordHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "websocket sink is not enabled"})
		return
	}
	ctx := c.Request.Context()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorCtx(ctx, "failed to upgrade to websocket: %v", err)
		return
	}
	defer ws.Close()

	id, records := h.hub.Subscribe(c.Query("session"))
	defer h.hub.Unsubscribe(id)
	logger.InfoCtx(ctx, "descriptor stream %s opened from %s", id, c.ClientIP())

	// reader: only to notice the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			logger.InfoCtx(ctx, "descriptor stream %s closed by client", id)
			return
		case data, ok := <-records:
			if !ok {
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.WarnCtx(ctx, "descriptor stream %s: %v", id, err)
				return
			}
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

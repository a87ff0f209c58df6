package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"npuprof/internal/analyzer"
	"npuprof/internal/model"
	"npuprof/internal/service"
	"npuprof/pkg/logger"
	"npuprof/pkg/monitoring"
	"npuprof/pkg/reassembly"

	"github.com/gin-gonic/gin"
)

// ProfileHandler feeds HTTP chunks into the analyzer session
type ProfileHandler struct {
	analyzer    *analyzer.Analyzer
	descriptors *service.DescriptorService
	maxChunk    int64
	locks       streamLocks
}

// NewProfileHandler creates profile handler. descriptors may be nil.
func NewProfileHandler(a *analyzer.Analyzer, descriptors *service.DescriptorService, maxChunk int64) *ProfileHandler {
	return &ProfileHandler{analyzer: a, descriptors: descriptors, maxChunk: maxChunk}
}

// Ingest hands the raw request body to the analyzer as one chunk
// @Summary Ingest a profiling chunk
// @Tags profiling
// @Accept octet-stream
// @Param stream path string true "Stream name"
// @Param tag query string false "Classification tag"
// @Router /v1/chunks/{stream} [post]
func (h *ProfileHandler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()
	// catch-all param keeps the leading slash
	stream := strings.TrimPrefix(c.Param("stream"), "/")
	if stream == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stream name is required"})
		return
	}

	body := c.Request.Body
	if h.maxChunk > 0 {
		body = http.MaxBytesReader(c.Writer, body, h.maxChunk)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "chunk too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read chunk"})
		return
	}

	chunk := &model.Chunk{StreamName: stream, Tag: c.Query("tag"), Data: data}

	unlock := h.locks.lock(stream)
	start := time.Now()
	err = h.analyzer.Process(ctx, chunk)
	took := time.Since(start)
	unlock()

	monitoring.ObserveChunk(stream, len(data), took, err)
	if err != nil {
		logger.WarnCtx(ctx, "chunk of stream %s: %v", stream, err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"stream": stream, "bytes": len(data)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, analyzer.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, reassembly.ErrBufferOverflow):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusUnprocessableEntity
	}
}

// Control delivers a control chunk such as end_info
// @Summary Send a control message
// @Tags profiling
// @Param name path string true "Control name"
// @Router /v1/control/{name} [post]
func (h *ProfileHandler) Control(c *gin.Context) {
	name := c.Param("name")
	if err := h.analyzer.Process(c.Request.Context(), &model.Chunk{StreamName: name, Control: true}); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"control": name})
}

// Flush forces buffered records out to the sinks
// @Summary Flush buffered records
// @Tags profiling
// @Router /v1/flush [post]
func (h *ProfileHandler) Flush(c *gin.Context) {
	if err := h.analyzer.Flush(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "flushed"})
}

// StatsResponse is the session snapshot
type StatsResponse struct {
	Analyzer    analyzer.Stats            `json:"analyzer"`
	Descriptors *service.DescriptorStats `json:"descriptors,omitempty"`
}

// Stats returns the session snapshot
// @Summary Session statistics
// @Tags profiling
// @Produce json
// @Success 200 {object} StatsResponse
// @Router /v1/stats [get]
func (h *ProfileHandler) Stats(c *gin.Context) {
	resp := StatsResponse{Analyzer: h.analyzer.Stats()}
	if h.descriptors != nil {
		ds := h.descriptors.Stats()
		resp.Descriptors = &ds
	}
	c.JSON(http.StatusOK, resp)
}

// ModeRequest selects the profile mode
type ModeRequest struct {
	Mode string `json:"mode"`
}

// GetMode returns the current profile mode
// @Router /v1/mode [get]
func (h *ProfileHandler) GetMode(c *gin.Context) {
	m := h.analyzer.Mode()
	c.JSON(http.StatusOK, gin.H{"mode": m.String(), "effective": m.Effective().String()})
}

// SetMode forces the profile mode
// @Router /v1/mode [put]
func (h *ProfileHandler) SetMode(c *gin.Context) {
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	m, err := analyzer.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.analyzer.SetMode(m)
	c.JSON(http.StatusOK, gin.H{"mode": m.String()})
}

// FilterRequest toggles the session switches; absent fields are unchanged
type FilterRequest struct {
	GraphType *bool   `json:"graph_type"`
	OpType    *bool   `json:"op_type"`
	DeviceID  *uint32 `json:"device_id"`
}

// SetFilters toggles the graph type and op type filters
// @Router /v1/filters [put]
func (h *ProfileHandler) SetFilters(c *gin.Context) {
	var req FilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.GraphType != nil {
		h.analyzer.SetGraphTypeFilter(*req.GraphType)
	}
	if req.OpType != nil {
		h.analyzer.SetOpTypeFilter(*req.OpType)
	}
	if req.DeviceID != nil {
		h.analyzer.SetDeviceID(*req.DeviceID)
	}
	c.JSON(http.StatusOK, gin.H{"message": "filters updated"})
}

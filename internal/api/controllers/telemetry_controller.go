package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/powerdash/backend/internal/history"
	"github.com/powerdash/backend/internal/telemetry"
	"github.com/powerdash/backend/internal/utils"
)

// TelemetryController serves the live readings and their chart feeds
type TelemetryController struct {
	store   *telemetry.Store
	history *history.Recorder
	logger  *utils.Logger
}

// NewTelemetryController creates a new telemetry controller
func NewTelemetryController(store *telemetry.Store, history *history.Recorder, logger *utils.Logger) *TelemetryController {
	return &TelemetryController{
		store:   store,
		history: history,
		logger:  logger.Named("telemetry_controller"),
	}
}

// RegisterRoutes registers the reading routes
func (c *TelemetryController) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/readings", c.GetReadings)
	router.GET("/readings/:channel/series", c.GetSeries)
}

// ChannelInfo describes one reading card
type ChannelInfo struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
}

// ReadingsResponse is the current snapshot plus the channel table
type ReadingsResponse struct {
	Snapshot telemetry.Snapshot `json:"snapshot"`
	Channels []ChannelInfo      `json:"channels"`
}

// GetReadings returns the latest value of every channel
func (c *TelemetryController) GetReadings(ctx *gin.Context) {
	channels := telemetry.Channels()
	info := make([]ChannelInfo, 0, len(channels))
	for _, ch := range channels {
		info = append(info, ChannelInfo{Name: ch.String(), Unit: ch.Unit()})
	}

	ctx.JSON(http.StatusOK, ReadingsResponse{
		Snapshot: c.store.Snapshot(),
		Channels: info,
	})
}

// GetSeries returns the chart feed of one channel
func (c *TelemetryController) GetSeries(ctx *gin.Context) {
	ch, err := telemetry.ParseChannel(ctx.Param("channel"))
	if err != nil {
		utils.HandleError(ctx, err, c.logger)
		return
	}

	s, err := c.history.Series(ch)
	if err != nil {
		utils.HandleError(ctx, err, c.logger)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"channel": ch.String(),
		"unit":    ch.Unit(),
		"series":  s,
	})
}

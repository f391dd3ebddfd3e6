package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/powerdash/backend/internal/actuation"
	"github.com/powerdash/backend/internal/db/repository"
	"github.com/powerdash/backend/internal/services"
	"github.com/powerdash/backend/internal/utils"
)

// RelayController handles the relay actuation endpoints
type RelayController struct {
	output     *actuation.Output
	controller *actuation.Controller
	threshold  *actuation.ThresholdPolicy
	journal    *services.JournalService
	logger     *utils.Logger
}

// NewRelayController creates a new relay controller
func NewRelayController(
	output *actuation.Output,
	controller *actuation.Controller,
	threshold *actuation.ThresholdPolicy,
	journal *services.JournalService,
	logger *utils.Logger,
) *RelayController {
	return &RelayController{
		output:     output,
		controller: controller,
		threshold:  threshold,
		journal:    journal,
		logger:     logger.Named("relay_controller"),
	}
}

// RegisterRoutes registers the relay routes
func (c *RelayController) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("", c.GetRelay)
	router.POST("/toggle", c.Toggle)
	router.POST("/timer", c.StartTimer)
	router.POST("/interval", c.StartInterval)
	router.POST("/schedule", c.Schedule)
	router.POST("/stop", c.Stop)

	router.GET("/threshold", c.GetThreshold)
	router.PUT("/threshold", c.SetThreshold)
	router.DELETE("/threshold", c.ClearThreshold)

	router.GET("/events", c.ListEvents)
	router.GET("/events/:id", c.GetEvent)
}

// RelayResponse describes the relay and both policy owners
type RelayResponse struct {
	Connected   bool                      `json:"connected"`
	Topic       string                    `json:"topic"`
	LastCommand actuation.Command         `json:"last_command,omitempty"`
	LastAt      *time.Time                `json:"last_at,omitempty"`
	Controller  actuation.Status          `json:"controller"`
	Threshold   actuation.ThresholdStatus `json:"threshold"`
}

func (c *RelayController) snapshot() RelayResponse {
	resp := RelayResponse{
		Connected:  c.output.Connected(),
		Topic:      c.output.Topic(),
		Controller: c.controller.Status(),
		Threshold:  c.threshold.Status(),
	}
	if cmd, at, ok := c.output.Last(); ok {
		resp.LastCommand = cmd
		resp.LastAt = &at
	}
	return resp
}

// GetRelay returns the relay state
func (c *RelayController) GetRelay(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.snapshot())
}

// Toggle flips the manual relay state
func (c *RelayController) Toggle(ctx *gin.Context) {
	if _, err := c.controller.ToggleManual(); err != nil {
		utils.HandleError(ctx, err, c.logger)
		return
	}
	ctx.JSON(http.StatusOK, c.snapshot())
}

// DurationRequest defines the request body of the timer and interval endpoints
type DurationRequest struct {
	Seconds int `json:"seconds" binding:"required,gt=0,lte=86400"`
}

// StartTimer switches the relay off after a fixed delay
func (c *RelayController) StartTimer(ctx *gin.Context) {
	var req DurationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.HandleValidationErrors(ctx, err)
		return
	}

	if err := c.controller.StartFixedTimer(req.Seconds); err != nil {
		utils.HandleError(ctx, err, c.logger)
		return
	}
	ctx.JSON(http.StatusOK, c.snapshot())
}

// StartInterval toggles the relay every period
func (c *RelayController) StartInterval(ctx *gin.Context) {
	var req DurationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.HandleValidationErrors(ctx, err)
		return
	}

	if err := c.controller.StartIntervalToggle(req.Seconds); err != nil {
		utils.HandleError(ctx, err, c.logger)
		return
	}
	ctx.JSON(http.StatusOK, c.snapshot())
}

// ScheduleRequest defines the request body for a daily on/off window.
// Times are "HH", "HH:MM" or "HH:MM:SS".
type ScheduleRequest struct {
	Start string `json:"start" binding:"required"`
	End   string `json:"end" binding:"required"`
}

// Schedule switches the relay on at start and off at end, today
func (c *RelayController) Schedule(ctx *gin.Context) {
	var req ScheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.HandleValidationErrors(ctx, err)
		return
	}

	start, err := utils.ParseTimeOfDay(req.Start)
	if err != nil {
		utils.HandleError(ctx, err, c.logger)
		return
	}
	end, err := utils.ParseTimeOfDay(req.End)
	if err != nil {
		utils.HandleError(ctx, err, c.logger)
		return
	}

	if err := c.controller.ScheduleRange(start, end); err != nil {
		utils.HandleError(ctx, err, c.logger)
		return
	}
	ctx.JSON(http.StatusOK, c.snapshot())
}

// Stop cancels any timer policy and switches the relay off
func (c *RelayController) Stop(ctx *gin.Context) {
	if err := c.controller.Stop(); err != nil {
		utils.HandleError(ctx, err, c.logger)
		return
	}
	ctx.JSON(http.StatusOK, c.snapshot())
}

// GetThreshold returns the power cutoff policy
func (c *RelayController) GetThreshold(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.threshold.Status())
}

// ThresholdRequest defines the request body for arming the power cutoff
type ThresholdRequest struct {
	LimitWatts float64 `json:"limit_watts" binding:"required,gt=0"`
}

// SetThreshold arms the power cutoff
func (c *RelayController) SetThreshold(ctx *gin.Context) {
	var req ThresholdRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.HandleValidationErrors(ctx, err)
		return
	}

	if err := c.threshold.Set(req.LimitWatts); err != nil {
		utils.HandleError(ctx, err, c.logger)
		return
	}
	ctx.JSON(http.StatusOK, c.threshold.Status())
}

// ClearThreshold disarms the power cutoff
func (c *RelayController) ClearThreshold(ctx *gin.Context) {
	c.threshold.Clear()
	ctx.JSON(http.StatusOK, c.threshold.Status())
}

// ListEvents returns the relay command journal, newest first
func (c *RelayController) ListEvents(ctx *gin.Context) {
	page := utils.GetPaginationFromContext(ctx)

	filter := repository.RelayEventFilter{Intent: ctx.Query("intent")}
	if raw := ctx.Query("accepted"); raw != "" {
		accepted, err := strconv.ParseBool(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, utils.ErrorResponse{
				Error:   "bad_request",
				Message: "accepted must be a boolean",
			})
			return
		}
		filter.Accepted = &accepted
	}

	events, total, err := c.journal.List(ctx.Request.Context(), filter, page)
	if err != nil {
		utils.HandleError(ctx, err, c.logger)
		return
	}

	ctx.JSON(http.StatusOK, utils.NewPage(events, page, total))
}

// GetEvent returns one journal entry
func (c *RelayController) GetEvent(ctx *gin.Context) {
	event, err := c.journal.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		utils.HandleError(ctx, err, c.logger)
		return
	}
	ctx.JSON(http.StatusOK, event)
}

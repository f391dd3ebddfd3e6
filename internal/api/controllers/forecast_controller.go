package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/powerdash/backend/internal/forecast"
	"github.com/powerdash/backend/internal/utils"
)

// ForecastController exposes the forecast adapter
type ForecastController struct {
	adapter *forecast.Adapter
	logger  *utils.Logger
}

// NewForecastController creates a new forecast controller. adapter is nil when
// forecasting is disabled.
func NewForecastController(adapter *forecast.Adapter, logger *utils.Logger) *ForecastController {
	return &ForecastController{
		adapter: adapter,
		logger:  logger.Named("forecast_controller"),
	}
}

// RegisterRoutes registers the forecast routes
func (c *ForecastController) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/forecast", c.GetForecast)
	router.POST("/forecast/run", c.RunForecast)
}

// ForecastResponse is the adapter status plus the latest result, if any
type ForecastResponse struct {
	Status forecast.Status  `json:"status"`
	Result *forecast.Result `json:"result"`
}

// GetForecast returns the latest forecast
func (c *ForecastController) GetForecast(ctx *gin.Context) {
	if c.adapter == nil {
		utils.HandleError(ctx, forecast.ErrPredictorUnavailable, c.logger)
		return
	}

	resp := ForecastResponse{Status: c.adapter.Status()}
	if result, ok := c.adapter.Latest(); ok {
		resp.Result = &result
	}
	ctx.JSON(http.StatusOK, resp)
}

// RunForecast starts a forecast run in the background
func (c *ForecastController) RunForecast(ctx *gin.Context) {
	if c.adapter == nil {
		utils.HandleError(ctx, forecast.ErrPredictorUnavailable, c.logger)
		return
	}

	if err := c.adapter.Trigger(); err != nil {
		utils.HandleError(ctx, err, c.logger)
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{"status": c.adapter.Status()})
}

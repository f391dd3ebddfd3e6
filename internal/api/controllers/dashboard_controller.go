package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/powerdash/backend/internal/billing"
	"github.com/powerdash/backend/internal/efficiency"
	"github.com/powerdash/backend/internal/loadstate"
	"github.com/powerdash/backend/internal/utils"
)

// DashboardController serves the derived views: bill, efficiency and load state
type DashboardController struct {
	billing    *billing.Evaluator
	efficiency *efficiency.Evaluator
	loadState  *loadstate.Evaluator
	logger     *utils.Logger
}

// NewDashboardController creates a new dashboard controller
func NewDashboardController(
	billing *billing.Evaluator,
	efficiency *efficiency.Evaluator,
	loadState *loadstate.Evaluator,
	logger *utils.Logger,
) *DashboardController {
	return &DashboardController{
		billing:    billing,
		efficiency: efficiency,
		loadState:  loadState,
		logger:     logger.Named("dashboard_controller"),
	}
}

// RegisterRoutes registers the dashboard routes
func (c *DashboardController) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/bill", c.GetBill)
	router.GET("/efficiency", c.GetEfficiency)
	router.PUT("/efficiency/target", c.SetEfficiencyTarget)
	router.GET("/load-state", c.GetLoadState)
}

// BillResponse carries the exact breakdowns and their display rounding
type BillResponse struct {
	billing.State
	CurrentRounded   billing.Breakdown `json:"current_rounded"`
	PredictedRounded billing.Breakdown `json:"predicted_rounded"`
}

// GetBill returns the current and predicted bill
func (c *DashboardController) GetBill(ctx *gin.Context) {
	state := c.billing.State()
	ctx.JSON(http.StatusOK, BillResponse{
		State:            state,
		CurrentRounded:   state.Current.Rounded(),
		PredictedRounded: state.Predicted.Rounded(),
	})
}

// GetEfficiency returns the efficiency score and band
func (c *DashboardController) GetEfficiency(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.efficiency.State())
}

// SetTargetRequest defines the request body for changing the daily budget
type SetTargetRequest struct {
	TargetKWh float64 `json:"target_kwh" binding:"required,gt=0"`
}

// SetEfficiencyTarget changes the daily energy budget
func (c *DashboardController) SetEfficiencyTarget(ctx *gin.Context) {
	var req SetTargetRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.HandleValidationErrors(ctx, err)
		return
	}

	c.efficiency.SetTarget(req.TargetKWh)
	ctx.JSON(http.StatusOK, c.efficiency.State())
}

// GetLoadState returns the ACTIVE/IDLE classification
func (c *DashboardController) GetLoadState(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.loadState.Status())
}

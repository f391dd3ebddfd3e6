package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/powerdash/backend/internal/services"
	"github.com/powerdash/backend/internal/utils"
)

// WebsocketController upgrades dashboard connections onto the live feed
type WebsocketController struct {
	notifications *services.NotificationService
	upgrader      websocket.Upgrader
	logger        *utils.Logger
}

// NewWebsocketController creates a new websocket controller
func NewWebsocketController(notifications *services.NotificationService, logger *utils.Logger) *WebsocketController {
	return &WebsocketController{
		notifications: notifications,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the dashboard is served from another origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.Named("websocket_controller"),
	}
}

// RegisterRoutes registers the websocket route
func (c *WebsocketController) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ws", c.Connect)
}

// Connect upgrades the request and registers the client
func (c *WebsocketController) Connect(ctx *gin.Context) {
	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		c.logger.Warn("Websocket upgrade failed", utils.Error(err))
		return
	}

	c.notifications.RegisterClient(conn)
}

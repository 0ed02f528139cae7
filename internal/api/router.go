// Package api exposes the chat server over HTTP: the WebSocket upgrade, read
// only snapshots of the hub, health and Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/starapp/chat-server/internal/chat"
	"github.com/starapp/chat-server/internal/logging"
	"github.com/starapp/chat-server/internal/metrics"
	"github.com/starapp/chat-server/internal/session"
)

// Hub is the subset of *chat.Hub the HTTP handlers read.
type Hub interface {
	History() []chat.Message
	Presence() []session.Session
}

// Transport is the WebSocket side of the server.
type Transport interface {
	http.Handler
	ConnectionCount() int
	Uptime() time.Duration
}

// Options configures NewRouter.
type Options struct {
	ClientURL string // allowed CORS origin; empty allows any
}

// NewRouter builds the gin engine. It does not add gin's default middleware;
// requests are logged through zap instead.
func NewRouter(hub Hub, transport Transport, opts Options) *gin.Engine {
	engine := gin.New()
	engine.Use(logging.GinLogger())
	engine.Use(logging.GinRecovery(true))

	corsConfig := cors.DefaultConfig()
	if opts.ClientURL == "" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{opts.ClientURL}
	}
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodOptions}
	engine.Use(cors.New(corsConfig))

	h := &handlers{hub: hub, transport: transport}
	engine.GET("/", h.banner)
	engine.GET("/health", h.health)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	engine.GET("/ws", gin.WrapH(transport))

	api := engine.Group("/api")
	api.GET("/messages", h.messages)
	api.GET("/users", h.users)
	return engine
}

type handlers struct {
	hub       Hub
	transport Transport
}

func (h *handlers) banner(c *gin.Context) {
	c.String(http.StatusOK, "chat server is running")
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.transport.ConnectionCount(),
		"uptime":      int64(h.transport.Uptime().Seconds()),
	})
}

// messages returns the global log, oldest first.
func (h *handlers) messages(c *gin.Context) {
	msgs := h.hub.History()
	if msgs == nil {
		msgs = []chat.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *handlers) users(c *gin.Context) {
	users := h.hub.Presence()
	if users == nil {
		users = []session.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

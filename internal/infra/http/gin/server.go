package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"bizlink/internal/infra/config"
	"bizlink/internal/infra/obs"
)

type ChatHTTP interface {
	CreateConversation(c *gin.Context)
	ListConversations(c *gin.Context)
	GetConversation(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	SendVoice(c *gin.Context)
	SynthesizeSpeech(c *gin.Context)
	MarkRead(c *gin.Context)
	UpdateSettings(c *gin.Context)
	LeaveConversation(c *gin.Context)
	EditMessage(c *gin.Context)
	DeleteMessage(c *gin.Context)
	SetReaction(c *gin.Context)
	ClearReaction(c *gin.Context)
	Translate(c *gin.Context)
	SearchMessages(c *gin.Context)
}

type Handlers struct {
	Chat           ChatHTTP
	WS             gin.HandlerFunc
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.Chat != nil {
		api.POST("/conversations", h.Chat.CreateConversation)
		api.GET("/conversations", h.Chat.ListConversations)
		api.GET("/conversations/:id", h.Chat.GetConversation)
		api.DELETE("/conversations/:id", h.Chat.LeaveConversation)
		api.GET("/conversations/:id/messages", h.Chat.ListMessages)
		api.POST("/conversations/:id/messages", h.Chat.SendMessage)
		api.POST("/conversations/:id/voice", h.Chat.SendVoice)
		api.POST("/conversations/:id/read", h.Chat.MarkRead)
		api.PATCH("/conversations/:id/settings", h.Chat.UpdateSettings)
		api.GET("/messages/search", h.Chat.SearchMessages)
		api.PUT("/messages/:id", h.Chat.EditMessage)
		api.DELETE("/messages/:id", h.Chat.DeleteMessage)
		api.POST("/messages/:id/reactions", h.Chat.SetReaction)
		api.DELETE("/messages/:id/reactions", h.Chat.ClearReaction)
		api.GET("/messages/:id/translation", h.Chat.Translate)
		api.POST("/speech/synthesize", h.Chat.SynthesizeSpeech)
	}
	if h.WS != nil {
		router.GET("/ws", h.WS)
	}

	return &http.Server{Addr: cfg.HTTPAddr, Handler: router}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}

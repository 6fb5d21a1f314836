package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/config"
)

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware tags every request with an id echoed in the response and the logs.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// SetupRouter builds the hub. Poll reaping runs until ctx is done.
func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: int(cfg.TokenTTL.Seconds()), HttpOnly: true})
	r.Use(sessions.Sessions("MeetSessions", store))

	settings := signal.Settings{
		ReadLimit:   cfg.ReadLimit,
		PingPeriod:  cfg.PingPeriod,
		WriteWait:   cfg.WriteWait,
		SendBuffer:  cfg.SendBuffer,
		PollTimeout: cfg.PollTimeout,
	}
	ws := signal.NewSignalWSController(o, settings)
	poll := signal.NewPollController(o, settings)
	go poll.Run(ctx)

	h := &handlers{orch: o, publicURL: cfg.PublicURL}

	api := r.Group("/api")
	api.GET("/negotiate", h.negotiate)
	api.POST("/JoinGroup", h.joinGroup)
	api.POST("/LeaveGroup", h.leaveGroup)
	api.GET("/MessageSignalR", h.message)
	api.POST("/MessageSignalR", h.message)
	api.GET("/meetings", h.listMeetings)
	api.DELETE("/meetings/:id", h.evictMeeting)

	api.GET("/hub", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).Msg("ws hub endpoint hit")
		ws.HandleSignal(ctx, c)
	})
	api.POST("/hub/poll", poll.Open)
	api.GET("/hub/poll", poll.Poll)
	api.DELETE("/hub/poll", poll.Close)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

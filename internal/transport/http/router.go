// Package http is the UI-facing edge: a gin router plus a websocket
// gateway carrying join/leave commands in and roster/sink events out.
package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/EWilliamHertz/ActionPad-sub000/internal/config"
)

// ClientTokenMiddleware pins a stable participant id to the browser via a
// cookie; the websocket session reads it back as its identity.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, gw *Gateway) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ActionPadVoice", store))
	r.Use(ClientTokenMiddleware())

	api := r.Group("/api")
	api.GET("/ws/voice", func(c *gin.Context) {
		log.Info().Str("module", "transport.http").Str("participant", c.GetString("client_token")).Msg("voice ws endpoint hit")
		gw.HandleWS(ctx, c)
	})

	return r
}

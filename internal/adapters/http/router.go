package http

import (
	"context"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/partyhub/internal/app"
	"github.com/dkeye/partyhub/internal/config"
	"github.com/dkeye/partyhub/internal/core"
)

// ClientTokenMiddleware gives every client a stable device token, persisted
// in the cookie session. It doubles as the rate-limit key.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get("device_id").(string)
		if token == "" {
			token = uuid.NewString()
			s.Set("device_id", token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, reg *core.Registry) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("PartySessions", store))
	r.Use(ClientTokenMiddleware())

	ctl := &Controller{
		Cfg:      cfg,
		Registry: reg,
		Limiter:  NewCreateRateLimiter(cfg.Limits.CreatePerMinute, time.Minute),
		Policy:   app.DetachPolicy{},
	}

	api := r.Group("/api/v2")
	api.POST("/rooms", ctl.CreateRoom)
	api.GET("/rooms/:room_id/play", func(c *gin.Context) {
		ctl.Play(ctx, c)
	})
	api.GET("/app-configs/:game_name", ctl.AppConfigs)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/partyhub/internal/adapters"
	"github.com/dkeye/partyhub/internal/app"
	"github.com/dkeye/partyhub/internal/config"
	"github.com/dkeye/partyhub/internal/core"
	"github.com/dkeye/partyhub/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var gameNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

type Controller struct {
	Cfg      *config.Config
	Registry *core.Registry
	Limiter  *CreateRateLimiter
	Policy   app.Policy
}

type roomBody struct {
	Host  string `json:"host"`
	Code  string `json:"code"`
	Token string `json:"token"`
}

func (ctl *Controller) CreateRoom(c *gin.Context) {
	if !ctl.Limiter.Allow(c.GetString("client_token")) {
		c.JSON(http.StatusTooManyRequests, gin.H{"ok": false, "error": "rate_limited"})
		return
	}

	code, token, err := ctl.Registry.Create()
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("room create failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "room_unavailable"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"ok": true,
		"body": roomBody{
			Host:  ctl.Cfg.Host,
			Code:  string(code),
			Token: string(token),
		},
	})
}

type playQuery struct {
	Role   string `form:"role" binding:"required,oneof=host player"`
	Name   string `form:"name" binding:"required,max=36"`
	Format string `form:"format" binding:"omitempty,oneof=json"`
	UserID string `form:"user-id"`
	Token  string `form:"token"`
}

// Play validates the join, upgrades to a websocket and hands the connection
// to a session. All rejections happen before the upgrade so a refused join
// never costs a socket.
func (ctl *Controller) Play(ctx context.Context, c *gin.Context) {
	var q playQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid_request"})
		return
	}
	role, err := domain.ParseRole(q.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid_request"})
		return
	}
	meta, err := domain.NewProfile(q.Name, q.UserID, c.GetString("client_token"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid_request"})
		return
	}

	code := domain.RoomCode(c.Param("room_id"))
	room, ok := ctl.Registry.Get(code)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "room_not_found"})
		return
	}
	token := domain.JoinToken(q.Token)
	if err := room.Authorize(role, token); err != nil {
		c.JSON(statusFor(err), gin.H{"ok": false, "error": err.Error()})
		return
	}

	log.Debug().Str("module", "adapters.http").Str("room", string(code)).
		Str("role", q.Role).Msg("upgrading room socket")
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Cfg.ReadLimit)
	pongWait := ctl.Cfg.PingPeriod * 10 / 9
	if pongWait > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	ep := adapters.NewWSEndpoint(ws, ctl.Cfg.SendBuffer)
	sess := app.NewSession(room, ep, role, meta, token, ctl.Policy)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		ep.WritePump(ctx, ctl.Cfg.PingPeriod)
		// Pump death means the connection is done for; closing the endpoint
		// unblocks the session's pending receive.
		ep.Close()
	}()
	go func() {
		defer cancel()
		sess.Run(ctx)
	}()
}

// AppConfigs serves the static settings blob for a game. Unknown games fall
// back to the advertised server url so fresh deployments work without a
// config drop.
func (ctl *Controller) AppConfigs(c *gin.Context) {
	game := c.Param("game_name")
	if !gameNameRe.MatchString(game) {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid_request"})
		return
	}

	settings := any(gin.H{"serverUrl": ctl.Cfg.Host})
	path := filepath.Join(ctl.Cfg.AppConfigsPath, game+".json")
	if data, err := os.ReadFile(path); err == nil {
		if json.Valid(data) {
			settings = json.RawMessage(data)
		} else {
			log.Warn().Str("module", "adapters.http").Str("game", game).Msg("malformed app config, serving fallback")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":   true,
		"body": gin.H{"settings": settings},
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrRoomClosed):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrRoleConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCodeSpaceExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

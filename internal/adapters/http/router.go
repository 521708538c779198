package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Intercom/internal/adapters/signal"
	"github.com/dkeye/Intercom/internal/app/orch"
	"github.com/dkeye/Intercom/internal/auth"
	"github.com/dkeye/Intercom/internal/config"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// AuthMiddleware resolves the bearer token to a user or stops the request
// with 401.
func AuthMiddleware(authn auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := authn.Authenticate(auth.TokenFromRequest(c.Request))
		if err != nil {
			log.Warn().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("unauthorized")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(signal.UserKey, user)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, authn auth.Authenticator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	ctrl := signal.NewSignalWSController(o,
		signal.NewInviteRateLimiter(cfg.InviteRate, cfg.InviteBurst),
		signal.Config{PingPeriod: cfg.PingPeriod, SendBuffer: cfg.SendBuffer, ReadLimit: cfg.ReadLimit},
	)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api", AuthMiddleware(authn))

	api.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": o.Rooms.List()})
	})

	api.GET("/rooms/:id/members", func(c *gin.Context) {
		room, ok := o.Rooms.GetRoom(domain.RoomID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"room": room.Room().ID, "members": room.MembersSnapshot()})
	})

	api.GET("/ice", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ice_servers": []gin.H{{"urls": cfg.ICEServers}}})
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

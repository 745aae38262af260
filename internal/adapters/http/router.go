package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/callstream/internal/adapters/stream"
	"github.com/dkeye/callstream/internal/app/orch"
	"github.com/dkeye/callstream/internal/config"
	"github.com/dkeye/callstream/internal/core"
	"github.com/dkeye/callstream/internal/domain"
	"github.com/dkeye/callstream/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware tags every request with an id, reusing the caller's
// when one is supplied.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// BearerMiddleware guards a route group with the stream's bearer token.
func BearerMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := stream.Authorize(c.GetHeader("Authorization"), token); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).
				Str("path", c.FullPath()).Msg("api request rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, o *orch.Orchestrator, ctl *stream.StreamController, m *metrics.Metrics) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	log.Info().Str("module", "adapters.http").Str("stream_path", cfg.StreamPath).Msg("router setup")

	r.GET(cfg.StreamPath, ctl.HandleStream)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": o.Registry.Len()})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	api := r.Group("/api")
	api.Use(BearerMiddleware(cfg.AuthToken))

	// GET /api/calls: live sessions
	api.GET("/calls", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"calls": o.Registry.Snapshot()})
	})

	// POST /api/calls/:callId/play: raw audio body, streamed to the carrier
	api.POST("/calls/:callId/play", func(c *gin.Context) {
		callID := domain.CallID(c.Param("callId"))
		audio, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		sent, err := o.Play(callID, audio)
		var se *core.SendError
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"call_id": callID, "chunks_sent": sent})
		case errors.Is(err, orch.ErrCallNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.As(err, &se):
			c.JSON(http.StatusConflict, gin.H{
				"error":        se.Error(),
				"chunks_sent":  se.Sent,
				"chunks_total": se.Total,
			})
		default:
			log.Error().Err(err).Str("module", "adapters.http").Str("call_id", string(callID)).Msg("play failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "play failed"})
		}
	})

	return r
}

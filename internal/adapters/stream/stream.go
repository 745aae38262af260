package stream

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/callstream/internal/app/orch"
	"github.com/dkeye/callstream/internal/config"
	"github.com/dkeye/callstream/internal/core"
	"github.com/dkeye/callstream/internal/domain"
	"github.com/dkeye/callstream/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WSConn is the part of *websocket.Conn the stream adapter uses.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	WriteControl(mt int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// wsMediaConn implements core.MediaConnection over a WebSocket.
// Writes are synchronous so the caller learns whether a frame went out.
type wsMediaConn struct {
	id           string
	ws           WSConn
	writeTimeout time.Duration

	mu     sync.Mutex // serializes data writes
	closed atomic.Bool
	done   chan struct{}
	once   sync.Once
}

func newWSMediaConn(ws WSConn, writeTimeout time.Duration) *wsMediaConn {
	return &wsMediaConn{
		id:           uuid.NewString(),
		ws:           ws,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (c *wsMediaConn) ID() string { return c.id }

func (c *wsMediaConn) IsOpen() bool { return !c.closed.Load() }

func (c *wsMediaConn) Send(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return core.ErrConnectionClosed
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.Close()
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		log.Warn().Err(err).Str("module", "stream").Str("conn_id", c.id).Msg("write failed")
		c.Close()
		return err
	}
	return nil
}

// Close sends a normal close frame and drops the socket. Safe to call from
// any goroutine, any number of times.
func (c *wsMediaConn) Close() {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		_ = c.ws.Close()
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamController serves the carrier's media stream connections.
type StreamController struct {
	Orch    *orch.Orchestrator
	Metrics *metrics.Metrics

	authToken    string
	readLimit    int64
	pingPeriod   time.Duration
	pongWait     time.Duration
	writeTimeout time.Duration
	limiter      *AuthLimiter
}

func NewStreamController(o *orch.Orchestrator, cfg *config.Config, m *metrics.Metrics) *StreamController {
	return &StreamController{
		Orch:         o,
		Metrics:      m,
		authToken:    cfg.AuthToken,
		readLimit:    cfg.ReadLimit,
		pingPeriod:   cfg.PingPeriod,
		pongWait:     cfg.PongWait,
		writeTimeout: cfg.WriteTimeout,
		limiter:      NewAuthLimiter(cfg.AuthFailLimit, cfg.AuthFailWindow),
	}
}

// HandleStream authenticates the request, upgrades it and starts the
// connection's goroutines. Rejected requests never reach the registry.
func (ctl *StreamController) HandleStream(c *gin.Context) {
	remote := c.ClientIP()

	if !ctl.limiter.Allow(remote) {
		ctl.Metrics.Rejected("rate_limited")
		log.Warn().Str("module", "stream").Str("remote", remote).Msg("handshake throttled")
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}
	if err := Authorize(c.GetHeader("Authorization"), ctl.authToken); err != nil {
		ctl.limiter.Fail(remote)
		ctl.Metrics.Rejected("auth")
		log.Warn().Err(err).Str("module", "stream").Str("remote", remote).Msg("handshake rejected")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	callID := domain.CallIDFromQuery(c.Request.URL.Query())
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "stream").Str("remote", remote).Msg("ws upgrade")
		return
	}

	conn := newWSMediaConn(ws, ctl.writeTimeout)
	sess := ctl.Orch.Open(callID, conn)
	ctl.Metrics.Accepted()
	log.Info().Str("module", "stream").Str("call_id", string(callID)).Str("conn_id", conn.ID()).
		Str("remote", remote).Msg("new stream connection")

	go ctl.keepalive(conn)
	go ctl.readPump(sess, conn)
}

package stream

import (
	"time"

	"github.com/dkeye/callstream/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// readPump handles inbound frames strictly in arrival order. Whatever ends
// the loop, the session is released exactly once on the way out.
func (ctl *StreamController) readPump(sess *core.Session, c *wsMediaConn) {
	defer func() {
		ctl.Orch.OnDisconnect(sess)
		c.Close()
		log.Info().Str("module", "stream").Str("conn_id", c.ID()).Str("call_id", string(sess.CallID())).Msg("readPump closing")
	}()

	if ctl.readLimit > 0 {
		c.ws.SetReadLimit(ctl.readLimit)
	}
	if ctl.pingPeriod > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(ctl.pongWait))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(ctl.pongWait))
		})
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			ev := log.Info()
			if c.IsOpen() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ev = log.Warn()
			}
			ev.Err(err).Str("module", "stream").Str("conn_id", c.ID()).Msg("readPump read end")
			return
		}
		ctl.handleMessage(sess, data)
	}
}

// handleMessage never lets one bad frame take the connection down.
func (ctl *StreamController) handleMessage(sess *core.Session, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("module", "stream").Str("call_id", string(sess.CallID())).Msg("frame handler panic")
		}
	}()

	f, err := core.Decode(data)
	if err != nil {
		ctl.Metrics.DecodeError()
		log.Warn().Err(err).Str("module", "stream").Str("call_id", string(sess.CallID())).Int("bytes", len(data)).Msg("bad frame")
		return
	}
	_ = ctl.Orch.HandleFrame(sess, f)
}

func (ctl *StreamController) keepalive(c *wsMediaConn) {
	if ctl.pingPeriod <= 0 {
		return
	}
	ticker := time.NewTicker(ctl.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.writeTimeout)); err != nil {
				log.Warn().Err(err).Str("module", "stream").Str("conn_id", c.ID()).Msg("ping failed")
				c.Close()
				return
			}
		}
	}
}

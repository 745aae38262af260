package orch

import (
	"errors"

	"github.com/dkeye/callstream/internal/app"
	"github.com/dkeye/callstream/internal/core"
	"github.com/dkeye/callstream/internal/domain"
	"github.com/dkeye/callstream/internal/metrics"
	"github.com/rs/zerolog/log"
)

var ErrCallNotFound = errors.New("call not found")

// AudioSink receives decoded inbound audio. It runs on the connection's
// read goroutine and must not block for long.
type AudioSink func(sess *core.Session, audio []byte)

// Orchestrator drives the per-call state machine and owns session cleanup.
type Orchestrator struct {
	Registry *app.Registry
	Chunker  *app.Chunker
	Metrics  *metrics.Metrics
	Sink     AudioSink
}

// Open creates a session for a freshly accepted connection and registers it
// under the provisional call id. A stale session under the same id is evicted.
func (o *Orchestrator) Open(callID domain.CallID, conn core.MediaConnection) *core.Session {
	sess := core.NewSession(callID, conn)
	if prev := o.Registry.Put(callID, sess); prev != nil {
		o.evict(prev, conn)
	}
	if callID.IsUnknown() {
		log.Warn().Str("module", "orch").Str("conn_id", conn.ID()).Msg("session opened without call id")
	} else {
		log.Info().Str("module", "orch").Str("call_id", string(callID)).Str("conn_id", conn.ID()).Msg("session opened")
	}
	return sess
}

// HandleFrame routes one decoded frame by event tag. Errors are logged and
// returned for the caller's bookkeeping; none of them should end the connection.
func (o *Orchestrator) HandleFrame(sess *core.Session, f *core.Frame) error {
	o.Metrics.FrameIn(f.Event.String())

	var err error
	switch f.Event {
	case core.EventStart:
		err = o.OnStart(sess, f)
	case core.EventMedia:
		_, err = o.OnMedia(sess, f)
	case core.EventStop:
		err = o.OnStop(sess)
	default:
		log.Warn().Str("module", "orch").Str("call_id", string(sess.CallID())).Str("event", f.Tag()).Msg("unknown event")
		return core.ErrUnknownEvent
	}

	var ite *core.InvalidTransitionError
	if errors.As(err, &ite) {
		o.Metrics.InvalidTransition(ite.Event.String())
		log.Debug().Str("module", "orch").Str("call_id", string(sess.CallID())).Str("state", ite.State.String()).
			Str("event", ite.Event.String()).Msg("frame ignored")
	} else if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("call_id", string(sess.CallID())).Str("event", f.Tag()).Msg("frame failed")
	}
	return err
}

// Shutdown releases every live session.
func (o *Orchestrator) Shutdown() {
	sessions := o.Registry.Sessions()
	for _, s := range sessions {
		o.release(s, "shutdown")
	}
	log.Info().Str("module", "orch").Int("sessions", len(sessions)).Msg("orchestrator shut down")
}

package orch

import (
	"time"

	"github.com/dkeye/callstream/internal/core"
	"github.com/rs/zerolog/log"
)

// OnStart applies the carrier's stream fields and rekeys the registry entry
// when the carrier's call id differs from the provisional one.
func (o *Orchestrator) OnStart(sess *core.Session, f *core.Frame) error {
	if err := sess.ApplyStart(f.StreamSID, f.AccountSID); err != nil {
		return err
	}

	from := sess.CallID()
	if f.CallSID != "" && f.CallSID != from {
		prev, ok := o.Registry.Move(from, f.CallSID, sess)
		if !ok {
			log.Warn().Str("module", "orch").Str("call_id", string(from)).Str("carrier_call_id", string(f.CallSID)).
				Msg("session closed before rekey")
			return nil
		}
		if prev != nil {
			o.evict(prev, sess.Conn())
		}
	}
	if sess.CallID().IsUnknown() {
		log.Warn().Str("module", "orch").Str("stream_id", string(f.StreamSID)).Msg("stream started under placeholder call id")
	}
	log.Info().Str("module", "orch").
		Str("call_id", string(sess.CallID())).
		Str("stream_id", string(f.StreamSID)).
		Str("account_id", string(f.AccountSID)).
		Msg("stream started")
	return nil
}

// OnStop closes a streaming session. Stop before start is ignored; stop after
// close is a no-op.
func (o *Orchestrator) OnStop(sess *core.Session) error {
	switch sess.State() {
	case core.AwaitingStart:
		return &core.InvalidTransitionError{State: core.AwaitingStart, Event: core.EventStop}
	case core.Closed:
		return nil
	}
	o.release(sess, "stop")
	return nil
}

// OnDisconnect runs when the transport is gone, in any state.
func (o *Orchestrator) OnDisconnect(sess *core.Session) {
	o.release(sess, "disconnect")
}

// release is the single cleanup path. Session.Close gates it so a stop frame
// followed by the transport closing cleans up exactly once.
func (o *Orchestrator) release(sess *core.Session, reason string) {
	if !sess.Close() {
		return
	}
	removed := o.Registry.Release(sess)
	if c := sess.Conn(); c != nil {
		c.Close()
	}
	d := time.Since(sess.ConnectedAt())
	o.Metrics.SessionClosed(d)
	log.Info().Str("module", "orch").
		Str("call_id", string(sess.CallID())).
		Str("reason", reason).
		Bool("removed", removed).
		Dur("duration", d).
		Msg("session closed")
}

// evict cleans up a session that lost its registry key to a newer one.
// A different connection is closed; the shared one is left to its owner.
func (o *Orchestrator) evict(prev *core.Session, by core.MediaConnection) {
	o.Metrics.Replaced()
	if prev.Conn() == by {
		prev.Close()
		return
	}
	log.Warn().Str("module", "orch").Str("call_id", string(prev.CallID())).Msg("evicting stale session")
	o.release(prev, "replaced")
}

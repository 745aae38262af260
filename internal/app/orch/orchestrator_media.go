package orch

import (
	"github.com/dkeye/callstream/internal/core"
	"github.com/dkeye/callstream/internal/domain"
)

// OnMedia validates an inbound media frame and hands its audio to the sink.
func (o *Orchestrator) OnMedia(sess *core.Session, f *core.Frame) ([]byte, error) {
	audio, err := sess.AcceptMedia(f)
	if err != nil {
		return nil, err
	}
	if o.Sink != nil {
		o.Sink(sess, audio)
	}
	return audio, nil
}

// Play sends audio to the call's carrier connection in chunk-sized frames.
func (o *Orchestrator) Play(callID domain.CallID, audio []byte) (int, error) {
	sess, ok := o.Registry.Get(callID)
	if !ok {
		return 0, ErrCallNotFound
	}
	return o.Send(sess, audio)
}

func (o *Orchestrator) Send(sess *core.Session, audio []byte) (int, error) {
	return o.Chunker.Send(sess, audio)
}

package stream

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/callstream/internal/app"
	"github.com/dkeye/callstream/internal/app/orch"
	"github.com/dkeye/callstream/internal/config"
	"github.com/dkeye/callstream/internal/core"
	"github.com/dkeye/callstream/internal/domain"
	"github.com/dkeye/callstream/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:         "test",
		StreamPath:   "/media-stream",
		ChunkSize:    app.DefaultChunkSize,
		ReadLimit:    1 << 20,
		PongWait:     time.Minute,
		WriteTimeout: time.Second,
	}
}

type harness struct {
	orch *orch.Orchestrator
	srv  *httptest.Server
	url  string
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := app.NewRegistry()
	m := metrics.New(reg.Len)
	o := &orch.Orchestrator{Registry: reg, Chunker: app.NewChunker(cfg.ChunkSize, m), Metrics: m}
	ctl := NewStreamController(o, cfg, m)

	r := gin.New()
	r.GET(cfg.StreamPath, ctl.HandleStream)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		o.Shutdown()
		srv.Close()
	})
	return &harness{
		orch: o,
		srv:  srv,
		url:  "ws" + strings.TrimPrefix(srv.URL, "http") + cfg.StreamPath,
	}
}

func (h *harness) dial(t *testing.T, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := h.url
	if query != "" {
		u += "?" + query
	}
	ws, resp, err := websocket.DefaultDialer.Dial(u, header)
	if ws != nil {
		t.Cleanup(func() { _ = ws.Close() })
	}
	return ws, resp, err
}

func (h *harness) session(t *testing.T, id domain.CallID) *core.Session {
	t.Helper()
	var sess *core.Session
	require.Eventually(t, func() bool {
		s, ok := h.orch.Registry.Get(id)
		sess = s
		return ok
	}, waitFor, tick)
	return sess
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func TestScenarioNoTokenStartPlayStop(t *testing.T) {
	h := newHarness(t, testConfig())

	ws, _, err := h.dial(t, "callSid=CA1", nil)
	require.NoError(t, err)
	sess := h.session(t, "CA1")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"start","stream_sid":"S1","account_sid":"AC1","call_sid":"CA1"}`)))
	require.Eventually(t, func() bool { return sess.State() == core.Streaming }, waitFor, tick)
	assert.EqualValues(t, "S1", sess.StreamID())

	sent, err := h.orch.Play("CA1", make([]byte, 6400))
	require.NoError(t, err)
	require.Equal(t, 2, sent)

	for i := range 2 {
		_, raw, err := ws.ReadMessage()
		require.NoError(t, err)
		f, err := core.Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, core.EventMedia, f.Event)
		assert.EqualValues(t, "S1", f.StreamSID)
		assert.Equal(t, strconv.Itoa(i), f.SequenceNumber)
		audio, err := f.Audio()
		require.NoError(t, err)
		assert.Len(t, audio, 3200)
	}

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop"}`)))
	require.Eventually(t, func() bool { return h.orch.Registry.Len() == 0 }, waitFor, tick)

	_ = ws.SetReadDeadline(time.Now().Add(waitFor))
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.False(t, sess.Conn().IsOpen())
}

func TestTokenMissingHeaderRejected(t *testing.T) {
	cfg := testConfig()
	cfg.AuthToken = "s3cret"
	h := newHarness(t, cfg)

	_, resp, err := h.dial(t, "callSid=CA1", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, h.orch.Registry.Len())
}

func TestTokenBadCredentialsRejected(t *testing.T) {
	cfg := testConfig()
	cfg.AuthToken = "s3cret"
	h := newHarness(t, cfg)

	for _, hdr := range []string{"Basic s3cret", "Bearer nope", "Bearer", "bearer s3cret", "s3cret"} {
		_, resp, err := h.dial(t, "callSid=CA1", http.Header{"Authorization": []string{hdr}})
		require.Error(t, err, hdr)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, hdr)
	}
	assert.Zero(t, h.orch.Registry.Len())
}

func TestTokenAccepted(t *testing.T) {
	cfg := testConfig()
	cfg.AuthToken = "s3cret"
	h := newHarness(t, cfg)

	_, _, err := h.dial(t, "callLogId=77", bearer("s3cret"))
	require.NoError(t, err)
	h.session(t, "77")
}

func TestAbruptCloseRemovesEntry(t *testing.T) {
	h := newHarness(t, testConfig())

	ws, _, err := h.dial(t, "callSid=CA1", nil)
	require.NoError(t, err)
	sess := h.session(t, "CA1")
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"start","stream_sid":"S1"}`)))
	require.Eventually(t, func() bool { return sess.State() == core.Streaming }, waitFor, tick)

	require.NoError(t, ws.NetConn().Close())
	require.Eventually(t, func() bool { return h.orch.Registry.Len() == 0 }, waitFor, tick)
	assert.Equal(t, core.Closed, sess.State())

	_, err = h.orch.Play("CA1", []byte{1})
	assert.ErrorIs(t, err, orch.ErrCallNotFound)
}

func TestMalformedFrameTolerated(t *testing.T) {
	h := newHarness(t, testConfig())

	ws, _, err := h.dial(t, "", nil)
	require.NoError(t, err)
	sess := h.session(t, domain.UnknownCallID)

	for _, msg := range []string{`{"event":`, `garbage`, `{"event":"mark"}`, `{"event":"media","media":{"payload":"AAE="}}`} {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(msg)))
	}
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"start","start":{"stream_sid":"S1","call_sid":"CA5"}}`)))

	require.Eventually(t, func() bool { return sess.State() == core.Streaming }, waitFor, tick)
	got := h.session(t, "CA5")
	assert.Same(t, sess, got)
	_, ok := h.orch.Registry.Get(domain.UnknownCallID)
	assert.False(t, ok)
}

func TestAuthFailuresThrottled(t *testing.T) {
	cfg := testConfig()
	cfg.AuthToken = "s3cret"
	cfg.AuthFailLimit = 2
	cfg.AuthFailWindow = time.Minute
	h := newHarness(t, cfg)

	for range 2 {
		_, resp, err := h.dial(t, "", bearer("wrong"))
		require.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	_, resp, err := h.dial(t, "", bearer("s3cret"))
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Zero(t, h.orch.Registry.Len())
}

func TestIdleConnectionTimesOutWithoutPong(t *testing.T) {
	cfg := testConfig()
	cfg.PingPeriod = 20 * time.Millisecond
	cfg.PongWait = 100 * time.Millisecond
	h := newHarness(t, cfg)

	// the client never reads, so it never answers pings
	_, _, err := h.dial(t, "callSid=CA1", nil)
	require.NoError(t, err)
	h.session(t, "CA1")

	require.Eventually(t, func() bool { return h.orch.Registry.Len() == 0 }, waitFor, tick)
}

func TestKeepaliveHoldsResponsiveConnection(t *testing.T) {
	cfg := testConfig()
	cfg.PingPeriod = 20 * time.Millisecond
	cfg.PongWait = 100 * time.Millisecond
	h := newHarness(t, cfg)

	ws, _, err := h.dial(t, "callSid=CA1", nil)
	require.NoError(t, err)
	// reading lets the default ping handler answer with pongs
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
	h.session(t, "CA1")

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, h.orch.Registry.Len())
}

func TestPanickingSinkKeepsConnection(t *testing.T) {
	h := newHarness(t, testConfig())
	var calls atomic.Int32
	h.orch.Sink = func(*core.Session, []byte) {
		calls.Add(1)
		panic("sink exploded")
	}

	ws, _, err := h.dial(t, "callSid=CA1", nil)
	require.NoError(t, err)
	sess := h.session(t, "CA1")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"start","stream_sid":"S1"}`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"media","media":{"payload":"AAE="}}`)))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)

	assert.Equal(t, core.Streaming, sess.State())
	assert.True(t, sess.Conn().IsOpen())
	sent, err := h.orch.Play("CA1", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	_, _, err = ws.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop"}`)))
	require.Eventually(t, func() bool { return h.orch.Registry.Len() == 0 }, waitFor, tick)

	_ = ws.SetReadDeadline(time.Now().Add(waitFor))
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.False(t, sess.Conn().IsOpen())
}

package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/clash/internal/domain"
	"github.com/joss/clash/internal/metrics"
	"github.com/joss/clash/internal/orchestrator"
	"github.com/joss/clash/internal/protocol"
)

type fakeCommander struct {
	mu      sync.Mutex
	handled []protocol.MessageType
	errs    map[protocol.MessageType]error
	status  protocol.StatusPayload
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{
		errs:   map[protocol.MessageType]error{},
		status: protocol.StatusPayload{Status: domain.StatusIdle, Transcript: []domain.Turn{}},
	}
}

func (f *fakeCommander) Handle(ctx context.Context, env *protocol.Envelope) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handled = append(f.handled, env.Type)
	if err := f.errs[env.Type]; err != nil {
		return nil, err
	}
	if env.Type == protocol.MsgGetStatus {
		s := f.status
		return &s, nil
	}
	return nil, nil
}

func (f *fakeCommander) Status(ctx context.Context) (protocol.StatusPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeCommander) types() []protocol.MessageType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.MessageType(nil), f.handled...)
}

func TestHubSingleObserver(t *testing.T) {
	h := NewHub()
	h.Emit(protocol.NewEnvelope(protocol.MsgDebateError, nil))
	assert.False(t, h.Attached())

	first := h.Attach()
	h.Emit(protocol.NewEnvelope(protocol.MsgDebateUpdate, nil))
	got := <-first.Events()
	assert.Equal(t, protocol.MsgDebateUpdate, got.Type)

	second := h.Attach()
	select {
	case <-first.Done():
	default:
		t.Fatal("replaced observer not closed")
	}

	h.Detach(first)
	assert.True(t, h.Attached(), "stale detach must not drop the current observer")

	h.Emit(protocol.NewEnvelope(protocol.MsgDebateComplete, nil))
	got = <-second.Events()
	assert.Equal(t, protocol.MsgDebateComplete, got.Type)
	assert.Empty(t, first.Events())

	h.Detach(second)
	assert.False(t, h.Attached())
}

func TestHubNeverBlocks(t *testing.T) {
	h := NewHub()
	s := h.Attach()
	for i := 0; i < queueSize+10; i++ {
		h.Emit(protocol.NewEnvelope(protocol.MsgDebateUpdate, nil))
	}
	assert.Len(t, s.Events(), queueSize)
}

func newTestServer(t *testing.T, cmd Commander, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(cmd, hub, ServerOptions{Heartbeat: time.Hour}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postCommand(t *testing.T, url string, body string) (*http.Response, protocol.CommandReply) {
	t.Helper()
	resp, err := http.Post(url+"/api/commands", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var reply protocol.CommandReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	return resp, reply
}

func TestCommandRoute(t *testing.T) {
	cmd := newFakeCommander()
	cmd.errs[protocol.MsgContinueDebate] = orchestrator.ErrCannotResume
	srv := newTestServer(t, cmd, NewHub())

	resp, reply := postCommand(t, srv.URL, `{"type":"START_DEBATE","payload":{"topic":"tabs vs spaces"}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, reply.Success)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, reply = postCommand(t, srv.URL, `{"type":"CONTINUE_DEBATE"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, reply.Success)
	assert.Equal(t, orchestrator.ErrCannotResume.Error(), reply.Error)

	resp, reply = postCommand(t, srv.URL, `{"type":"DEBATE_UPDATE"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, reply.Error, "not a command")

	resp, _ = postCommand(t, srv.URL, `{"type":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, []protocol.MessageType{protocol.MsgStartDebate, protocol.MsgContinueDebate}, cmd.types())
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv := newTestServer(t, newFakeCommander(), NewHub())

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "abc123", resp.Header.Get("X-Request-ID"))
}

func TestStatusRoute(t *testing.T) {
	cmd := newFakeCommander()
	cmd.status = protocol.StatusPayload{
		Status:       domain.StatusDebating,
		CurrentRound: 2,
		Transcript:   []domain.Turn{{Round: 1, Side: domain.Left, SpeakerID: "chatgpt", Text: "hi"}},
	}
	srv := newTestServer(t, cmd, NewHub())

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap protocol.StatusPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, domain.StatusDebating, snap.Status)
	assert.Equal(t, 2, snap.CurrentRound)
	assert.Len(t, snap.Transcript, 1)
}

type sseEvent struct {
	name string
	env  protocol.Envelope
}

func readEvent(t *testing.T, r *bufio.Reader) (sseEvent, error) {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return ev, err
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name == "" || ev.name == "heartbeat" {
				ev = sseEvent{}
				continue
			}
			return ev, nil
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && ev.name != "heartbeat":
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev.env))
		}
	}
}

func TestEventsStream(t *testing.T) {
	hub := NewHub()
	srv := newTestServer(t, newFakeCommander(), hub)

	resp, err := http.Get(srv.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	first := bufio.NewReader(resp.Body)

	ev, err := readEvent(t, first)
	require.NoError(t, err)
	assert.Equal(t, "STATUS", ev.name)
	assert.Equal(t, protocol.MsgStatus, ev.env.Type)

	hub.Emit(protocol.NewEnvelope(protocol.MsgDebateUpdate, &protocol.UpdatePayload{Round: 1, Phase: protocol.PhaseLeftThinking}))
	ev, err = readEvent(t, first)
	require.NoError(t, err)
	assert.Equal(t, "DEBATE_UPDATE", ev.name)
	p, err := protocol.As[protocol.UpdatePayload](&ev.env)
	require.NoError(t, err)
	assert.Equal(t, protocol.PhaseLeftThinking, p.Phase)

	resp2, err := http.Get(srv.URL + "/api/events")
	require.NoError(t, err)
	defer resp2.Body.Close()
	second := bufio.NewReader(resp2.Body)
	ev, err = readEvent(t, second)
	require.NoError(t, err)
	assert.Equal(t, "STATUS", ev.name)

	_, err = readEvent(t, first)
	assert.ErrorIs(t, err, io.EOF, "replaced observer stream ends")

	hub.Emit(protocol.NewEnvelope(protocol.MsgDebateError, &protocol.ErrorPayload{Error: "x"}))
	ev, err = readEvent(t, second)
	require.NoError(t, err)
	assert.Equal(t, "DEBATE_ERROR", ev.name)
}

func TestArenaPage(t *testing.T) {
	srv := newTestServer(t, newFakeCommander(), NewHub())

	resp, err := http.Get(srv.URL + "/arena?left=grok&right=claude")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `src="https://grok.com/"`)
	assert.Contains(t, string(body), `src="https://claude.ai/new"`)
	assert.Less(t, strings.Index(string(body), "grok.com"), strings.Index(string(body), "claude.ai"))

	resp, err = http.Get(srv.URL + "/arena")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "chatgpt.com")

	resp, err = http.Get(srv.URL + "/arena?left=bard")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsAndHealth(t *testing.T) {
	m := metrics.New()
	m.SessionStarted()
	srv := httptest.NewServer(NewServer(newFakeCommander(), NewHub(), ServerOptions{Metrics: m}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "clash_sessions_started_total 1")

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusCode(nil))
	assert.Equal(t, http.StatusBadRequest, StatusCode(orchestrator.ErrInvalidParams))
	assert.Equal(t, http.StatusConflict, StatusCode(orchestrator.ErrNotRunning))
	assert.Equal(t, http.StatusConflict, StatusCode(orchestrator.ErrActive))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(orchestrator.ErrClosed))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(io.ErrUnexpectedEOF))
}

func TestServeStdio(t *testing.T) {
	cmd := newFakeCommander()
	cmd.errs[protocol.MsgStopDebate] = orchestrator.ErrNotRunning
	hub := NewHub()

	in := strings.Join([]string{
		`{"type":"GET_STATUS","id":"c1"}`,
		`{"type":"STOP_DEBATE","id":"c2"}`,
		`{"type":"IS_READY","id":"c3"}`,
		`not json`,
		`{"type":"RESET","id":"c4"}`,
	}, "\n") + "\n"
	var out bytes.Buffer

	require.NoError(t, ServeStdio(context.Background(), cmd, hub, strings.NewReader(in), &out))
	assert.False(t, hub.Attached())

	dec := protocol.NewDecoder(&out)
	var envs []*protocol.Envelope
	for {
		env, err := dec.Decode()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		envs = append(envs, env)
	}
	require.Len(t, envs, 6)
	assert.Equal(t, protocol.MsgStatus, envs[0].Type)

	replies := map[string]*protocol.CommandReply{}
	for _, env := range envs[1:] {
		require.Equal(t, protocol.MsgCommandReply, env.Type)
		r, err := protocol.As[protocol.CommandReply](env)
		require.NoError(t, err)
		replies[env.ID] = r
	}
	assert.True(t, replies["c1"].Success)
	assert.NotNil(t, replies["c1"].Payload)
	assert.False(t, replies["c2"].Success)
	assert.Equal(t, orchestrator.ErrNotRunning.Error(), replies["c2"].Error)
	assert.False(t, replies["c3"].Success)
	assert.True(t, replies["c4"].Success)

	assert.Equal(t, []protocol.MessageType{protocol.MsgGetStatus, protocol.MsgStopDebate, protocol.MsgReset}, cmd.types())
}

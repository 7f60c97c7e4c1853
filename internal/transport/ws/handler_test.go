package ws_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipsync/server/internal/registry"
	"github.com/clipsync/server/internal/transport/ws"
	"github.com/clipsync/server/internal/wsrouter"
)

type fakeDispatcher struct {
	mu          sync.Mutex
	disconnects []string
}

func (f *fakeDispatcher) HandleDisconnect(ctx context.Context, clientID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, clientID)
}

func (f *fakeDispatcher) disconnected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnects...)
}

type fixture struct {
	server     *httptest.Server
	dispatcher *fakeDispatcher
	reg        *registry.Local
}

func newFixture(t *testing.T, configureRouter func(r *wsrouter.Router)) *fixture {
	t.Helper()
	router := wsrouter.New()
	if configureRouter != nil {
		configureRouter(router)
	}
	dispatcher := &fakeDispatcher{}
	reg := registry.New()
	handler := ws.NewHandler(router, dispatcher, reg, slog.Default())

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &fixture{server: server, dispatcher: dispatcher, reg: reg}
}

func (f *fixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func dial(t *testing.T, f *fixture) *gorillaws.Conn {
	t.Helper()
	conn, _, err := gorillaws.DefaultDialer.Dial(f.wsURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *gorillaws.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func TestServeHTTP_SendsReadyFrameOnConnect(t *testing.T) {
	f := newFixture(t, nil)
	conn := dial(t, f)

	frame := readFrame(t, conn)

	assert.Equal(t, "ready", frame["type"])
	assert.NotEmpty(t, frame["clientId"])
}

func TestServeHTTP_DispatchesRegisteredFrameType(t *testing.T) {
	got := make(chan string, 1)
	f := newFixture(t, func(r *wsrouter.Router) {
		r.Handle("ping", func(ctx context.Context, conn wsrouter.Conn, env wsrouter.Envelope) error {
			got <- wsrouter.ClientIDFromCtx(ctx)
			return nil
		})
	})
	conn := dial(t, f)
	readFrame(t, conn) // ready

	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte(`{"type":"ping"}`)))

	select {
	case clientID := <-got:
		assert.NotEmpty(t, clientID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestServeHTTP_UnknownTypeSendsInvalidMessageFrame(t *testing.T) {
	f := newFixture(t, nil)
	conn := dial(t, f)
	readFrame(t, conn) // ready

	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte(`{"type":"bogus"}`)))

	frame := readFrame(t, conn)
	assert.Equal(t, "errorWithCode", frame["type"])
	assert.Equal(t, "invalidMessage", frame["code"])
}

func TestServeHTTP_MalformedJSONSendsInvalidMessageFrame(t *testing.T) {
	f := newFixture(t, nil)
	conn := dial(t, f)
	readFrame(t, conn) // ready

	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte(`not json`)))

	frame := readFrame(t, conn)
	assert.Equal(t, "errorWithCode", frame["type"])
	assert.Equal(t, "invalidMessage", frame["code"])
}

func TestServeHTTP_DisconnectNotifiesDispatcherAndDropsRegistration(t *testing.T) {
	f := newFixture(t, nil)
	conn := dial(t, f)
	ready := readFrame(t, conn)
	clientID := ready["clientId"].(string)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return len(f.dispatcher.disconnected()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{clientID}, f.dispatcher.disconnected())

	require.Eventually(t, func() bool {
		_, ok := f.reg.GetConnection(clientID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

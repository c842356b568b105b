package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

// bridgeServer runs script against each accepted WebSocket connection.
func bridgeServer(t *testing.T, script func(ctx context.Context, ws *websocket.Conn)) *WebSocketClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept failed: %v", err)
			return
		}
		defer ws.CloseNow()
		script(r.Context(), ws)
	}))
	t.Cleanup(srv.Close)
	return NewWebSocketClient("ws" + strings.TrimPrefix(srv.URL, "http"))
}

func readBridgeFrame(ctx context.Context, t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	_, data, err := ws.Read(ctx)
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func writeBridgeFrame(ctx context.Context, t *testing.T, ws *websocket.Conn, f frame) {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	require.NoError(t, ws.Write(ctx, websocket.MessageText, data))
}

func nextEvent(t *testing.T, conn Conn) Event {
	t.Helper()
	select {
	case ev, ok := <-conn.Events():
		require.True(t, ok, "event stream closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestOpenDeliversEventsInOrder(t *testing.T) {
	client := bridgeServer(t, func(ctx context.Context, ws *websocket.Conn) {
		open := readBridgeFrame(ctx, t, ws)
		require.Equal(t, "open", open.Type)
		require.Empty(t, open.State)

		writeBridgeFrame(ctx, t, ws, frame{Type: "credential", Token: "scan-token"})
		writeBridgeFrame(ctx, t, ws, frame{Type: "opened"})
		<-ctx.Done()
	})

	conn, err := client.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer conn.Close()

	ev := nextEvent(t, conn)
	require.Equal(t, EventCredential, ev.Kind)
	require.Equal(t, "scan-token", ev.Token)

	require.Equal(t, EventOpened, nextEvent(t, conn).Kind)
}

func TestOpenReplaysPersistedState(t *testing.T) {
	stateSeen := make(chan json.RawMessage, 1)
	client := bridgeServer(t, func(ctx context.Context, ws *websocket.Conn) {
		open := readBridgeFrame(ctx, t, ws)
		stateSeen <- open.State
		<-ctx.Done()
	})

	storage := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(storage, stateFile), []byte(`{"key":"material"}`), 0o600))

	conn, err := client.Open(context.Background(), storage)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case state := <-stateSeen:
		require.JSONEq(t, `{"key":"material"}`, string(state))
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never received the open frame")
	}
}

func TestRequestCredentialRoundTrip(t *testing.T) {
	client := bridgeServer(t, func(ctx context.Context, ws *websocket.Conn) {
		readBridgeFrame(ctx, t, ws) // open

		req := readBridgeFrame(ctx, t, ws)
		require.Equal(t, "request_code", req.Type)
		require.Equal(t, "447911123456", req.Target)
		writeBridgeFrame(ctx, t, ws, frame{Type: "code", Code: "ABCD-1234"})
		<-ctx.Done()
	})

	conn, err := client.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer conn.Close()

	code, err := conn.RequestCredential(context.Background(), "447911123456")
	require.NoError(t, err)
	require.Equal(t, "ABCD-1234", code)
}

func TestStateFramePersisted(t *testing.T) {
	client := bridgeServer(t, func(ctx context.Context, ws *websocket.Conn) {
		readBridgeFrame(ctx, t, ws)
		writeBridgeFrame(ctx, t, ws, frame{Type: "state", State: json.RawMessage(`{"session":"keys"}`)})
		<-ctx.Done()
	})

	storage := t.TempDir()
	conn, err := client.Open(context.Background(), storage)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(storage, stateFile))
		return err == nil && string(data) == `{"session":"keys"}`
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTerminalCloseEndsStream(t *testing.T) {
	client := bridgeServer(t, func(ctx context.Context, ws *websocket.Conn) {
		readBridgeFrame(ctx, t, ws)
		writeBridgeFrame(ctx, t, ws, frame{Type: "closed", Reason: ReasonAlreadyRegistered, Terminal: true})
		<-ctx.Done()
	})

	conn, err := client.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer conn.Close()

	ev := nextEvent(t, conn)
	require.Equal(t, EventClosed, ev.Kind)
	require.Equal(t, ReasonAlreadyRegistered, ev.Reason)
	require.True(t, ev.Terminal)

	select {
	case _, ok := <-conn.Events():
		require.False(t, ok, "stream should end after a close frame")
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after a close frame")
	}
}

func TestCloseIdempotent(t *testing.T) {
	client := bridgeServer(t, func(ctx context.Context, ws *websocket.Conn) {
		readBridgeFrame(ctx, t, ws)
		<-ctx.Done()
	})

	conn, err := client.Open(context.Background(), t.TempDir())
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	if _, err := conn.RequestCredential(context.Background(), "447911123456"); err == nil {
		t.Fatal("expected error requesting a code on a closed connection")
	}
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/websocket"
)

// stateFile is the credential material file maintained inside the session's
// ephemeral storage. Its contents are opaque to the rest of the service.
const stateFile = "credentials.json"

const eventBuffer = 16

// frame is the JSON wire format spoken with the gateway bridge endpoint.
type frame struct {
	Type     string          `json:"type"`
	Token    string          `json:"token,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Terminal bool            `json:"terminal,omitempty"`
	Target   string          `json:"target,omitempty"`
	Payload  string          `json:"payload,omitempty"`
	Code     string          `json:"code,omitempty"`
	State    json.RawMessage `json:"state,omitempty"`
}

// WebSocketClient opens gateway connections over a WebSocket bridge.
type WebSocketClient struct {
	url string
}

// NewWebSocketClient creates a client dialing the given bridge URL.
func NewWebSocketClient(url string) *WebSocketClient {
	return &WebSocketClient{url: url}
}

// Open dials the bridge, replays any credential state persisted in storage,
// and starts the event reader.
func (c *WebSocketClient) Open(ctx context.Context, storage string) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway %s: %w", c.url, err)
	}

	// Previously persisted credential state, if any. Absent on the first
	// attempt of a session.
	var state json.RawMessage
	if data, err := os.ReadFile(filepath.Join(storage, stateFile)); err == nil {
		state = data
	}

	conn := &wsConn{
		ws:      ws,
		storage: storage,
		events:  make(chan Event, eventBuffer),
		codeCh:  make(chan string, 1),
		closed:  make(chan struct{}),
	}

	if err := conn.writeFrame(ctx, frame{Type: "open", State: state}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open gateway connection: %w", err)
	}

	go conn.readLoop()
	return conn, nil
}

// wsConn adapts one WebSocket to the Conn interface. A single reader
// goroutine decodes frames and forwards events, which preserves per-session
// arrival order.
type wsConn struct {
	ws      *websocket.Conn
	storage string
	events  chan Event
	codeCh  chan string
	closed  chan struct{}

	closeOnce sync.Once
	writeMu   sync.Mutex
}

// Events returns the connection event stream.
func (c *wsConn) Events() <-chan Event {
	return c.events
}

func (c *wsConn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.ws.Read(context.Background())
		if err != nil {
			select {
			case <-c.closed:
				// Closed locally; no synthetic event.
			default:
				// An abrupt drop is a non-terminal close as far as the
				// pairing workflow is concerned.
				if websocket.CloseStatus(err) != -1 {
					slog.Debug("Gateway connection closed by peer", "error", err)
				} else {
					slog.Warn("Gateway read error", "error", err)
				}
				c.emit(Event{Kind: EventClosed, Reason: "connection reset"})
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("Gateway sent undecodable frame", "error", err)
			continue
		}

		switch f.Type {
		case "credential":
			c.emit(Event{Kind: EventCredential, Token: f.Token})
		case "opened":
			c.emit(Event{Kind: EventOpened})
		case "closed":
			c.emit(Event{Kind: EventClosed, Reason: f.Reason, Terminal: f.Terminal})
			return
		case "code":
			select {
			case c.codeCh <- f.Code:
			default:
				slog.Warn("Dropping pairing code with no outstanding request")
			}
		case "state":
			// The gateway owns the format; we only persist the bytes.
			if err := os.WriteFile(filepath.Join(c.storage, stateFile), f.State, 0o600); err != nil {
				slog.Warn("Failed to persist gateway credential state", "error", err)
			}
		default:
			slog.Debug("Ignoring unknown gateway frame", "type", f.Type)
		}
	}
}

// emit forwards an event unless the connection was closed locally.
func (c *wsConn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

// RequestCredential asks the gateway for a pairing code for target.
func (c *wsConn) RequestCredential(ctx context.Context, target string) (string, error) {
	if err := c.writeFrame(ctx, frame{Type: "request_code", Target: target}); err != nil {
		return "", fmt.Errorf("request pairing code: %w", err)
	}

	select {
	case code := <-c.codeCh:
		return code, nil
	case <-c.closed:
		return "", ErrConnClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Send delivers a message payload to target through the gateway.
func (c *wsConn) Send(ctx context.Context, target, payload string) error {
	if err := c.writeFrame(ctx, frame{Type: "send", Target: target, Payload: payload}); err != nil {
		return fmt.Errorf("send to %s: %w", target, err)
	}
	return nil
}

func (c *wsConn) writeFrame(ctx context.Context, f frame) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Close releases the connection. Safe to call more than once.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close(websocket.StatusNormalClosure, "pairing ended")
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Debug("Gateway close returned error", "error", err)
			err = nil
		}
	})
	return err
}

package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/germanamz/hearth/pkg/channel"
	"github.com/germanamz/hearth/pkg/entity"
)

// ErrAuthInvalid is returned by DialSocket when Home Assistant rejects the
// access token.
var ErrAuthInvalid = errors.New("hass: websocket auth rejected")

// wsMessage is the envelope of every websocket API frame, client and server
// side. Unused fields stay zero and are omitted on the wire.
type wsMessage struct {
	ID          int64           `json:"id,omitempty"`
	Type        string          `json:"type"`
	Success     *bool           `json:"success,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Event       *wsEvent        `json:"event,omitempty"`
	Message     string          `json:"message,omitempty"`
	AccessToken string          `json:"access_token,omitempty"`
	EventType   string          `json:"event_type,omitempty"`
}

type wsEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string         `json:"entity_id"`
		NewState *entity.Entity `json:"new_state"`
	} `json:"data"`
}

// Socket is one live websocket API session. It satisfies channel.Channel:
// after the handshake it emits one full-state batch, then a single-entity
// batch per state_changed event, each element carrying the entity's full
// state object.
type Socket struct {
	conn *websocket.Conn
	log  *slog.Logger

	batches     chan channel.Batch
	disconnects chan error
	cancel      context.CancelFunc
	closeOnce   sync.Once
	termOnce    sync.Once
}

// DialSocket connects to the websocket API, authenticates, subscribes to
// state_changed events, and requests the initial full state set. The
// returned Socket is live until the connection drops or Close is called.
func (c *Client) DialSocket(ctx context.Context, log *slog.Logger) (*Socket, error) {
	if log == nil {
		log = slog.Default()
	}

	conn, _, err := websocket.Dial(ctx, c.wsURL(), &websocket.DialOptions{
		HTTPClient: c.httpClient(),
	})
	if err != nil {
		return nil, fmt.Errorf("hass: dial websocket: %w", err)
	}

	if err := authenticate(ctx, conn, c.Token); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "auth failed")
		return nil, err
	}

	if err := writeMessage(ctx, conn, wsMessage{ID: 1, Type: "subscribe_events", EventType: "state_changed"}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return nil, fmt.Errorf("hass: subscribe events: %w", err)
	}

	if err := writeMessage(ctx, conn, wsMessage{ID: 2, Type: "get_states"}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "get_states failed")
		return nil, fmt.Errorf("hass: request states: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())

	s := &Socket{
		conn:        conn,
		log:         log,
		batches:     make(chan channel.Batch, 16),
		disconnects: make(chan error, 1),
		cancel:      cancel,
	}

	go s.readLoop(readCtx)

	return s, nil
}

// authenticate runs the auth_required / auth / auth_ok exchange.
func authenticate(ctx context.Context, conn *websocket.Conn, token string) error {
	var hello wsMessage
	if err := readMessage(ctx, conn, &hello); err != nil {
		return fmt.Errorf("hass: read auth_required: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("hass: unexpected handshake message %q", hello.Type)
	}

	if err := writeMessage(ctx, conn, wsMessage{Type: "auth", AccessToken: token}); err != nil {
		return fmt.Errorf("hass: send auth: %w", err)
	}

	var reply wsMessage
	if err := readMessage(ctx, conn, &reply); err != nil {
		return fmt.Errorf("hass: read auth reply: %w", err)
	}

	switch reply.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return fmt.Errorf("%w: %s", ErrAuthInvalid, reply.Message)
	default:
		return fmt.Errorf("hass: unexpected auth reply %q", reply.Type)
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return conn.Write(ctx, websocket.MessageText, data)
}

func readMessage(ctx context.Context, conn *websocket.Conn, dest *wsMessage) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, dest)
}

// Batches implements channel.Channel.
func (s *Socket) Batches() <-chan channel.Batch { return s.batches }

// Disconnects implements channel.Channel.
func (s *Socket) Disconnects() <-chan error { return s.disconnects }

// Close tears the session down. Idempotent.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "closing")
	})

	return nil
}

// readLoop decodes frames until the connection dies, forwarding state
// batches. A frame that fails to decode is logged and skipped; only a read
// error ends the session.
func (s *Socket) readLoop(ctx context.Context) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			s.terminate(err)
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("hass: skipping undecodable frame", "error", err)
			continue
		}

		switch msg.Type {
		case "result":
			s.handleResult(msg)
		case "event":
			s.handleEvent(msg)
		}
	}
}

// handleResult forwards the get_states result as one full-state batch.
func (s *Socket) handleResult(msg wsMessage) {
	if msg.Success != nil && !*msg.Success {
		s.log.Warn("hass: command failed", "id", msg.ID, "message", msg.Message)
		return
	}

	if len(msg.Result) == 0 || msg.Result[0] != '[' {
		return
	}

	var states []entity.Entity
	if err := json.Unmarshal(msg.Result, &states); err != nil {
		s.log.Warn("hass: skipping undecodable state list", "error", err)
		return
	}

	s.batches <- channel.Batch(states)
}

// handleEvent forwards one state_changed event as a single-entity batch.
// An event with no new state (entity removed) is dropped.
func (s *Socket) handleEvent(msg wsMessage) {
	if msg.Event == nil || msg.Event.EventType != "state_changed" {
		return
	}

	st := msg.Event.Data.NewState
	if st == nil {
		return
	}

	s.batches <- channel.Batch{*st}
}

// terminate reports the terminal error and closes both stream channels.
func (s *Socket) terminate(err error) {
	s.termOnce.Do(func() {
		select {
		case s.disconnects <- err:
		default:
		}

		close(s.disconnects)
		close(s.batches)
	})
}

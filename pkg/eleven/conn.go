package eleven

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrConnClosed is returned by sends attempted after the connection closed.
// Callers treat it as a dropped send, not a fatal condition.
var ErrConnClosed = errors.New("eleven: connection closed")

// ConnConfig configures one live agent connection.
type ConnConfig struct {
	// SignedURL is the pre-authorized websocket URL for one conversation.
	// When set, APIKey/AgentID are not needed for the dial.
	SignedURL string

	// Direct dial fallback when no signed URL was issued.
	APIKey    string
	AgentID   string
	BaseWSURL string
}

const defaultWSBase = "wss://api.elevenlabs.io/v1/convai/conversation"

// Conn is one live duplex connection to the conversational agent. Reads are
// decoded on a background loop and surfaced through Events; writes are
// serialized behind a mutex.
type Conn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once

	errMu   sync.Mutex
	lastErr error
}

// Dial opens the agent websocket.
func Dial(ctx context.Context, cfg ConnConfig) (*Conn, error) {
	wsURL := strings.TrimSpace(cfg.SignedURL)
	header := http.Header{}
	if wsURL == "" {
		if strings.TrimSpace(cfg.AgentID) == "" {
			return nil, fmt.Errorf("eleven: agent id or signed url is required")
		}
		base := strings.TrimSpace(cfg.BaseWSURL)
		if base == "" {
			base = defaultWSBase
		}
		wsURL = fmt.Sprintf("%s?agent_id=%s", base, cfg.AgentID)
		if strings.TrimSpace(cfg.APIKey) != "" {
			header.Set("xi-api-key", strings.TrimSpace(cfg.APIKey))
		}
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("eleven: dial: %w", err)
	}
	c := &Conn{
		conn:   ws,
		events: make(chan Event, 256),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events yields decoded inbound messages. The channel closes when the
// connection terminates for any reason; Err reports why.
func (c *Conn) Events() <-chan Event {
	if c == nil {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	return c.events
}

// Err returns the terminal read error, if any.
func (c *Conn) Err() error {
	if c == nil {
		return nil
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// SendInit sends the one-shot session configuration.
func (c *Conn) SendInit(cfg InitConfig) error {
	data, err := EncodeInit(cfg)
	if err != nil {
		return err
	}
	return c.write(data)
}

// SendAudio forwards one base64 audio payload from the caller.
func (c *Conn) SendAudio(payloadB64 string) error {
	data, err := encodeUserAudio(payloadB64)
	if err != nil {
		return err
	}
	return c.write(data)
}

// SendInstruction delivers a free-text directive into the live session.
func (c *Conn) SendInstruction(text string) error {
	data, err := EncodeInstruction(text)
	if err != nil {
		return err
	}
	return c.write(data)
}

// Pong echoes a ping's event id.
func (c *Conn) Pong(eventID int64) error {
	data, err := EncodePong(eventID)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Conn) write(data []byte) error {
	if c == nil {
		return ErrConnClosed
	}
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("eleven: write: %w", err)
	}
	return nil
}

// Close tears the connection down. Safe to call repeatedly.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return
			}
			c.setErr(err)
			return
		}
		ev, err := Decode(data)
		if err != nil {
			// Malformed vendor chatter is dropped, never fatal.
			continue
		}
		select {
		case c.events <- ev:
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.lastErr == nil {
		c.lastErr = err
	}
}

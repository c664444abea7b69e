package twilio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrConnClosed is returned by sends attempted after the stream closed.
// Callers treat it as a dropped send, not a fatal condition.
var ErrConnClosed = errors.New("twilio: stream closed")

// StreamConn wraps one upgraded media-stream websocket. Reads are decoded
// on a background loop and surfaced through Frames; writes are serialized
// behind a mutex.
type StreamConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	frames    chan InboundFrame
	closed    chan struct{}
	closeOnce sync.Once

	errMu   sync.Mutex
	lastErr error
}

// NewStreamConn adopts an already-upgraded websocket and starts its read
// loop.
func NewStreamConn(ws *websocket.Conn) *StreamConn {
	c := &StreamConn{
		conn:   ws,
		frames: make(chan InboundFrame, 256),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Frames yields decoded inbound frames. The channel closes when the stream
// terminates for any reason; Err reports why.
func (c *StreamConn) Frames() <-chan InboundFrame {
	if c == nil {
		ch := make(chan InboundFrame)
		close(ch)
		return ch
	}
	return c.frames
}

// Err returns the terminal read error, if any.
func (c *StreamConn) Err() error {
	if c == nil {
		return nil
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// SendMedia queues base64 audio for playback on the call.
func (c *StreamConn) SendMedia(streamSid, payloadB64 string) error {
	data, err := EncodeMedia(streamSid, payloadB64)
	if err != nil {
		return err
	}
	return c.write(data)
}

// SendClear flushes the vendor's buffered playback audio.
func (c *StreamConn) SendClear(streamSid string) error {
	data, err := EncodeClear(streamSid)
	if err != nil {
		return err
	}
	return c.write(data)
}

// SendMark asks the vendor to echo a mark once playback reaches it.
func (c *StreamConn) SendMark(streamSid, name string) error {
	data, err := EncodeMark(streamSid, name)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *StreamConn) write(data []byte) error {
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
		return fmt.Errorf("twilio: write: %w", err)
	}
	return nil
}

// Close tears the stream down. Safe to call repeatedly.
func (c *StreamConn) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
	return nil
}

func (c *StreamConn) readLoop() {
	defer close(c.frames)
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
		frame, err := DecodeInbound(data)
		if err != nil {
			// Malformed vendor chatter is dropped, never fatal.
			continue
		}
		select {
		case c.frames <- frame:
		case <-c.closed:
			return
		}
	}
}

func (c *StreamConn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.lastErr == nil {
		c.lastErr = err
	}
}

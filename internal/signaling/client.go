package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/peerlink/internal/util"
)

var (
	// ErrConnection is returned by Connect when the relay is unreachable or
	// the WebSocket handshake fails.
	ErrConnection = errors.New("relay connection failed")
	// ErrSend is returned by Send when the envelope could not be written.
	// Nothing is buffered on failure.
	ErrSend = errors.New("relay send failed")
)

// writeTimeout bounds a single frame write when the caller's context has no
// deadline of its own.
const writeTimeout = 10 * time.Second

// Client holds one persistent connection to a signaling relay.
//
// A Client never reconnects by itself. When the connection drops, Done is
// closed and Err reports why; the caller decides whether to Connect again.
type Client struct {
	conn *websocket.Conn
	log  util.Logger

	writeMu sync.Mutex // serializes frame writes
	closed  bool       // guarded by writeMu

	handlerOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Connect dials the relay at address (a ws:// or wss:// URL) and returns the
// connection.
func Connect(ctx context.Context, address string) (*Client, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, address, err)
	}
	return newClient(conn), nil
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		log:  util.NewLogger("relay"),
		done: make(chan struct{}),
	}
}

// Send serializes env and writes it as one text frame. It fails with ErrSend
// if the connection is not open, if ctx is done, or if the write fails. A
// failed write leaves the connection unusable, so it also ends the
// connection: Done is closed and Err reports the cause.
func (c *Client) Send(ctx context.Context, env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}

	if err := c.write(ctx, data); err != nil {
		var we *writeError
		if errors.As(err, &we) {
			c.shutdown(we.err)
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			} else {
				err = we.err
			}
		}
		return fmt.Errorf("%w: %w", ErrSend, err)
	}

	util.Stats.AddSent()
	c.log.Debug("sent %s envelope", env.Kind())
	return nil
}

// writeError marks a failure of the frame write itself, as opposed to a
// refusal to start one.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }

func (c *Client) write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return errors.New("connection is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)

	// Unblock the write if ctx is cancelled mid-frame.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &writeError{err: err}
	}
	return nil
}

// OnMessage registers the single consumer of inbound envelopes and starts the
// read loop. Envelopes are delivered one at a time in arrival order; malformed
// frames are logged and dropped. Only the first registration takes effect.
func (c *Client) OnMessage(fn func(Envelope)) {
	c.handlerOnce.Do(func() {
		go c.readLoop(fn)
	})
}

func (c *Client) readLoop(fn func(Envelope)) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		if msgType != websocket.TextMessage {
			util.Stats.AddDropped()
			c.log.Warn("dropping non-text frame (type %d)", msgType)
			continue
		}

		env, err := Decode(data)
		if err != nil {
			util.Stats.AddDropped()
			c.log.Warn("dropping frame: %v", err)
			continue
		}

		util.Stats.AddRecv()
		fn(env)
	}
}

// Done returns a channel that is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, or nil while it is open or
// after a local Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close sends a close frame and tears the connection down. It is safe to
// call more than once.
func (c *Client) Close() error {
	c.writeMu.Lock()
	if !c.closed {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}
	c.writeMu.Unlock()

	c.shutdown(nil)
	return nil
}

func (c *Client) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		c.writeMu.Unlock()

		if reason != nil && !websocket.IsCloseError(reason, websocket.CloseNormalClosure) {
			c.errMu.Lock()
			c.err = fmt.Errorf("%w: %v", ErrConnection, reason)
			c.errMu.Unlock()
			c.log.Warn("relay connection lost: %v", reason)
		}

		c.conn.Close()
		close(c.done)
	})
}

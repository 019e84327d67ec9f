// Package stream maintains the WebSocket connection to the external tick
// source. The connection lifecycle is an explicit state machine
// (Disconnected → Connecting → Open → Closing) driven by the Run loop rather
// than nested callbacks; a separate health-check loop nudges the machine when
// it believes the client is down.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"fxcandles/internal/model"

	"github.com/gorilla/websocket"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

const (
	dialTimeout          = 10 * time.Second
	reconnectDelay       = 5 * time.Second
	maxReconnectAttempts = 5
	heartbeatInterval    = 30 * time.Second
	// HealthCheckInterval is how often the external liveness check runs.
	HealthCheckInterval = 30 * time.Second
)

// ErrMaxReconnects is returned by Run when the reconnect ceiling is reached.
var ErrMaxReconnects = errors.New("stream: max reconnect attempts reached")

// TickSink receives every decoded tick.
type TickSink func(ctx context.Context, t model.Tick) error

// Config holds the stream client configuration.
type Config struct {
	URL    string
	APIKey string
	// Pairs to subscribe. Entries without a contract size are skipped.
	Pairs []model.CurrencyPairInfo
}

// Client is the reconnecting stream client.
type Client struct {
	cfg  Config
	sink TickSink

	state int32 // atomic State

	mu       sync.Mutex
	conn     *websocket.Conn
	lastPong time.Time

	// kick is signalled by the health check to cut a reconnect delay short.
	kick chan struct{}

	// Metrics hooks (optional, set externally)
	OnReconnect   func()
	OnDecodeError func()
}

// New creates a stream client feeding decoded ticks into sink.
func New(cfg Config, sink TickSink) *Client {
	return &Client{cfg: cfg, sink: sink, kick: make(chan struct{}, 1)}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Client) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
}

// Run drives the connection state machine. It blocks until ctx is cancelled
// (returns nil) or the reconnect ceiling is exceeded (returns
// ErrMaxReconnects).
func (c *Client) Run(ctx context.Context) error {
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			c.setState(StateClosing)
			return nil
		default:
		}

		c.setState(StateConnecting)
		err := c.runOnce(ctx, func() { attempts = 0 })
		if ctx.Err() != nil {
			c.setState(StateClosing)
			return nil
		}
		c.setState(StateDisconnected)

		attempts++
		if attempts > maxReconnectAttempts {
			log.Printf("[stream] giving up after %d reconnect attempts: %v", maxReconnectAttempts, err)
			return ErrMaxReconnects
		}

		log.Printf("[stream] disconnected (%v), reconnect %d/%d in %s",
			err, attempts, maxReconnectAttempts, reconnectDelay)
		if c.OnReconnect != nil {
			c.OnReconnect()
		}

		select {
		case <-ctx.Done():
			c.setState(StateClosing)
			return nil
		case <-time.After(reconnectDelay):
		case <-c.kick:
			// Health check requested an immediate reconnect.
		}
	}
}

// runOnce dials, subscribes, and reads until the connection closes or errors.
// onOpen is invoked once the connection reaches Open.
func (c *Client) runOnce(ctx context.Context, onOpen func()) error {
	dialer := &websocket.Dialer{HandshakeTimeout: dialTimeout}

	url := c.cfg.URL
	if c.cfg.APIKey != "" {
		url += "?api_key=" + c.cfg.APIKey
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.lastPong = time.Now()
	c.mu.Unlock()
	c.setState(StateOpen)
	onOpen()
	log.Printf("[stream] connected to %s", c.cfg.URL)

	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return nil
	})

	if err := conn.WriteJSON(SubscribeMessage(c.cfg.Pairs)); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	// Connection-scoped context so heartbeat and watcher stop with the read loop.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-connCtx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	go c.heartbeatLoop(connCtx, conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		tick, err := DecodeTick(raw)
		if err != nil {
			// Decode failures drop the message, never the connection.
			log.Printf("[stream] decode error: %v (raw: %.200s)", err, raw)
			if c.OnDecodeError != nil {
				c.OnDecodeError()
			}
			continue
		}

		if err := c.sink(ctx, tick); err != nil {
			log.Printf("[stream] tick sink error for %s: %v", tick.Symbol, err)
		}
	}
}

// heartbeatLoop sends a ping every heartbeatInterval. A failed write closes
// the connection, which surfaces in the read loop.
func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			if err != nil {
				log.Printf("[stream] ping write error: %v", err)
				conn.Close()
				return
			}
		}
	}
}

// StartHealthCheck runs the periodic liveness check: when the client believes
// it is disconnected, it kicks the Run loop into an immediate reconnect.
// Absence of pong acknowledgments alone does not force a reconnect.
func (c *Client) StartHealthCheck(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s := c.State(); s == StateDisconnected {
					log.Printf("[stream] health check: state=%s, forcing reconnect", s)
					select {
					case c.kick <- struct{}{}:
					default:
					}
				}
			}
		}
	}()
}

// LastPong reports when the last pong was received.
func (c *Client) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

package signalk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/mklimuk/sensorpipe"
)

const StreamPath = "/signalk/v1/stream"

const DefaultSourceLabel = "sensorpipe"

// Client publishes readings as delta messages over the Signal K websocket
// stream. It implements sink.Transport. Run keeps the connection up; Publish
// never blocks waiting for a connection.
type Client struct {
	url          string
	label        string
	token        string
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	pingPeriod   time.Duration
	pongWait     time.Duration
	minBackoff   time.Duration
	maxBackoff   time.Duration
	clock        clock.Clock
	log          *slog.Logger

	mx   sync.Mutex
	conn *websocket.Conn
	self string
}

type Option func(*Client)

// WithToken authorizes the stream with a device or user token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

func WithSourceLabel(label string) Option {
	return func(c *Client) {
		c.label = label
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithWriteTimeout bounds a single delta write. Publish holds the client
// lock while writing so the timeout should stay below the shortest sampling
// interval.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.writeTimeout = d
	}
}

// WithKeepalive pings the server every period. The connection is dropped when
// nothing, pongs included, arrives within wait.
func WithKeepalive(period, wait time.Duration) Option {
	return func(c *Client) {
		c.pingPeriod = period
		c.pongWait = wait
	}
}

// WithBackoff bounds the delay between reconnect attempts. The delay doubles
// after every failed attempt and resets once connected.
func WithBackoff(first, limit time.Duration) Option {
	return func(c *Client) {
		c.minBackoff = first
		c.maxBackoff = limit
	}
}

func WithClock(cl clock.Clock) Option {
	return func(c *Client) {
		c.clock = cl
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a client for the server at rawURL. Both the server root
// (http://host:3000) and a full stream URL are accepted.
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	stream, err := StreamURL(rawURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		url:          stream,
		label:        DefaultSourceLabel,
		dialer:       websocket.DefaultDialer,
		writeTimeout: time.Second,
		pingPeriod:   10 * time.Second,
		pongWait:     25 * time.Second,
		minBackoff:   time.Second,
		maxBackoff:   time.Minute,
		clock:        clock.New(),
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.minBackoff <= 0 || c.maxBackoff < c.minBackoff {
		return nil, sensorpipe.ConfigError("signalk: invalid backoff %s..%s", c.minBackoff, c.maxBackoff)
	}
	if c.writeTimeout <= 0 {
		return nil, sensorpipe.ConfigError("signalk: write timeout must be positive, got %s", c.writeTimeout)
	}
	if c.pingPeriod <= 0 || c.pongWait <= c.pingPeriod {
		return nil, sensorpipe.ConfigError("signalk: pong wait %s must exceed ping period %s", c.pongWait, c.pingPeriod)
	}
	return c, nil
}

// StreamURL derives the websocket delta stream URL from a server URL.
// Server messages other than the hello are not needed, hence subscribe=none.
func StreamURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", sensorpipe.ConfigError("signalk: invalid url %q: %v", rawURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", sensorpipe.ConfigError("signalk: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", sensorpipe.ConfigError("signalk: url %q has no host", rawURL)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = StreamPath
	}
	q := u.Query()
	if q.Get("subscribe") == "" {
		q.Set("subscribe", "none")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) URL() string {
	return c.url
}

func (c *Client) Connected() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.conn != nil
}

// Self returns the vessel identity announced by the server, if connected once.
func (c *Client) Self() string {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.self
}

// Publish sends a single-value delta. It fails with ErrNotConnected while the
// stream is down; a write error tears the connection down for Run to redial.
func (c *Client) Publish(ctx context.Context, path string, r sensorpipe.Reading) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.conn == nil {
		return sensorpipe.ErrNotConnected
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	err := c.conn.WriteJSON(NewDelta(c.label, path, r))
	if err != nil {
		c.log.Warn("signalk write failed, dropping connection", "error", err)
		_ = c.conn.Close()
		c.conn = nil
		return fmt.Errorf("signalk: write delta: %w", err)
	}
	return nil
}

// Run connects and reconnects until ctx is cancelled. It returns nil on
// cancellation.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.minBackoff
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			backoff = c.minBackoff
			c.serve(ctx, conn)
		} else if ctx.Err() == nil {
			c.log.Warn("signalk connection failed", "url", c.url, "error", err, "retry", backoff)
		}
		if ctx.Err() != nil {
			return nil
		}
		timer := c.clock.Timer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if err != nil {
			backoff = min(backoff*2, c.maxBackoff)
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("signalk: dial: %w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("signalk: dial: %w", err)
	}
	c.mx.Lock()
	c.conn = conn
	c.mx.Unlock()
	c.log.Info("signalk connected", "url", c.url)
	return conn, nil
}

// serve reads server messages until the connection breaks or ctx is done.
// A silent peer is detected by the read deadline, which only pongs and
// server messages extend.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	extend := func() {
		_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go c.keepalive(ctx, conn, done)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if c.drop(conn) && ctx.Err() == nil {
				c.log.Warn("signalk connection lost", "error", err)
			}
			return
		}
		extend()
		c.handle(msg)
	}
}

// keepalive pings the server until serve returns. It also tears the
// connection down on ctx cancellation to unblock the reader.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := c.clock.Ticker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.drop(conn)
			return
		case <-done:
			return
		case <-ticker.C:
			c.mx.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
			c.mx.Unlock()
			if err != nil {
				c.log.Debug("signalk ping failed", "error", err)
				c.drop(conn)
				return
			}
		}
	}
}

func (c *Client) handle(msg []byte) {
	var hello Hello
	if err := json.Unmarshal(msg, &hello); err != nil {
		c.log.Debug("signalk unparsable message", "error", err)
		return
	}
	if hello.Name == "" && hello.Self == "" {
		return
	}
	c.mx.Lock()
	c.self = hello.Self
	c.mx.Unlock()
	c.log.Debug("signalk hello", "server", hello.Name, "version", hello.Version, "self", hello.Self)
}

// drop closes conn if it is still the active connection.
func (c *Client) drop(conn *websocket.Conn) bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	_ = conn.Close()
	if c.conn != conn {
		return false
	}
	c.conn = nil
	return true
}

// Close drops the active connection; Run redials unless its ctx is done.
func (c *Client) Close() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

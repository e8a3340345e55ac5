package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"digitbot-go/internal/util"
)

const (
	// DefaultEndpoint is the public broker WebSocket endpoint.
	DefaultEndpoint = "wss://ws.derivws.com/websockets/v3"
	// DefaultAppID is the broker's demo application id.
	DefaultAppID = "1089"

	defaultRequestTimeout = 15 * time.Second
	streamBuffer          = 256
	readLimit             = 1 << 20
	pongWait              = 30 * time.Second
	pingPeriod            = 15 * time.Second
	writeWait             = 5 * time.Second
)

// Client is one WebSocket session with the broker. Requests are correlated by req_id; a subscribe
// request keeps its req_id for the life of the stream.
type Client struct {
	endpoint       string
	token          string
	log            zerolog.Logger
	dialer         websocket.Dialer
	requestTimeout time.Duration

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan Envelope
	streams map[int64]*Stream
	account Account
	done    chan struct{}
	readErr error
	closed  bool
}

// ClientOption configures Client construction parameters.
type ClientOption func(*Client)

// WithRequestTimeout bounds how long a request waits for its response.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithHandshakeTimeout bounds the WebSocket dial.
func WithHandshakeTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.dialer.HandshakeTimeout = d
		}
	}
}

// Endpoint composes the broker URL with its app_id query parameter.
func Endpoint(base, appID string) string {
	if base == "" {
		base = DefaultEndpoint
	}
	if appID == "" {
		appID = DefaultAppID
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	if q.Get("app_id") == "" {
		q.Set("app_id", appID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// NewClient prepares a client; nothing is dialed until Connect. An empty token skips authorize.
func NewClient(endpoint, token string, log zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:       endpoint,
		token:          strings.TrimSpace(token),
		log:            log,
		dialer:         websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		requestTimeout: defaultRequestTimeout,
		pending:        make(map[int64]chan Envelope),
		streams:        make(map[int64]*Stream),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the broker and, when a token is configured, authorizes the session.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, redactURL(c.endpoint), err)
	}
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.conn = conn
	go c.readLoop()
	go c.pingLoop()

	if c.token == "" {
		return nil
	}
	if err := c.authorize(ctx); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

func (c *Client) authorize(ctx context.Context) error {
	env, err := c.Request(ctx, map[string]any{"authorize": c.token}, ErrAuth)
	if err != nil {
		if errors.Is(err, ErrAuth) {
			return err
		}
		return fmt.Errorf("%w: authorize: %v", ErrAuth, err)
	}
	var resp authorizeResponse
	if err := env.Decode(&resp); err != nil {
		return fmt.Errorf("%w: decode authorize: %v", ErrData, err)
	}
	c.mu.Lock()
	c.account = Account{
		LoginID:  resp.Authorize.LoginID,
		Currency: resp.Authorize.Currency,
		Balance:  resp.Authorize.Balance,
		Virtual:  resp.Authorize.IsVirtual == 1,
	}
	c.mu.Unlock()
	c.log.Info().Str("loginid", resp.Authorize.LoginID).Str("currency", resp.Authorize.Currency).
		Str("token", util.MaskToken(c.token)).Msg("authorized broker session")
	return nil
}

// Account returns the details captured at authorize time.
func (c *Client) Account() Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

// Done is closed when the read loop stops.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the read loop stopped.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// Request sends payload and waits for the response with the same req_id. Broker error objects are
// classified, with kind used for codes that have no fixed class.
func (c *Client) Request(ctx context.Context, payload map[string]any, kind error) (Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	ch := make(chan Envelope, 1)
	id, err := c.register(func(id int64) { c.pending[id] = ch })
	if err != nil {
		return Envelope{}, err
	}
	defer c.unregister(id)

	if err := c.send(id, payload); err != nil {
		return Envelope{}, err
	}
	select {
	case env, ok := <-ch:
		if !ok {
			return Envelope{}, c.lostErr()
		}
		if env.Error != nil {
			return env, classify(env.Error, kind)
		}
		return env, nil
	case <-c.done:
		return Envelope{}, c.lostErr()
	case <-ctx.Done():
		return Envelope{}, fmt.Errorf("%w: %s: %v", ErrConnection, requestName(payload), ctx.Err())
	}
}

// Stream delivers every message the broker pushes for one subscription.
type Stream struct {
	ID      string
	reqID   int64
	ch      chan Envelope
	first   chan Envelope
	started bool
	once    sync.Once
}

// C yields stream updates, the first one included; it is closed on Forget or when the connection
// drops.
func (s *Stream) C() <-chan Envelope { return s.ch }

func (s *Stream) close() { s.once.Do(func() { close(s.ch) }) }

// Subscribe sends a subscribing request and returns once the first update (or error) arrives.
func (c *Client) Subscribe(ctx context.Context, payload map[string]any, kind error) (*Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	stream := &Stream{ch: make(chan Envelope, streamBuffer), first: make(chan Envelope, 1)}
	payload["subscribe"] = 1
	id, err := c.register(func(id int64) {
		stream.reqID = id
		c.streams[id] = stream
	})
	if err != nil {
		return nil, err
	}
	if err := c.send(id, payload); err != nil {
		c.dropStream(id)
		return nil, err
	}

	select {
	case env := <-stream.first:
		if env.Error != nil {
			c.dropStream(id)
			return nil, classify(env.Error, kind)
		}
		if env.Subscription != nil {
			c.mu.Lock()
			stream.ID = env.Subscription.ID
			c.mu.Unlock()
		}
		return stream, nil
	case <-c.done:
		c.dropStream(id)
		return nil, c.lostErr()
	case <-ctx.Done():
		c.dropStream(id)
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrConnection, requestName(payload), ctx.Err())
	}
}

// Forget cancels a subscription at the broker and then releases the local stream.
func (c *Client) Forget(ctx context.Context, stream *Stream) error {
	if stream == nil {
		return nil
	}
	defer c.dropStream(stream.reqID)
	if stream.ID == "" {
		return nil
	}
	if _, err := c.Request(ctx, map[string]any{"forget": stream.ID}, ErrData); err != nil {
		return fmt.Errorf("forget %s: %w", stream.ID, err)
	}
	return nil
}

// ActiveStreams returns the streams that have not been forgotten.
func (c *Client) ActiveStreams() []*Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		out = append(out, s)
	}
	return out
}

// Shutdown forgets every active stream and only then closes the transport.
func (c *Client) Shutdown(ctx context.Context) error {
	var errs []error
	for _, stream := range c.ActiveStreams() {
		if err := c.Forget(ctx, stream); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close sends a close frame and tears the connection down. Prefer Shutdown when streams are open.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.closed = true
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.conn.Close()
	select {
	case <-c.done:
	case <-time.After(writeWait):
	}
	return err
}

func (c *Client) register(add func(id int64)) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return 0, fmt.Errorf("%w: client not connected", ErrConnection)
	}
	select {
	case <-c.done:
		return 0, c.lostErrLocked()
	default:
	}
	c.nextID++
	add(c.nextID)
	return c.nextID, nil
}

func (c *Client) unregister(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) dropStream(id int64) {
	c.mu.Lock()
	stream := c.streams[id]
	delete(c.streams, id)
	c.mu.Unlock()
	if stream != nil {
		stream.close()
	}
}

func (c *Client) send(id int64, payload map[string]any) error {
	payload["req_id"] = id
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrData, requestName(payload), err)
	}
	if e := c.log.Debug(); e.Enabled() {
		e.RawJSON("request", util.Redact(raw)).Msg("broker request")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrConnection, requestName(payload), err)
	}
	return nil
}

func (c *Client) readLoop() {
	var err error
	defer func() {
		c.mu.Lock()
		c.readErr = err
		streams := c.streams
		c.streams = make(map[int64]*Stream)
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		close(c.done)
		c.mu.Unlock()
		for _, s := range streams {
			s.close()
		}
	}()

	for {
		var raw []byte
		_, raw, err = c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if uerr := json.Unmarshal(raw, &env); uerr != nil {
			c.log.Warn().Err(uerr).Msg("failed to decode broker message")
			continue
		}
		env.Raw = raw
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.pending[env.ReqID]; ok {
		delete(c.pending, env.ReqID)
		ch <- env
		return
	}
	if stream, ok := c.streams[env.ReqID]; ok {
		if !stream.started {
			stream.started = true
			stream.first <- env
			if env.Error != nil {
				return
			}
		}
		select {
		case stream.ch <- env:
		default:
			c.log.Warn().Str("msg_type", env.MsgType).Str("subscription", stream.ID).Msg("dropping update for slow consumer")
		}
		return
	}
	if env.MsgType != "" && env.MsgType != "forget" {
		c.log.Debug().Str("msg_type", env.MsgType).Int64("req_id", env.ReqID).Msg("unrouted broker message")
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.log.Warn().Err(err).Msg("broker ping failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) lostErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lostErrLocked()
}

func (c *Client) lostErrLocked() error {
	if c.readErr != nil {
		return fmt.Errorf("%w: connection lost: %v", ErrConnection, c.readErr)
	}
	return fmt.Errorf("%w: connection lost", ErrConnection)
}

// requestName returns the first known command key of a payload for error messages.
func requestName(payload map[string]any) string {
	for _, k := range []string{"authorize", "ticks", "ticks_history", "proposal", "buy", "proposal_open_contract", "forget", "forget_all", "balance", "active_symbols", "ping"} {
		if _, ok := payload[k]; ok {
			return k
		}
	}
	return "request"
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "****")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

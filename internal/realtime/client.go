package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"ops-realtime/internal/metrics"
	"ops-realtime/internal/models"
)

const (
	// Time allowed to write a frame
	writeWait = 10 * time.Second

	// Time allowed between server frames (pings included)
	pongWait = 60 * time.Second

	dialTimeout = 15 * time.Second

	disconnectReason = "Client disconnecting"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config identifies the endpoint and the identity the connection is scoped to.
type Config struct {
	Host     string
	Port     int
	Path     string
	Secure   bool
	UserID   string
	TenantID string

	// Token is sent as the token query parameter when set.
	Token string
}

// AfterFunc schedules f after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type Option func(*Client)

func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithAfterFunc replaces the timer used to schedule reconnections.
func WithAfterFunc(f AfterFunc) Option {
	return func(c *Client) { c.afterFunc = f }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// TokenSource returns the bearer token for the next connection attempt.
type TokenSource func(ctx context.Context) (string, error)

// WithTokenSource fetches a fresh token before every dial, replacing
// Config.Token.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokenSource = ts }
}

// Client keeps one logical connection to the realtime endpoint,
// reconnects after abnormal closes and exposes a best-effort
// publish/subscribe surface. Nothing is queued while disconnected.
type Client struct {
	dialer      Dialer
	afterFunc   AfterFunc
	maxRetries  int
	tokenSource TokenSource

	mu           sync.Mutex
	cfg          Config
	state        State
	conn         Conn
	gen          uint64
	retries      int
	lastErr      string
	lastMessage  *models.Envelope
	connectionID string
	channels     map[string]struct{}
	cancelRetry  func() bool

	listenerSeq    int
	listeners      map[int]func(models.Envelope)
	stateListeners map[int]func(State)

	// pending holds transitions not yet delivered to state listeners;
	// emitting is set while one goroutine is delivering them.
	pending  []State
	emitting bool

	// gorilla supports one concurrent writer
	writeMu sync.Mutex
}

// New returns a disconnected client.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		dialer:         NewDialer(nil),
		afterFunc:      timeAfterFunc,
		maxRetries:     MaxRetries,
		cfg:            cfg,
		channels:       make(map[string]struct{}),
		listeners:      make(map[int]func(models.Envelope)),
		stateListeners: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open returns a client that has already started connecting.
func Open(cfg Config, opts ...Option) *Client {
	c := New(cfg, opts...)
	c.Connect()
	return c
}

// Connect opens a new connection, replacing the current one. It does
// nothing while the user or tenant identity is missing.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.cfg.UserID == "" || c.cfg.TenantID == "" {
		c.mu.Unlock()
		slog.Debug("[REALTIME] Identity incomplete, not connecting")
		return
	}

	endpoint, err := BuildURL(c.cfg)
	if err != nil {
		host := c.cfg.Host
		c.lastErr = err.Error()
		changed := c.setStateLocked(Disconnected)
		c.mu.Unlock()
		slog.Error("[REALTIME] Failed to build endpoint", "host", host, "error", err)
		if changed {
			c.emitState()
		}
		return
	}

	c.stopRetryLocked()
	old := c.conn
	c.conn = nil
	c.gen++
	gen := c.gen
	cfg := c.cfg
	retry := c.retries
	changed := c.setStateLocked(Connecting)
	c.mu.Unlock()

	if old != nil {
		c.closeConn(old, "Replaced by new connection")
	}
	if changed {
		c.emitState()
	}

	slog.Info("[REALTIME] Connecting", "endpoint", redactURL(endpoint), "retry", retry)
	go c.dial(gen, cfg)
}

func (c *Client) dial(gen uint64, cfg Config) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	conn, endpoint, err := c.open(ctx, cfg)
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			c.closeConn(conn, disconnectReason)
		}
		return
	}
	if err != nil {
		c.lastErr = fmt.Sprintf("connection failed: %v", err)
		c.mu.Unlock()
		slog.Warn("[REALTIME] Dial failed", "endpoint", endpoint, "error", err)
		c.handleClose(gen, AbnormalClosure)
		return
	}

	c.conn = conn
	c.retries = 0
	c.lastErr = ""
	changed := c.setStateLocked(Connected)
	c.mu.Unlock()

	slog.Info("[REALTIME] Connected", "endpoint", endpoint)
	if changed {
		c.emitState()
	}
	go c.readLoop(gen, conn)
}

// open refreshes the token when a source is configured and dials. The
// returned endpoint is redacted for logging.
func (c *Client) open(ctx context.Context, cfg Config) (Conn, string, error) {
	if c.tokenSource != nil {
		token, err := c.tokenSource(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("refresh token: %w", err)
		}
		cfg.Token = token
	}
	endpoint, err := BuildURL(cfg)
	if err != nil {
		return nil, "", err
	}
	conn, err := c.dialer.Dial(ctx, endpoint)
	return conn, redactURL(endpoint), err
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		c.writeMu.Lock()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			code := closeCode(err)
			if code != NormalClosure {
				c.setError(gen, err.Error())
			}
			c.handleClose(gen, code)
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(gen, data)
	}
}

// handleClose moves to Disconnected and, for abnormal closes under the
// retry ceiling, schedules the next attempt.
func (c *Client) handleClose(gen uint64, code int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.channels = make(map[string]struct{})
	changed := c.setStateLocked(Disconnected)

	switch {
	case code == NormalClosure:
		slog.Info("[REALTIME] Connection closed normally")
	case c.retries < c.maxRetries:
		delay := BackoffDelay(c.retries)
		c.retries++
		attempt := c.retries
		c.cancelRetry = c.afterFunc(delay, func() { c.reconnect(gen) })
		metrics.ReconnectAttempts.Inc()
		slog.Warn("[REALTIME] Connection lost, scheduling reconnect", "code", code, "attempt", attempt, "delay", delay)
	default:
		slog.Error("[REALTIME] Connection lost, giving up", "code", code, "attempts", c.retries)
	}
	c.mu.Unlock()

	if changed {
		c.emitState()
	}
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.cancelRetry = nil
	c.mu.Unlock()
	c.Connect()
}

// Disconnect closes the connection with a normal closure and cancels any
// pending reconnection. Safe to call in any state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopRetryLocked()
	c.gen++
	conn := c.conn
	c.conn = nil
	c.channels = make(map[string]struct{})
	changed := c.setStateLocked(Disconnected)
	c.mu.Unlock()

	if conn != nil {
		c.closeConn(conn, disconnectReason)
	}
	if changed {
		c.emitState()
	}
}

// Close disconnects and detaches every listener.
func (c *Client) Close() {
	c.Disconnect()
	c.mu.Lock()
	c.listeners = make(map[int]func(models.Envelope))
	c.stateListeners = make(map[int]func(State))
	c.mu.Unlock()
}

// SetIdentity switches the connection scope. A change restarts the
// lifecycle from scratch, retry budget included.
func (c *Client) SetIdentity(userID, tenantID string) {
	c.mu.Lock()
	if c.cfg.UserID == userID && c.cfg.TenantID == tenantID {
		c.mu.Unlock()
		return
	}
	c.cfg.UserID = userID
	c.cfg.TenantID = tenantID
	c.retries = 0
	c.mu.Unlock()

	c.Disconnect()
	c.Connect()
}

// Send writes msg when connected and drops it with a warning otherwise.
func (c *Client) Send(msg models.Envelope) {
	c.mu.Lock()
	conn, state, gen := c.conn, c.state, c.gen
	c.mu.Unlock()

	if state != Connected || conn == nil {
		slog.Warn("[REALTIME] Not connected, dropping message", "type", msg.Type)
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("[REALTIME] Failed to marshal message", "type", msg.Type, "error", err)
		return
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		slog.Error("[REALTIME] Failed to write message", "type", msg.Type, "error", err)
		c.setError(gen, err.Error())
	}
}

func (c *Client) Subscribe(channels ...string) {
	c.sendChannels(models.TypeSubscribe, channels)
}

func (c *Client) Unsubscribe(channels ...string) {
	c.sendChannels(models.TypeUnsubscribe, channels)
}

func (c *Client) sendChannels(msgType string, channels []string) {
	if len(channels) == 0 {
		return
	}
	c.mu.Lock()
	tenantID, userID := c.cfg.TenantID, c.cfg.UserID
	c.mu.Unlock()

	env, err := models.NewEnvelope(msgType, models.ChannelsData{Channels: channels}, tenantID, userID)
	if err != nil {
		slog.Error("[REALTIME] Failed to build control message", "type", msgType, "error", err)
		return
	}
	c.Send(env)
}

func (c *Client) handleMessage(gen uint64, data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Error("[REALTIME] Error unmarshaling message", "error", err, "size", len(data))
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	if models.IsControlType(env.Type) {
		c.applyControlLocked(env)
		c.mu.Unlock()
		return
	}

	c.lastMessage = &env
	listeners := make([]func(models.Envelope), 0, len(c.listeners))
	for _, id := range sortedKeys(c.listeners) {
		listeners = append(listeners, c.listeners[id])
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(env)
	}
}

// applyControlLocked updates connection state from a control message.
func (c *Client) applyControlLocked(env models.Envelope) {
	switch env.Type {
	case models.TypeConnectionEstablished:
		var info models.ConnectionData
		decodeData(env, &info)
		c.connectionID = info.ConnectionID
		slog.Info("[REALTIME] Connection established", "connectionId", info.ConnectionID)

	case models.TypeSubscribed, models.TypeUnsubscribed:
		var ack models.ChannelsData
		decodeData(env, &ack)
		for _, ch := range ack.Channels {
			if env.Type == models.TypeSubscribed {
				c.channels[ch] = struct{}{}
			} else {
				delete(c.channels, ch)
			}
		}
		slog.Debug("[REALTIME] Subscription acknowledged", "type", env.Type, "channels", ack.Channels)

	case models.TypeError:
		var e models.ErrorData
		decodeData(env, &e)
		if e.Message == "" {
			e.Message = "unknown server error"
		}
		c.lastErr = e.Message
		slog.Warn("[REALTIME] Server reported error", "message", e.Message)
	}
}

func decodeData(env models.Envelope, v interface{}) {
	if len(env.Data) == 0 {
		return
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		slog.Warn("[REALTIME] Malformed control data", "type", env.Type, "error", err)
	}
}

// OnMessage registers fn for every non-control message. Listeners run on
// the connection's read goroutine in arrival order and must not block.
func (c *Client) OnMessage(fn func(models.Envelope)) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listenerSeq++
	id := c.listenerSeq
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) OnStateChange(fn func(State)) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listenerSeq++
	id := c.listenerSeq
	c.stateListeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.stateListeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the last transport or server error, empty when healthy.
func (c *Client) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

func (c *Client) LastMessage() (models.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastMessage == nil {
		return models.Envelope{}, false
	}
	return *c.lastMessage, true
}

func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// Channels returns the channels the server has acknowledged, sorted.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func (c *Client) setStateLocked(s State) bool {
	if c.state == s {
		return false
	}
	c.state = s
	c.pending = append(c.pending, s)
	return true
}

func (c *Client) stopRetryLocked() {
	if c.cancelRetry != nil {
		c.cancelRetry()
		c.cancelRetry = nil
	}
}

func (c *Client) setError(gen uint64, msg string) {
	c.mu.Lock()
	if gen == c.gen {
		c.lastErr = msg
	}
	c.mu.Unlock()
}

// emitState delivers queued transitions to state listeners in the order
// they happened. One goroutine delivers at a time and drains the queue,
// so listeners always end on the client's current state. Calls made
// while another goroutine delivers, including from inside a listener,
// return at once.
func (c *Client) emitState() {
	c.mu.Lock()
	if c.emitting {
		c.mu.Unlock()
		return
	}
	c.emitting = true
	for len(c.pending) > 0 {
		s := c.pending[0]
		c.pending = c.pending[1:]
		fns := make([]func(State), 0, len(c.stateListeners))
		for _, id := range sortedKeys(c.stateListeners) {
			fns = append(fns, c.stateListeners[id])
		}
		c.mu.Unlock()
		for _, fn := range fns {
			fn(s)
		}
		c.mu.Lock()
	}
	c.emitting = false
	c.mu.Unlock()
}

func (c *Client) closeConn(conn Conn, reason string) {
	c.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(NormalClosure, reason), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	if err != nil && err != websocket.ErrCloseSent {
		slog.Debug("[REALTIME] Failed to send close frame", "error", err)
	}
	conn.Close()
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

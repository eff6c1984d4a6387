package realtime

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// Close codes the client distinguishes.
const (
	NormalClosure   = websocket.CloseNormalClosure
	AbnormalClosure = websocket.CloseAbnormalClosure
)

var ErrInvalidEndpoint = errors.New("invalid realtime endpoint")

// Conn is the subset of *websocket.Conn used by the client.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPingHandler(h func(appData string) error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

type gorillaDialer struct {
	dialer *websocket.Dialer
}

// NewDialer wraps a gorilla dialer. A nil dialer means websocket.DefaultDialer.
func NewDialer(d *websocket.Dialer) Dialer {
	if d == nil {
		d = websocket.DefaultDialer
	}
	return &gorillaDialer{dialer: d}
}

func (g *gorillaDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	conn, _, err := g.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// BuildURL returns {ws|wss}://host:port[path]?tenantId=..&userId=..
func BuildURL(cfg Config) (string, error) {
	if cfg.Host == "" {
		return "", ErrInvalidEndpoint
	}
	scheme := "ws"
	if cfg.Secure {
		scheme = "wss"
	}
	host := cfg.Host
	if cfg.Port > 0 {
		host = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	u := url.URL{Scheme: scheme, Host: host, Path: cfg.Path}
	if _, err := url.Parse(u.String()); err != nil {
		return "", errors.Join(ErrInvalidEndpoint, err)
	}

	q := url.Values{}
	q.Set("tenantId", cfg.TenantID)
	q.Set("userId", cfg.UserID)
	if cfg.Token != "" {
		q.Set("token", cfg.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redactURL hides the token query parameter so endpoints can be logged.
func redactURL(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return AbnormalClosure
}

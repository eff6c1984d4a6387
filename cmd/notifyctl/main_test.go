package main

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ops-realtime/internal/auth"
	"ops-realtime/internal/models"
	"ops-realtime/internal/notifications"
	"ops-realtime/internal/realtime"
	"ops-realtime/internal/ws"
)

type nopPublisher struct{}

func (nopPublisher) Publish(_ context.Context, _ models.Event) error { return nil }

func startAPI(t *testing.T) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api")
	api.Use(auth.Middleware(&auth.StaticVerifier{
		Token:    "cli-token",
		Identity: auth.Identity{UserID: "u1", TenantID: "t1"},
	}))
	svc := notifications.NewService(notifications.NewMemoryStore(), nopPublisher{}, nil)
	notifications.Routes(api, notifications.NewHandler(svc))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	t.Setenv("API_BASE_URL", srv.URL)
	t.Setenv("AUTH_MODE", "static")
	t.Setenv("STATIC_USER_ID", "u1")
	t.Setenv("STATIC_TENANT_ID", "t1")
	t.Setenv("STATIC_TOKEN", "cli-token")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestNotificationsCommands(t *testing.T) {
	startAPI(t)

	out, err := execute(t, "notifications", "create", "--title", "Certificate expiring", "--priority", "urgent")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "created "), out)
	id := strings.TrimSpace(strings.TrimPrefix(out, "created "))

	out, err = execute(t, "notifications", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Certificate expiring")
	assert.Contains(t, out, "urgent")
	assert.Contains(t, out, "1 unread")

	out, err = execute(t, "notifications", "read", id)
	require.NoError(t, err)
	assert.Contains(t, out, "marked read")

	out, err = execute(t, "notifications", "read-all")
	require.NoError(t, err)
	assert.Contains(t, out, "0 marked read")

	out, err = execute(t, "publish", "orders", `{"id":1}`)
	require.NoError(t, err)
	assert.Contains(t, out, "published to orders")

	_, err = execute(t, "publish", "orders", `{`)
	assert.Error(t, err)

	out, err = execute(t, "notifications", "delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")

	_, err = execute(t, "notifications", "delete", id)
	assert.ErrorIs(t, err, notifications.ErrNotFound)
}

func TestPrintEnvelope(t *testing.T) {
	tests := []struct {
		name string
		env  models.Envelope
		want string
	}{
		{
			"notification",
			models.Envelope{Type: models.TypeNotification, Data: []byte(`{"title":"Disk","message":"90%","type":"warning","priority":"high"}`)},
			"[high] warning Disk: 90%\n",
		},
		{
			"update",
			models.Envelope{Type: models.TypeUpdate, Data: []byte(`{"channel":"orders","payload":{"id":1}}`)},
			"#orders {\"id\":1}\n",
		},
		{
			"other",
			models.Envelope{Type: "custom", Data: []byte(`{"x":1}`)},
			"custom {\"x\":1}\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printEnvelope(&buf, tt.env)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestListen_TracksUnreadCount(t *testing.T) {
	hub := ws.NewHub(0, 0)
	hubCtx, stopHub := context.WithCancel(context.Background())
	t.Cleanup(stopHub)
	go hub.Run(hubCtx)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ws.ServeWS(hub, nil, c.Writer, c.Request) })
	api := r.Group("/api")
	api.Use(auth.Middleware(&auth.StaticVerifier{
		Token:    "cli-token",
		Identity: auth.Identity{UserID: "u1", TenantID: "t1"},
	}))
	svc := notifications.NewService(notifications.NewMemoryStore(), hub, nil)
	notifications.Routes(api, notifications.NewHandler(svc))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := svc.Create(ctx, "t1", "u1", notifications.CreateInput{Title: "Backup finished"})
	require.NoError(t, err)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client := realtime.New(realtime.Config{Host: host, Port: port, Path: "/ws", UserID: "u1", TenantID: "t1"})
	t.Cleanup(client.Close)
	provider := &auth.StaticProvider{Fixed: auth.Identity{UserID: "u1", TenantID: "t1", Token: "cli-token"}}
	center := notifications.NewCenter(notifications.NewAPIClient(srv.URL, provider, nil))
	require.NoError(t, center.Load(ctx))

	var out, errOut syncBuffer
	done := make(chan error, 1)
	go func() { done <- listen(ctx, &out, &errOut, client, center, nil) }()

	require.Eventually(t, func() bool {
		return client.State() == realtime.Connected && client.ConnectionID() != ""
	}, 2*time.Second, 10*time.Millisecond)

	_, err = svc.Create(ctx, "t1", "u1", notifications.CreateInput{Title: "Certificate expiring", Priority: models.PriorityUrgent})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "2 unread")
	}, 2*time.Second, 10*time.Millisecond, out.String())
	assert.Contains(t, out.String(), "Certificate expiring")
	assert.Equal(t, 2, center.UnreadCount())
	assert.Contains(t, errOut.String(), "state: ")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listen did not return after cancel")
	}
}

package realtime

import (
	"context"
	"encoding/binary"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"ops-realtime/internal/models"
)

var errConnClosed = errors.New("use of closed network connection")

type frame struct {
	data []byte
	err  error
}

// fakeConn is an in-memory Conn. Frames pushed with deliver/closeWith
// are returned by ReadMessage in order.
type fakeConn struct {
	inbound chan frame
	closed  chan struct{}
	once    sync.Once

	mu         sync.Mutex
	written    [][]byte
	closeCodes []int
	writeGate  chan struct{}
	writing    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan frame, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case fr := <-f.inbound:
		return websocket.TextMessage, fr.data, fr.err
	case <-f.closed:
		return 0, nil, errConnClosed
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	gate, writing := f.writeGate, f.writing
	f.mu.Unlock()
	if gate != nil {
		close(writing)
		<-gate
		return errConnClosed
	}

	select {
	case <-f.closed:
		return errConnClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		f.mu.Lock()
		f.closeCodes = append(f.closeCodes, int(binary.BigEndian.Uint16(data)))
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (f *fakeConn) SetPingHandler(func(appData string) error) {}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// stallWrite makes the next WriteMessage block until release is called,
// then fail. entered is closed once the write is blocked.
func (f *fakeConn) stallWrite() (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeGate = make(chan struct{})
	f.writing = make(chan struct{})
	gate := f.writeGate
	return f.writing, func() { close(gate) }
}

func (f *fakeConn) deliver(data string) {
	f.inbound <- frame{data: []byte(data)}
}

func (f *fakeConn) closeWith(code int) {
	f.inbound <- frame{err: &websocket.CloseError{Code: code}}
}

func (f *fakeConn) writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.written...)
}

func (f *fakeConn) sentCloseCodes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.closeCodes...)
}

// fakeDialer hands out a fresh fakeConn per dial unless fail is set.
type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	fail  error
}

func (d *fakeDialer) Dial(_ context.Context, endpoint string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, endpoint)
	if d.fail != nil {
		return nil, d.fail
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	d.fail = err
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) url(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.urls[i]
}

// manualTimers records scheduled reconnections and fires them on demand.
type manualTimers struct {
	mu      sync.Mutex
	pending []*manualTimer
	delays  []time.Duration
}

type manualTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (m *manualTimers) AfterFunc(d time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{delay: d, fn: f}
	m.pending = append(m.pending, t)
	m.delays = append(m.delays, d)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if t.stopped {
			return false
		}
		t.stopped = true
		return true
	}
}

func (m *manualTimers) active() []*manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*manualTimer
	for _, t := range m.pending {
		if !t.stopped {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].delay < out[j].delay })
	return out
}

func (m *manualTimers) scheduled() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.delays...)
}

// fire runs the earliest active timer.
func (m *manualTimers) fire(t *testing.T) {
	t.Helper()
	active := m.active()
	require.NotEmpty(t, active, "no reconnect scheduled")
	next := active[0]
	m.mu.Lock()
	next.stopped = true
	m.mu.Unlock()
	next.fn()
}

func (m *manualTimers) waitScheduled(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(m.scheduled()) == n }, time.Second, 5*time.Millisecond)
}

func timeoutChan() <-chan time.Time {
	return time.After(time.Second)
}

func envelope(raw string) models.Envelope {
	var env models.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		panic(err)
	}
	return env
}

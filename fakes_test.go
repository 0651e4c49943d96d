package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	Method string
	Args   []interface{}
}

// fakeConn plays the notification server.
type fakeConn struct {
	mu        sync.Mutex
	calls     []recordedCall
	nextID    uint32
	notifyErr error
	closeErr  error
	hold      chan struct{} // when set, Notify blocks until it is closed
	holdFor   map[string]chan struct{}
	errFor    map[string]error // Notify errors by summary
	signals   []chan<- *dbus.Signal
	closed    bool

	// delivery is held shared while a signal is sent and exclusively by
	// RemoveSignal, like the bus's own signal handler.
	delivery sync.RWMutex
}

func newFakeConn() *fakeConn {
	return &fakeConn{nextID: 1}
}

func (c *fakeConn) Call(ctx context.Context, method string, args ...interface{}) *dbus.Call {
	c.mu.Lock()
	c.calls = append(c.calls, recordedCall{Method: method, Args: args})
	hold := c.hold
	var summary string
	if method == callNotify {
		summary, _ = args[3].(string)
		if h, ok := c.holdFor[summary]; ok {
			hold = h
		}
	}
	c.mu.Unlock()

	switch method {
	case callNotify:
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				return &dbus.Call{Err: ctx.Err()}
			}
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := c.errFor[summary]; err != nil {
			return &dbus.Call{Err: err}
		}
		if c.notifyErr != nil {
			return &dbus.Call{Err: c.notifyErr}
		}
		id := args[1].(uint32)
		if id == 0 {
			id = c.nextID
			c.nextID++
		}
		return &dbus.Call{Body: []interface{}{id}}
	case callCloseNotification:
		c.mu.Lock()
		defer c.mu.Unlock()
		return &dbus.Call{Err: c.closeErr}
	case callGetCapabilities:
		return &dbus.Call{Body: []interface{}{[]string{"actions", "body", "inline-reply"}}}
	case callGetServerInformation:
		return &dbus.Call{Body: []interface{}{"fake", "example.org", "1.0", "1.2"}}
	}
	return &dbus.Call{Err: errors.New("unknown method " + method)}
}

func (c *fakeConn) Signal(ch chan<- *dbus.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, ch)
}

func (c *fakeConn) RemoveSignal(ch chan<- *dbus.Signal) {
	c.delivery.Lock()
	defer c.delivery.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.signals {
		if c.signals[i] == ch {
			c.signals = append(c.signals[:i], c.signals[i+1:]...)
			return
		}
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.signals)
}

func (c *fakeConn) emit(name string, body ...interface{}) {
	c.delivery.RLock()
	defer c.delivery.RUnlock()
	c.mu.Lock()
	targets := append([]chan<- *dbus.Signal(nil), c.signals...)
	c.mu.Unlock()
	for _, ch := range targets {
		ch <- &dbus.Signal{Path: dbusObjectPath, Name: name, Body: body}
	}
}

func (c *fakeConn) closeSignal(id, code uint32) {
	c.emit(signalNotificationClosed, id, code)
}

func (c *fakeConn) actionSignal(id uint32, key string) {
	c.emit(signalActionInvoked, id, key)
}

func (c *fakeConn) replySignal(id uint32, text string) {
	c.emit(signalNotificationReplied, id, text)
}

func (c *fakeConn) callsTo(method string) []recordedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []recordedCall
	for _, call := range c.calls {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

// fakeDialer hands out fakeConns and counts dial attempts.
type fakeDialer struct {
	mu    sync.Mutex
	dials int
	conns []*fakeConn
	err   error
	gate  chan struct{} // when set, dialing blocks until it is closed
	setup func(*fakeConn)
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	d.dials++
	gate, err := d.gate, d.err
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	c := newFakeConn()
	if d.setup != nil {
		d.setup(c)
	}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// manualClock fires timers only when advanced.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	clock *manualClock
	at    time.Duration
	f     func()
	done  bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasPending := !t.done
	t.done = true
	return wasPending
}

// Advance moves time forward and runs every timer that came due, in order.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.done && t.at <= c.now {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

// Pending returns the due times, relative to now, of timers not yet fired or stopped.
func (c *manualClock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.done {
			out = append(out, t.at-c.now)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *manualClock) waitPending(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.Pending()) == n }, time.Second, time.Millisecond)
}

// newTestSession returns a session wired to a fake bus and a manual clock.
func newTestSession(t *testing.T, opts ...Option) (*Session, *fakeDialer, *manualClock) {
	t.Helper()
	d := &fakeDialer{}
	clock := &manualClock{}
	opts = append([]Option{WithDialer(d.Dial), WithClock(clock)}, opts...)
	s := New(opts...)
	t.Cleanup(s.Destroy)
	return s, d, clock
}

package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrSessionDestroyed is returned by operations that need a result after Destroy.
	ErrSessionDestroyed = errors.New("notify: session destroyed")
	// ErrNotificationClosed is returned when pushing a notification that was already closed.
	ErrNotificationClosed = errors.New("notify: notification closed")
	// ErrInvalidActions is returned when actions are not (key, label) pairs.
	ErrInvalidActions = errors.New("notify: actions must be pairs of (key, label)")
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateInitializing
	stateReady
	stateDestroyed
)

func (s sessionState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateInitializing:
		return "initializing"
	case stateReady:
		return "ready"
	case stateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

const initKey = "init"

// Session owns the bus connection shared by all notifications, the flood
// controller in front of it and the set of notifications still waiting for
// their close signal.
//
// A Session connects lazily: the first operation that needs the bus dials it.
// Reset tears the connection down and a later operation dials again.
// Destroy is final.
type Session struct {
	dial           Dialer
	log            zerolog.Logger
	clock          Clock
	metrics        *Metrics
	connectTimeout time.Duration
	antiLeak       time.Duration
	antiLeakCrit   time.Duration
	defaultHints   Fields

	initGroup singleflight.Group
	// calls is held shared for the duration of every remote call and
	// exclusively while Reset tears the connection down.
	calls sync.RWMutex

	mu      sync.Mutex
	state   sessionState
	settled chan struct{} // closed once an in-flight init finishes
	conn    Conn
	detach  func()
	gen     uint64 // incremented on every successful connect
	appName string
	live    map[*Notification]uint64

	router  *router
	flood   *floodController
	onInit  *emitter[struct{}]
	onPurge *emitter[struct{}]
}

// Option configures a Session.
type Option func(*Session)

// WithDialer replaces DialSessionBus.
func WithDialer(d Dialer) Option {
	return func(s *Session) {
		s.dial = d
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) {
		s.log = log
	}
}

// WithClock replaces the clock used for watchdogs and flood release timers.
func WithClock(c Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// WithMetrics records session activity in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithAppName sets the initial app name, see SetAppName.
func WithAppName(name string) Option {
	return func(s *Session) {
		if name != "" {
			s.appName = name
		}
	}
}

// WithUnflood sets the initial flood control interval, see SetUnflood.
func WithUnflood(d time.Duration) Option {
	return func(s *Session) {
		s.flood.setUnflood(d)
	}
}

// WithAntiLeakTimeouts sets how long a pushed notification may stay
// unclosed before it is closed with ReasonAntiLeak, for normal and
// critical urgency.
func WithAntiLeakTimeouts(normal, critical time.Duration) Option {
	return func(s *Session) {
		if normal > 0 {
			s.antiLeak = normal
		}
		if critical > 0 {
			s.antiLeakCrit = critical
		}
	}
}

// WithConnectTimeout bounds each attempt to dial the session bus.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithConfig applies a loaded Config.
func WithConfig(cfg Config) Option {
	return func(s *Session) {
		cfg.normalize()
		s.appName = cfg.AppName
		s.flood.setUnflood(cfg.Unflood)
		s.connectTimeout = cfg.ConnectTimeout
		s.antiLeak = cfg.AntiLeak.Timeout
		s.antiLeakCrit = cfg.AntiLeak.CriticalTimeout
		if len(cfg.Hints) > 0 {
			s.defaultHints = make(Fields, len(cfg.Hints))
			for k, v := range cfg.Hints {
				s.defaultHints[k] = v
			}
		}
	}
}

// New creates a Session. It does not connect.
func New(opts ...Option) *Session {
	s := &Session{
		dial:           DialSessionBus,
		log:            zerolog.Nop(),
		clock:          realClock{},
		connectTimeout: DefaultConnectTimeout,
		antiLeak:       DefaultAntiLeakTimeout,
		antiLeakCrit:   DefaultCriticalAntiLeakTimeout,
		appName:        DefaultAppName,
		live:           make(map[*Notification]uint64),
		onInit:         &emitter[struct{}]{},
		onPurge:        &emitter[struct{}]{},
	}
	s.flood = newFloodController(s.clock, nil)
	for _, opt := range opts {
		opt(s)
	}
	s.flood.clock = s.clock
	s.flood.metrics = s.metrics
	s.router = newRouter(s.log)
	return s
}

// Init connects to the session bus. It returns immediately when already
// connected; concurrent callers share a single connection attempt and its
// outcome. After a failure the session stays idle and Init may be retried.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case stateDestroyed:
		return ErrSessionDestroyed
	case stateReady:
		return nil
	}

	ch := s.initGroup.DoChan(initKey, func() (interface{}, error) {
		return nil, s.connect()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) connect() error {
	s.mu.Lock()
	switch s.state {
	case stateReady:
		s.mu.Unlock()
		return nil
	case stateDestroyed:
		s.mu.Unlock()
		return ErrSessionDestroyed
	}
	s.state = stateInitializing
	settled := make(chan struct{})
	s.settled = settled
	s.mu.Unlock()
	defer close(settled)

	s.log.Debug().Msg("connecting to session bus")
	s.metrics.connectAttempted()

	// The attempt is shared by every waiter, so it is not bound to any one caller's context.
	ctx, cancel := context.WithTimeout(context.Background(), s.connectTimeout)
	defer cancel()
	conn, err := s.dial(ctx)

	s.mu.Lock()
	s.settled = nil
	if err != nil {
		s.state = stateIdle
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("session bus connection failed")
		return err
	}
	s.conn = conn
	s.detach = s.router.attach(conn)
	s.gen++
	s.state = stateReady
	s.mu.Unlock()

	s.log.Debug().Msg("session ready")
	s.onInit.emit(struct{}{})
	return nil
}

// Reset closes the bus connection and forgets every live notification
// without closing it on screen or emitting close events. The session
// connects again on next use. Reset is a no-op on an idle session; while
// a connection attempt is in flight it waits for that attempt to finish.
func (s *Session) Reset() {
	s.reset(false)
}

// Destroy resets the session and disables it for good. Every later
// operation is a no-op or fails with ErrSessionDestroyed.
func (s *Session) Destroy() {
	s.reset(true)
}

func (s *Session) reset(final bool) {
	s.mu.Lock()
	for s.state == stateInitializing {
		settled := s.settled
		s.mu.Unlock()
		<-settled
		s.mu.Lock()
	}
	if s.state == stateDestroyed {
		s.mu.Unlock()
		return
	}
	wasReady := s.state == stateReady
	conn, detach, gen := s.conn, s.detach, s.gen
	s.conn, s.detach = nil, nil
	if final {
		s.state = stateDestroyed
	} else {
		s.state = stateIdle
	}
	s.mu.Unlock()

	if final {
		s.flood.shutdown()
	}
	if !wasReady {
		return
	}

	// Wait for remote calls still running on conn.
	s.calls.Lock()
	defer s.calls.Unlock()
	s.teardown(conn, detach, gen, final)
}

// resetIfIdle resets the session when connection generation gen is still
// current and no notification is live on it. Pushes register while holding
// s.calls shared, so with s.calls held here none can be half done.
func (s *Session) resetIfIdle(gen uint64) {
	s.calls.Lock()
	defer s.calls.Unlock()

	s.mu.Lock()
	if s.state != stateReady || s.gen != gen || len(s.live) > 0 {
		s.mu.Unlock()
		return
	}
	conn, detach := s.conn, s.detach
	s.conn, s.detach = nil, nil
	s.state = stateIdle
	s.mu.Unlock()

	s.teardown(conn, detach, gen, false)
}

// teardown forgets the live notifications of generation gen and closes conn.
// The caller holds s.calls exclusively.
func (s *Session) teardown(conn Conn, detach func(), gen uint64, final bool) {
	s.mu.Lock()
	var doomed []*Notification
	for n, g := range s.live {
		if g == gen {
			doomed = append(doomed, n)
			delete(s.live, n)
		}
	}
	s.metrics.setLive(len(s.live))
	s.mu.Unlock()

	for _, n := range doomed {
		n.destroy()
	}
	if detach != nil {
		detach()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.log.Warn().Err(err).Msg("closing session bus connection")
		}
	}
	s.log.Debug().Int("dropped", len(doomed)).Bool("final", final).Msg("session reset")
}

// acquire returns the current connection with s.calls held shared, or false
// when the session is not ready. On success the caller must RUnlock s.calls.
func (s *Session) acquire() (Conn, uint64, bool) {
	s.calls.RLock()
	s.mu.Lock()
	state, conn, gen := s.state, s.conn, s.gen
	s.mu.Unlock()
	if state != stateReady {
		s.calls.RUnlock()
		return nil, 0, false
	}
	return conn, gen, true
}

// withConn runs fn on a ready connection, connecting first if needed.
func (s *Session) withConn(ctx context.Context, fn func(Conn) error) error {
	for {
		if err := s.Init(ctx); err != nil {
			return err
		}
		conn, _, ok := s.acquire()
		if !ok {
			// Reset in between; Init again.
			continue
		}
		err := fn(conn)
		s.calls.RUnlock()
		return err
	}
}

func (s *Session) isDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateDestroyed
}

// GetCapabilities returns the optional capabilities of the notification server.
func (s *Session) GetCapabilities(ctx context.Context) ([]string, error) {
	var caps []string
	err := s.withConn(ctx, func(conn Conn) error {
		var err error
		caps, err = getCapabilities(ctx, conn)
		return err
	})
	return caps, err
}

// GetServerInformation returns the name, vendor and versions of the notification server.
func (s *Session) GetServerInformation(ctx context.Context) (ServerInformation, error) {
	var info ServerInformation
	err := s.withConn(ctx, func(conn Conn) error {
		var err error
		info, err = getServerInformation(ctx, conn)
		return err
	})
	return info, err
}

// SetAppName sets the app name used by notifications created afterwards.
// An empty name is ignored.
func (s *Session) SetAppName(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	s.appName = name
	s.mu.Unlock()
}

// AppName is the app name given to new notifications.
func (s *Session) AppName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appName
}

// SetUnflood sets the flood control interval.
// UnfloodDisabled (or any negative value) turns it off, 0 only serializes
// Notify calls, and a positive d spaces queued pushes d apart per queue position.
func (s *Session) SetUnflood(d time.Duration) {
	s.flood.setUnflood(d)
}

// Unflood returns the flood control interval, UnfloodDisabled when off.
func (s *Session) Unflood() time.Duration {
	return s.flood.getUnflood()
}

// Purge disables flood control and releases every queued push immediately.
func (s *Session) Purge() {
	s.flood.purge()
	s.metrics.purged()
	s.log.Debug().Msg("flood queue purged")
	s.onPurge.emit(struct{}{})
}

// OnInit calls fn every time the session finishes connecting.
func (s *Session) OnInit(fn func()) (unsubscribe func()) {
	return s.onInit.subscribe(func(struct{}) { fn() })
}

// OnPurge calls fn on every Purge.
func (s *Session) OnPurge(fn func()) (unsubscribe func()) {
	return s.onPurge.subscribe(func(struct{}) { fn() })
}

// NewNotification creates a notification from fields. It is not shown until Push.
func (s *Session) NewNotification(fields Fields) *Notification {
	n := newNotification(s)
	n.mu.Lock()
	n.appName = s.AppName()
	if len(s.defaultHints) > 0 {
		n.apply(s.defaultHints)
	}
	n.apply(fields)
	n.mu.Unlock()
	return n
}

func (s *Session) addLive(n *Notification, gen uint64) {
	s.mu.Lock()
	s.live[n] = gen
	s.metrics.setLive(len(s.live))
	s.mu.Unlock()
}

func (s *Session) removeLive(n *Notification) {
	s.mu.Lock()
	delete(s.live, n)
	s.metrics.setLive(len(s.live))
	s.mu.Unlock()
}

func (s *Session) liveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *Session) antiLeakTimeout(u Urgency) time.Duration {
	if u == UrgencyCritical {
		return s.antiLeakCrit
	}
	return s.antiLeak
}

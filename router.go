package notify

import (
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// router translates bus signals into typed events.
// It outlives connections: attach binds it to one Conn until the returned
// detach func is called.
type router struct {
	log zerolog.Logger

	actions *emitter[*ActionInvokedSignal]
	closed  *emitter[*NotificationClosedSignal]
	replied *emitter[*NotificationRepliedSignal]

	dropped rate.Sometimes
}

func newRouter(log zerolog.Logger) *router {
	return &router{
		log:     log.With().Str("component", "router").Logger(),
		actions: &emitter[*ActionInvokedSignal]{},
		closed:  &emitter[*NotificationClosedSignal]{},
		replied: &emitter[*NotificationRepliedSignal]{},
		dropped: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

func (r *router) attach(conn Conn) (detach func()) {
	signals := make(chan *dbus.Signal, channelBufferSize)
	done := make(chan struct{})

	// register in dbus for signal delivery
	conn.Signal(signals)
	go r.eventLoop(signals, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			// detach may run on the event loop itself, from a handler that
			// resets the session. Nobody would read signals then, and the bus
			// can block RemoveSignal behind a delivery into the full channel.
			stop := make(chan struct{})
			go drain(signals, stop)
			conn.RemoveSignal(signals)
			close(stop)
		})
	}
}

func drain(signals <-chan *dbus.Signal, stop <-chan struct{}) {
	for {
		select {
		case <-signals:
		case <-stop:
			return
		}
	}
}

func (r *router) eventLoop(signals <-chan *dbus.Signal, done <-chan struct{}) {
	for {
		select {
		case signal, ok := <-signals:
			if !ok {
				return
			}
			// Dispatched inline so that an ActionInvoked is always
			// delivered before the NotificationClosed following it.
			r.handleSignal(signal)
		case <-done:
			r.log.Debug().Msg("signal delivery detached")
			return
		}
	}
}

// handleSignal translates a signal and publishes it on the matching stream.
func (r *router) handleSignal(signal *dbus.Signal) {
	switch signal.Name {
	case signalNotificationClosed:
		var id, code uint32
		if err := dbus.Store(signal.Body, &id, &code); err != nil {
			r.drop(signal, err)
			return
		}
		r.closed.emit(&NotificationClosedSignal{ID: id, Reason: reasonFromCode(code)})
	case signalActionInvoked:
		var id uint32
		var key string
		if err := dbus.Store(signal.Body, &id, &key); err != nil {
			r.drop(signal, err)
			return
		}
		r.actions.emit(&ActionInvokedSignal{ID: id, ActionKey: key})
	case signalNotificationReplied:
		var id uint32
		var text string
		if err := dbus.Store(signal.Body, &id, &text); err != nil {
			r.drop(signal, err)
			return
		}
		r.replied.emit(&NotificationRepliedSignal{ID: id, Text: text})
	default:
		r.drop(signal, nil)
	}
}

func (r *router) drop(signal *dbus.Signal, err error) {
	r.dropped.Do(func() {
		r.log.Debug().Err(err).Str("signal", signal.Name).Msg("dropping signal")
	})
}

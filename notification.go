package notify

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Notification is a single notification bound to a Session.
//
// It moves forward through new, pushed, closed and cleaned. Pushing again
// while it is on screen replaces it in place. Once closed it cannot be pushed
// again. Cleaning up stops its watchdog and releases every listener.
type Notification struct {
	session *Session

	mu              sync.Mutex
	id              uint32
	appName         string
	icon            string
	summary         string
	body            string
	timeout         time.Duration
	antiLeakTimeout time.Duration
	actions         []Action
	hints           *Hints
	fireAndForget   bool

	pushed   bool
	closed   bool
	cleaned  bool
	closedBy Reason
	timer    Timer

	// router subscriptions, nil when detached
	closeSub  func()
	actionSub func()
	replySub  func()

	onAction *emitter[string]
	onClose  *emitter[Reason]
	onReply  *emitter[string]
}

func newNotification(s *Session) *Notification {
	n := &Notification{
		session: s,
		hints:   &Hints{},
		onClose: &emitter[Reason]{},
	}
	n.onAction = &emitter[string]{
		onFirst: func() { n.attach(&n.actionSub, func() func() { return s.router.actions.subscribe(n.handleAction) }) },
		onLast:  func() { n.detach(&n.actionSub) },
	}
	n.onReply = &emitter[string]{
		onFirst: func() { n.attach(&n.replySub, func() func() { return s.router.replied.subscribe(n.handleReply) }) },
		onLast:  func() { n.detach(&n.replySub) },
	}
	return n
}

// attach stores a router subscription in slot unless one is there already
// or the notification has been cleaned up.
func (n *Notification) attach(slot *func(), subscribe func() func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cleaned || *slot != nil {
		return
	}
	*slot = subscribe()
}

func (n *Notification) detach(slot *func()) {
	n.mu.Lock()
	unsubscribe := *slot
	*slot = nil
	n.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// ID is the server assigned id, 0 until the first successful Push.
func (n *Notification) ID() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.id
}

// IsPushed reports whether a Push has succeeded.
func (n *Notification) IsPushed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pushed
}

// IsClosed reports whether the notification was closed, by anyone.
func (n *Notification) IsClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// ClosedBy is the reason given to CloseWithReason, if any.
func (n *Notification) ClosedBy() Reason {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closedBy
}

// Urgency returns the urgency hint, UrgencyNormal when unset.
func (n *Notification) Urgency() Urgency {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.urgency()
}

func (n *Notification) urgency() Urgency {
	v, ok := n.hints.Get(hintUrgency)
	if !ok {
		return UrgencyNormal
	}
	return ParseUrgency(v)
}

// Set updates fields. Changes reach the screen on the next Push.
func (n *Notification) Set(fields Fields) *Notification {
	n.mu.Lock()
	n.apply(fields)
	n.mu.Unlock()
	return n
}

// SetUrgency sets the urgency hint.
func (n *Notification) SetUrgency(u Urgency) *Notification {
	return n.AddHint(HintUrgency(u))
}

// AddAction appends an action, or relabels it when key is already present.
func (n *Notification) AddAction(key, label string) *Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.actions {
		if n.actions[i].Key == key {
			n.actions[i].Label = label
			return n
		}
	}
	n.actions = append(n.actions, Action{Key: key, Label: label})
	return n
}

// AddHint sets a hint, replacing any value already stored under h.ID.
func (n *Notification) AddHint(h Hint) *Notification {
	n.mu.Lock()
	n.hints.Set(h.ID, h.Value)
	n.mu.Unlock()
	return n
}

// RemoveHint drops the hint named id.
func (n *Notification) RemoveHint(id string) *Notification {
	n.mu.Lock()
	n.hints.Delete(id)
	n.mu.Unlock()
	return n
}

// OnAction calls fn with the key of an invoked action. Only the first
// action invoked on this notification is delivered.
//
// Event handlers run on the session's signal goroutine, in signal order.
// They may call into the Session, Reset and Destroy included, but a handler
// that blocks holds up every later event.
func (n *Notification) OnAction(fn func(key string)) (unsubscribe func()) {
	return n.onAction.subscribe(fn)
}

// OnClose calls fn once when the notification closes.
func (n *Notification) OnClose(fn func(reason Reason)) (unsubscribe func()) {
	return n.onClose.subscribe(fn)
}

// OnReply calls fn with the text of an inline reply.
func (n *Notification) OnReply(fn func(text string)) (unsubscribe func()) {
	return n.onReply.subscribe(fn)
}

func (n *Notification) notifyArgs() notifyArgs {
	return notifyArgs{
		AppName:       n.appName,
		ReplacesID:    n.id,
		AppIcon:       n.icon,
		Summary:       n.summary,
		Body:          n.body,
		Actions:       actionPairs(n.actions),
		Hints:         EncodeHints(n.hints),
		ExpireTimeout: int32(n.timeout.Milliseconds()),
	}
}

// Push shows the notification, or updates it when it was pushed before.
//
// Push waits for the session to connect and for the flood controller to
// admit it. It does nothing once the session is destroyed.
func (n *Notification) Push(ctx context.Context) error {
	s := n.session
	for {
		if s.isDestroyed() {
			return nil
		}
		if n.IsClosed() {
			return ErrNotificationClosed
		}
		if err := s.Init(ctx); err != nil {
			return err
		}

		release, err := s.flood.admit(ctx)
		if errors.Is(err, ErrSessionDestroyed) {
			return nil
		}
		if err != nil {
			return err
		}

		conn, gen, ok := s.acquire()
		if !ok {
			// Reset while we were queued.
			release()
			continue
		}

		n.mu.Lock()
		if n.closed {
			// Closed while queued.
			n.mu.Unlock()
			s.calls.RUnlock()
			release()
			return ErrNotificationClosed
		}
		args := n.notifyArgs()
		n.mu.Unlock()

		id, err := sendNotification(ctx, conn, args)
		if err != nil {
			s.calls.RUnlock()
			release()
			s.metrics.pushFailed()
			s.log.Debug().Err(err).Str("summary", args.Summary).Msg("push failed")
			return err
		}
		outcome := n.markPushed(id, gen)
		if outcome == pushClosed {
			if err := closeNotification(ctx, conn, id); err != nil {
				s.log.Warn().Err(err).Uint32("id", id).Msg("closing notification closed during push")
			}
		}
		s.calls.RUnlock()
		release()
		s.metrics.pushSucceeded()

		if outcome == pushUntracked {
			// Drop the connection if nothing is left to watch on it, so it does not keep the process busy.
			s.resetIfIdle(gen)
		}
		return nil
	}
}

type pushOutcome int

const (
	pushTracked pushOutcome = iota
	// fire-and-forget
	pushUntracked
	// cleaned up while the Notify call was in flight
	pushClosed
)

// markPushed records a successful Notify call. The caller still holds s.calls
// shared, so the notification is registered before any reset can look.
func (n *Notification) markPushed(id uint32, gen uint64) pushOutcome {
	s := n.session

	n.mu.Lock()
	n.id = id
	n.pushed = true
	if n.cleaned {
		// Close ran before the id was known; the caller closes it remotely.
		n.mu.Unlock()
		s.log.Debug().Uint32("id", id).Msg("notification closed during push")
		return pushClosed
	}
	if n.fireAndForget {
		// Act as if it was closed already.
		n.closed = true
		n.cleaned = true
		subs := n.takeSubs()
		n.mu.Unlock()

		unsubscribeAll(subs)
		n.onAction.clear()
		n.onReply.clear()
		n.onClose.clear()
		s.removeLive(n)
		s.log.Debug().Uint32("id", id).Msg("notification sent")
		return pushUntracked
	}

	if n.closeSub == nil {
		n.closeSub = s.router.closed.subscribe(n.handleClose)
	}
	timeout := n.antiLeakTimeout
	if timeout <= 0 {
		timeout = s.antiLeakTimeout(n.urgency())
	}
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = s.clock.AfterFunc(timeout, n.antiLeak)
	n.mu.Unlock()

	s.addLive(n, gen)
	s.log.Debug().Uint32("id", id).Dur("antiLeak", timeout).Msg("notification pushed")
	return pushTracked
}

func (n *Notification) antiLeak() {
	if err := n.CloseWithReason(context.Background(), ReasonAntiLeak); err != nil {
		n.session.log.Warn().Err(err).Uint32("id", n.ID()).Msg("anti-leak close failed")
	}
}

// Close removes the notification from the screen.
func (n *Notification) Close(ctx context.Context) error {
	return n.CloseWithReason(ctx, "")
}

// CloseWithReason closes the notification and reports reason to OnClose
// listeners instead of the reason given by the server.
// Closing an already closed notification does nothing.
func (n *Notification) CloseWithReason(ctx context.Context, reason Reason) error {
	s := n.session
	if n.IsClosed() || s.isDestroyed() {
		return nil
	}

	n.mu.Lock()
	if reason != "" {
		n.closedBy = reason
	}
	pushed := n.pushed
	id := n.id
	n.mu.Unlock()

	if !pushed {
		// A first Push may be in flight. Whichever of cleanup and markPushed
		// comes second closes the notification remotely.
		shownID, shown := n.cleanup()
		if !shown {
			return nil
		}
		id = shownID
	}

	err := s.withConn(ctx, func(conn Conn) error {
		return closeNotification(ctx, conn, id)
	})

	// The NotificationClosed signal usually beats the reply; cleanup runs once either way.
	n.cleanup()
	return err
}

func (n *Notification) handleClose(sig *NotificationClosedSignal) {
	n.mu.Lock()
	if n.id == 0 || sig.ID != n.id || n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	reason := sig.Reason
	if n.closedBy != "" {
		reason = n.closedBy
	}
	unsubscribe := n.closeSub
	n.closeSub = nil
	n.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	n.session.metrics.notificationClosed(reason)
	n.onClose.emit(reason)
	n.cleanup()
}

func (n *Notification) handleAction(sig *ActionInvokedSignal) {
	n.mu.Lock()
	match := n.id != 0 && sig.ID == n.id
	n.mu.Unlock()
	if !match {
		return
	}
	n.detach(&n.actionSub)
	n.onAction.emit(sig.ActionKey)
}

func (n *Notification) handleReply(sig *NotificationRepliedSignal) {
	n.mu.Lock()
	match := n.id != 0 && sig.ID == n.id
	n.mu.Unlock()
	if !match {
		return
	}
	n.detach(&n.replySub)
	n.onReply.emit(sig.Text)
}

// cleanup is the terminal step: it runs once, marks the notification
// closed, stops the watchdog and drops every listener. The first call
// reports the id and whether a Push had already succeeded at that point.
func (n *Notification) cleanup() (id uint32, pushed bool) {
	n.mu.Lock()
	if n.cleaned {
		n.mu.Unlock()
		return 0, false
	}
	n.cleaned = true
	id, pushed = n.id, n.pushed
	emitClose := !n.closed
	reason := n.closedBy
	if reason == "" {
		reason = ReasonClosedByCall
	}
	n.closed = true
	subs := n.takeSubs()
	n.mu.Unlock()

	unsubscribeAll(subs)
	if emitClose {
		n.session.metrics.notificationClosed(reason)
		n.onClose.emit(reason)
	}
	n.onAction.clear()
	n.onReply.clear()
	n.onClose.clear()
	n.session.removeLive(n)
	return id, pushed
}

// takeSubs detaches every router subscription and stops the watchdog.
// The caller holds n.mu and must release the returned subscriptions.
func (n *Notification) takeSubs() []func() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	subs := []func(){n.closeSub, n.actionSub, n.replySub}
	n.closeSub, n.actionSub, n.replySub = nil, nil, nil
	return subs
}

func unsubscribeAll(subs []func()) {
	for _, unsubscribe := range subs {
		if unsubscribe != nil {
			unsubscribe()
		}
	}
}

// destroy forgets the notification during a session reset: no close event,
// no remote call. Action and reply listeners stay attached to the router,
// which outlives the connection.
func (n *Notification) destroy() {
	n.mu.Lock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	unsubscribe := n.closeSub
	n.closeSub = nil
	n.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

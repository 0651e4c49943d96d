package notify

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	dbusObjectPath             = "/org/freedesktop/Notifications" // the DBUS object path
	dbusNotificationsInterface = "org.freedesktop.Notifications"  // DBUS Interface
	signalNotificationClosed   = "org.freedesktop.Notifications.NotificationClosed"
	signalActionInvoked        = "org.freedesktop.Notifications.ActionInvoked"
	signalNotificationReplied  = "org.freedesktop.Notifications.NotificationReplied"
	callGetCapabilities        = "org.freedesktop.Notifications.GetCapabilities"
	callCloseNotification      = "org.freedesktop.Notifications.CloseNotification"
	callNotify                 = "org.freedesktop.Notifications.Notify"
	callGetServerInformation   = "org.freedesktop.Notifications.GetServerInformation"

	channelBufferSize = 10
)

// Conn is the bus session handle the Session talks through.
// Calls are addressed to the org.freedesktop.Notifications object and
// signals from that object are delivered to every registered channel.
type Conn interface {
	Call(ctx context.Context, method string, args ...interface{}) *dbus.Call
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Close() error
}

// Dialer opens a Conn. A Session dials lazily on first use and again after every Reset.
type Dialer func(ctx context.Context) (Conn, error)

// busConn implements Conn on a private session bus connection.
type busConn struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// DialSessionBus connects to the session bus and subscribes to the signals
// of the notifications object. It is the default Dialer.
func DialSessionBus(ctx context.Context) (Conn, error) {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("notify: connect session bus: %w", err)
	}

	// add a listener in dbus for signals to Notification interface.
	err = conn.AddMatchSignal(
		dbus.WithMatchObjectPath(dbusObjectPath),
		dbus.WithMatchInterface(dbusNotificationsInterface),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: add signal match: %w", err)
	}

	return &busConn{
		conn: conn,
		obj:  conn.Object(dbusNotificationsInterface, dbusObjectPath),
	}, nil
}

func (c *busConn) Call(ctx context.Context, method string, args ...interface{}) *dbus.Call {
	return c.obj.CallWithContext(ctx, method, 0, args...)
}

func (c *busConn) Signal(ch chan<- *dbus.Signal) {
	c.conn.Signal(ch)
}

func (c *busConn) RemoveSignal(ch chan<- *dbus.Signal) {
	c.conn.RemoveSignal(ch)
}

func (c *busConn) Close() error {
	// The match goes away with the connection anyway, an error here is not interesting.
	_ = c.conn.RemoveMatchSignal(
		dbus.WithMatchObjectPath(dbusObjectPath),
		dbus.WithMatchInterface(dbusNotificationsInterface),
	)
	return c.conn.Close()
}

// notifyArgs holds the positional arguments of a Notify call.
type notifyArgs struct {
	AppName       string
	ReplacesID    uint32
	AppIcon       string
	Summary       string
	Body          string
	Actions       []string
	Hints         []TypedHint
	ExpireTimeout int32
}

// sendNotification issues the Notify call.
//
//	UINT32 org.freedesktop.Notifications.Notify (
//	    STRING app_name,
//	    UINT32 replaces_id,
//	    STRING app_icon,
//	    STRING summary,
//	    STRING body,
//	    ARRAY  actions,
//	    DICT   hints,
//	    INT32  expire_timeout
//	);
//
// If replaces_id is 0, the return value is a UINT32 that represent the notification.
// It is unique, and will not be reused unless a MAXINT number of notifications have been generated.
// The returned ID is always greater than zero.
// If replaces_id is not 0, the returned value is the same value as replaces_id.
func sendNotification(ctx context.Context, conn Conn, args notifyArgs) (uint32, error) {
	if len(args.Actions)%2 != 0 {
		return 0, ErrInvalidActions
	}
	call := conn.Call(ctx, callNotify,
		args.AppName,
		args.ReplacesID,
		args.AppIcon,
		args.Summary,
		args.Body,
		args.Actions,
		hintVariants(args.Hints),
		args.ExpireTimeout)
	if call.Err != nil {
		return 0, call.Err
	}
	var ret uint32
	if err := call.Store(&ret); err != nil {
		return 0, fmt.Errorf("notify: read %v reply: %w", callNotify, err)
	}
	return ret, nil
}

// closeNotification causes a notification to be forcefully closed and removed from the user's view.
//
// The NotificationClosed signal is emitted by the server for it.
// If the notification no longer exists, an empty D-BUS Error message is sent back.
func closeNotification(ctx context.Context, conn Conn, id uint32) error {
	return conn.Call(ctx, callCloseNotification, id).Err
}

// ServerInformation is a holder for information returned by
// GetServerInformation call.
type ServerInformation struct {
	Name        string
	Vendor      string
	Version     string
	SpecVersion string
}

// getServerInformation returns the information on the server.
//
//	GetServerInformation Return Values
//
//	Name         Type    Description
//	name         STRING  The product name of the server.
//	vendor       STRING  The vendor name. For example, "KDE," "GNOME," "freedesktop.org," or "Microsoft."
//	version      STRING  The server's version number.
//	spec_version STRING  The specification version the server is compliant with.
func getServerInformation(ctx context.Context, conn Conn) (ServerInformation, error) {
	call := conn.Call(ctx, callGetServerInformation)
	if call.Err != nil {
		return ServerInformation{}, call.Err
	}
	ret := ServerInformation{}
	err := call.Store(&ret.Name, &ret.Vendor, &ret.Version, &ret.SpecVersion)
	if err != nil {
		return ServerInformation{}, fmt.Errorf("notify: read %v reply: %w", callGetServerInformation, err)
	}
	return ret, nil
}

// getCapabilities returns the optional capabilities implemented by the server,
// e.g. "actions", "body-markup", "persistence", "inline-reply".
func getCapabilities(ctx context.Context, conn Conn) ([]string, error) {
	call := conn.Call(ctx, callGetCapabilities)
	if call.Err != nil {
		return nil, call.Err
	}
	var ret []string
	if err := call.Store(&ret); err != nil {
		return nil, fmt.Errorf("notify: read %v reply: %w", callGetCapabilities, err)
	}
	return ret, nil
}

// NotificationClosedSignal holds data for *Closed callbacks from Notifications Interface.
type NotificationClosedSignal struct {
	ID     uint32
	Reason Reason
}

// ActionInvokedSignal holds callback data from any Actions passed to Notification
type ActionInvokedSignal struct {
	ID        uint32
	ActionKey string
}

// NotificationRepliedSignal carries the text typed into an inline reply field.
// Only servers announcing the "inline-reply" capability send it.
type NotificationRepliedSignal struct {
	ID   uint32
	Text string
}

// Reason for the closed notification
type Reason string

const (
	// ReasonExpired when a notification expired
	ReasonExpired Reason = "timeout"

	// ReasonDismissedByUser when a notification has been dismissed by a user
	ReasonDismissedByUser Reason = "user"

	// ReasonClosedByCall when a notification has been closed by a call to CloseNotification
	ReasonClosedByCall Reason = "client"

	// ReasonUndefined when as notification has been closed for an undefined reason
	ReasonUndefined Reason = "reserved"

	// ReasonAntiLeak when the watchdog closed a notification the server never reported as closed
	ReasonAntiLeak Reason = "antiLeak"
)

var closedBy = [...]Reason{
	"",
	ReasonExpired,
	ReasonDismissedByUser,
	ReasonClosedByCall,
	ReasonUndefined,
}

// reasonFromCode maps the NotificationClosed reason code to a Reason.
func reasonFromCode(code uint32) Reason {
	if int(code) < len(closedBy) {
		return closedBy[code]
	}
	return ReasonUndefined
}

func (r Reason) String() string {
	return string(r)
}

/*
The notify package is a client for the freedesktop.org notification service
over the D-Bus session bus.
See: https://specifications.freedesktop.org/notification-spec/latest/ and
https://github.com/godbus/dbus

A Session owns one shared bus connection, dialed on first use. Notifications
are created from a Session, pushed, updated by pushing again and closed:

	s := notify.New(notify.WithAppName("mail-watcher"))
	defer s.Destroy()

	n := s.NewNotification(notify.Fields{
		"summary": "New mail",
		"body":    "3 unread messages",
		"actions": []notify.Action{{Key: "open", Label: "Open"}},
	})
	n.OnAction(func(key string) { ... })
	n.OnClose(func(r notify.Reason) { ... })
	err := n.Push(ctx)

Each notification displayed is allocated a unique ID by the server.
This ID unique within the dbus session. While the notification server is running,
the ID will not be recycled unless the capacity of a uint32 is exceeded.
Close and action signals are routed back to the notification carrying that ID.

A pushed notification keeps listening for its close signal. If the server
never sends one, a watchdog closes it with ReasonAntiLeak after 30 seconds,
or 10 minutes for critical urgency, so listeners and timers are not leaked.
Fire-and-forget notifications skip all of that.

SetUnflood turns on flood control: Notify calls are serialized and queued
pushes are released at a throttled pace. Purge lets the whole queue through.
*/
package notify

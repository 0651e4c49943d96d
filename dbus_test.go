//go:build linux

package notify

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionBus(t *testing.T) {
	// Skip if no D-Bus session (CI environment)
	if os.Getenv("DBUS_SESSION_BUS_ADDRESS") == "" {
		t.Skip("no D-Bus session available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := New(WithAppName("desknotify-test"))
	defer s.Destroy()

	caps, err := s.GetCapabilities(ctx)
	if err != nil {
		t.Skipf("no notification server: %v", err)
	}
	t.Logf("capabilities: %v", caps)

	n := s.NewNotification(Fields{
		FieldSummary: "desknotify test",
		FieldBody:    "Test notification from unit test",
		FieldTimeout: time.Second,
		FieldUrgency: UrgencyLow,
	})
	require.NoError(t, n.Push(ctx))
	require.NotZero(t, n.ID())

	// Replace it
	id := n.ID()
	n.Set(Fields{FieldBody: "replaced"})
	require.NoError(t, n.Push(ctx))
	require.Equal(t, id, n.ID())

	require.NoError(t, n.Close(ctx))
	require.True(t, n.IsClosed())
}

package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"btplive/internal/models"
)

func TestPresence_RosterReplacesWholesale(t *testing.T) {
	p := NewPresence(nil)

	p.OnRosterUpdate([]models.PresenceEntry{
		{UserID: "u1", UserName: "Alice"},
		{UserID: "u2", UserName: "Bob"},
	})
	require.Equal(t, 2, p.Count())

	p.OnRosterUpdate([]models.PresenceEntry{{UserID: "u3", UserName: "Chloé"}})
	require.Equal(t, 1, p.Count())
	require.False(t, p.IsOnline("u1"))
	require.True(t, p.IsOnline("u3"))

	p.OnRosterUpdate(nil)
	require.Zero(t, p.Count())
}

func TestPresence_DuplicateIDsKeepFirst(t *testing.T) {
	p := NewPresence(nil)
	p.OnRosterUpdate([]models.PresenceEntry{
		{UserID: "u1", UserName: "Alice"},
		{UserID: "u1", UserName: "Alice (mobile)"},
	})

	roster := p.Roster()
	require.Len(t, roster, 1)
	require.Equal(t, "Alice", roster[0].UserName)
}

func TestPresence_ListenerGetsCopy(t *testing.T) {
	p := NewPresence(nil)
	var got []models.PresenceEntry
	p.OnChange(func(r []models.PresenceEntry) {
		got = r
		if len(r) > 0 {
			r[0].UserName = "mutated"
		}
	})

	p.OnRosterUpdate([]models.PresenceEntry{{UserID: "u1", UserName: "Alice"}})
	require.Len(t, got, 1)
	require.Equal(t, "Alice", p.Roster()[0].UserName)
}

func TestPresence_ResetOnConnectionChange(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{dial: func(int) (Conn, error) { return conn, nil }}
	m := newTestManager(d)
	p := NewPresence(nil)
	p.Attach(m)

	require.NoError(t, m.Connect(context.Background(), "token"))
	conn.push(models.EventUsersOnlineList, []models.PresenceEntry{
		{UserID: "u1", UserName: "Alice"},
		{UserID: "u2", UserName: "Bob"},
	})
	require.Eventually(t, func() bool { return p.Count() == 2 }, time.Second, 5*time.Millisecond)

	m.Disconnect()
	require.Zero(t, p.Count())
}

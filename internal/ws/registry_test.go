package ws

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roomIDs(conns []Connection) []string {
	ids := make([]string, len(conns))
	for i, c := range conns {
		ids[i] = c.ID
	}
	return ids
}

func TestRegistry_AttachDetach(t *testing.T) {
	r := NewRegistry()
	a := r.Register(&fakeSender{})
	b := r.Register(&fakeSender{})

	conn, ok := r.Get(a)
	require.True(t, ok)
	assert.Empty(t, conn.RoomCode)
	assert.Empty(t, conn.ParticipantID)
	assert.False(t, conn.CreatedAt.IsZero())

	assert.True(t, r.Attach(a, "p1", "ROOM01", true))
	assert.True(t, r.Attach(b, "p2", "ROOM01", false))
	assert.ElementsMatch(t, []string{a, b}, roomIDs(r.ConnectionsInRoom("ROOM01")))

	// Re-attaching moves the connection.
	assert.True(t, r.Attach(b, "p2", "ROOM02", false))
	assert.Equal(t, []string{a}, roomIDs(r.ConnectionsInRoom("ROOM01")))
	assert.Equal(t, []string{b}, roomIDs(r.ConnectionsInRoom("ROOM02")))

	pid, code, ok := r.Detach(a)
	require.True(t, ok)
	assert.Equal(t, "p1", pid)
	assert.Equal(t, "ROOM01", code)
	assert.Empty(t, r.ConnectionsInRoom("ROOM01"))

	// Detach is terminal.
	assert.False(t, r.Attach(a, "p1", "ROOM01", false))
	_, _, ok = r.Detach(a)
	assert.False(t, ok)
	assert.Empty(t, r.ConnectionsInRoom("ROOM01"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_AttachUnknown(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Attach("missing", "p1", "ROOM01", false))
	assert.Empty(t, r.ConnectionsInRoom("ROOM01"))
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	r := NewRegistry()
	a := r.Register(&fakeSender{})
	r.Attach(a, "p1", "ROOM01", false)

	snap := r.ConnectionsInRoom("ROOM01")
	r.Attach(a, "p9", "ROOM02", true)
	r.Detach(a)

	require.Len(t, snap, 1)
	assert.Equal(t, "p1", snap[0].ParticipantID)
	assert.Equal(t, "ROOM01", snap[0].RoomCode)
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	ids := make([]string, 100)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = r.Register(&fakeSender{})
			r.Attach(ids[i], fmt.Sprintf("p%d", i), fmt.Sprintf("ROOM%02d", i%4), false)
			_ = r.ConnectionsInRoom("ROOM00")
		}(i)
	}
	wg.Wait()

	total := 0
	for i := 0; i < 4; i++ {
		total += len(r.ConnectionsInRoom(fmt.Sprintf("ROOM%02d", i)))
	}
	assert.Equal(t, 100, total)

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.Detach(id)
		}(id)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.ConnectionsInRoom("ROOM00"))
}

package push

import (
	"fmt"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-service/internal/logging"
)

func TestAddConnectionRejectsOverCap(t *testing.T) {
	m := NewManager(logging.NewNop())

	conns := make([]*websocket.Conn, maxConnectionsPerPatient)
	for i := range conns {
		conns[i] = new(websocket.Conn)
		require.True(t, m.AddConnection("pat-1", conns[i]), "connection %d", i)
	}

	extra := new(websocket.Conn)
	assert.False(t, m.AddConnection("pat-1", extra))

	// A different patient is unaffected by pat-1's cap.
	assert.True(t, m.AddConnection("pat-2", new(websocket.Conn)))

	// Dropping one frees a slot.
	m.RemoveConnection("pat-1", conns[0])
	assert.True(t, m.AddConnection("pat-1", extra))
}

func TestRemoveConnectionClearsEmptyPatient(t *testing.T) {
	m := NewManager(logging.NewNop())
	conn := new(websocket.Conn)
	require.True(t, m.AddConnection("pat-1", conn))

	m.RemoveConnection("pat-1", conn)

	m.mutex.Lock()
	_, exists := m.connections["pat-1"]
	m.mutex.Unlock()
	assert.False(t, exists)

	// Removing again or for an unknown patient is harmless.
	m.RemoveConnection("pat-1", conn)
	m.RemoveConnection("pat-9", conn)
}

func TestAddConnectionCountsPerPatient(t *testing.T) {
	m := NewManager(logging.NewNop())
	for i := 0; i < maxConnectionsPerPatient; i++ {
		id := fmt.Sprintf("pat-%d", i)
		assert.True(t, m.AddConnection(id, new(websocket.Conn)))
		assert.True(t, m.AddConnection(id, new(websocket.Conn)))
	}
}

// Package push streams reminder and escalation events to connected
// dashboard clients over WebSocket.
package push

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"reminder-service/internal/logging"
)

// Event is one live update pushed to a patient's dashboard sessions.
type Event struct {
	Type         string    `json:"type"` // reminder_sent, escalation, occurrence_updated
	OccurrenceID string    `json:"occurrence_id,omitempty"`
	MedicationID string    `json:"medication_id,omitempty"`
	Level        int       `json:"level,omitempty"`
	Status       string    `json:"status,omitempty"`
	At           time.Time `json:"at"`
}

// Manager tracks WebSocket connections per patient.
type Manager struct {
	connections map[string]map[*websocket.Conn]bool // patientID -> set of connections
	mutex       sync.Mutex
	logger      *logging.Logger
}

func NewManager(logger *logging.Logger) *Manager {
	return &Manager{
		connections: make(map[string]map[*websocket.Conn]bool),
		logger:      logger,
	}
}

// maxConnectionsPerPatient caps concurrent dashboard sessions.
const maxConnectionsPerPatient = 10

// AddConnection registers a connection for a patient. It returns false
// when the patient is at the connection cap; the caller must close the
// rejected connection, since nothing will ever be delivered on it.
func (m *Manager) AddConnection(patientID string, conn *websocket.Conn) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, exists := m.connections[patientID]; !exists {
		m.connections[patientID] = make(map[*websocket.Conn]bool)
	}
	if len(m.connections[patientID]) >= maxConnectionsPerPatient {
		m.logger.Warnf("Max connections reached for patient %s, rejecting new connection", patientID)
		return false
	}
	m.connections[patientID][conn] = true
	m.logger.Infof("Added WebSocket connection for patient %s (total: %d)", patientID, len(m.connections[patientID]))
	return true
}

// RemoveConnection drops a connection for a patient.
func (m *Manager) RemoveConnection(patientID string, conn *websocket.Conn) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if conns, exists := m.connections[patientID]; exists {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(m.connections, patientID)
		}
		m.logger.Infof("Removed WebSocket connection for patient %s (remaining: %d)", patientID, len(conns))
	}
}

// SendToPatient pushes an event to every connection of a patient.
// Connections that fail to write are dropped.
func (m *Manager) SendToPatient(patientID string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		m.logger.Errorf("Failed to encode push event for patient %s: %v", patientID, err)
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if conns, exists := m.connections[patientID]; exists {
		for conn := range conns {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				m.logger.Errorf("Failed to push event to patient %s: %v", patientID, err)
				delete(conns, conn)
			}
		}
		if len(conns) == 0 {
			delete(m.connections, patientID)
		}
	}
}

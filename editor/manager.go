package editor

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager hands out one live workflow per user. The working image never
// outlives its workflow and is never shared between users.
type Manager struct {
	mu    sync.Mutex
	gen   Generator
	flows map[string]*Workflow
}

// NewManager returns a manager that backs new workflows with gen.
func NewManager(gen Generator) *Manager {
	return &Manager{
		gen:   gen,
		flows: make(map[string]*Workflow),
	}
}

// Get returns the user's workflow, creating one in upload mode on first use.
func (m *Manager) Get(userID string) *Workflow {
	m.mu.Lock()
	defer m.mu.Unlock()

	flow, ok := m.flows[userID]
	if !ok {
		flow = NewWorkflow(m.gen)
		m.flows[userID] = flow
		logrus.WithField("user_id", userID).Debug("Created editor workflow")
	}
	return flow
}

// Drop retires the user's workflow, typically on logout. Safe to call when
// no workflow exists.
func (m *Manager) Drop(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	flow, ok := m.flows[userID]
	if !ok {
		return
	}
	flow.Reset()
	delete(m.flows, userID)
	logrus.WithField("user_id", userID).Debug("Dropped editor workflow")
}

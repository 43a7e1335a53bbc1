package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

// Manager holds an ordered, replaceable middleware chain mounted on the
// engine as a single handler.
type Manager struct {
	mu   sync.RWMutex
	mids []gin.HandlerFunc
}

func NewManager(h ...gin.HandlerFunc) *Manager {
	return &Manager{mids: h}
}

func (m *Manager) Add(h ...gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = append(m.mids, h...)
}

func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.mids)
}

// Use runs a snapshot of the chain, stopping at the first handler that aborts.
func (m *Manager) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		handlers := append([]gin.HandlerFunc{}, m.mids...)
		m.mu.RUnlock()

		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}

package jobs

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kaloper/douyin-fetch/pkg/log"
)

// Manager keeps the identifier-keyed task registry, gates concurrent
// execution and evicts jobs past their retention window.
type Manager struct {
	mu        sync.RWMutex
	tasks     map[string]Task
	retention time.Duration
}

func NewManager(retention time.Duration) *Manager {
	return &Manager{
		tasks:     make(map[string]Task),
		retention: retention,
	}
}

// Register inserts a task. Identifier uniqueness is the caller's job: a
// fresh id is minted per submission.
func (m *Manager) Register(task Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID()] = task
}

// GetJob returns a snapshot of the job, or false once evicted or never
// registered.
func (m *Manager) GetJob(id string) (Job, bool) {
	m.mu.RLock()
	task, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return Job{}, false
	}
	return task.Snapshot(), true
}

// RunTask executes a registered task under the shared admission gate,
// blocking until a slot frees. Unknown identifiers are tolerated with a
// warning. Every run is followed by a retention sweep.
func (m *Manager) RunTask(ctx context.Context, id string, gate *semaphore.Weighted) {
	m.mu.RLock()
	task, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		log.Warn("Task %s not found when trying to run", id)
		return
	}

	if err := gate.Acquire(ctx, 1); err != nil {
		log.Warn("Task %s gave up waiting for a slot: %v", id, err)
		return
	}
	log.Info("Task %s acquired slot, starting...", id)
	task.Run(ctx)
	gate.Release(1)

	m.Cleanup()
}

// Cleanup evicts every job older than the retention window. It runs
// opportunistically after each task, so under light load stale jobs linger
// until the next run; retention is best-effort, not an SLA.
func (m *Manager) Cleanup() {
	now := time.Now()

	m.mu.Lock()
	expired := make([]string, 0)
	for id, task := range m.tasks {
		if now.Sub(task.Snapshot().CreatedAt) > m.retention {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(m.tasks, id)
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		log.Info("Evicted %d expired tasks: %v", len(expired), expired)
	}
}

package observability

import (
	"sync"
	"time"
)

type Role string

const (
	RoleIdle      Role = "IDLE"
	RoleConductor Role = "CONDUCTOR"
	RolePlanner   Role = "PLANNER"
	RoleWorker    Role = "WORKER"
	RoleScheduler Role = "SCHEDULER"
)

type SystemStatus struct {
	mu            sync.RWMutex
	CurrentRole   Role
	ActiveTask    string
	InFlight      int
	LastHeartbeat time.Time
}

var globalStatus = &SystemStatus{
	CurrentRole:   RoleIdle,
	LastHeartbeat: time.Now(),
}

// SetStatus updates the global system status.
func SetStatus(role Role, task string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.CurrentRole = role
	globalStatus.ActiveTask = task
}

// BeginRequest marks one more inbound request in flight and returns the
// matching completion func.
func BeginRequest() func() {
	globalStatus.mu.Lock()
	globalStatus.InFlight++
	globalStatus.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			globalStatus.mu.Lock()
			defer globalStatus.mu.Unlock()
			globalStatus.InFlight--
			if globalStatus.InFlight == 0 {
				globalStatus.CurrentRole = RoleIdle
				globalStatus.ActiveTask = ""
			}
		})
	}
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() (Role, string, int, time.Time) {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.CurrentRole, globalStatus.ActiveTask, globalStatus.InFlight, globalStatus.LastHeartbeat
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}

package mission

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Registry guarantees exactly one Controller per mission id. Multiple
// surfaces observing the same mission share the instance instead of
// running divergent state machines.
type Registry struct {
	mu          sync.Mutex
	controllers map[string]*Controller
	canceller   Canceller
}

// NewRegistry creates an empty registry. The canceller is injected into
// every controller the registry creates.
func NewRegistry(canceller Canceller) *Registry {
	return &Registry{
		controllers: make(map[string]*Controller),
		canceller:   canceller,
	}
}

// GetOrCreate returns the controller for missionID, creating it on first
// use. The budget limit is only applied at creation; later callers share
// whatever instance already exists.
func (r *Registry) GetOrCreate(missionID string, budgetLimit decimal.Decimal) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[missionID]; ok {
		return c
	}
	c := NewController(missionID, budgetLimit, r.canceller)
	r.controllers[missionID] = c
	return c
}

// Get returns the controller for missionID, or nil if none exists.
func (r *Registry) Get(missionID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controllers[missionID]
}

// Remove discards the controller for missionID. Called when the mission
// reaches a terminal state or its owning view is torn down.
func (r *Registry) Remove(missionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.controllers, missionID)
}

// Len returns the number of live controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

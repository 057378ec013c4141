package rollback

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrAlreadyRunning is returned when a run is requested for a target that
// already has one in flight.
var ErrAlreadyRunning = errors.New("rollback already running for target")

// Registry enforces at most one in-flight run per (siteName, sitePath)
// target. Acquire hands back a release closure so release-on-every-exit-path
// is a single deferred call, not a branch-by-branch obligation.
type Registry struct {
	mu     sync.Mutex
	active map[string]uuid.UUID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]uuid.UUID)}
}

// Acquire claims the target for runID. The returned release function is
// idempotent and must be called on every exit path of the run.
func (g *Registry) Acquire(siteName, sitePath string, runID uuid.UUID) (func(), error) {
	key := siteName + "|" + sitePath

	g.mu.Lock()
	defer g.mu.Unlock()

	if holder, ok := g.active[key]; ok {
		return nil, errors.Wrapf(ErrAlreadyRunning, "site %q held by run %s", siteName, holder)
	}
	g.active[key] = runID

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			delete(g.active, key)
		})
	}
	return release, nil
}

// Active reports whether the target currently has a run in flight.
func (g *Registry) Active(siteName, sitePath string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[siteName+"|"+sitePath]
	return ok
}

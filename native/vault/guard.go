package vault

import (
	"sync"

	"stakevault/crypto"
)

// GuardConfig bounds admission to the vault.
type GuardConfig struct {
	// MaxConcurrent caps leases held system-wide. Zero means unlimited.
	MaxConcurrent int `yaml:"max_concurrent"`
	// Exclusive admits a single lease across all principals.
	Exclusive bool `yaml:"exclusive"`
}

// Guard admits at most one in-flight operation per principal. A lease is held
// across every ledger call a handler makes.
type Guard struct {
	cfg GuardConfig

	mu     sync.Mutex
	active map[crypto.Address]struct{}
}

// NewGuard constructs a guard with the supplied limits.
func NewGuard(cfg GuardConfig) *Guard {
	return &Guard{cfg: cfg, active: make(map[crypto.Address]struct{})}
}

// Lease is the admission token returned by Acquire.
type Lease struct {
	guard     *Guard
	principal crypto.Address
	once      sync.Once
}

// Acquire admits principal or reports ErrBusy. A full concurrency ceiling
// reports ErrTooManyConcurrentRequests.
func (g *Guard) Acquire(principal crypto.Address) (*Lease, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.active[principal]; held {
		return nil, ErrBusy
	}
	if g.cfg.Exclusive && len(g.active) > 0 {
		return nil, ErrBusy
	}
	if g.cfg.MaxConcurrent > 0 && len(g.active) >= g.cfg.MaxConcurrent {
		return nil, ErrTooManyConcurrentRequests
	}
	g.active[principal] = struct{}{}
	return &Lease{guard: g, principal: principal}, nil
}

// Release returns the lease. Repeated calls are no-ops.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.guard.mu.Lock()
		delete(l.guard.active, l.principal)
		l.guard.mu.Unlock()
	})
}

// Held reports whether principal currently holds a lease.
func (g *Guard) Held(principal crypto.Address) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[principal]
	return ok
}

// Active returns the number of outstanding leases.
func (g *Guard) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}

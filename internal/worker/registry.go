package worker

import (
	"sync"

	"BatchSend/internal/models"
)

// Registry is the authority on which batches are live in this process.
// Stopped dispatchers stay visible as draining until their teardown ends.
type Registry struct {
	mu       sync.Mutex
	live     map[string]map[string]*Dispatcher
	draining map[string]map[string]*Dispatcher
}

func NewRegistry() *Registry {
	return &Registry{
		live:     make(map[string]map[string]*Dispatcher),
		draining: make(map[string]map[string]*Dispatcher),
	}
}

// Spawn registers d and starts it. It returns false, leaving d idle, when
// the batch already has a live or draining dispatcher.
func (r *Registry) Spawn(d *Dispatcher) bool {
	if !r.Register(d) {
		return false
	}
	d.Start(r.exited)
	return true
}

// Register inserts d unless the batch is already present.
func (r *Registry) Register(d *Dispatcher) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lookup(r.live, d.Tenant(), d.BatchID()) != nil || lookup(r.draining, d.Tenant(), d.BatchID()) != nil {
		return false
	}
	insert(r.live, d)
	return true
}

func (r *Registry) Get(tenant, batchID string) (*Dispatcher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := lookup(r.live, tenant, batchID)
	return d, d != nil
}

// Busy reports whether a dispatcher for the batch is live or still tearing
// down.
func (r *Registry) Busy(tenant, batchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lookup(r.live, tenant, batchID) != nil || lookup(r.draining, tenant, batchID) != nil
}

// UnregisterAndStop removes the live dispatcher and stops it with status.
func (r *Registry) UnregisterAndStop(tenant, batchID string, status models.BatchStatus) (*Dispatcher, bool) {
	r.mu.Lock()
	d := lookup(r.live, tenant, batchID)
	if d == nil {
		r.mu.Unlock()
		return nil, false
	}
	remove(r.live, d)
	insert(r.draining, d)
	r.mu.Unlock()

	d.Stop(status)
	return d, true
}

// ForTenant lists a tenant's live dispatchers.
func (r *Registry) ForTenant(tenant string) []*Dispatcher {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Dispatcher, 0, len(r.live[tenant]))
	for _, d := range r.live[tenant] {
		out = append(out, d)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, m := range r.live {
		n += len(m)
	}
	return n
}

// StopAll stops every live dispatcher with status and returns them so the
// caller can wait on Done.
func (r *Registry) StopAll(status models.BatchStatus) []*Dispatcher {
	r.mu.Lock()
	var all []*Dispatcher
	for _, m := range r.live {
		for _, d := range m {
			all = append(all, d)
		}
	}
	for _, d := range all {
		remove(r.live, d)
		insert(r.draining, d)
	}
	r.mu.Unlock()

	for _, d := range all {
		d.Stop(status)
	}
	return all
}

func (r *Registry) exited(d *Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	remove(r.live, d)
	remove(r.draining, d)
}

func lookup(m map[string]map[string]*Dispatcher, tenant, batchID string) *Dispatcher {
	return m[tenant][batchID]
}

func insert(m map[string]map[string]*Dispatcher, d *Dispatcher) {
	byBatch, ok := m[d.Tenant()]
	if !ok {
		byBatch = make(map[string]*Dispatcher)
		m[d.Tenant()] = byBatch
	}
	byBatch[d.BatchID()] = d
}

// remove deletes d only if it is the entry stored under its key.
func remove(m map[string]map[string]*Dispatcher, d *Dispatcher) {
	byBatch := m[d.Tenant()]
	if byBatch[d.BatchID()] != d {
		return
	}
	delete(byBatch, d.BatchID())
	if len(byBatch) == 0 {
		delete(m, d.Tenant())
	}
}

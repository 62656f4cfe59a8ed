// Package profiles caches tenant SMTP profiles. Every dispatch worker of a
// tenant shares the same *Profile, so a reload is visible to all of them.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"BatchSend/internal/db"
	"BatchSend/internal/models"
)

var (
	ErrMissing    = errors.New("smtp configuration missing")
	ErrUnverified = errors.New("smtp configuration not verified")
)

// Profile is a shared handle to one SMTP profile.
type Profile struct {
	mu sync.RWMutex
	p  models.SMTPProfile
}

func (p *Profile) Snapshot() models.SMTPProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.p
}

// Update replaces the profile in place and reports whether sessions opened
// with the old values must be rebuilt.
func (p *Profile) Update(np models.SMTPProfile) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := !p.p.SameTransport(np)
	p.p = np
	return changed
}

// Usable returns ErrUnverified for an unverified profile.
func (p *Profile) Usable() error {
	if !p.Snapshot().Verified {
		return ErrUnverified
	}
	return nil
}

// Loader reads profiles from durable storage.
type Loader interface {
	GetProfile(ctx context.Context, tenant string, id int64) (models.SMTPProfile, error)
	ListProfiles(ctx context.Context) ([]models.SMTPProfile, error)
}

type Cache struct {
	loader Loader

	mu       sync.RWMutex
	byTenant map[string]map[int64]*Profile
}

func NewCache(loader Loader) *Cache {
	return &Cache{
		loader:   loader,
		byTenant: make(map[string]map[int64]*Profile),
	}
}

// LoadAll primes the cache with every stored profile.
func (c *Cache) LoadAll(ctx context.Context) (int, error) {
	all, err := c.loader.ListProfiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("list smtp profiles: %w", err)
	}
	for _, p := range all {
		c.Put(p)
	}
	return len(all), nil
}

// Put stores p, updating an existing handle in place. The bool reports a
// transport change on an existing handle.
func (c *Cache) Put(p models.SMTPProfile) (*Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tenant, ok := c.byTenant[p.SystemID]
	if !ok {
		tenant = make(map[int64]*Profile)
		c.byTenant[p.SystemID] = tenant
	}
	if existing, ok := tenant[p.ID]; ok {
		return existing, existing.Update(p)
	}
	h := &Profile{p: p}
	tenant[p.ID] = h
	return h, false
}

func (c *Cache) Get(tenant string, id int64) (*Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.byTenant[tenant][id]
	return h, ok
}

// Resolve returns the cached handle, loading it from storage on a miss.
// Only a profile absent from storage is reported as ErrMissing.
func (c *Cache) Resolve(ctx context.Context, tenant string, id int64) (*Profile, error) {
	if h, ok := c.Get(tenant, id); ok {
		return h, nil
	}
	p, err := c.loader.GetProfile(ctx, tenant, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrMissing, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load smtp profile %d: %w", id, err)
	}
	h, _ := c.Put(p)
	return h, nil
}

// Reload refreshes one profile from storage in place.
func (c *Cache) Reload(ctx context.Context, tenant string, id int64) (*Profile, bool, error) {
	p, err := c.loader.GetProfile(ctx, tenant, id)
	if err != nil {
		return nil, false, err
	}
	h, changed := c.Put(p)
	return h, changed, nil
}

func (c *Cache) Remove(tenant string, id int64) (*Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.byTenant[tenant][id]
	if !ok {
		return nil, false
	}
	delete(c.byTenant[tenant], id)
	if len(c.byTenant[tenant]) == 0 {
		delete(c.byTenant, tenant)
	}
	return h, true
}

// Package lease provides the admission gates that let at most one pipeline
// run per key (or per process) at a time.
package lease

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Gate grants exclusive slots. When ok is false the slot is held elsewhere
// and the caller should try again later. release is idempotent.
type Gate interface {
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// Global is a single flag shared by every key.
type Global struct {
	held atomic.Bool
}

func NewGlobal() *Global { return &Global{} }

func (g *Global) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	if !g.held.CompareAndSwap(false, true) {
		return nil, false, nil
	}
	var once sync.Once
	return func() { once.Do(func() { g.held.Store(false) }) }, true, nil
}

// Keyed holds one lease per key. A lease older than its TTL is considered
// abandoned and can be taken over.
type Keyed struct {
	mu     sync.Mutex
	ttl    time.Duration
	leases map[string]keyedLease
	seq    uint64
	now    func() time.Time
}

type keyedLease struct {
	token   uint64
	expires time.Time
}

func NewKeyed(ttl time.Duration) *Keyed {
	return &Keyed{ttl: ttl, leases: make(map[string]keyedLease), now: time.Now}
}

func (k *Keyed) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if l, ok := k.leases[key]; ok && (k.ttl <= 0 || now.Before(l.expires)) {
		return nil, false, nil
	}
	k.seq++
	token := k.seq
	k.leases[key] = keyedLease{token: token, expires: now.Add(k.ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			defer k.mu.Unlock()
			if l, ok := k.leases[key]; ok && l.token == token {
				delete(k.leases, key)
			}
		})
	}, true, nil
}

// Held reports whether key is currently leased.
func (k *Keyed) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.leases[key]
	return ok && (k.ttl <= 0 || k.now().Before(l.expires))
}

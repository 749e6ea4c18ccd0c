package memory

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AlexKimmel/tgbot/internal/ratelimit"
)

type entry struct {
	subject   string
	expiresAt time.Time
}

// store tracks suppressed subjects for one policy. order holds entries
// oldest-first; since every policy has a single window, insertion order
// and expiry order coincide.
type store struct {
	mu     sync.Mutex
	policy ratelimit.Policy
	order  *list.List
	index  map[string]*list.Element
}

func newStore(p ratelimit.Policy) *store {
	return &store{
		policy: p,
		order:  list.New(),
		index:  make(map[string]*list.Element),
	}
}

func (s *store) admit(subject string, now time.Time) ratelimit.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropExpired(now)

	if el, ok := s.index[subject]; ok {
		e := el.Value.(*entry)
		if now.Before(e.expiresAt) {
			return ratelimit.Decision{Allowed: false, Policy: s.policy.Name, ExpiresAt: e.expiresAt}
		}
		// expired but not at the front: concurrent callers' clocks interleave
		s.remove(el)
	}

	for s.order.Len() >= s.policy.Capacity {
		s.remove(s.order.Front())
	}

	e := &entry{subject: subject, expiresAt: now.Add(s.policy.Window)}
	s.index[subject] = s.order.PushBack(e)

	return ratelimit.Decision{Allowed: true, Policy: s.policy.Name, ExpiresAt: e.expiresAt}
}

// dropExpired removes expired entries from the old end; amortized O(1).
func (s *store) dropExpired(now time.Time) {
	for el := s.order.Front(); el != nil; el = s.order.Front() {
		if now.Before(el.Value.(*entry).expiresAt) {
			return
		}
		s.remove(el)
	}
}

func (s *store) remove(el *list.Element) {
	e := s.order.Remove(el).(*entry)
	delete(s.index, e.subject)
}

func (s *store) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

type Limiter struct {
	mu     sync.RWMutex
	stores map[string]*store
}

var _ ratelimit.Limiter = (*Limiter)(nil)

func New() *Limiter {
	return &Limiter{
		stores: make(map[string]*store),
	}
}

func (l *Limiter) Close() error { return nil }

// Register adds a policy. Registering a name twice is a no-op: the
// existing store, its settings and its entries are kept.
func (l *Limiter) Register(p ratelimit.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.stores[p.Name]; ok {
		return nil
	}
	l.stores[p.Name] = newStore(p)
	return nil
}

// Policies returns the registered policies keyed by name.
func (l *Limiter) Policies() map[string]ratelimit.Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]ratelimit.Policy, len(l.stores))
	for name, s := range l.stores {
		out[name] = s.policy
	}
	return out
}

func (l *Limiter) Allow(_ context.Context, policy, subject string, now time.Time) (ratelimit.Decision, error) {
	s, err := l.lookup(policy)
	if err != nil {
		return ratelimit.Decision{}, err
	}
	return s.admit(subject, now), nil
}

func (l *Limiter) lookup(name string) (*store, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if s, ok := l.stores[name]; ok {
		return s, nil
	}
	if s, ok := l.stores[ratelimit.DefaultPolicy]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q (no %q fallback registered)", ratelimit.ErrUnknownPolicy, name, ratelimit.DefaultPolicy)
}

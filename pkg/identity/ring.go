package identity

import (
	"fmt"
	"sync"
	"time"

	errs "xscraper/pkg/errors"
	"xscraper/pkg/retry"
)

// State is the availability of an identity
type State int

const (
	Available State = iota
	CoolingDown
	Disabled
)

func (s State) String() string {
	switch s {
	case Available:
		return "available"
	case CoolingDown:
		return "cooling_down"
	case Disabled:
		return "disabled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Identity is a login credential with its current availability
type Identity struct {
	Handle string
	Secret string
	State  State
	// Until is the end of the cooldown when State is CoolingDown
	Until time.Time
	// Failures counts consecutive failed sessions
	Failures int
}

// Policy controls how failures translate into cooldowns
type Policy struct {
	// Backoff sizes the cooldown from the number of consecutive failures
	Backoff retry.BackoffStrategy
	// DisableAfter disables an identity after this many consecutive failures; 0 never disables
	DisableAfter int
}

// DefaultPolicy cools an identity down for 1m, doubling up to 15m
func DefaultPolicy() Policy {
	return Policy{
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:  time.Minute,
			MaxDelay:   15 * time.Minute,
			Multiplier: 2,
		},
	}
}

// Ring hands out identities round-robin, skipping those cooling down or disabled
type Ring struct {
	mu       sync.Mutex
	entries  []*Identity
	index    map[string]int
	pointer  int
	advances int
	policy   Policy

	// Now is the clock; replaced in tests
	Now func() time.Time
}

// NewRing creates a ring in the given order. Handles must be unique.
func NewRing(identities []Identity, policy Policy) (*Ring, error) {
	if len(identities) == 0 {
		return nil, errs.Config("identity ring needs at least one identity")
	}
	if policy.Backoff == nil {
		policy.Backoff = DefaultPolicy().Backoff
	}

	r := &Ring{
		index:  make(map[string]int, len(identities)),
		policy: policy,
		Now:    time.Now,
	}
	for _, id := range identities {
		if _, dup := r.index[id.Handle]; dup {
			return nil, errs.Config("identity %q is listed twice", id.Handle)
		}
		entry := id
		r.index[id.Handle] = len(r.entries)
		r.entries = append(r.entries, &entry)
	}
	return r, nil
}

// Len returns the number of identities in the ring
func (r *Ring) Len() int {
	return len(r.entries)
}

// Next returns the first usable identity at or after the rotation pointer and
// moves the pointer past it. Identities whose cooldown has elapsed become
// available again. It never blocks; when nothing is usable it returns
// errors.ErrNoIdentityAvailable.
func (r *Ring) Next() (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.Now()
	n := len(r.entries)
	for step := 0; step < n; step++ {
		i := (r.pointer + step) % n
		entry := r.entries[i]
		if entry.State == CoolingDown && !now.Before(entry.Until) {
			entry.State = Available
			entry.Until = time.Time{}
		}
		if entry.State != Available {
			continue
		}
		r.pointer = (i + 1) % n
		r.advances += step + 1
		return *entry, nil
	}
	return Identity{}, errs.ErrNoIdentityAvailable
}

// ReportFailure puts the identity into cooldown and returns when it ends.
// A zero time means the identity was disabled.
func (r *Ring) ReportFailure(id Identity) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.lookup(id.Handle)
	if entry == nil || entry.State == Disabled {
		return time.Time{}
	}

	entry.Failures++
	if r.policy.DisableAfter > 0 && entry.Failures >= r.policy.DisableAfter {
		entry.State = Disabled
		entry.Until = time.Time{}
		return time.Time{}
	}

	entry.State = CoolingDown
	entry.Until = r.Now().Add(r.policy.Backoff.NextDelay(entry.Failures))
	return entry.Until
}

// ReportSuccess marks the identity available and clears its failure streak
func (r *Ring) ReportSuccess(id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.lookup(id.Handle)
	if entry == nil || entry.State == Disabled {
		return
	}
	entry.State = Available
	entry.Until = time.Time{}
	entry.Failures = 0
}

// Disable removes the identity from rotation for the rest of the run
func (r *Ring) Disable(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.lookup(handle)
	if entry == nil {
		return false
	}
	entry.State = Disabled
	entry.Until = time.Time{}
	return true
}

// Advances returns how many positions the rotation pointer has moved in total
func (r *Ring) Advances() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.advances
}

// Snapshot returns a copy of every identity in ring order
func (r *Ring) Snapshot() []Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Identity, len(r.entries))
	for i, entry := range r.entries {
		out[i] = *entry
	}
	return out
}

// Split partitions the ring into n disjoint rings, dealing identities
// round-robin. n is clamped to [1, Len()]. The new rings share the policy and clock.
func (r *Ring) Split(n int) []*Ring {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n < 1 {
		n = 1
	}
	if n > len(r.entries) {
		n = len(r.entries)
	}

	groups := make([][]Identity, n)
	for i, entry := range r.entries {
		groups[i%n] = append(groups[i%n], *entry)
	}

	rings := make([]*Ring, n)
	for i, group := range groups {
		// handles were unique in the parent, so this cannot fail
		sub, _ := NewRing(group, r.policy)
		sub.Now = r.Now
		rings[i] = sub
	}
	return rings
}

func (r *Ring) lookup(handle string) *Identity {
	i, ok := r.index[handle]
	if !ok {
		return nil
	}
	return r.entries[i]
}

package sync

import (
	gosync "sync"
	"time"
)

// DefaultBlacklistDuration is how long a rate-limited endpoint is skipped.
const DefaultBlacklistDuration = 24 * time.Hour

// EndpointRegistry tracks which subgraph endpoints may be queried and holds the
// round-robin position shared by every query in the process. State is kept in
// memory only, so a restart forgives all blacklisted endpoints.
type EndpointRegistry struct {
	mu        gosync.Mutex
	blacklist map[string]time.Time
	lastUsed  int
	duration  time.Duration
	now       func() time.Time
}

type RegistryOption func(*EndpointRegistry)

// RegistryWithClock replaces time.Now, e.g. with a simulated clock in tests.
func RegistryWithClock(now func() time.Time) RegistryOption {
	return func(r *EndpointRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

// RegistryWithBlacklistDuration overrides DefaultBlacklistDuration.
func RegistryWithBlacklistDuration(d time.Duration) RegistryOption {
	return func(r *EndpointRegistry) {
		if d > 0 {
			r.duration = d
		}
	}
}

func NewEndpointRegistry(opts ...RegistryOption) *EndpointRegistry {
	r := &EndpointRegistry{
		blacklist: make(map[string]time.Time),
		lastUsed:  -1,
		duration:  DefaultBlacklistDuration,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the registry's notion of the current time.
func (r *EndpointRegistry) Now() time.Time {
	return r.now()
}

// IsEligible reports whether endpoint may be queried at now.
func (r *EndpointRegistry) IsEligible(endpoint string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eligibleLocked(endpoint, now)
}

func (r *EndpointRegistry) eligibleLocked(endpoint string, now time.Time) bool {
	expiry, exists := r.blacklist[endpoint]
	return !exists || now.After(expiry)
}

// MarkRateLimited blacklists endpoint and returns the instant it becomes eligible again.
func (r *EndpointRegistry) MarkRateLimited(endpoint string, now time.Time) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry := now.Add(r.duration)
	r.blacklist[endpoint] = expiry
	return expiry
}

// BlacklistedUntil returns the expiry recorded for endpoint, if any.
func (r *EndpointRegistry) BlacklistedUntil(endpoint string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, exists := r.blacklist[endpoint]
	return expiry, exists
}

// EligibleEndpoints filters all down to the endpoints usable at now, keeping their order.
func (r *EndpointRegistry) EligibleEndpoints(all []string, now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []string
	for _, endpoint := range all {
		if r.eligibleLocked(endpoint, now) {
			result = append(result, endpoint)
		}
	}
	return result
}

// next advances the shared round-robin position within eligible and returns the
// endpoint to try. The position is an index into whatever subset is currently
// eligible, not into the full configured list.
func (r *EndpointRegistry) next(eligible []string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastUsed = (r.lastUsed + 1) % len(eligible)
	return eligible[r.lastUsed]
}

package policy

import "sync"

// DomainFactory enforces id-uniqueness within a domain and the
// MaxBMCPoliciesPerDomain cap atomically with creation — holding the
// domain's policy-map lock across validate+insert rather than as a
// separate check, matching original_source/policies/policy_factory.hpp.
type DomainFactory struct {
	mu       sync.Mutex
	policies map[string]*Policy
	bmcCount int
}

func NewDomainFactory() *DomainFactory {
	return &DomainFactory{policies: make(map[string]*Policy)}
}

// Create registers a fully-constructed policy under the factory's lock. It
// is the caller's job to build *Policy (so construction can fail cleanly
// before any lock is taken); Create only arbitrates id uniqueness and the
// BMC-owned quota, returning PoliciesCannotBeCreated on either violation.
func (f *DomainFactory) Create(p *Policy) error {
	if err := ValidateID(p.ID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.policies[p.ID]; exists {
		return newErr(CodePoliciesCannotBeCreated, "id", "duplicate policy id in domain")
	}
	if p.Owner == OwnerBMC && f.bmcCount >= MaxBMCPoliciesPerDomain {
		return newErr(CodePoliciesCannotBeCreated, "", "BMC-owned policy quota exhausted for domain")
	}

	f.policies[p.ID] = p
	if p.Owner == OwnerBMC {
		f.bmcCount++
	}
	return nil
}

// Remove deletes a policy from the factory, freeing its BMC-owned quota
// slot. Only policies whose Owner.Deletable() holds may be removed by RPC;
// internal callers (domain teardown) may bypass that by calling Remove
// directly.
func (f *DomainFactory) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.policies[id]
	if !ok {
		return
	}
	if p.Owner == OwnerBMC {
		f.bmcCount--
	}
	delete(f.policies, id)
}

func (f *DomainFactory) Get(id string) (*Policy, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.policies[id]
	return p, ok
}

// All returns a stable snapshot of every policy currently registered. The
// slice is a copy; mutating policies through it is fine, mutating the
// factory's map is not.
func (f *DomainFactory) All() []*Policy {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Policy, 0, len(f.policies))
	for _, p := range f.policies {
		out = append(out, p)
	}
	return out
}

func (f *DomainFactory) BMCCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bmcCount
}

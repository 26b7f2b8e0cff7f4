package policy

import "testing"

func newTestPolicy(id string, owner Owner) *Policy {
	return New(NewPolicyArgs{ID: id, Owner: owner, Params: Params{}})
}

func TestFactoryRejectsDuplicateID(t *testing.T) {
	f := NewDomainFactory()
	if err := f.Create(newTestPolicy("p1", OwnerBMC)); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	err := f.Create(newTestPolicy("p1", OwnerBMC))
	if err == nil {
		t.Fatalf("expected duplicate id rejection")
	}
	if ve, ok := err.(*Error); !ok || ve.Code != CodePoliciesCannotBeCreated {
		t.Fatalf("want PoliciesCannotBeCreated, got %v", err)
	}
}

func TestFactoryEnforcesBMCQuota(t *testing.T) {
	f := NewDomainFactory()
	for i := 0; i < MaxBMCPoliciesPerDomain; i++ {
		id := string(rune('a' + i%26)) + "_" + string(rune('0'+i%10))
		if err := f.Create(newTestPolicy(id, OwnerBMC)); err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
	}
	err := f.Create(newTestPolicy("overflow", OwnerBMC))
	if err == nil {
		t.Fatalf("expected quota exhaustion rejection")
	}
}

func TestFactoryInternalPoliciesDoNotCountAgainstQuota(t *testing.T) {
	f := NewDomainFactory()
	for i := 0; i < MaxBMCPoliciesPerDomain+5; i++ {
		id := "internal_" + string(rune('a'+i%26)) + string(rune('0'+i%10)) + string(rune('A'+i%20))
		if err := f.Create(newTestPolicy(id, OwnerInternal)); err != nil {
			t.Fatalf("internal create %d should never hit quota: %v", i, err)
		}
	}
}

package transport

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/openbmc/node-manager/internal/domain"
	"github.com/openbmc/node-manager/internal/policy"
	"github.com/openbmc/node-manager/internal/trigger"
)

// Registry implements ObjectTree over the running set of domains and their
// policy factories. Paths look like:
//
//	/domains
//	/domains/<domainName>
//	/domains/<domainName>/policies
//	/domains/<domainName>/policies/<policyId>
type Registry struct {
	domains    map[string]*domain.Domain
	order      []string
	ctxForName func(domainName string) policy.ValidationContext
}

func NewRegistry(domains map[string]*domain.Domain, ctxForName func(string) policy.ValidationContext) *Registry {
	names := make([]string, 0, len(domains))
	for name := range domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Registry{domains: domains, order: names, ctxForName: ctxForName}
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func (r *Registry) List(p string) ([]string, error) {
	parts := splitPath(p)
	switch {
	case len(parts) == 0:
		return []string{"domains"}, nil
	case len(parts) == 1 && parts[0] == "domains":
		return append([]string(nil), r.order...), nil
	case len(parts) == 2 && parts[0] == "domains":
		if _, ok := r.domains[parts[1]]; !ok {
			return nil, fmt.Errorf("transport: unknown domain %q", parts[1])
		}
		return []string{"policies"}, nil
	case len(parts) == 3 && parts[0] == "domains" && parts[2] == "policies":
		d, ok := r.domains[parts[1]]
		if !ok {
			return nil, fmt.Errorf("transport: unknown domain %q", parts[1])
		}
		ids := make([]string, 0)
		for _, pol := range d.Factory.All() {
			ids = append(ids, pol.ID)
		}
		sort.Strings(ids)
		return ids, nil
	}
	return nil, fmt.Errorf("transport: cannot list %q", p)
}

func (r *Registry) resolveDomain(parts []string) (*domain.Domain, string, error) {
	if len(parts) < 2 || parts[0] != "domains" {
		return nil, "", fmt.Errorf("transport: malformed path")
	}
	d, ok := r.domains[parts[1]]
	if !ok {
		return nil, "", fmt.Errorf("transport: unknown domain %q", parts[1])
	}
	return d, parts[1], nil
}

func (r *Registry) resolvePolicy(parts []string) (*policy.Policy, error) {
	d, _, err := r.resolveDomain(parts)
	if err != nil {
		return nil, err
	}
	if len(parts) != 4 || parts[2] != "policies" {
		return nil, fmt.Errorf("transport: malformed policy path")
	}
	p, ok := d.Factory.Get(parts[3])
	if !ok {
		return nil, fmt.Errorf("transport: unknown policy %q", parts[3])
	}
	return p, nil
}

func (r *Registry) Get(p string) (map[string]any, error) {
	parts := splitPath(p)
	switch {
	case len(parts) == 2 && parts[0] == "domains":
		d, name, err := r.resolveDomain(parts)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"name":              name,
			"id":                int(d.ID),
			"limitBiasAbsolute": d.LimitBiasAbsolute,
			"limitBiasRelative": d.LimitBiasRelative,
			"policyCount":       len(d.Factory.All()),
		}, nil
	case len(parts) == 4 && parts[2] == "policies":
		pol, err := r.resolvePolicy(parts)
		if err != nil {
			return nil, err
		}
		return policyObject(pol), nil
	}
	return nil, fmt.Errorf("transport: cannot get %q", p)
}

func policyObject(p *policy.Policy) map[string]any {
	params := p.Params()
	return map[string]any{
		"id":           p.ID,
		"domainId":     int(p.DomainID),
		"owner":        int(p.Owner),
		"type":         int(p.Type),
		"state":        p.State().String(),
		"limit":        p.Limit(),
		"componentId":  params.ComponentID,
		"correctionMs": params.CorrectionInMs,
		"triggerType":  int(params.TriggerType),
		"triggerLimit": params.TriggerLimit,
	}
}

func (r *Registry) Set(p, field string, value any) error {
	parts := splitPath(p)
	if len(parts) == 2 && parts[0] == "domains" {
		d, _, err := r.resolveDomain(parts)
		if err != nil {
			return err
		}
		fv, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("transport: field %q requires a numeric value", field)
		}
		switch field {
		case "limitBiasAbsolute":
			d.LimitBiasAbsolute = fv
		case "limitBiasRelative":
			d.LimitBiasRelative = fv
		default:
			return fmt.Errorf("transport: domain has no settable field %q", field)
		}
		return nil
	}

	if len(parts) == 4 && parts[2] == "policies" {
		pol, err := r.resolvePolicy(parts)
		if err != nil {
			return err
		}
		domainName := parts[1]
		candidate := pol.Params()
		switch field {
		case "limit":
			fv, ok := toFloat(value)
			if !ok {
				return fmt.Errorf("transport: field %q requires a numeric value", field)
			}
			candidate.Limit = fv
		case "correctionInMs":
			fv, ok := toFloat(value)
			if !ok {
				return fmt.Errorf("transport: field %q requires a numeric value", field)
			}
			candidate.CorrectionInMs = int64(fv)
		case "triggerLimit":
			fv, ok := toFloat(value)
			if !ok {
				return fmt.Errorf("transport: field %q requires a numeric value", field)
			}
			candidate.TriggerLimit = fv
		case "statReportingPeriodMs":
			fv, ok := toFloat(value)
			if !ok {
				return fmt.Errorf("transport: field %q requires a numeric value", field)
			}
			candidate.StatReportingPeriodMs = int64(fv)
		default:
			return fmt.Errorf("transport: policy has no settable field %q", field)
		}
		ctx := r.ctxForName(domainName)
		return pol.SetParams(candidate, ctx)
	}

	return fmt.Errorf("transport: cannot set on %q", p)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func (r *Registry) Create(p string, params map[string]any) error {
	parts := splitPath(p)
	if len(parts) != 4 || parts[0] != "domains" || parts[2] != "policies" {
		return fmt.Errorf("transport: create requires a /domains/<name>/policies/<id> path")
	}
	d, domainName, err := r.resolveDomain(parts)
	if err != nil {
		return err
	}
	id := parts[3]

	limit, _ := toFloat(params["limit"])
	componentID := policy.ComponentIDAll
	if cv, ok := toFloat(params["componentId"]); ok {
		componentID = int(cv)
	}
	triggerLimit, _ := toFloat(params["triggerLimit"])

	newPolicy := policy.New(policy.NewPolicyArgs{
		ID:       id,
		DomainID: d.ID,
		Owner:    policy.OwnerBMC,
		Type:     policy.PolicyTypePower,
		Params: policy.Params{
			PolicyStorage:  policy.StorageVolatile,
			ComponentID:    componentID,
			TriggerType:    trigger.TypeAlways,
			Limit:          limit,
			TriggerLimit:   triggerLimit,
			LimitException: policy.LimitExceptionNoAction,
		},
	})

	ctx := r.ctxForName(domainName)
	if err := newPolicy.Validate(ctx, false); err != nil {
		return err
	}
	return d.Factory.Create(newPolicy)
}

func (r *Registry) Delete(p string) error {
	parts := splitPath(p)
	pol, err := r.resolvePolicy(parts)
	if err != nil {
		return err
	}
	if !pol.Owner.Deletable() {
		return fmt.Errorf("transport: policy %q is internal and cannot be deleted", pol.ID)
	}
	d, _, _ := r.resolveDomain(parts)
	pol.Delete()
	d.Factory.Remove(pol.ID)
	return nil
}

func (r *Registry) Enable(p string, enabled bool) error {
	parts := splitPath(p)
	pol, err := r.resolvePolicy(parts)
	if err != nil {
		return err
	}
	pol.SetEnabled(enabled)
	return nil
}

package statistics

import "time"

// Values is the wire-visible shape of one named statistic, matching the
// GetStatistics() record of original_source/statistics/statistics_provider.hpp.
type Values struct {
	Current                  float64
	Min                       float64
	Max                       float64
	Average                   float64
	StatisticsReportingPeriod time.Duration
	MeasurementState          bool
}

// Named is anything Provider can poll for a Values snapshot.
type Named interface {
	Average() float64
	Min() float64
	Max() float64
	CurrentValue(now time.Time) float64
	Reset()
}

// Provider maintains a set of named statistics, each subscribed to a
// reading by its owning policy/domain, and answers the
// GetStatistics/ResetStatistics RPCs.
type Provider struct {
	stats map[string]Named
	state map[string]bool // MeasurementState per name, set by the owner on each sample
}

func NewProvider() *Provider {
	return &Provider{stats: make(map[string]Named), state: make(map[string]bool)}
}

func (p *Provider) Register(name string, s Named) {
	p.stats[name] = s
}

// SetMeasurementState records whether the most recent sample fed to `name`
// was valid (non-NaN); the provider does not itself see samples.
func (p *Provider) SetMeasurementState(name string, ok bool) {
	p.state[name] = ok
}

func (p *Provider) GetStatistics(now time.Time) map[string]Values {
	out := make(map[string]Values, len(p.stats))
	for name, s := range p.stats {
		out[name] = Values{
			Current:          s.CurrentValue(now),
			Min:              s.Min(),
			Max:              s.Max(),
			Average:          s.Average(),
			MeasurementState: p.state[name],
		}
	}
	return out
}

func (p *Provider) ResetStatistics() {
	for _, s := range p.stats {
		s.Reset()
	}
}

package model

// ChannelGoal holds the monthly targets for one acquisition channel.
type ChannelGoal struct {
	Revenue  float64 `json:"revenue" yaml:"revenue" mapstructure:"revenue"`
	Pipeline float64 `json:"pipeline" yaml:"pipeline" mapstructure:"pipeline"`
}

// DemandGoals is the user-configured set of monthly channel targets plus the
// expected lead-to-sale conversion rate, as a percentage.
type DemandGoals struct {
	Channels       map[string]ChannelGoal `json:"channels" yaml:"channels" mapstructure:"channels"`
	ConversionRate float64                `json:"conversion_rate" yaml:"conversion_rate" mapstructure:"conversion_rate"`
}

// DefaultConversionRate applies when no conversion goal was configured.
const DefaultConversionRate = 10.0

// WithDefaults fills absent fields from def without overriding configured
// values.
func (g DemandGoals) WithDefaults(def DemandGoals) DemandGoals {
	out := DemandGoals{
		Channels:       make(map[string]ChannelGoal, len(def.Channels)+len(g.Channels)),
		ConversionRate: g.ConversionRate,
	}
	for name, cg := range def.Channels {
		out.Channels[name] = cg
	}
	for name, cg := range g.Channels {
		out.Channels[name] = cg
	}
	if out.ConversionRate <= 0 {
		out.ConversionRate = def.ConversionRate
	}
	if out.ConversionRate <= 0 {
		out.ConversionRate = DefaultConversionRate
	}
	return out
}

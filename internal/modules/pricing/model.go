// README: TODA fare matrix: a flat base fare plus a per-kilometre charge.
package pricing

import "toda/internal/config"

type Rate struct {
	Base    float64 `json:"base"`
	PerKm   float64 `json:"perKm"`
	BaseKm  float64 `json:"baseKm"`
	Minimum float64 `json:"minimum"`
}

func RateFromConfig(c config.FareConfig) Rate {
	return Rate{Base: c.Base, PerKm: c.PerKm, BaseKm: c.BaseKm, Minimum: c.Minimum}
}

func (r Rate) valid() bool {
	return r.Base >= 0 && r.PerKm >= 0 && r.BaseKm >= 0 && r.Minimum >= 0
}

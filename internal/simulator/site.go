package simulator

import (
	"fmt"
	"math/rand/v2"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/backtesting-org/sitewatch/pkg/websocket/base"
)

const (
	StatusOnline  = "在线"
	StatusOffline = base.DefaultStatus
)

// Site is one simulated treatment site
type Site struct {
	ID     string
	Name   string
	Status string
	Flow   decimal.Decimal
	COD    decimal.Decimal
	NH3N   decimal.Decimal
}

// Record renders the site the way the backend sends it
func (s Site) Record() map[string]any {
	return map[string]any{
		"id":     s.ID,
		"name":   s.Name,
		"status": s.Status,
		"flow":   json.Number(s.Flow.StringFixed(2)),
		"cod":    json.Number(s.COD.StringFixed(1)),
		"nh3n":   json.Number(s.NH3N.StringFixed(2)),
	}
}

var (
	flowBase = decimal.NewFromInt(1200)
	codBase  = decimal.NewFromInt(40)
	nh3nBase = decimal.RequireFromString("1.5")

	// Readings move by at most this fraction per step
	drift = decimal.RequireFromString("0.05")
)

func newSite(n int, rng *rand.Rand) Site {
	return Site{
		ID:     fmt.Sprintf("%d", n),
		Name:   fmt.Sprintf("Site %02d", n),
		Status: StatusOnline,
		Flow:   jitter(flowBase, rng),
		COD:    jitter(codBase, rng),
		NH3N:   jitter(nh3nBase, rng),
	}
}

// jitter moves value by a random fraction within drift, never below zero
func jitter(value decimal.Decimal, rng *rand.Rand) decimal.Decimal {
	factor := decimal.NewFromFloat(rng.Float64()*2 - 1).Mul(drift)
	next := value.Add(value.Mul(factor))
	if next.IsNegative() {
		return decimal.Zero
	}
	return next.Round(3)
}

// step advances a site by one mutation. Roughly one step in twenty flips
// the site's status.
func step(site Site, rng *rand.Rand) Site {
	site.Flow = jitter(site.Flow, rng)
	site.COD = jitter(site.COD, rng)
	site.NH3N = jitter(site.NH3N, rng)
	if rng.IntN(20) == 0 {
		if site.Status == StatusOnline {
			site.Status = StatusOffline
		} else {
			site.Status = StatusOnline
		}
	}
	return site
}

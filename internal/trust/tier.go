package trust

import (
	"fmt"
	"sort"

	"github.com/warden-project/warden/internal/errclass"
)

// Tier is one band of the trust spectrum. Min is inclusive; Max is exclusive
// except for the highest tier, which also contains 1.0.
type Tier struct {
	ID           int      `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Min          float64  `json:"min" yaml:"min"`
	Max          float64  `json:"max" yaml:"max"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

func (t Tier) String() string {
	return fmt.Sprintf("%d:%s [%g,%g)", t.ID, t.Name, t.Min, t.Max)
}

// Table is an immutable, validated tier table covering [0,1] with no gaps
// or overlaps. Lookups are pure and lock-free.
type Table struct {
	tiers []Tier
}

// NewTable validates and freezes a tier table. Tiers may be given in any
// order; they must jointly cover [0,1] exactly.
func NewTable(tiers []Tier) (*Table, error) {
	if len(tiers) == 0 {
		return nil, errclass.ErrConfig.WithMessage("tier table is empty")
	}
	ts := make([]Tier, len(tiers))
	copy(ts, tiers)
	sort.Slice(ts, func(i, j int) bool { return ts[i].Min < ts[j].Min })

	seen := make(map[int]bool, len(ts))
	for i, t := range ts {
		if t.Name == "" {
			return nil, errclass.ErrConfig.WithMessagef("tier %d has no name", t.ID)
		}
		if seen[t.ID] {
			return nil, errclass.ErrConfig.WithMessagef("duplicate tier id %d", t.ID)
		}
		seen[t.ID] = true
		if t.Min >= t.Max {
			return nil, errclass.ErrConfig.WithMessagef("tier %q: min %g >= max %g", t.Name, t.Min, t.Max)
		}
		if i == 0 && t.Min != 0 {
			return nil, errclass.ErrConfig.WithMessagef("tier table starts at %g, not 0", t.Min)
		}
		if i > 0 && t.Min != ts[i-1].Max {
			return nil, errclass.ErrConfig.WithMessagef(
				"tier table gap or overlap between %q (max %g) and %q (min %g)",
				ts[i-1].Name, ts[i-1].Max, t.Name, t.Min)
		}
	}
	if last := ts[len(ts)-1]; last.Max != 1 {
		return nil, errclass.ErrConfig.WithMessagef("tier table ends at %g, not 1", last.Max)
	}
	return &Table{tiers: ts}, nil
}

// Lookup returns the tier containing score. The second return is false only
// for scores outside [0,1], which a clamped ledger never produces.
func (tb *Table) Lookup(score float64) (Tier, bool) {
	n := len(tb.tiers)
	for i, t := range tb.tiers {
		if score < t.Min {
			break
		}
		if score < t.Max || (i == n-1 && score <= t.Max) {
			return t, true
		}
	}
	return Tier{}, false
}

// Lowest returns the most restrictive tier, used as the fallback when a
// lookup unexpectedly misses.
func (tb *Table) Lowest() Tier {
	return tb.tiers[0]
}

// Tiers returns a copy of the table in ascending order.
func (tb *Table) Tiers() []Tier {
	out := make([]Tier, len(tb.tiers))
	copy(out, tb.tiers)
	return out
}

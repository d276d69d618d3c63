// Package capability declares what the agent may do and at what trust. The
// registry is the permission system's ground truth: an action type with no
// contract here is never allowed, regardless of trust.
package capability

import (
	"sort"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/errclass"
)

// AbsentThreshold is the trust reported as required for unknown action
// types. No reachable score satisfies a missing contract; the sentinel just
// keeps displays from claiming zero trust is enough.
const AbsentThreshold = 1.0

// Contract states the terms under which one action type may run.
type Contract struct {
	Type           string      `yaml:"type" json:"type"`
	TrustThreshold float64     `yaml:"threshold" json:"threshold"`
	Mutating       bool        `yaml:"mutating" json:"mutating"`
	DryRun         bool        `yaml:"dry_run,omitempty" json:"dry_run,omitempty"`
	Rollback       bool        `yaml:"rollback,omitempty" json:"rollback,omitempty"`
	Risk           action.Risk `yaml:"risk,omitempty" json:"risk,omitempty"`
}

// Registry is the immutable contract table, built once from configuration.
// Lookups are pure; there is no runtime mutation path.
type Registry struct {
	contracts map[string]Contract
	types     []string
}

// NewRegistry validates and freezes a contract set.
func NewRegistry(contracts []Contract) (*Registry, error) {
	m := make(map[string]Contract, len(contracts))
	types := make([]string, 0, len(contracts))
	for _, c := range contracts {
		if c.Type == "" {
			return nil, errclass.ErrConfig.WithMessage("contract with empty action type")
		}
		if _, dup := m[c.Type]; dup {
			return nil, errclass.ErrConfig.WithMessagef("duplicate contract for %q", c.Type)
		}
		if c.TrustThreshold < 0 || c.TrustThreshold > 1 {
			return nil, errclass.ErrConfig.WithMessagef(
				"contract %q: threshold %g outside [0,1]", c.Type, c.TrustThreshold)
		}
		risk, err := action.ParseRisk(string(c.Risk))
		if err != nil {
			return nil, errclass.ErrConfig.WithMessagef("contract %q: %v", c.Type, err)
		}
		c.Risk = risk
		m[c.Type] = c
		types = append(types, c.Type)
	}
	sort.Strings(types)
	return &Registry{contracts: m, types: types}, nil
}

// ContractFor looks up the contract for an action type.
func (r *Registry) ContractFor(actionType string) (Contract, bool) {
	c, ok := r.contracts[actionType]
	return c, ok
}

// IsAllowed reports whether the given trust satisfies the type's contract.
// Absent contract means no: the registry fails closed.
func (r *Registry) IsAllowed(actionType string, trust float64) bool {
	c, ok := r.contracts[actionType]
	return ok && trust >= c.TrustThreshold
}

// RequiredTrust returns the contract threshold, or AbsentThreshold for
// unknown types.
func (r *Registry) RequiredTrust(actionType string) float64 {
	if c, ok := r.contracts[actionType]; ok {
		return c.TrustThreshold
	}
	return AbsentThreshold
}

// Types lists contracted action types in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, len(r.types))
	copy(out, r.types)
	return out
}

// Contracts returns every contract, sorted by action type.
func (r *Registry) Contracts() []Contract {
	out := make([]Contract, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, r.contracts[t])
	}
	return out
}

// Defaults is the built-in contract table. Configuration replaces it
// wholesale when a capabilities section is present.
func Defaults() []Contract {
	return []Contract{
		{Type: action.TypeFileRead, TrustThreshold: 0.1, Risk: action.RiskLow},
		{Type: action.TypeDirList, TrustThreshold: 0.1, Risk: action.RiskLow},
		{Type: action.TypeDirCreate, TrustThreshold: 0.3, Mutating: true, Rollback: true, Risk: action.RiskLow},
		{Type: action.TypeFileWrite, TrustThreshold: 0.4, Mutating: true, DryRun: true, Rollback: true, Risk: action.RiskMedium},
		{Type: action.TypeFileMove, TrustThreshold: 0.5, Mutating: true, Rollback: true, Risk: action.RiskMedium},
		{Type: action.TypeExternalComm, TrustThreshold: 0.6, Risk: action.RiskHigh},
		{Type: action.TypeSystemCommand, TrustThreshold: 0.7, Mutating: true, Rollback: true, Risk: action.RiskHigh},
		{Type: action.TypeFileDelete, TrustThreshold: 0.8, Mutating: true, Rollback: true, Risk: action.RiskHigh},
	}
}

// Package policy holds the fixed rules the decision engine consults:
// which foreground packages are never evaluated, and which auto-unlock
// durations may be chosen.
package policy

import (
	"strings"
)

// DefaultExemptPrefixes are shell and system-UI package prefixes.
// A foreground change to one of these never produces a block.
var DefaultExemptPrefixes = []string{
	"com.android",
}

// ExemptionPolicy decides whether a foreground package skips evaluation.
type ExemptionPolicy struct {
	hostPackage string
	prefixes    []string
}

// NewExemptionPolicy creates a policy exempting the host package and every
// package starting with one of prefixes.
func NewExemptionPolicy(hostPackage string, prefixes ...string) *ExemptionPolicy {
	cleaned := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return &ExemptionPolicy{
		hostPackage: hostPackage,
		prefixes:    cleaned,
	}
}

// DefaultExemptionPolicy exempts the host package plus DefaultExemptPrefixes.
func DefaultExemptionPolicy(hostPackage string) *ExemptionPolicy {
	return NewExemptionPolicy(hostPackage, DefaultExemptPrefixes...)
}

// HostPackage returns the package identifier of the application itself.
func (p *ExemptionPolicy) HostPackage() string {
	return p.hostPackage
}

// IsExempt reports whether packageName must not be evaluated.
func (p *ExemptionPolicy) IsExempt(packageName string) bool {
	if p.hostPackage != "" && packageName == p.hostPackage {
		return true
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(packageName, prefix) {
			return true
		}
	}
	return false
}

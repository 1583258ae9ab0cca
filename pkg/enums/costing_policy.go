package enums

import (
	"fmt"
	"strings"
)

// CostingPolicy selects how an item's cost basis is derived on sale.
type CostingPolicy string

const (
	CostingPolicyAverage CostingPolicy = "average"
	CostingPolicyLot     CostingPolicy = "lot"
)

var validCostingPolicies = []CostingPolicy{
	CostingPolicyAverage,
	CostingPolicyLot,
}

// IsValid reports whether the value matches a supported costing policy.
func (p CostingPolicy) IsValid() bool {
	for _, candidate := range validCostingPolicies {
		if candidate == p {
			return true
		}
	}
	return false
}

func (p CostingPolicy) String() string {
	return string(p)
}

// ParseCostingPolicy converts raw input into CostingPolicy. Blank input
// defaults to the average policy.
func ParseCostingPolicy(value string) (CostingPolicy, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return CostingPolicyAverage, nil
	}
	for _, candidate := range validCostingPolicies {
		if string(candidate) == trimmed {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid costing policy %q", value)
}

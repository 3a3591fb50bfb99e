package enums

import "fmt"

// PlanChangeType tags the outcome of a plan-change request.
type PlanChangeType string

const (
	PlanChangeCheckout           PlanChangeType = "checkout"
	PlanChangeUpgrade            PlanChangeType = "upgrade"
	PlanChangeIntervalChange     PlanChangeType = "interval_change"
	PlanChangeDowngradeScheduled PlanChangeType = "downgrade_scheduled"
)

var validPlanChangeTypes = []PlanChangeType{
	PlanChangeCheckout,
	PlanChangeUpgrade,
	PlanChangeIntervalChange,
	PlanChangeDowngradeScheduled,
}

// String implements fmt.Stringer.
func (p PlanChangeType) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PlanChangeType) IsValid() bool {
	for _, candidate := range validPlanChangeTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePlanChangeType converts raw input into a PlanChangeType.
func ParsePlanChangeType(value string) (PlanChangeType, error) {
	for _, candidate := range validPlanChangeTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan change type %q", value)
}

package enums

import "fmt"

// BillingInterval defines the cadence for a price.
type BillingInterval string

const (
	BillingIntervalMonth   BillingInterval = "month"
	BillingIntervalYear    BillingInterval = "year"
	BillingIntervalOneTime BillingInterval = "one_time"
)

var validBillingIntervals = []BillingInterval{
	BillingIntervalMonth,
	BillingIntervalYear,
	BillingIntervalOneTime,
}

// String implements fmt.Stringer.
func (b BillingInterval) String() string {
	return string(b)
}

// IsValid reports whether the value is a known BillingInterval.
func (b BillingInterval) IsValid() bool {
	for _, candidate := range validBillingIntervals {
		if candidate == b {
			return true
		}
	}
	return false
}

// IsRecurring reports whether the interval describes a recurring price.
func (b BillingInterval) IsRecurring() bool {
	return b == BillingIntervalMonth || b == BillingIntervalYear
}

// ParseBillingInterval converts raw input into a BillingInterval.
func ParseBillingInterval(value string) (BillingInterval, error) {
	for _, candidate := range validBillingIntervals {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing interval %q", value)
}

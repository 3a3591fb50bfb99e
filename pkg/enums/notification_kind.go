package enums

import "fmt"

// NotificationKind classifies billing notices shown to operators.
type NotificationKind string

const (
	NotificationTrialEnding           NotificationKind = "trial_ending"
	NotificationPaymentFailed         NotificationKind = "payment_failed"
	NotificationPaymentActionRequired NotificationKind = "payment_action_required"
	NotificationDowngradeScheduled    NotificationKind = "downgrade_scheduled"
	NotificationDowngradeApplied      NotificationKind = "downgrade_applied"
	NotificationAddonFulfilled        NotificationKind = "addon_fulfilled"
)

var validNotificationKinds = []NotificationKind{
	NotificationTrialEnding,
	NotificationPaymentFailed,
	NotificationPaymentActionRequired,
	NotificationDowngradeScheduled,
	NotificationDowngradeApplied,
	NotificationAddonFulfilled,
}

// String implements fmt.Stringer.
func (n NotificationKind) String() string {
	return string(n)
}

// IsValid reports whether the value is known.
func (n NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationKind converts raw input into a NotificationKind.
func ParseNotificationKind(value string) (NotificationKind, error) {
	for _, candidate := range validNotificationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification kind %q", value)
}

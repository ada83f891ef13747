package enums

import "fmt"

// NotificationType maps to the notification_type column.
type NotificationType string

const (
	NotificationOrderConfirmed NotificationType = "order_confirmed"
	NotificationNewOrder       NotificationType = "new_order"
	NotificationPaymentFailed  NotificationType = "payment_failed"
)

// NotificationAudience is the recipient side of a notification.
type NotificationAudience string

const (
	AudienceCustomer NotificationAudience = "customer"
	AudienceBusiness NotificationAudience = "business"
)

var validNotificationTypes = []NotificationType{
	NotificationOrderConfirmed,
	NotificationNewOrder,
	NotificationPaymentFailed,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}

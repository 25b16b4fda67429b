package notify

import (
	"errors"

	"danso/internal/feed"
)

// Explain maps a subscription error to a message for the user.
func Explain(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Notifications are blocked. Change the notification permission in the client settings to receive alerts."
	case errors.Is(err, ErrPermissionDismissed):
		return "Notifications were not enabled."
	case errors.Is(err, ErrWorkerNotReady):
		return "The notification worker is not ready yet. Please try again in a moment."
	case errors.Is(err, ErrNoToken):
		return "Please enable notifications first."
	case errors.Is(err, ErrInvalidThreshold):
		return "Please enter a valid number between 0 and 100."
	case errors.Is(err, ErrUnsupported):
		return "Notifications are not supported by this client."
	case errors.Is(err, feed.ErrStatus):
		return "The server rejected the request: " + err.Error()
	default:
		return "Notification setup failed: " + err.Error()
	}
}

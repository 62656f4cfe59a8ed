package email

import (
	"strings"

	"BatchSend/internal/models"
)

// Classify maps a server reply to a delivery status. Text markers win over
// the numeric class. The markers are a vendor dependent heuristic.
func Classify(code int, text string) models.EmailStatus {
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower, "limit", "rate", "too many"):
		return models.StatusBlocked
	case containsAny(lower, "auth", "login"):
		return models.StatusAuthError
	case containsAny(lower, "reject", "denied", "spam"):
		return models.StatusRejected
	}

	switch code / 100 {
	case 2:
		return models.StatusDelivered
	case 3:
		return models.StatusPending
	case 4:
		return models.StatusTempFailure
	case 5:
		return models.StatusFailed
	default:
		return models.StatusUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

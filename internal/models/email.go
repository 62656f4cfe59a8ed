package models

// EmailStatus is the delivery outcome recorded for one send attempt.
type EmailStatus string

const (
	StatusDelivered   EmailStatus = "DELIVERED"
	StatusPending     EmailStatus = "PENDING"
	StatusTempFailure EmailStatus = "TEMP_FAILURE"
	StatusFailed      EmailStatus = "FAILED"
	StatusBlocked     EmailStatus = "BLOCKED"
	StatusAuthError   EmailStatus = "AUTH_ERROR"
	StatusRejected    EmailStatus = "REJECTED"
	StatusUnknown     EmailStatus = "UNKNOWN"
)

// Flag marks whether a recipient is done. It is stored as a single character.
type Flag string

const (
	FlagPending Flag = "F"
	FlagSent    Flag = "T"
	FlagError   Flag = "E"
)

// RecipientEntry is one recipient of a batch.
type RecipientEntry struct {
	MsgID     int64  `json:"msg_id"`
	Recipient string `json:"recipient"`
	Flag      Flag   `json:"flag"`
}

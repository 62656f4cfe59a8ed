package models

import "time"

type BatchStatus string

const (
	BatchActive   BatchStatus = "ACTIVE"
	BatchPaused   BatchStatus = "PAUSED"
	BatchAborted  BatchStatus = "ABORTED"
	BatchFinished BatchStatus = "FINISHED"

	// BatchPending is only used by scheduled batches that have not fired yet.
	BatchPending BatchStatus = "PENDING"
)

// Terminal reports whether no further transition is allowed.
func (s BatchStatus) Terminal() bool {
	return s == BatchAborted || s == BatchFinished
}

type BatchType string

const (
	BatchImmediate BatchType = "IMMEDIATE"
	BatchScheduled BatchType = "SCHEDULED"
)

// Batch is one send job. CcRecipients, BccRecipients and Attachments hold
// JSON arrays exactly as they were submitted.
type Batch struct {
	ID              string      `json:"batch_id"`
	SystemID        string      `json:"system_id"`
	SMTPID          int64       `json:"smtp_id"`
	IPAddress       string      `json:"ip_address,omitempty"`
	Subject         string      `json:"subject"`
	Body            string      `json:"body"`
	CcRecipients    string      `json:"cc_recipients,omitempty"`
	BccRecipients   string      `json:"bcc_recipients,omitempty"`
	Attachments     string      `json:"attachments,omitempty"`
	Delay           float64     `json:"delay"`
	TotalRecipients int         `json:"total_recipients"`
	Status          BatchStatus `json:"status"`
	Type            BatchType   `json:"type"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// BatchSnapshot is a Batch plus the number of recipients still pending,
// resolved from the live worker when there is one.
type BatchSnapshot struct {
	Batch
	PendingCount int `json:"pending_count"`
}

// BatchFilter narrows batch and schedule listings. Zero values are ignored.
type BatchFilter struct {
	Status BatchStatus
	From   time.Time
	To     time.Time
	Limit  int
}

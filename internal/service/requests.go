package service

// BatchRequest submits a new batch. Recipients may come from the JSON list,
// an inline CSV, a CSV file on the server, or any mix of them.
// Attachments are server side file paths.
type BatchRequest struct {
	SMTPID         int64    `json:"smtp_id"`
	Subject        string   `json:"subject"`
	Body           string   `json:"body"`
	Recipients     []string `json:"recipients"`
	RecipientsCSV  string   `json:"recipients_csv,omitempty"`
	RecipientsFile string   `json:"recipients_file,omitempty"`
	CcRecipients   []string `json:"cc_recipients,omitempty"`
	BccRecipients  []string `json:"bcc_recipients,omitempty"`
	Attachments    []string `json:"attachments,omitempty"`
	Delay          float64  `json:"delay"`
}

// UpdateRequest changes a paused batch and resumes it.
type UpdateRequest struct {
	BatchID       string   `json:"batch_id"`
	SMTPID        int64    `json:"smtp_id"`
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`
	CcRecipients  []string `json:"cc_recipients,omitempty"`
	BccRecipients []string `json:"bcc_recipients,omitempty"`
	Delay         float64  `json:"delay"`
}

// ScheduleRequest is a BatchRequest deferred to ScheduledOn, a client wall
// clock time in the GMT offset. BatchID is only read by UpdateSchedule.
type ScheduleRequest struct {
	BatchRequest

	BatchID     string `json:"batch_id,omitempty"`
	GMT         string `json:"gmt"`
	ScheduledOn string `json:"scheduled_on"`
}

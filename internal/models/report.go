package models

import "time"

// ReportEntry is the immutable record of one send attempt.
type ReportEntry struct {
	MsgID       int64       `json:"msg_id"`
	BatchID     string      `json:"batch_id"`
	Recipient   string      `json:"recipient"`
	Status      EmailStatus `json:"status"`
	StatusCode  int         `json:"status_code"`
	Remarks     string      `json:"remarks"`
	ReceivedOn  time.Time   `json:"received_on"`
	SubmittedOn time.Time   `json:"submitted_on"`
}

// DeliverResponse is the webhook payload posted to a tenant callback.
type DeliverResponse struct {
	BatchID   string      `json:"batchId"`
	MsgID     int64       `json:"msgId,string"`
	SMTPID    int64       `json:"smtpId"`
	Subject   string      `json:"subject"`
	Recipient string      `json:"recipient"`
	Status    EmailStatus `json:"status"`
	DeliverOn string      `json:"deliverOn"`

	URL string `json:"-"`
}

// DeliverTimeLayout formats DeliverResponse.DeliverOn.
const DeliverTimeLayout = "2006-01-02 15:04:05"

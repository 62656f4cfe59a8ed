package models

import "strings"

type Encryption string

const (
	EncryptionNone     Encryption = "NONE"
	EncryptionStartTLS Encryption = "STARTTLS"
	EncryptionSSL      Encryption = "SSL"
)

// ParseEncryption maps a stored value to an Encryption, defaulting to NONE.
func ParseEncryption(s string) Encryption {
	switch Encryption(strings.ToUpper(strings.TrimSpace(s))) {
	case EncryptionStartTLS:
		return EncryptionStartTLS
	case EncryptionSSL:
		return EncryptionSSL
	default:
		return EncryptionNone
	}
}

// SMTPProfile holds tenant scoped send credentials.
type SMTPProfile struct {
	ID         int64      `json:"id"`
	SystemID   string     `json:"system_id"`
	Host       string     `json:"host"`
	Port       int        `json:"port"`
	User       string     `json:"user"`
	Password   string     `json:"-"`
	Encryption Encryption `json:"encryption"`
	Verified   bool       `json:"verified"`
	WebhookURL string     `json:"webhook_url,omitempty"`
}

// SameTransport reports whether both profiles would open an identical session.
func (p SMTPProfile) SameTransport(o SMTPProfile) bool {
	return p.Host == o.Host && p.Port == o.Port && p.User == o.User &&
		p.Password == o.Password && p.Encryption == o.Encryption
}

// ProfileEventKind names a change made to a stored SMTP profile.
type ProfileEventKind string

const (
	ProfileAdded   ProfileEventKind = "SMTP_ADD"
	ProfileUpdated ProfileEventKind = "SMTP_UPDATE"
	ProfileDeleted ProfileEventKind = "SMTP_DELETE"
)

// ProfileEvent announces a profile change to every node.
type ProfileEvent struct {
	Event    ProfileEventKind `json:"event"`
	SystemID string           `json:"system_id"`
	SMTPID   int64            `json:"smtp_id"`
}

package worker

import (
	"context"

	"BatchSend/internal/email"
	"BatchSend/internal/models"
)

// Session is one open SMTP connection.
type Session interface {
	Send(env *email.Envelope) (email.Response, error)
	Close() error
}

// Dialer opens sessions for a profile.
type Dialer interface {
	Open(ctx context.Context, p models.SMTPProfile) (Session, error)
}

// SMTPDialer adapts *email.Sender to Dialer.
type SMTPDialer struct {
	Sender *email.Sender
}

func (d SMTPDialer) Open(ctx context.Context, p models.SMTPProfile) (Session, error) {
	s, err := d.Sender.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	return s, nil
}

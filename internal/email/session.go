package email

import (
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"time"
)

// ErrSessionBroken is returned by Send once the connection can no longer be
// trusted. The caller must open a new session.
var ErrSessionBroken = errors.New("smtp session broken")

// Response is the server's final reply to a transmitted message.
type Response struct {
	Code int
	Text string
}

// RejectionError is a protocol level refusal of one message. The session
// stays usable after it.
type RejectionError struct {
	Code int
	Text string

	err *textproto.Error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("smtp rejected: %d %s", e.Code, e.Text)
}

func (e *RejectionError) Unwrap() error {
	return e.err
}

// Session is one authenticated SMTP connection reused for many messages.
// It is not safe for concurrent use.
type Session struct {
	client    *smtp.Client
	conn      net.Conn
	ioTimeout time.Duration
	broken    bool
}

// Send transmits env and returns the server's final reply. A
// *RejectionError means this message was refused; any other error means the
// session failed and must be replaced.
func (s *Session) Send(env *Envelope) (Response, error) {
	if s.broken {
		return Response{}, ErrSessionBroken
	}
	if s.ioTimeout > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(s.ioTimeout))
	}

	if err := s.client.Mail(env.From); err != nil {
		return Response{}, s.fail(err)
	}
	for _, rcpt := range env.Rcpts {
		if err := s.client.Rcpt(rcpt); err != nil {
			return Response{}, s.fail(err)
		}
	}

	text := s.client.Text
	id, err := text.Cmd("DATA")
	if err != nil {
		return Response{}, s.fail(err)
	}
	text.StartResponse(id)
	_, _, err = text.ReadResponse(354)
	text.EndResponse(id)
	if err != nil {
		return Response{}, s.fail(err)
	}

	w := text.DotWriter()
	if _, err := env.Message.WriteTo(w); err != nil {
		w.Close()
		s.broken = true
		return Response{}, fmt.Errorf("smtp data: %w", err)
	}
	if err := w.Close(); err != nil {
		s.broken = true
		return Response{}, fmt.Errorf("smtp data: %w", err)
	}

	code, msg, err := text.ReadResponse(2)
	if err != nil {
		return Response{}, s.fail(err)
	}
	return Response{Code: code, Text: msg}, nil
}

// fail turns a protocol reply into a RejectionError and resets the
// transaction, or marks the session broken for anything else.
func (s *Session) fail(err error) error {
	var tpErr *textproto.Error
	if !errors.As(err, &tpErr) {
		s.broken = true
		return fmt.Errorf("smtp transport: %w", err)
	}

	if rerr := s.client.Reset(); rerr != nil {
		s.broken = true
	}
	return &RejectionError{Code: tpErr.Code, Text: tpErr.Msg, err: tpErr}
}

// Close ends the session politely when possible.
func (s *Session) Close() error {
	if !s.broken {
		if err := s.client.Quit(); err == nil {
			return nil
		}
	}
	return s.client.Close()
}

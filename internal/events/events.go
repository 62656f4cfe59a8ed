// Package events applies SMTP profile changes announced over NATS.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"BatchSend/internal/models"
)

var ErrSubjectRequired = errors.New("events: nats subject is required")

// Handler applies one profile event.
type Handler interface {
	HandleProfileEvent(ctx context.Context, ev models.ProfileEvent) error
}

// Connect dials NATS with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("events: nats connect: %w", err)
	}
	return conn, nil
}

// Subscriber feeds profile events from one subject to a Handler, one at a
// time and in arrival order.
type Subscriber struct {
	conn    *nats.Conn
	subject string
	handler Handler
	log     *zap.Logger
}

func NewSubscriber(conn *nats.Conn, subject string, h Handler, log *zap.Logger) *Subscriber {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{
		conn:    conn,
		subject: subject,
		handler: h,
		log:     log.With(zap.String("component", "events"), zap.String("subject", subject)),
	}
}

// Run subscribes and blocks until ctx ends, then drains the subscription.
func (s *Subscriber) Run(ctx context.Context) error {
	if s.subject == "" {
		return ErrSubjectRequired
	}

	msgCh := make(chan *nats.Msg, 64)
	sub, err := s.conn.ChanSubscribe(s.subject, msgCh)
	if err != nil {
		return fmt.Errorf("events: nats subscribe: %w", err)
	}
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("events: nats flush: %w", err)
	}
	s.log.Info("listening for smtp profile events")

	for {
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), sub.Drain())
		case msg := <-msgCh:
			if err := s.handle(ctx, msg.Data); err != nil {
				s.log.Error("profile event failed", zap.ByteString("payload", msg.Data), zap.Error(err))
			}
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, data []byte) (err error) {
	ev, err := Decode(data)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("events: handler panic: %v", r)
		}
	}()

	s.log.Info("profile event received",
		zap.String("event", string(ev.Event)),
		zap.String("tenant", ev.SystemID),
		zap.Int64("smtp_id", ev.SMTPID),
	)
	return s.handler.HandleProfileEvent(ctx, ev)
}

// Decode parses and validates an event payload. Event names are matched
// case-insensitively.
func Decode(data []byte) (models.ProfileEvent, error) {
	var ev models.ProfileEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("events: decode: %w", err)
	}
	ev.Event = models.ProfileEventKind(strings.ToUpper(strings.TrimSpace(string(ev.Event))))
	ev.SystemID = strings.TrimSpace(ev.SystemID)

	switch ev.Event {
	case models.ProfileAdded, models.ProfileUpdated, models.ProfileDeleted:
	default:
		return ev, fmt.Errorf("events: unknown event %q", ev.Event)
	}
	if ev.SystemID == "" || ev.SMTPID <= 0 {
		return ev, fmt.Errorf("events: system_id and smtp_id are required")
	}
	return ev, nil
}

// Publish announces ev on subject.
func Publish(conn *nats.Conn, subject string, ev models.ProfileEvent) error {
	if subject == "" {
		return ErrSubjectRequired
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := conn.Publish(subject, data); err != nil {
		return fmt.Errorf("events: nats publish: %w", err)
	}
	return conn.Flush()
}

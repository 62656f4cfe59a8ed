package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"BatchSend/internal/models"
)

// Sender opens SMTP sessions for tenant profiles.
type Sender struct {
	DialTimeout time.Duration
	IOTimeout   time.Duration
	LocalName   string

	// TLSConfig is cloned per session; ServerName is always set to the profile host.
	TLSConfig *tls.Config
}

// Open connects, negotiates encryption and authenticates. Every error it
// returns is a transport error.
func (s *Sender) Open(ctx context.Context, p models.SMTPProfile) (*Session, error) {
	addr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	dialer := &net.Dialer{Timeout: s.DialTimeout}

	var (
		conn net.Conn
		err  error
	)
	switch p.Encryption {
	case models.EncryptionSSL:
		td := &tls.Dialer{NetDialer: dialer, Config: s.tlsConfig(p.Host)}
		conn, err = td.DialContext(ctx, "tcp", addr)
	default:
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("smtp connect %s: %w", addr, err)
	}

	if s.IOTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.IOTimeout))
	}

	c, err := smtp.NewClient(conn, p.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp greeting %s: %w", addr, err)
	}

	if s.LocalName != "" {
		if err := c.Hello(s.LocalName); err != nil {
			c.Close()
			return nil, fmt.Errorf("smtp hello: %w", err)
		}
	}

	if p.Encryption == models.EncryptionStartTLS {
		if err := c.StartTLS(s.tlsConfig(p.Host)); err != nil {
			c.Close()
			return nil, fmt.Errorf("smtp starttls: %w", err)
		}
	}

	if p.User != "" && p.Password != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(&plainAuth{user: p.User, pass: p.Password}); err != nil {
				c.Close()
				return nil, fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	return &Session{
		client:    c,
		conn:      conn,
		ioTimeout: s.IOTimeout,
	}, nil
}

func (s *Sender) tlsConfig(host string) *tls.Config {
	var cfg *tls.Config
	if s.TLSConfig != nil {
		cfg = s.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	cfg.ServerName = host
	return cfg
}

// Package smtptest runs an in-process SMTP server for tests.
package smtptest

import (
	"errors"
	"io"
	"log"
	"net"
	"strconv"
	"sync"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Reply is a scripted server answer. HangUp closes the connection instead
// of answering. Any 2xx code is answered with the server's default text.
type Reply struct {
	Code   int
	Text   string
	HangUp bool
}

// Message is one accepted DATA transaction.
type Message struct {
	From  string
	Rcpts []string
	Data  string
}

// Server accepts any number of connections on a loopback port.
type Server struct {
	Host string
	Port int

	srv  *smtp.Server
	done chan struct{}

	mu       sync.Mutex
	messages []Message
	conns    int
	auths    []string

	rcptReply func(rcpt string) Reply
	dataReply func(m Message) Reply
}

// OnRcpt overrides the default 250 answer to RCPT.
func (s *Server) OnRcpt(fn func(rcpt string) Reply) {
	s.mu.Lock()
	s.rcptReply = fn
	s.mu.Unlock()
}

// OnData overrides the default 250 answer after DATA.
func (s *Server) OnData(fn func(m Message) Reply) {
	s.mu.Lock()
	s.dataReply = fn
	s.mu.Unlock()
}

// NewServer starts listening on a loopback port.
func NewServer() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{
		Host: "127.0.0.1",
		Port: ln.Addr().(*net.TCPAddr).Port,
		done: make(chan struct{}),
	}

	s.srv = smtp.NewServer(backend{s})
	s.srv.Domain = "smtptest"
	s.srv.AllowInsecureAuth = true
	s.srv.ErrorLog = log.New(io.Discard, "", 0)

	go func() {
		defer close(s.done)
		_ = s.srv.Serve(countingListener{Listener: ln, s: s})
	}()
	return s, nil
}

// Close stops the listener and drops live connections.
func (s *Server) Close() {
	_ = s.srv.Close()
	<-s.done
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Messages returns accepted messages in arrival order.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Recipients returns the first envelope recipient of every accepted message.
func (s *Server) Recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.messages))
	for _, m := range s.messages {
		if len(m.Rcpts) > 0 {
			out = append(out, m.Rcpts[0])
		}
	}
	return out
}

// Connections returns how many connections were accepted.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// Auths returns "user:pass" pairs seen in AUTH PLAIN.
func (s *Server) Auths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auths...)
}

type countingListener struct {
	net.Listener
	s *Server
}

func (l countingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err == nil {
		l.s.mu.Lock()
		l.s.conns++
		l.s.mu.Unlock()
	}
	return c, err
}

type backend struct {
	s *Server
}

func (b backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &session{s: b.s, conn: c.Conn()}, nil
}

type session struct {
	s    *Server
	conn net.Conn
	cur  Message
}

var errHungUp = errors.New("smtptest: connection dropped")

// answer turns a scripted reply into what go-smtp expects from a session
// method.
func (ss *session) answer(r Reply) error {
	if r.HangUp {
		ss.conn.Close()
		return errHungUp
	}
	if r.Code/100 == 2 {
		return nil
	}
	return &smtp.SMTPError{Code: r.Code, EnhancedCode: smtp.NoEnhancedCode, Message: r.Text}
}

func (ss *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (ss *session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, smtp.ErrAuthUnknownMechanism
	}
	return sasl.NewPlainServer(func(_, user, pass string) error {
		ss.s.mu.Lock()
		ss.s.auths = append(ss.s.auths, user+":"+pass)
		ss.s.mu.Unlock()
		return nil
	}), nil
}

func (ss *session) Mail(from string, _ *smtp.MailOptions) error {
	ss.cur = Message{From: from}
	return nil
}

func (ss *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	ss.s.mu.Lock()
	hook := ss.s.rcptReply
	ss.s.mu.Unlock()

	if hook != nil {
		if err := ss.answer(hook(to)); err != nil {
			return err
		}
	}
	ss.cur.Rcpts = append(ss.cur.Rcpts, to)
	return nil
}

func (ss *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	msg := ss.cur
	msg.Data = string(data)

	ss.s.mu.Lock()
	hook := ss.s.dataReply
	ss.s.mu.Unlock()

	if hook != nil {
		if err := ss.answer(hook(msg)); err != nil {
			return err
		}
	}

	ss.s.mu.Lock()
	ss.s.messages = append(ss.s.messages, msg)
	ss.s.mu.Unlock()
	return nil
}

func (ss *session) Reset() {
	ss.cur = Message{}
}

func (ss *session) Logout() error {
	return nil
}

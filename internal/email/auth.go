package email

import "net/smtp"

// plainAuth is AUTH PLAIN without net/smtp's TLS requirement. Profiles with
// encryption NONE still authenticate.
type plainAuth struct {
	user, pass string
}

func (a *plainAuth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return "PLAIN", []byte("\x00" + a.user + "\x00" + a.pass), nil
}

func (a *plainAuth) Next(_ []byte, _ bool) ([]byte, error) {
	return nil, nil
}

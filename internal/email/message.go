package email

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/gomail.v2"
)

// Attachment is a file read into memory once per batch.
type Attachment struct {
	Name string
	Data []byte
}

// LoadAttachments reads every existing path. Missing or unreadable files are
// skipped and reported in the second return value.
func LoadAttachments(paths []string) ([]Attachment, map[string]error) {
	var (
		out     []Attachment
		skipped map[string]error
	)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if skipped == nil {
				skipped = make(map[string]error)
			}
			skipped[p] = err
			continue
		}
		out = append(out, Attachment{Name: filepath.Base(p), Data: data})
	}
	return out, skipped
}

// Envelope is one composed message plus its SMTP envelope.
type Envelope struct {
	From  string
	Rcpts []string

	Message *gomail.Message
}

// Composer builds per recipient messages sharing subject, body, copies and
// attachments.
type Composer struct {
	From        string
	Subject     string
	Body        string
	Cc          []string
	Bcc         []string
	Attachments []Attachment
}

// Compose returns the envelope for a single TO address. Bcc addresses are
// envelope recipients only and never appear in the written headers.
func (c *Composer) Compose(to string) *Envelope {
	m := gomail.NewMessage()
	m.SetHeader("From", c.From)
	m.SetHeader("To", to)
	if len(c.Cc) > 0 {
		m.SetHeader("Cc", c.Cc...)
	}
	if len(c.Bcc) > 0 {
		m.SetHeader("Bcc", c.Bcc...)
	}
	m.SetHeader("Subject", c.Subject)
	m.SetDateHeader("Date", time.Now())
	m.SetBody("text/plain", c.Body)

	for _, a := range c.Attachments {
		data := a.Data
		m.Attach(a.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	rcpts := make([]string, 0, 1+len(c.Cc)+len(c.Bcc))
	rcpts = append(rcpts, to)
	rcpts = append(rcpts, c.Cc...)
	rcpts = append(rcpts, c.Bcc...)

	return &Envelope{From: c.From, Rcpts: rcpts, Message: m}
}

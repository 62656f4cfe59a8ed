package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"BatchSend/internal/email"
	"BatchSend/internal/models"
)

// SandboxRequest is a single test message sent through a profile.
// Attachments are server side file paths.
type SandboxRequest struct {
	SMTPID        int64    `json:"smtp_id"`
	Recipient     string   `json:"recipient"`
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`
	CcRecipients  []string `json:"cc_recipients,omitempty"`
	BccRecipients []string `json:"bcc_recipients,omitempty"`
	Attachments   []string `json:"attachments,omitempty"`
}

// SendTestEmail sends one message through the profile, verified or not, and
// returns the classified reply. A delivered test verifies the profile.
func (s *Service) SendTestEmail(ctx context.Context, tenant, ip string, req SandboxRequest) (models.EmailStatus, error) {
	log := s.log.With(
		zap.String("tenant", tenant),
		zap.Int64("smtp_id", req.SMTPID),
		zap.String("ip", ip),
	)

	to := strings.TrimSpace(req.Recipient)
	if !emailPattern.MatchString(to) {
		return "", invalid("invalid recipient %q", req.Recipient)
	}

	prof, err := s.lookupProfile(ctx, tenant, req.SMTPID)
	if err != nil {
		return "", err
	}
	p := prof.Snapshot()

	log.Info("sandbox connecting", zap.String("host", p.Host), zap.Int("port", p.Port))
	sess, err := s.deps.Dialer.Open(ctx, p)
	if err != nil {
		log.Warn("sandbox connection failed", zap.Error(err))
		return "", processing(err, "connect smtp profile %d", req.SMTPID)
	}
	defer sess.Close()

	attachments, skipped := email.LoadAttachments(req.Attachments)
	for path, err := range skipped {
		log.Warn("attachment skipped", zap.String("path", path), zap.Error(err))
	}

	c := email.Composer{
		From:        p.User,
		Subject:     req.Subject,
		Body:        req.Body,
		Cc:          filterRecipients(req.CcRecipients, log),
		Bcc:         filterRecipients(req.BccRecipients, log),
		Attachments: attachments,
	}

	var status models.EmailStatus
	resp, err := sess.Send(c.Compose(to))
	var rej *email.RejectionError
	switch {
	case errors.As(err, &rej):
		status = email.Classify(rej.Code, rej.Text)
	case err != nil:
		log.Warn("sandbox send failed", zap.Error(err))
		return "", processing(err, "send test email")
	default:
		status = email.Classify(resp.Code, resp.Text)
	}
	log.Info("sandbox reply", zap.String("status", string(status)))

	if status != models.StatusDelivered || p.Verified {
		return status, nil
	}

	if err := s.store.SetProfileVerified(ctx, tenant, req.SMTPID); err != nil {
		return status, processing(err, "verify smtp profile %d", req.SMTPID)
	}
	if _, _, err := s.profiles.Reload(ctx, tenant, req.SMTPID); err != nil {
		return status, processing(err, "reload smtp profile %d", req.SMTPID)
	}
	log.Info("smtp profile verified")
	return status, nil
}

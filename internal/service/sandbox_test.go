package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BatchSend/internal/email/smtptest"
	"BatchSend/internal/models"
)

func unverifiedProfile(h *harness) {
	h.store.putProfile(models.SMTPProfile{
		ID:         8,
		SystemID:   "acme",
		Host:       h.srv.Host,
		Port:       h.srv.Port,
		User:       "new@acme.test",
		Password:   "secret",
		Encryption: models.EncryptionNone,
	})
}

func TestSendTestEmail_DeliveredVerifiesProfile(t *testing.T) {
	h := newHarness(t)
	unverifiedProfile(h)
	ctx := context.Background()

	_, err := h.svc.CreateBatch(ctx, "acme", "", BatchRequest{SMTPID: 8, Recipients: []string{"a@x.test"}})
	require.ErrorIs(t, err, ErrInvalidRequest)

	status, err := h.svc.SendTestEmail(ctx, "acme", "10.0.0.3", SandboxRequest{
		SMTPID:       8,
		Recipient:    "check@x.test",
		Subject:      "Test",
		Body:         "hello",
		CcRecipients: []string{"cc@x.test", "bogus"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, status)

	msgs := h.srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "new@acme.test", msgs[0].From)
	assert.Equal(t, []string{"check@x.test", "cc@x.test"}, msgs[0].Rcpts)
	assert.Contains(t, msgs[0].Data, "Subject: Test")

	p, err := h.store.GetProfile(ctx, "acme", 8)
	require.NoError(t, err)
	assert.True(t, p.Verified)

	prof, ok := h.svc.profiles.Get("acme", 8)
	require.True(t, ok)
	assert.NoError(t, prof.Usable())

	id, err := h.svc.CreateBatch(ctx, "acme", "", BatchRequest{SMTPID: 8, Recipients: []string{"a@x.test"}})
	require.NoError(t, err)
	h.waitStatus(t, id, models.BatchFinished)
}

func TestSendTestEmail_RejectionLeavesProfileUnverified(t *testing.T) {
	h := newHarness(t)
	unverifiedProfile(h)
	h.srv.OnRcpt(func(string) smtptest.Reply {
		return smtptest.Reply{Code: 554, Text: "5.7.1 message rejected as spam"}
	})

	status, err := h.svc.SendTestEmail(context.Background(), "acme", "", SandboxRequest{
		SMTPID:    8,
		Recipient: "check@x.test",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, status)

	p, err := h.store.GetProfile(context.Background(), "acme", 8)
	require.NoError(t, err)
	assert.False(t, p.Verified)
	assert.Empty(t, h.srv.Messages())
}

func TestSendTestEmail_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.SendTestEmail(ctx, "acme", "", SandboxRequest{SMTPID: 7, Recipient: "not-an-address"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.svc.SendTestEmail(ctx, "acme", "", SandboxRequest{SMTPID: 99, Recipient: "a@x.test"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	h.srv.OnData(func(smtptest.Message) smtptest.Reply {
		return smtptest.Reply{HangUp: true}
	})
	_, err = h.svc.SendTestEmail(ctx, "acme", "", SandboxRequest{SMTPID: 7, Recipient: "a@x.test"})
	assert.ErrorIs(t, err, ErrProcessing)
	assert.Equal(t, 1, h.srv.Connections())
}

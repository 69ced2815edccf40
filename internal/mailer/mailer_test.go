package mailer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/sakif/tripcms/internal/config"
	"github.com/sakif/tripcms/internal/model"
)

type captureSender struct {
	msgs []*gomail.Message
	err  error
}

func (c *captureSender) DialAndSend(m ...*gomail.Message) error {
	c.msgs = append(c.msgs, m...)
	return c.err
}

const testURL = "https://cms.example.com/reset-password?token=abc123"

func TestSMTPNotifier_SendsResetLink(t *testing.T) {
	sender := &captureSender{}
	n := NewSMTPNotifierWithSender(sender, "noreply@example.com")

	user := &model.User{ID: "u1", Username: "alice", Email: "alice@example.com"}
	require.NoError(t, n.SendPasswordReset(context.Background(), user, testURL))
	require.Len(t, sender.msgs, 1)

	msg := sender.msgs[0]
	assert.Equal(t, []string{"alice@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"noreply@example.com"}, msg.GetHeader("From"))
	assert.Equal(t, []string{resetSubject}, msg.GetHeader("Subject"))

	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), testURL)
}

func TestSMTPNotifier_NoEmail(t *testing.T) {
	sender := &captureSender{}
	n := NewSMTPNotifierWithSender(sender, "noreply@example.com")

	err := n.SendPasswordReset(context.Background(), &model.User{ID: "u1"}, testURL)
	assert.ErrorIs(t, err, ErrNoRecipient)
	assert.Empty(t, sender.msgs)
}

func TestSMTPNotifier_ErrorDoesNotLeakLink(t *testing.T) {
	sender := &captureSender{err: errors.New("550 rejected: " + testURL)}
	n := NewSMTPNotifierWithSender(sender, "noreply@example.com")

	err := n.SendPasswordReset(context.Background(), &model.User{ID: "u1", Email: "a@example.com"}, testURL)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "abc123")
}

func TestLogNotifier_NeverLogsLink(t *testing.T) {
	var buf bytes.Buffer
	n := LogNotifier{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	require.NoError(t, n.SendPasswordReset(context.Background(), &model.User{ID: "u1"}, testURL))
	assert.Contains(t, buf.String(), "u1")
	assert.False(t, strings.Contains(buf.String(), "abc123"), "log output contains the token")
}

func TestNew_PicksImplementation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, isLog := New(config.SMTPConfig{}, logger).(LogNotifier)
	assert.True(t, isLog)

	_, isSMTP := New(config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "x@example.com"}, logger).(*SMTPNotifier)
	assert.True(t, isSMTP)
}

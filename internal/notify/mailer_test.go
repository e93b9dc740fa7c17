package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journalsync/internal"
	"journalsync/internal/config"
)

type fakeSender struct {
	from string
	to   []string
	msg  []byte
	err  error
}

func (s *fakeSender) Send(reversePath string, recipients []string, msg []byte) error {
	s.from = reversePath
	s.to = recipients
	s.msg = msg
	return s.err
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func TestMailerSendsReport(t *testing.T) {
	sender := &fakeSender{}
	m := NewMailerWithSender(sender, "sync@example.org", splitAddrs("ops@example.org, , lead@example.org"), testLogger())

	report := Report{
		Run:     "apply",
		ID:      7,
		Status:  "completed",
		Stats:   internal.RunStats{Created: 1, Updated: 2, Deleted: 3},
		Message: "synced 3/3",
		At:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, m.Send(context.Background(), report))

	assert.Equal(t, "sync@example.org", sender.from)
	assert.Equal(t, []string{"ops@example.org", "lead@example.org"}, sender.to)

	env, err := enmime.ReadEnvelope(bytes.NewReader(sender.msg))
	require.NoError(t, err)
	assert.Equal(t, "[journalsync] apply #7 completed", env.GetHeader("Subject"))
	assert.Contains(t, env.Text, "created 1, updated 2, deleted 3, skipped 0, errors 0")
	assert.Contains(t, env.Text, "synced 3/3")

	require.Len(t, env.Attachments, 1)
	assert.Equal(t, "apply-7.json", env.Attachments[0].FileName)
	var got Report
	require.NoError(t, json.Unmarshal(env.Attachments[0].Content, &got))
	assert.Equal(t, report.Stats, got.Stats)
	assert.Equal(t, "completed", got.Status)
}

func TestMailerSendError(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection refused")}
	m := NewMailerWithSender(sender, "a@example.org", []string{"b@example.org"}, testLogger())

	err := m.Send(context.Background(), Report{Run: "sync", ID: 1, Status: "failed", Error: "boom"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNilMailerIsNoop(t *testing.T) {
	assert.Nil(t, NewMailer(config.Config{}, testLogger()))

	var m *Mailer
	assert.NoError(t, m.Send(context.Background(), Report{}))
}

func TestNewMailerWhenConfigured(t *testing.T) {
	m := NewMailer(config.Config{SMTPAddr: "smtp.example.org:587", SMTPUser: "bot@example.org", ReportTo: "ops@example.org"}, testLogger())
	require.NotNil(t, m)
	assert.Equal(t, "bot@example.org", m.from)
	assert.Equal(t, []string{"ops@example.org"}, m.to)
}

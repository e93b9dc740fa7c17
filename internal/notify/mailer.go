// Package notify mails run reports when SMTP reporting is configured.
package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"journalsync/internal"
	"journalsync/internal/config"
)

// Report is the outcome of one finished analysis, apply or sync run.
type Report struct {
	Run     string            `json:"run"`
	ID      int64             `json:"id"`
	Status  string            `json:"status"`
	Stats   internal.RunStats `json:"stats"`
	Message string            `json:"message,omitempty"`
	Error   string            `json:"error,omitempty"`
	At      time.Time         `json:"finished_at"`
}

func (r Report) Subject() string {
	return fmt.Sprintf("[journalsync] %s #%d %s", r.Run, r.ID, r.Status)
}

func (r Report) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run:      %s #%d\n", r.Run, r.ID)
	fmt.Fprintf(&b, "status:   %s\n", r.Status)
	fmt.Fprintf(&b, "finished: %s\n", r.At.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "created %d, updated %d, deleted %d, skipped %d, errors %d\n",
		r.Stats.Created, r.Stats.Updated, r.Stats.Deleted, r.Stats.Skipped, r.Stats.Errors)
	if r.Message != "" {
		fmt.Fprintf(&b, "\n%s\n", r.Message)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "\nerror: %s\n", r.Error)
	}
	return b.String()
}

type Mailer struct {
	sender enmime.Sender
	from   string
	to     []string
	log    *logrus.Logger
}

// NewMailer returns nil when reporting is not configured.
func NewMailer(cfg config.Config, log *logrus.Logger) *Mailer {
	if !cfg.ReportingEnabled() {
		return nil
	}
	var auth smtp.Auth
	if cfg.SMTPUser != "" {
		host, _, err := net.SplitHostPort(cfg.SMTPAddr)
		if err != nil {
			host = cfg.SMTPAddr
		}
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, host)
	}
	from := cfg.ReportFrom
	if from == "" {
		from = cfg.SMTPUser
	}
	return NewMailerWithSender(enmime.NewSMTP(cfg.SMTPAddr, auth), from, splitAddrs(cfg.ReportTo), log)
}

func NewMailerWithSender(sender enmime.Sender, from string, to []string, log *logrus.Logger) *Mailer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Mailer{sender: sender, from: from, to: to, log: log}
}

// Send mails r with its plain-text summary and a JSON copy attached. A nil
// Mailer is a no-op.
func (m *Mailer) Send(ctx context.Context, r Report) error {
	if m == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	blob, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}

	msg := enmime.Builder().
		From("journalsync", m.from).
		Subject(r.Subject()).
		Date(r.At).
		Text([]byte(r.Body())).
		AddAttachment(blob, "application/json", fmt.Sprintf("%s-%d.json", r.Run, r.ID))
	for _, addr := range m.to {
		msg = msg.To("", addr)
	}

	if err := msg.Send(m.sender); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	m.log.WithFields(logrus.Fields{"run": r.Run, "id": r.ID, "to": strings.Join(m.to, ",")}).Info("run report sent")
	return nil
}

func splitAddrs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Package notify tells the operator when the scan loop needs a human.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"panelwatch/internal/components/assert"
	"panelwatch/internal/components/telemetry"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("panelwatch.internal.notify")

const report_mailer_alert = "mailer.alert"

type SmtpConfig struct {
	Server       string   `json:"server" env:"SMTP_SERVER"`
	Port         int      `json:"port" env:"SMTP_PORT"`
	EmailAddress string   `json:"email_address" env:"SMTP_EMAIL_ADDRESS"`
	Password     string   `json:"password" env:"SMTP_PASSWORD"`
	Recipients   []string `json:"recipients" env:"ALERT_RECIPIENTS"`
}

// Enabled reports whether enough is configured to send mail.
func (c SmtpConfig) Enabled() bool {
	return c.Server != "" && c.EmailAddress != "" && len(c.Recipients) > 0
}

func (c SmtpConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Server, c.Port)
}

// Mailer sends alerts as plain text mail.
type Mailer struct {
	config SmtpConfig
	tel    telemetry.API
}

func NewMailer(config SmtpConfig, tel telemetry.API) Mailer {
	assert.NotEmptyStr(config.Server)
	assert.NotEmptyStr(config.EmailAddress)
	assert.Positive(len(config.Recipients))
	assert.NotNil(tel)

	if config.Port == 0 {
		config.Port = 587
	}
	return Mailer{config: config, tel: telemetry.NewScopedAPI("notify", tel)}
}

func (m Mailer) Alert(ctx context.Context, subject, body string) error {
	ctx, span := tracer.Start(ctx, "Alert")
	defer span.End()
	span.SetAttributes(attribute.String("subject", subject))

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("panelwatch <%s>", m.config.EmailAddress)
	mail.To = m.config.Recipients
	mail.Subject = subject
	mail.Text = []byte(body)

	// email.Send has no context so the result is waited on separately
	done := make(chan error, 1)
	go func() {
		done <- m.send(mail)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		m.tel.ReportWarning(report_mailer_alert, err, telemetry.KV{Key: "subject", Value: subject})
		return err
	}
	return nil
}

func (m Mailer) send(mail *email.Email) error {
	err := mail.Send(
		m.config.addr(),
		smtp.PlainAuth("", m.config.EmailAddress, m.config.Password, m.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		return mail.Send(m.config.addr(), nil)
	}
	return err
}

// Nop drops every alert.
type Nop struct{}

func (Nop) Alert(context.Context, string, string) error {
	return nil
}

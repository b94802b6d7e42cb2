package alerting

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const emailBodyTemplate = `<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="background-color: #f8f9fa; padding: 20px; border-radius: 10px;">
    <h2 style="margin-top: 0;">{{.Title}}</h2>
    <div style="background-color: white; padding: 15px; border-radius: 8px; margin: 15px 0;">
      <h3 style="margin-top: 0;">Current Rate: <b>{{.Rate}}%</b></h3>
      <p style="margin: 5px 0; color: #666;">Target Rate: {{.Target}}%</p>
      <p style="margin: 5px 0; color: #666;">State: {{.State}}</p>
      <p style="margin: 5px 0; color: #666;">Confidence: {{.Confidence}}</p>
      <p style="margin: 5px 0; color: #666;">Sources: {{.Sources}}</p>
      <p style="margin: 5px 0; color: #666;">Trend: {{.Trend}}</p>
      <p style="margin: 5px 0; color: #666;">Date: {{.Date}}</p>
      {{if .Savings}}<p style="margin: 5px 0; color: #666;">Potential Savings: <b>{{.Savings}}%</b></p>{{end}}
    </div>
    {{if .Savings}}<p style="color: #155724;">Rates dropped below your target threshold. This could be a good time to consider refinancing.</p>{{end}}
  </div>
</body>
</html>`

// SMTPClient is the subset of *smtp.Client the notifier drives.
// Abstracted so tests can substitute a fake session.
type SMTPClient interface {
	Extension(ext string) (bool, string)
	StartTLS(config *tls.Config) error
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Reset() error
	Quit() error
	Close() error
}

// SMTPDialer opens SMTP sessions; replaced in tests.
type SMTPDialer func(ctx context.Context, addr, host string) (SMTPClient, error)

// EmailOptions parameterise the SMTP channel.
type EmailOptions struct {
	Host       string
	Port       int
	Sender     string
	Password   string
	Recipients []string
	Timeout    time.Duration
}

// EmailNotifier 通过 SMTP 发送邮件通知。One session per run, one message
// per recipient; a recipient that fails is skipped, not fatal.
type EmailNotifier struct {
	opts     EmailOptions
	dial     SMTPDialer
	bodyTmpl *template.Template
	logger   zerolog.Logger
}

// NewEmailNotifier 构造 SMTP 告警器。
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) (*EmailNotifier, error) {
	if opts.Sender == "" || len(opts.Recipients) == 0 {
		return nil, errors.New("email sender and recipients required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	bodyTmpl, err := template.New("body").Parse(emailBodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse email template: %w", err)
	}

	return &EmailNotifier{
		opts:     opts,
		dial:     defaultSMTPDialer,
		bodyTmpl: bodyTmpl,
		logger:   logger.With().Str("component", "alert_email").Logger(),
	}, nil
}

// SetDialer 替换 SMTP 连接构造器（测试用）。
func (e *EmailNotifier) SetDialer(dial SMTPDialer) {
	e.dial = dial
}

func defaultSMTPDialer(ctx context.Context, addr, host string) (SMTPClient, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

// Notify opens one SMTP session and sends one message per recipient.
func (e *EmailNotifier) Notify(ctx context.Context, note Notification) error {
	message, err := e.renderMessage(note)
	if err != nil {
		return fmt.Errorf("render email: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", e.opts.Host, e.opts.Port)
	client, err := e.dial(ctx, addr, e.opts.Host)
	if err != nil {
		return fmt.Errorf("smtp connect: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName: e.opts.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}

	if e.opts.Password != "" {
		auth := smtp.PlainAuth("", e.opts.Sender, e.opts.Password, e.opts.Host)
		if err := client.Auth(auth); err != nil {
			// Do not wrap: the SMTP reply may echo credentials.
			return errors.New("smtp auth failed")
		}
	}

	delivered := 0
	for _, recipient := range e.opts.Recipients {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := e.sendOne(client, recipient, note.Title(), message); err != nil {
			e.logger.Warn().Err(err).Str("recipient", recipient).Msg("recipient skipped")
			_ = client.Reset()
			continue
		}
		delivered++
	}

	_ = client.Quit()

	if delivered == 0 {
		return errors.New("no recipient accepted the message")
	}

	e.logger.Info().Str("kind", note.Kind).
		Int("delivered", delivered).
		Int("recipients", len(e.opts.Recipients)).
		Msg("告警已发送 (Email)")
	return nil
}

func (e *EmailNotifier) sendOne(client SMTPClient, recipient, subject, body string) error {
	if err := client.Mail(e.opts.Sender); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("RCPT TO failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", e.opts.Sender)
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	if _, err := w.Write(msg.Bytes()); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	return w.Close()
}

func (e *EmailNotifier) renderMessage(note Notification) (string, error) {
	savings := ""
	if note.Kind == KindThresholdAlert {
		savings = note.Savings().StringFixed(2)
	}

	data := struct {
		Title      string
		Rate       string
		Target     string
		State      string
		Confidence string
		Sources    string
		Trend      string
		Date       string
		Savings    string
	}{
		Title:      note.Title(),
		Rate:       note.Rate.StringFixed(3),
		Target:     note.TargetRate.StringFixed(2),
		State:      note.State,
		Confidence: note.Confidence,
		Sources:    strings.Join(note.Sources, ", "),
		Trend:      note.Trend,
		Date:       note.SentAt.Format("January 2, 2006"),
		Savings:    savings,
	}

	var buf bytes.Buffer
	if err := e.bodyTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var _ Notifier = (*EmailNotifier)(nil)

package alerting

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/smtp"
	"strings"
	"testing"
)

type fakeSMTPClient struct {
	starttls   bool
	authErr    error
	rcptErrors map[string]error

	commands []string
	messages []string
	authed   bool
	resets   int
	quit     bool
}

func (c *fakeSMTPClient) Extension(ext string) (bool, string) {
	return c.starttls && ext == "STARTTLS", ""
}

func (c *fakeSMTPClient) StartTLS(config *tls.Config) error {
	c.commands = append(c.commands, "starttls")
	return nil
}

func (c *fakeSMTPClient) Auth(a smtp.Auth) error {
	c.commands = append(c.commands, "auth")
	if c.authErr != nil {
		return c.authErr
	}
	c.authed = true
	return nil
}

func (c *fakeSMTPClient) Mail(from string) error {
	c.commands = append(c.commands, "mail "+from)
	return nil
}

func (c *fakeSMTPClient) Rcpt(to string) error {
	c.commands = append(c.commands, "rcpt "+to)
	if err, ok := c.rcptErrors[to]; ok {
		return err
	}
	return nil
}

func (c *fakeSMTPClient) Data() (io.WriteCloser, error) {
	c.commands = append(c.commands, "data")
	return &fakeDataWriter{client: c}, nil
}

func (c *fakeSMTPClient) Reset() error {
	c.resets++
	return nil
}

func (c *fakeSMTPClient) Quit() error {
	c.quit = true
	return nil
}

func (c *fakeSMTPClient) Close() error { return nil }

type fakeDataWriter struct {
	client *fakeSMTPClient
	buf    bytes.Buffer
}

func (w *fakeDataWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *fakeDataWriter) Close() error {
	w.client.messages = append(w.client.messages, w.buf.String())
	return nil
}

func newTestEmailNotifier(t *testing.T, client *fakeSMTPClient, recipients ...string) *EmailNotifier {
	t.Helper()
	notifier, err := NewEmailNotifier(EmailOptions{
		Host:       "smtp.example.com",
		Port:       587,
		Sender:     "alerts@example.com",
		Password:   "app-password",
		Recipients: recipients,
	}, testLogger())
	if err != nil {
		t.Fatalf("构造 EmailNotifier 失败: %v", err)
	}
	notifier.SetDialer(func(ctx context.Context, addr, host string) (SMTPClient, error) {
		if addr != "smtp.example.com:587" {
			t.Fatalf("SMTP 地址不正确: %s", addr)
		}
		return client, nil
	})
	return notifier
}

func TestEmailNotifierRequiresRecipients(t *testing.T) {
	_, err := NewEmailNotifier(EmailOptions{Sender: "a@b.c"}, testLogger())
	if err == nil {
		t.Fatal("缺少收件人应报错")
	}
}

func TestEmailNotifierSendsToAllRecipients(t *testing.T) {
	client := &fakeSMTPClient{starttls: true}
	notifier := newTestEmailNotifier(t, client, "one@example.com", "two@example.com")

	if err := notifier.Notify(context.Background(), testNotification(KindThresholdAlert)); err != nil {
		t.Fatalf("Notify 应成功: %v", err)
	}

	if !client.authed {
		t.Fatal("配置密码时应执行认证")
	}
	if len(client.messages) != 2 {
		t.Fatalf("期望发送 2 封邮件, 实际 %d", len(client.messages))
	}
	if !client.quit {
		t.Fatal("会话结束应发送 QUIT")
	}

	msg := client.messages[0]
	if !strings.Contains(msg, "To: one@example.com") {
		t.Fatalf("邮件头不正确: %s", msg)
	}
	if !strings.Contains(msg, "Subject: 🚨 Refinance Rate Alert - Oregon") {
		t.Fatalf("主题不正确: %s", msg)
	}
	if !strings.Contains(msg, "Content-Type: text/html") {
		t.Fatalf("应为 HTML 邮件: %s", msg)
	}
	if !strings.Contains(msg, "5.850") {
		t.Fatalf("正文应包含当前利率: %s", msg)
	}

	if client.commands[0] != "starttls" {
		t.Fatalf("应先执行 STARTTLS: %v", client.commands)
	}
}

func TestEmailNotifierSkipsFailedRecipient(t *testing.T) {
	client := &fakeSMTPClient{
		rcptErrors: map[string]error{"bad@example.com": errors.New("550 mailbox unavailable")},
	}
	notifier := newTestEmailNotifier(t, client, "bad@example.com", "good@example.com")

	if err := notifier.Notify(context.Background(), testNotification(KindDailyReport)); err != nil {
		t.Fatalf("仍有成功收件人时不应报错: %v", err)
	}

	if len(client.messages) != 1 {
		t.Fatalf("期望发送 1 封邮件, 实际 %d", len(client.messages))
	}
	if client.resets != 1 {
		t.Fatalf("失败收件人后应 RSET 一次, 实际 %d", client.resets)
	}
	if !strings.Contains(client.messages[0], "To: good@example.com") {
		t.Fatalf("邮件应发给 good@example.com: %s", client.messages[0])
	}
}

func TestEmailNotifierAllRecipientsFail(t *testing.T) {
	client := &fakeSMTPClient{
		rcptErrors: map[string]error{"bad@example.com": errors.New("550")},
	}
	notifier := newTestEmailNotifier(t, client, "bad@example.com")

	if err := notifier.Notify(context.Background(), testNotification(KindThresholdAlert)); err == nil {
		t.Fatal("全部收件人失败应报错")
	}
}

func TestEmailNotifierAuthErrorNotWrapped(t *testing.T) {
	client := &fakeSMTPClient{authErr: fmt.Errorf("535 auth rejected for app-password")}
	notifier := newTestEmailNotifier(t, client, "one@example.com")

	err := notifier.Notify(context.Background(), testNotification(KindThresholdAlert))
	if err == nil {
		t.Fatal("认证失败应报错")
	}
	if strings.Contains(err.Error(), "app-password") {
		t.Fatalf("错误信息不应泄露凭据: %v", err)
	}
}

func TestEmailNotifierDialError(t *testing.T) {
	notifier, err := NewEmailNotifier(EmailOptions{
		Host:       "smtp.example.com",
		Port:       587,
		Sender:     "alerts@example.com",
		Recipients: []string{"one@example.com"},
	}, testLogger())
	if err != nil {
		t.Fatalf("构造 EmailNotifier 失败: %v", err)
	}
	notifier.SetDialer(func(ctx context.Context, addr, host string) (SMTPClient, error) {
		return nil, errors.New("connection refused")
	})

	if err := notifier.Notify(context.Background(), testNotification(KindThresholdAlert)); err == nil {
		t.Fatal("连接失败应报错")
	}
}

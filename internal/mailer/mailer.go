// Package mailer доставляет служебные письма: токены подтверждения и ссылки сброса пароля.
package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"shepherd/internal/logs"
)

// Message: одно письмо одному получателю.
type Message struct {
	To      string
	Subject string
	Body    string
	Kind    string // метка для метрик и логов: profile|email|password|reset
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer отправляет письма через SMTP-релей.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	send sendFunc
}

func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	return &SMTPMailer{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
		send:     smtp.SendMail,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("mail: header injection in recipient or subject")
	}
	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	if err := m.send(addr, auth, m.From, []string{msg.To}, m.render(msg)); err != nil {
		return fmt.Errorf("mail: send %s to %s: %w", msg.Kind, msg.To, err)
	}
	return nil
}

func (m *SMTPMailer) render(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// LogMailer пишет письма в лог. Используется, когда SMTP не настроен.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, msg Message) error {
	logs.Logger.WithFields(map[string]any{
		"to":   msg.To,
		"kind": msg.Kind,
	}).Infof("mail (not sent, smtp disabled): %s\n%s", msg.Subject, msg.Body)
	return nil
}

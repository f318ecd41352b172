package mailer

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"ubersystem/pkg/config"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPTransport 直接通过 SMTP 投递
type SMTPTransport struct {
	cfg      config.SMTPConfig
	sendMail sendMailFunc
}

func NewSMTPTransport(cfg config.SMTPConfig) *SMTPTransport {
	return &SMTPTransport{cfg: cfg, sendMail: smtp.SendMail}
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) (string, error) {
	deliveryID := uuid.NewString()
	if err := t.Deliver(ctx, deliveryID, msg); err != nil {
		return "", err
	}
	return deliveryID, nil
}

// Deliver 使用调用方给定的 delivery id 投递（mail-relay 用）
func (t *SMTPTransport) Deliver(ctx context.Context, deliveryID string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("smtp", msg, err)
	}
	if len(msg.To) == 0 {
		return wrapErr("smtp", msg, fmt.Errorf("no recipients"))
	}

	var auth smtp.Auth
	if t.cfg.Username != "" {
		auth = smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	body := BuildMIME(deliveryID, t.cfg.Host, msg, time.Now())

	if err := t.sendMail(addr, auth, msg.From, msg.Recipients(), body); err != nil {
		return wrapErr("smtp", msg, err)
	}
	return nil
}

// BuildMIME 生成邮件原文。Bcc 只出现在 RCPT TO 中，不写进头部。
func BuildMIME(deliveryID, host string, msg Message, now time.Time) []byte {
	contentType := "text/html; charset=\"UTF-8\""
	if msg.Format == FormatText {
		contentType = "text/plain; charset=\"UTF-8\""
	}

	var b bytes.Buffer
	writeHeader := func(k, v string) {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	writeHeader("From", msg.From)
	writeHeader("To", strings.Join(msg.To, ", "))
	if len(msg.CC) > 0 {
		writeHeader("Cc", strings.Join(msg.CC, ", "))
	}
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader("Date", now.Format(time.RFC1123Z))
	writeHeader("Message-ID", fmt.Sprintf("<%s@%s>", deliveryID, host))
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", contentType)
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}

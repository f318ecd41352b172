package mailer

import (
	"context"
	"fmt"
	"strings"
)

const (
	FormatText = "text"
	FormatHTML = "html"
)

// FormatFor 模板以 .txt 结尾发纯文本，否则发 HTML
func FormatFor(template string) string {
	if strings.HasSuffix(template, ".txt") {
		return FormatText
	}
	return FormatHTML
}

// Message 一封待发送的邮件
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	CC      []string `json:"cc,omitempty"`
	BCC     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	Format  string   `json:"format"`

	// 来源信息，用于日志和发送记录
	Ident      string `json:"ident,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
}

// Recipients SMTP RCPT TO 列表（to + cc + bcc）
func (m Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.CC)+len(m.BCC))
	out = append(out, m.To...)
	out = append(out, m.CC...)
	out = append(out, m.BCC...)
	return out
}

// Transport 发送一封邮件，返回 delivery id。
// delivery id 为空表示消息被有意丢弃（例如开发环境过滤掉了所有收件人）。
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// TransportFunc 把普通函数适配成 Transport
type TransportFunc func(ctx context.Context, msg Message) (string, error)

func (f TransportFunc) Send(ctx context.Context, msg Message) (string, error) {
	return f(ctx, msg)
}

// TransportError 发送失败
type TransportError struct {
	Transport string
	To        []string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: send to %s: %v", e.Transport, strings.Join(e.To, ","), e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func wrapErr(transport string, msg Message, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*TransportError); ok {
		return err
	}
	return &TransportError{Transport: transport, To: msg.To, Err: err}
}

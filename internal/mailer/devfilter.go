package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DevFilter 开发环境下只保留 mailinator.com 和开发者自己的地址，避免误发给真实用户。
// 过滤后没有 To 时不调用下游，返回空 delivery id。
type DevFilter struct {
	next       Transport
	developers []string
	logger     *zap.Logger
}

func NewDevFilter(next Transport, developers []string, logger *zap.Logger) *DevFilter {
	devs := make([]string, 0, len(developers))
	for _, d := range developers {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			devs = append(devs, d)
		}
	}
	return &DevFilter{next: next, developers: devs, logger: logger}
}

func (f *DevFilter) allowed(addr string) bool {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if strings.HasSuffix(addr, "mailinator.com") {
		return true
	}
	for _, d := range f.developers {
		if strings.Contains(addr, d) {
			return true
		}
	}
	return false
}

func (f *DevFilter) filter(addrs []string) []string {
	var out []string
	for _, a := range addrs {
		if f.allowed(a) {
			out = append(out, a)
		}
	}
	return out
}

// apply 过滤三类收件人，To 为空时返回 false
func (f *DevFilter) apply(msg Message) (Message, bool) {
	original := msg.To
	msg.To = f.filter(msg.To)
	msg.CC = f.filter(msg.CC)
	msg.BCC = f.filter(msg.BCC)

	if len(msg.To) == 0 {
		f.logger.Info("Dev box: dropped email with no allowed recipients",
			zap.String("ident", msg.Ident),
			zap.Strings("to", original),
		)
		return msg, false
	}
	return msg, true
}

func (f *DevFilter) Send(ctx context.Context, msg Message) (string, error) {
	msg, ok := f.apply(msg)
	if !ok {
		return "", nil
	}
	return f.next.Send(ctx, msg)
}

// SendInTx 下游必须是 TxTransport
func (f *DevFilter) SendInTx(ctx context.Context, tx pgx.Tx, msg Message) (string, error) {
	next, ok := f.next.(TxTransport)
	if !ok {
		return "", fmt.Errorf("dev filter: %T cannot send in a transaction", f.next)
	}
	msg, ok = f.apply(msg)
	if !ok {
		return "", nil
	}
	return next.SendInTx(ctx, tx, msg)
}

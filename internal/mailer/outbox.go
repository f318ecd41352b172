package mailer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"ubersystem/pkg/mq"
	"ubersystem/pkg/outbox"
	"ubersystem/pkg/trace"
)

// OutboundEmail 是 email.outbound 事件的 payload，mail-relay 按 DeliveryID 去重
type OutboundEmail struct {
	DeliveryID string  `json:"delivery_id"`
	TraceID    string  `json:"trace_id,omitempty"`
	Message    Message `json:"message"`
}

// TxBeginner pgxpool.Pool 满足这个接口
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxTransport 把投递写进调用方的事务，和发送记录一起提交或一起回滚
type TxTransport interface {
	SendInTx(ctx context.Context, tx pgx.Tx, msg Message) (string, error)
}

// OutboxTransport 不直接连 SMTP，而是在事务里写一条 email.outbound outbox 事件，
// 由 outbox Dispatcher 发布到 MQ，再由 mail-relay 投递。
type OutboxTransport struct {
	db   TxBeginner
	repo *outbox.Repository
}

func NewOutboxTransport(db TxBeginner, repo *outbox.Repository) *OutboxTransport {
	return &OutboxTransport{db: db, repo: repo}
}

// Send 单独开一个事务，用于没有发送记录的邮件（如待发报告）
func (t *OutboxTransport) Send(ctx context.Context, msg Message) (string, error) {
	tx, err := t.db.Begin(ctx)
	if err != nil {
		return "", wrapErr("outbox", msg, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	deliveryID, err := t.SendInTx(ctx, tx, msg)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", wrapErr("outbox", msg, fmt.Errorf("commit: %w", err))
	}
	return deliveryID, nil
}

// SendInTx 只写 email.outbound 事件，由调用方提交
func (t *OutboxTransport) SendInTx(ctx context.Context, tx pgx.Tx, msg Message) (string, error) {
	deliveryID := uuid.NewString()
	payload := OutboundEmail{
		DeliveryID: deliveryID,
		TraceID:    trace.FromContext(ctx),
		Message:    msg,
	}

	aggregateID := msg.EntityType + ":" + msg.EntityID
	if _, err := outbox.InsertEventInTx(ctx, tx, t.repo, "automated_email", aggregateID, mq.RoutingEmailOutbound, payload); err != nil {
		return "", wrapErr("outbox", msg, err)
	}
	return deliveryID, nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ubersystem/internal/automail"
	"ubersystem/internal/mailer"
	"ubersystem/pkg/otel"
	"ubersystem/pkg/outbox"
)

const RoutingEmailSent = "email.sent"

// SentEmailEvent email.sent 审计事件的 payload
type SentEmailEvent struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Ident      string    `json:"ident"`
	DeliveryID string    `json:"delivery_id"`
	To         []string  `json:"to"`
	Subject    string    `json:"subject"`
	SentAt     time.Time `json:"sent_at"`
}

// SentEmailRepository sent_emails 表，实现 automail.SentLog
type SentEmailRepository struct {
	db     DB
	outbox *outbox.Repository
}

// NewSentEmailRepository outboxRepo 为 nil 时不写审计事件
func NewSentEmailRepository(db DB, outboxRepo *outbox.Repository) *SentEmailRepository {
	return &SentEmailRepository{db: db, outbox: outboxRepo}
}

const sentExistsQuery = `
	SELECT EXISTS (
	    SELECT 1 FROM sent_emails WHERE entity_type = $1 AND entity_id = $2 AND ident = $3
	)`

func (r *SentEmailRepository) Exists(ctx context.Context, key automail.SentKey) (bool, error) {
	var exists bool
	err := otel.WithDBSpan(ctx, "SELECT", sentExistsQuery, func(ctx context.Context) error {
		return r.db.QueryRow(ctx, sentExistsQuery, key.EntityType, key.EntityID, key.Ident).Scan(&exists)
	})
	return exists, err
}

const sentKeysQuery = `SELECT entity_type, entity_id, ident FROM sent_emails`

func (r *SentEmailRepository) LoadKeys(ctx context.Context) (automail.SentIndex, error) {
	idx := make(automail.SentIndex)
	err := otel.WithDBSpan(ctx, "SELECT", sentKeysQuery, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, sentKeysQuery)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var k automail.SentKey
			if err := rows.Scan(&k.EntityType, &k.EntityID, &k.Ident); err != nil {
				return err
			}
			idx.Add(k)
		}
		return rows.Err()
	})
	return idx, err
}

const insertSentQuery = `
	INSERT INTO sent_emails (entity_type, entity_id, ident, delivery_id, sender, recipients, cc, bcc,
	                         subject, body, format, sent_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// Record 在一个事务里写发送记录和 email.sent outbox 事件。
// 唯一约束冲突说明已经记录过，视为成功。
func (r *SentEmailRepository) Record(ctx context.Context, rec automail.SentRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := r.recordInTx(ctx, tx, rec)
	if err != nil || !inserted {
		return err
	}
	return tx.Commit(ctx)
}

// recordInTx 插入发送记录和 email.sent 事件，不提交。已存在时返回 false。
func (r *SentEmailRepository) recordInTx(ctx context.Context, tx pgx.Tx, rec automail.SentRecord) (bool, error) {
	err := otel.WithDBSpan(ctx, "INSERT", insertSentQuery, func(ctx context.Context) error {
		_, err := tx.Exec(ctx, insertSentQuery,
			rec.Key.EntityType, rec.Key.EntityID, rec.Key.Ident, rec.DeliveryID, rec.Sender,
			nonNil(rec.To), nonNil(rec.CC), nonNil(rec.BCC),
			rec.Subject, rec.Body, rec.Format, rec.SentAt,
		)
		return err
	})
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if r.outbox != nil {
		event := SentEmailEvent{
			EntityType: rec.Key.EntityType,
			EntityID:   rec.Key.EntityID,
			Ident:      rec.Key.Ident,
			DeliveryID: rec.DeliveryID,
			To:         rec.To,
			Subject:    rec.Subject,
			SentAt:     rec.SentAt,
		}
		aggregateID := rec.Key.EntityType + ":" + rec.Key.EntityID
		if _, err := outbox.InsertEventInTx(ctx, tx, r.outbox, "sent_email", aggregateID, RoutingEmailSent, event); err != nil {
			return false, fmt.Errorf("insert outbox event: %w", err)
		}
	}
	return true, nil
}

// OutboxSender 实现 automail.OutboxSender：email.outbound 事件、sent_emails 行
// 和 email.sent 事件在同一个事务里提交
type OutboxSender struct {
	sent      *SentEmailRepository
	transport mailer.TxTransport
}

func NewOutboxSender(sent *SentEmailRepository, transport mailer.TxTransport) *OutboxSender {
	return &OutboxSender{sent: sent, transport: transport}
}

func (s *OutboxSender) SendAndRecord(ctx context.Context, msg mailer.Message, rec automail.SentRecord) (string, error) {
	tx, err := s.sent.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	deliveryID, err := s.transport.SendInTx(ctx, tx, msg)
	if err != nil {
		return "", err
	}
	rec.DeliveryID = deliveryID

	inserted, err := s.sent.recordInTx(ctx, tx, rec)
	if err != nil {
		return "", err
	}
	if !inserted {
		// 已经发过，回滚掉刚写的出站事件
		return "", nil
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return deliveryID, nil
}

const sentHistoryQuery = `
	SELECT entity_type, entity_id, ident, delivery_id, sender, recipients, subject, format, sent_at
	FROM sent_emails
	WHERE ident = $1
	ORDER BY sent_at DESC
	LIMIT $2`

// History 某个分类最近的发送记录（不含正文）
func (r *SentEmailRepository) History(ctx context.Context, ident string, limit int) ([]automail.SentRecord, error) {
	var out []automail.SentRecord
	err := otel.WithDBSpan(ctx, "SELECT", sentHistoryQuery, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, sentHistoryQuery, ident, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var rec automail.SentRecord
			if err := rows.Scan(&rec.Key.EntityType, &rec.Key.EntityID, &rec.Key.Ident, &rec.DeliveryID,
				&rec.Sender, &rec.To, &rec.Subject, &rec.Format, &rec.SentAt); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

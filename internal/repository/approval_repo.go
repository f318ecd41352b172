package repository

import (
	"context"
	"fmt"

	"ubersystem/internal/automail"
	"ubersystem/pkg/otel"
)

// ApprovalRepository automated_email 表：每个分类一行，管理员在这里审批
type ApprovalRepository struct {
	db DB
}

func NewApprovalRepository(db DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvedIdentsQuery = `SELECT ident FROM automated_email WHERE approved`

func (r *ApprovalRepository) ApprovedIdents(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool)
	err := otel.WithDBSpan(ctx, "SELECT", approvedIdentsQuery, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, approvedIdentsQuery)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var ident string
			if err := rows.Scan(&ident); err != nil {
				return err
			}
			out[ident] = true
		}
		return rows.Err()
	})
	return out, err
}

const upsertCategoryQuery = `
	INSERT INTO automated_email (ident, model, subject, sender, format, needs_approval,
	                             allow_post_con, allow_at_the_con, active_when, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	ON CONFLICT (ident) DO UPDATE SET
	    model = EXCLUDED.model,
	    subject = EXCLUDED.subject,
	    sender = EXCLUDED.sender,
	    format = EXCLUDED.format,
	    needs_approval = EXCLUDED.needs_approval,
	    allow_post_con = EXCLUDED.allow_post_con,
	    allow_at_the_con = EXCLUDED.allow_at_the_con,
	    active_when = EXCLUDED.active_when,
	    updated_at = NOW()`

// Sync 启动时把注册表同步到 automated_email，保留已有的审批状态
func (r *ApprovalRepository) Sync(ctx context.Context, categories []*automail.Category) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range categories {
		err := otel.WithDBSpan(ctx, "INSERT", upsertCategoryQuery, func(ctx context.Context) error {
			_, err := tx.Exec(ctx, upsertCategoryQuery, c.Ident, c.EntityType, c.Subject, c.Sender,
				c.Format(), c.NeedsApproval, c.PostCon, c.AllowDuringCon, c.WhenText())
			return err
		})
		if err != nil {
			return fmt.Errorf("sync category %s: %w", c.Ident, err)
		}
	}
	return tx.Commit(ctx)
}

const setApprovedQuery = `UPDATE automated_email SET approved = $2, updated_at = NOW() WHERE ident = $1`

// SetApproved 审批或撤销某个分类
func (r *ApprovalRepository) SetApproved(ctx context.Context, ident string, approved bool) error {
	return otel.WithDBSpan(ctx, "UPDATE", setApprovedQuery, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, setApprovedQuery, ident, approved)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("automated email %q not found", ident)
		}
		return nil
	})
}

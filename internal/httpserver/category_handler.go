package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ubersystem/internal/automail"
)

// ApprovalWriter repository.ApprovalRepository 满足这个接口
type ApprovalWriter interface {
	SetApproved(ctx context.Context, ident string, approved bool) error
}

// SentHistory repository.SentEmailRepository 满足这个接口
type SentHistory interface {
	History(ctx context.Context, ident string, limit int) ([]automail.SentRecord, error)
}

// CategoryHandler 分类审批与发送历史
type CategoryHandler struct {
	registry  *automail.Registry
	approvals ApprovalWriter
	history   SentHistory
	logger    *zap.Logger
}

func NewCategoryHandler(registry *automail.Registry, approvals ApprovalWriter, history SentHistory, logger *zap.Logger) *CategoryHandler {
	return &CategoryHandler{registry: registry, approvals: approvals, history: history, logger: logger}
}

type sentView struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	DeliveryID string    `json:"delivery_id"`
	Sender     string    `json:"sender"`
	To         []string  `json:"to"`
	Subject    string    `json:"subject"`
	Format     string    `json:"format"`
	SentAt     time.Time `json:"sent_at"`
}

func (h *CategoryHandler) category(c *gin.Context) (*automail.Category, bool) {
	cat, ok := h.registry.Get(c.Param("ident"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
	}
	return cat, ok
}

// Approve POST /admin/automail/categories/:ident/approve
func (h *CategoryHandler) Approve(c *gin.Context) { h.setApproved(c, true) }

// Unapprove POST /admin/automail/categories/:ident/unapprove
func (h *CategoryHandler) Unapprove(c *gin.Context) { h.setApproved(c, false) }

func (h *CategoryHandler) setApproved(c *gin.Context, approved bool) {
	cat, ok := h.category(c)
	if !ok {
		return
	}
	if err := h.approvals.SetApproved(c.Request.Context(), cat.Ident, approved); err != nil {
		h.logger.Error("Failed to update category approval",
			zap.String("ident", cat.Ident),
			zap.Bool("approved", approved),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update approval"})
		return
	}

	h.logger.Info("Category approval updated",
		zap.String("ident", cat.Ident),
		zap.Bool("approved", approved),
		zap.String("subject", c.GetString(ctxSubject)),
	)
	c.JSON(http.StatusOK, gin.H{"ident": cat.Ident, "approved": approved})
}

// History GET /admin/automail/categories/:ident/history?limit=100
func (h *CategoryHandler) History(c *gin.Context) {
	cat, ok := h.category(c)
	if !ok {
		return
	}
	records, err := h.history.History(c.Request.Context(), cat.Ident, queryLimit(c))
	if err != nil {
		h.logger.Error("Failed to load sent history", zap.String("ident", cat.Ident), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	out := make([]sentView, 0, len(records))
	for _, r := range records {
		out = append(out, sentView{
			EntityType: r.Key.EntityType,
			EntityID:   r.Key.EntityID,
			DeliveryID: r.DeliveryID,
			Sender:     r.Sender,
			To:         r.To,
			Subject:    r.Subject,
			Format:     r.Format,
			SentAt:     r.SentAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"ident": cat.Ident, "sent": out})
}

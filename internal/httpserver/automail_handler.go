package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ubersystem/internal/automail"
)

// AutomailHandler 自动邮件的状态、分类和手动触发
type AutomailHandler struct {
	coordinator *automail.Coordinator
	reporter    *automail.PendingReporter
	logger      *zap.Logger
}

func NewAutomailHandler(coordinator *automail.Coordinator, reporter *automail.PendingReporter, logger *zap.Logger) *AutomailHandler {
	return &AutomailHandler{coordinator: coordinator, reporter: reporter, logger: logger}
}

// Status GET /api/automail/status
func (h *AutomailHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":          h.coordinator.State().String(),
		"last_run":       h.coordinator.LastStats(),
		"last_completed": h.coordinator.LastCompletedStats(),
	})
}

// Pending GET /api/automail/pending
func (h *AutomailHandler) Pending(c *gin.Context) {
	data := h.reporter.PendingData()
	if data == nil {
		data = automail.PendingData{}
	}
	c.JSON(http.StatusOK, gin.H{"pending": data})
}

type categoryView struct {
	Ident          string   `json:"ident"`
	EntityType     string   `json:"entity_type"`
	Subject        string   `json:"subject"`
	Sender         string   `json:"sender"`
	Template       string   `json:"template"`
	Format         string   `json:"format"`
	Filter         string   `json:"filter"`
	NeedsApproval  bool     `json:"needs_approval"`
	PostCon        bool     `json:"post_con"`
	AllowDuringCon bool     `json:"allow_during_con"`
	ActiveWhen     string   `json:"active_when,omitempty"`
	CC             []string `json:"cc,omitempty"`
	BCC            []string `json:"bcc,omitempty"`
}

// Categories GET /api/automail/categories
func (h *AutomailHandler) Categories(c *gin.Context) {
	cats := h.coordinator.Registry().All()
	out := make([]categoryView, 0, len(cats))
	for _, cat := range cats {
		out = append(out, categoryView{
			Ident:          cat.Ident,
			EntityType:     cat.EntityType,
			Subject:        cat.Subject,
			Sender:         cat.Sender,
			Template:       cat.Template,
			Format:         cat.Format(),
			Filter:         cat.Filter.Name(),
			NeedsApproval:  cat.NeedsApproval,
			PostCon:        cat.PostCon,
			AllowDuringCon: cat.AllowDuringCon,
			ActiveWhen:     cat.WhenText(),
			CC:             cat.CC,
			BCC:            cat.BCC,
		})
	}
	c.JSON(http.StatusOK, gin.H{"categories": out})
}

// Run POST /admin/automail/run，默认模式跑一次
func (h *AutomailHandler) Run(c *gin.Context) {
	res, err := h.coordinator.Run(c.Request.Context(), automail.RunOptions{})
	if err != nil {
		h.logger.Error("Manual automated email run failed",
			zap.String("subject", c.GetString(ctxSubject)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": res})
		return
	}
	if res.Skipped {
		c.JSON(http.StatusConflict, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

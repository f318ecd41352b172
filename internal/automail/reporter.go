package automail

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"ubersystem/internal/mailer"
)

const (
	PendingReportTemplate = "emails/daily_checks/pending_emails.html"
	// DefaultReportSchedule 每天早上 6 点
	DefaultReportSchedule = "0 6 * * *"
)

// PendingCategory 等待审批的分类
type PendingCategory struct {
	NumUnsent int    `json:"num_unsent"`
	Subject   string `json:"subject"`
	Sender    string `json:"sender"`
}

// PendingData sender -> ident -> 等待审批的分类
type PendingData map[string]map[string]PendingCategory

// StatsReader 只读访问最近一次完成的 run
type StatsReader interface {
	LastCompletedStats() *RunStats
}

// ReporterConfig 报告开关与地址
type ReporterConfig struct {
	Enabled    bool
	SendEmails bool
	DevBox     bool
	EventName  string
	// StaffEmail 报告的发件人，同时收到所有发件人的分类
	StaffEmail string
}

// PendingReporter 每天提醒管理员还有哪些分类在等待审批
type PendingReporter struct {
	cfg       ReporterConfig
	registry  *Registry
	stats     StatsReader
	phase     PhaseSource
	renderer  mailer.Renderer
	transport mailer.Transport
	logger    *zap.Logger
	now       func() time.Time
}

func NewPendingReporter(cfg ReporterConfig, registry *Registry, stats StatsReader, phase PhaseSource,
	renderer mailer.Renderer, transport mailer.Transport, logger *zap.Logger) *PendingReporter {
	if phase == nil {
		phase = EventClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PendingReporter{
		cfg:       cfg,
		registry:  registry,
		stats:     stats,
		phase:     phase,
		renderer:  renderer,
		transport: transport,
		logger:    logger,
		now:       time.Now,
	}
}

// PendingData 没有完成过的 run 或没有待审批分类时返回 nil
func (r *PendingReporter) PendingData() PendingData {
	stats := r.stats.LastCompletedStats()
	if stats == nil || !stats.Completed || len(stats.Results) == 0 {
		return nil
	}

	out := make(PendingData)
	for _, c := range r.registry.All() {
		n := stats.UnsentBecauseUnapproved(c.Ident)
		if n <= 0 {
			continue
		}
		if out[c.Sender] == nil {
			out[c.Sender] = make(map[string]PendingCategory)
		}
		out[c.Sender][c.Ident] = PendingCategory{NumUnsent: n, Subject: c.Subject, Sender: c.Sender}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (r *PendingReporter) enabled() bool {
	if !r.cfg.Enabled || !(r.cfg.DevBox || r.cfg.SendEmails) {
		return false
	}
	p := r.phase.Phase(r.now())
	return !p.AtTheCon && !p.PostCon
}

// Notify 每个发件人收到一份自己的报告，staff 地址收到全部
func (r *PendingReporter) Notify(ctx context.Context) (int, error) {
	if !r.enabled() {
		return 0, nil
	}
	data := r.PendingData()
	if data == nil {
		return 0, nil
	}

	senders := make([]string, 0, len(data))
	for s := range data {
		senders = append(senders, s)
	}
	sort.Strings(senders)

	subject := fmt.Sprintf("%s Pending Emails Report for %s", r.cfg.EventName, r.now().Format("2006-01-02"))
	sent := 0
	for _, sender := range senders {
		included := data
		if sender != r.cfg.StaffEmail {
			included = PendingData{sender: data[sender]}
		}
		body, err := r.renderer.Render(PendingReportTemplate, map[string]interface{}{
			"pending_email_categories": included,
			"primary_sender":           sender,
		})
		if err != nil {
			return sent, fmt.Errorf("render pending report for %s: %w", sender, err)
		}
		_, err = r.transport.Send(ctx, mailer.Message{
			From:    r.cfg.StaffEmail,
			To:      []string{sender},
			Subject: subject,
			Body:    string(body),
			Format:  mailer.FormatHTML,
			Ident:   "pending_emails_report",
		})
		if err != nil {
			return sent, err
		}
		sent++
	}
	r.logger.Info("Sent pending emails report", zap.Int("reports", sent))
	return sent, nil
}

// Schedule 把报告挂到 cron 上，返回已启动的 cron，调用方负责 Stop
func (r *PendingReporter) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	if spec == "" {
		spec = DefaultReportSchedule
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := r.Notify(ctx); err != nil {
			r.logger.Error("Failed to send pending emails report", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid report schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}

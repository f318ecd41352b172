package automail

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"ubersystem/internal/mailer"
	"ubersystem/internal/model"
	"ubersystem/pkg/logger"
	"ubersystem/pkg/metrics"
	"ubersystem/pkg/otel"
	"ubersystem/pkg/trace"
)

// Settings 开关与节奏
type Settings struct {
	SendEmails bool
	DevBox     bool
	// Pacing 相邻两个实体之间的停顿，默认 10ms
	Pacing time.Duration
}

// Deps Coordinator 依赖的协作者。Stats 可以为空。
// Outbox 不为空时分类邮件走它，投递和发送记录在同一个事务里提交，不再调用 Transport 和 SentLog.Record。
type Deps struct {
	Registry  *Registry
	Sources   []Source
	SentLog   SentLog
	Approvals ApprovalSource
	Renderer  mailer.Renderer
	Transport mailer.Transport
	Outbox    OutboxSender
	Lock      RunLock
	Phase     PhaseSource
	Stats     StatsStore
	Logger    *zap.Logger
}

// RunOptions 单次 run 的选项
type RunOptions struct {
	// RaiseErrors 严格模式：第一个评估或发送错误直接返回（测试和手动触发用）
	RaiseErrors bool
}

// RunResult run 的结果。Skipped 为 true 时 Stats 为 nil。
type RunResult struct {
	Skipped    bool      `json:"skipped"`
	SkipReason string    `json:"skip_reason,omitempty"`
	Stats      *RunStats `json:"stats,omitempty"`
}

const (
	SkipSendingDisabled = "sending_disabled"
	SkipLockHeld        = "lock_held"
)

// Coordinator 编排一次完整的 dispatch run
type Coordinator struct {
	registry  *Registry
	sources   map[string]Source
	sentLog   SentLog
	approvals ApprovalSource
	renderer  mailer.Renderer
	transport mailer.Transport
	outbox    OutboxSender
	lock      RunLock
	phase     PhaseSource
	store     StatsStore
	logger    *zap.Logger
	settings  Settings
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	state         atomic.Int32
	last          atomic.Pointer[RunStats]
	lastCompleted atomic.Pointer[RunStats]
}

// NewCoordinator 检查每个有分类的实体类型都有对应的 Source
func NewCoordinator(deps Deps, settings Settings) (*Coordinator, error) {
	if deps.Registry == nil || deps.SentLog == nil || deps.Renderer == nil || deps.Transport == nil {
		return nil, &ConfigError{Reason: "registry, sent log, renderer and transport are required"}
	}
	if deps.Approvals == nil {
		deps.Approvals = StaticApprovals(nil)
	}
	if deps.Lock == nil {
		deps.Lock = &LocalLock{}
	}
	if deps.Phase == nil {
		deps.Phase = EventClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if settings.Pacing < 0 {
		settings.Pacing = 0
	}

	sources := make(map[string]Source, len(deps.Sources))
	for _, s := range deps.Sources {
		sources[s.EntityType()] = s
	}
	for _, et := range deps.Registry.EntityTypes() {
		if _, ok := sources[et]; !ok {
			return nil, &ConfigError{Reason: fmt.Sprintf("no entity source for %s", et)}
		}
	}

	return &Coordinator{
		registry:  deps.Registry,
		sources:   sources,
		sentLog:   deps.SentLog,
		approvals: deps.Approvals,
		renderer:  deps.Renderer,
		transport: deps.Transport,
		outbox:    deps.Outbox,
		lock:      deps.Lock,
		phase:     deps.Phase,
		store:     deps.Stats,
		logger:    deps.Logger,
		settings:  settings,
		now:       time.Now,
		sleep:     sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State 当前状态
func (c *Coordinator) State() RunState { return RunState(c.state.Load()) }

// LastStats 最近一次结束（完成或中止）的 run 的统计，没有则为 nil
func (c *Coordinator) LastStats() *RunStats { return c.last.Load() }

// LastCompletedStats 最近一次成功完成的 run 的统计
func (c *Coordinator) LastCompletedStats() *RunStats { return c.lastCompleted.Load() }

// Registry 只读访问
func (c *Coordinator) Registry() *Registry { return c.registry }

// RestoreStats 启动时从 StatsStore 恢复上一次的统计
func (c *Coordinator) RestoreStats(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	stats, err := c.store.LoadLastRunStats(ctx)
	if err != nil || stats == nil {
		return err
	}
	c.last.Store(stats)
	if stats.Completed {
		c.lastCompleted.Store(stats)
	}
	return nil
}

// SendAll 调度器入口：默认模式跑一次
func (c *Coordinator) SendAll(ctx context.Context) {
	if _, err := c.Run(ctx, RunOptions{}); err != nil {
		c.logger.Error("Automated email run failed", zap.Error(err))
	}
}

// Start 立即跑一次，然后每个 interval 跑一次，直到 ctx 取消
func (c *Coordinator) Start(ctx context.Context, interval time.Duration) {
	c.logger.Info("Starting automated email dispatcher", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.SendAll(ctx)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Automated email dispatcher stopped")
			return
		case <-ticker.C:
			c.SendAll(ctx)
		}
	}
}

// Run 执行一次 dispatch。发送未开启或锁被占用时跳过，不返回错误。
func (c *Coordinator) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	if !(c.settings.DevBox || c.settings.SendEmails) {
		metrics.IncrementRunSkipped(SkipSendingDisabled)
		return RunResult{Skipped: true, SkipReason: SkipSendingDisabled}, nil
	}

	if err := c.acquire(ctx); err != nil {
		metrics.IncrementRunSkipped(SkipLockHeld)
		c.logger.Warn("Can't acquire lock for email daemon (already running?), skipping this run", zap.Error(err))
		return RunResult{Skipped: true, SkipReason: SkipLockHeld}, nil
	}
	defer func() {
		if err := c.lock.Unlock(context.Background()); err != nil {
			c.logger.Error("Failed to release dispatch run lock", zap.Error(err))
		}
	}()

	c.state.Store(int32(StateRunning))
	stats, err := c.execute(ctx, opts)
	c.state.Store(int32(stats.State))
	return RunResult{Stats: stats}, err
}

func (c *Coordinator) acquire(ctx context.Context) error {
	ok, err := c.lock.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", errLockHeld, err)
	}
	if !ok {
		return errLockHeld
	}
	return nil
}

// run 一次 run 的上下文，统计通过它显式传递
type run struct {
	c      *Coordinator
	opts   RunOptions
	stats  *RunStats
	eval   *Evaluator
	logger *zap.Logger
}

func (c *Coordinator) execute(ctx context.Context, opts RunOptions) (*RunStats, error) {
	start := c.now()
	runID := uuid.NewString()
	ctx, traceID := trace.Ensure(ctx)
	ctx, span := otel.StartSpan(ctx, "automail.run")
	span.SetAttributes(attribute.String("run_id", runID), attribute.Bool("strict", opts.RaiseErrors))
	defer span.End()

	r := &run{
		c:      c,
		opts:   opts,
		stats:  newRunStats(runID, start),
		logger: logger.WithTrace(ctx, c.logger).With(zap.String("run_id", runID)),
	}

	err := r.prepare(ctx)
	if err == nil {
		err = r.dispatchAll(ctx)
	}

	state, reason := StateCompleted, ""
	if err != nil {
		state, reason = StateAborted, err.Error()
	}
	r.stats.finish(state, reason, c.now())

	if c.store != nil && state == StateCompleted {
		if saveErr := c.store.SaveRunStats(context.WithoutCancel(ctx), r.stats); saveErr != nil {
			err = &PersistenceError{Op: "save run stats", Err: saveErr}
			r.stats.finish(StateAborted, err.Error(), c.now())
		}
	}

	c.last.Store(r.stats)
	if r.stats.Completed {
		c.lastCompleted.Store(r.stats)
	}

	duration := c.now().Sub(start)
	metrics.RecordDispatchRun(r.stats.State.String(), duration)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("Automated email run aborted",
			zap.String("trace_id", traceID),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return r.stats, err
	}

	r.logger.Info("Automated email run completed",
		zap.Int("sent", r.stats.TotalSent()),
		zap.Int("categories", len(r.stats.Results)),
		zap.Duration("duration", duration),
	)
	return r.stats, nil
}

// prepare 固定审批集合、活动阶段、当前时间，并加载已发送集合
func (r *run) prepare(ctx context.Context) error {
	approved, err := r.c.approvals.ApprovedIdents(ctx)
	if err != nil {
		return &PersistenceError{Op: "load approvals", Err: err}
	}
	sent, err := r.c.sentLog.LoadKeys(ctx)
	if err != nil {
		return &PersistenceError{Op: "load sent emails", Err: err}
	}
	now := r.c.now()
	r.eval = NewEvaluator(Snapshot{
		Phase:    r.c.phase.Phase(now),
		Now:      now,
		Approved: approved,
	}, sent)
	return nil
}

func (r *run) dispatchAll(ctx context.Context) error {
	for _, entityType := range r.c.registry.EntityTypes() {
		categories := r.c.registry.CategoriesFor(entityType)
		entities, err := r.c.sources[entityType].Load(ctx)
		if err != nil {
			if r.opts.RaiseErrors {
				return fmt.Errorf("load %s: %w", entityType, err)
			}
			r.logger.Error("Failed to load entities, skipping type",
				zap.String("entity_type", entityType),
				zap.Error(err),
			)
			continue
		}
		r.stats.Entities[entityType] = len(entities)
		metrics.AddEntitiesEvaluated(entityType, len(entities))

		for i, e := range entities {
			if i > 0 {
				if err := r.c.sleep(ctx, r.c.settings.Pacing); err != nil {
					return err
				}
			}
			if err := r.dispatchEntity(ctx, categories, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// dispatchEntity 对一个实体依次评估所有分类。返回错误即中止整个 run。
func (r *run) dispatchEntity(ctx context.Context, categories []*Category, e model.Entity) error {
	for _, cat := range categories {
		outcome, err := r.eval.Evaluate(cat, e)
		if err != nil {
			r.stats.result(cat.Ident).Errored++
			metrics.IncrementDispatch(cat.Ident, "errored")
			r.logger.Error("Error determining whether to send email",
				zap.String("ident", cat.Ident),
				zap.String("entity_type", e.EntityType()),
				zap.String("entity_id", e.EntityID()),
				zap.Error(err),
			)
			if r.opts.RaiseErrors {
				return err
			}
			continue
		}

		switch outcome {
		case OutcomeUnapproved:
			r.stats.result(cat.Ident).UnsentBecauseUnapproved++
			metrics.IncrementDispatch(cat.Ident, "unapproved")
		case OutcomeSend:
			if err := r.send(ctx, cat, e); err != nil {
				var perr *PersistenceError
				if errors.As(err, &perr) || r.opts.RaiseErrors {
					return err
				}
			}
		}
	}
	return nil
}

// send 渲染、标题、投递、记录。渲染或投递失败只影响这一对；记录失败中止 run。
// 配置了 Outbox 时投递和记录在同一个事务里，记录失败不会留下已投递的邮件。
func (r *run) send(ctx context.Context, cat *Category, e model.Entity) error {
	fail := func(stage string, err error) error {
		r.stats.result(cat.Ident).Failed++
		metrics.IncrementDispatch(cat.Ident, "failed")
		r.logger.Error("Error sending email",
			zap.String("ident", cat.Ident),
			zap.String("entity_type", e.EntityType()),
			zap.String("entity_id", e.EntityID()),
			zap.String("stage", stage),
			zap.Error(err),
		)
		return &SendError{Ident: cat.Ident, EntityType: e.EntityType(), EntityID: e.EntityID(), Stage: stage, Err: err}
	}

	body, err := r.c.renderer.Render(cat.Template, renderContext(cat, e))
	if err != nil {
		return fail("render", err)
	}
	subject, err := r.eval.Subject(cat, e)
	if err != nil {
		return fail("subject", err)
	}

	msg := mailer.Message{
		From:       cat.Sender,
		To:         []string{e.EmailAddress()},
		CC:         cat.CC,
		BCC:        cat.BCC,
		Subject:    subject,
		Body:       string(body),
		Format:     cat.Format(),
		Ident:      cat.Ident,
		EntityType: e.EntityType(),
		EntityID:   e.EntityID(),
	}
	key := KeyFor(cat, e)
	rec := SentRecord{
		Key:     key,
		Sender:  msg.From,
		To:      msg.To,
		CC:      msg.CC,
		BCC:     msg.BCC,
		Subject: msg.Subject,
		Body:    msg.Body,
		Format:  msg.Format,
		SentAt:  r.c.now(),
	}
	persistFail := func(err error) error {
		r.stats.result(cat.Ident).Failed++
		metrics.IncrementDispatch(cat.Ident, "failed")
		return &PersistenceError{Op: "record sent email " + cat.Ident + " " + e.EntityType() + " " + e.EntityID(), Err: err}
	}

	var deliveryID string
	if r.c.outbox != nil {
		deliveryID, err = r.c.outbox.SendAndRecord(ctx, msg, rec)
		if err != nil {
			var terr *mailer.TransportError
			if errors.As(err, &terr) {
				return fail("transport", err)
			}
			return persistFail(err)
		}
	} else {
		deliveryID, err = r.c.transport.Send(ctx, msg)
		if err != nil {
			return fail("transport", err)
		}
		rec.DeliveryID = deliveryID
		if err := r.c.sentLog.Record(ctx, rec); err != nil {
			return persistFail(err)
		}
	}

	r.eval.MarkSent(key)
	r.stats.result(cat.Ident).Sent++
	metrics.IncrementDispatch(cat.Ident, "sent")
	r.logger.Debug("Sent automated email",
		zap.String("ident", cat.Ident),
		zap.String("entity_type", e.EntityType()),
		zap.String("entity_id", e.EntityID()),
		zap.String("delivery_id", deliveryID),
	)
	return nil
}

// renderContext {<实体名>: 实体} 加上分类的 ExtraData
func renderContext(cat *Category, e model.Entity) map[string]interface{} {
	data := make(map[string]interface{}, len(cat.ExtraData)+1)
	data[e.ContextName()] = e
	for k, v := range cat.ExtraData {
		data[k] = v
	}
	return data
}

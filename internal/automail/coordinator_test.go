package automail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ubersystem/internal/mailer"
	"ubersystem/internal/model"
)

var testBuilder = Builder{
	Event: EventInfo{Name: "MAGFest", Epoch: time.Date(2027, 1, 7, 12, 0, 0, 0, time.UTC)},
	Senders: Senders{
		Staff:       "stops@magfest.org",
		Regdesk:     "regdesk@magfest.org",
		Marketplace: "marketplace@magfest.org",
		Guest:       "guests@magfest.org",
	},
}

type captureTransport struct {
	mu   sync.Mutex
	sent []mailer.Message
	fail map[string]error // entity id -> error
}

func (t *captureTransport) Send(_ context.Context, msg mailer.Message) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail[msg.EntityID]; err != nil {
		return "", err
	}
	t.sent = append(t.sent, msg)
	return "delivery-" + msg.EntityID, nil
}

func (t *captureTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

type stubRenderer struct{}

func (stubRenderer) Render(template string, data map[string]interface{}) ([]byte, error) {
	if template == "broken.txt" {
		return nil, errors.New("template not found")
	}
	return []byte("rendered " + template), nil
}

type failingSentLog struct {
	*MemorySentLog
}

func (failingSentLog) Record(context.Context, SentRecord) error {
	return errors.New("connection reset")
}

type heldLock struct{}

func (heldLock) TryLock(context.Context) (bool, error) { return false, nil }
func (heldLock) Unlock(context.Context) error          { return nil }

type memStatsStore struct {
	saved []*RunStats
	err   error
}

func (s *memStatsStore) SaveRunStats(_ context.Context, stats *RunStats) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, stats)
	return nil
}

func (s *memStatsStore) LoadLastRunStats(context.Context) (*RunStats, error) {
	if len(s.saved) == 0 {
		return nil, nil
	}
	return s.saved[len(s.saved)-1], nil
}

var isPaid = FilterOf("paid", func(a *model.Attendee) bool { return a.Paid() })

func regConfirmed(opts ...Option) *Category {
	opts = append([]Option{NeedsApproval(false)}, opts...)
	return testBuilder.New(model.TypeAttendee, "{EVENT_NAME} Registration Confirmed", "reg_workflow/attendee_confirmation.html", isPaid, "attendee_badge_confirmed", opts...)
}

func paidAttendee(id, email string) *model.Attendee {
	return &model.Attendee{ID: id, FirstName: "Alex", Email: email, PaidStatus: model.PaidHasPaid}
}

func newTestCoordinator(t *testing.T, deps Deps, entities ...model.Entity) (*Coordinator, *captureTransport) {
	t.Helper()
	tr := &captureTransport{fail: map[string]error{}}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
		deps.Registry.MustRegister(regConfirmed())
	}
	if deps.Sources == nil {
		deps.Sources = []Source{StaticSource(model.TypeAttendee, entities...)}
	}
	if deps.SentLog == nil {
		deps.SentLog = NewMemorySentLog()
	}
	if deps.Renderer == nil {
		deps.Renderer = stubRenderer{}
	}
	if deps.Transport == nil {
		deps.Transport = tr
	}
	if deps.Phase == nil {
		deps.Phase = FixedPhase{}
	}
	c, err := NewCoordinator(deps, Settings{SendEmails: true})
	require.NoError(t, err)
	return c, tr
}

func TestRun_SendsOnceAndRecords(t *testing.T) {
	log := NewMemorySentLog()
	c, tr := newTestCoordinator(t, Deps{SentLog: log}, paidAttendee("a1", "alex@example.com"))

	res, err := c.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Equal(t, 1, tr.count())

	msg := tr.sent[0]
	assert.Equal(t, "regdesk@magfest.org", msg.From)
	assert.Equal(t, []string{"alex@example.com"}, msg.To)
	assert.Equal(t, "MAGFest Registration Confirmed", msg.Subject)
	assert.Equal(t, mailer.FormatHTML, msg.Format)

	records := log.Records()
	require.Len(t, records, 1)
	assert.Equal(t, SentKey{EntityType: model.TypeAttendee, EntityID: "a1", Ident: "attendee_badge_confirmed"}, records[0].Key)
	assert.Equal(t, "delivery-a1", records[0].DeliveryID)

	assert.Equal(t, StateCompleted, c.State())
	require.NotNil(t, c.LastStats())
	assert.True(t, c.LastStats().Completed)
	assert.Equal(t, 1, c.LastStats().Results["attendee_badge_confirmed"].Sent)

	// 第二次 run 不会重复发送
	_, err = c.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, tr.count())
	assert.Len(t, log.Records(), 1)
	assert.Equal(t, 0, c.LastStats().TotalSent())
}

func TestRun_NeedsApproval(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(regConfirmed(NeedsApproval(true)))
	log := NewMemorySentLog()
	a := paidAttendee("a1", "alex@example.com")

	c, tr := newTestCoordinator(t, Deps{Registry: reg, SentLog: log}, a)
	_, err := c.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, tr.count())
	assert.Empty(t, log.Records())
	assert.Equal(t, 1, c.LastStats().UnsentBecauseUnapproved("attendee_badge_confirmed"))

	approved, tr2 := newTestCoordinator(t, Deps{
		Registry:  reg,
		SentLog:   log,
		Approvals: StaticApprovals{"attendee_badge_confirmed"},
	}, a)
	_, err = approved.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, tr2.count())
	assert.Equal(t, 0, approved.LastStats().UnsentBecauseUnapproved("attendee_badge_confirmed"))
}

func TestRun_UnapprovedOnlyCountsOtherwiseEligible(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(regConfirmed(NeedsApproval(true)))
	unpaid := &model.Attendee{ID: "a2", Email: "b@example.com", PaidStatus: model.PaidNotYet}
	noEmail := &model.Attendee{ID: "a3", PaidStatus: model.PaidHasPaid}

	c, _ := newTestCoordinator(t, Deps{Registry: reg}, paidAttendee("a1", "a@example.com"), unpaid, noEmail)
	_, err := c.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, c.LastStats().UnsentBecauseUnapproved("attendee_badge_confirmed"))
	assert.Equal(t, 3, c.LastStats().Entities[model.TypeAttendee])
}

func TestRun_LockHeldSkips(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(
		regConfirmed(),
		testBuilder.GroupEmail("Group Payment", "groups/payment.html", Always, "group_payment", NeedsApproval(false)),
	)

	var loads []string
	counting := func(src Source) Source {
		return SourceFunc{Type: src.EntityType(), Fn: func(ctx context.Context) ([]model.Entity, error) {
			loads = append(loads, src.EntityType())
			return src.Load(ctx)
		}}
	}
	sources := []Source{
		counting(StaticSource(model.TypeAttendee, paidAttendee("a1", "alex@example.com"))),
		counting(StaticSource(model.TypeGroup, &model.Group{ID: "g1", Attendees: []*model.Attendee{{ID: "a2", Email: "lead@example.com"}}})),
	}
	log := NewMemorySentLog()
	c, tr := newTestCoordinator(t, Deps{Registry: reg, SentLog: log, Lock: heldLock{}, Sources: sources})

	res, err := c.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, SkipLockHeld, res.SkipReason)
	assert.Equal(t, 0, tr.count())
	assert.Empty(t, loads)
	assert.Empty(t, log.Records())
	assert.Equal(t, StateIdle, c.State())
	assert.Nil(t, c.LastStats())

	// 同样的配置拿到锁时两种类型都会发
	free, tr2 := newTestCoordinator(t, Deps{Registry: reg, Sources: sources})
	_, err = free.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{model.TypeAttendee, model.TypeGroup}, loads)
	assert.Equal(t, 2, tr2.count())
}

func TestRun_SendingDisabled(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(regConfirmed())
	tr := &captureTransport{}
	c, err := NewCoordinator(Deps{
		Registry:  reg,
		Sources:   []Source{StaticSource(model.TypeAttendee, paidAttendee("a1", "a@example.com"))},
		SentLog:   NewMemorySentLog(),
		Renderer:  stubRenderer{},
		Transport: tr,
	}, Settings{})
	require.NoError(t, err)

	res, err := c.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, SkipSendingDisabled, res.SkipReason)
	assert.Equal(t, 0, tr.count())
}

type blockingTransport struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingTransport) Send(ctx context.Context, msg mailer.Message) (string, error) {
	close(b.started)
	<-b.release
	return "x", nil
}

func TestRun_MutualExclusion(t *testing.T) {
	bt := &blockingTransport{started: make(chan struct{}), release: make(chan struct{})}
	c, _ := newTestCoordinator(t, Deps{Transport: bt}, paidAttendee("a1", "alex@example.com"))

	done := make(chan RunResult)
	go func() {
		res, _ := c.Run(context.Background(), RunOptions{})
		done <- res
	}()

	<-bt.started
	assert.Equal(t, StateRunning, c.State())
	second, err := c.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, second.Skipped)

	close(bt.release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Stats.TotalSent())
}

func TestRun_TransportFailureIsIsolated(t *testing.T) {
	log := NewMemorySentLog()
	c, tr := newTestCoordinator(t, Deps{SentLog: log},
		paidAttendee("a1", "a@example.com"),
		paidAttendee("a2", "b@example.com"),
		paidAttendee("a3", "c@example.com"),
	)
	tr.fail["a2"] = errors.New("smtp: 451 try again")

	_, err := c.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, tr.count())
	assert.Len(t, log.Records(), 2)
	res := c.LastStats().Results["attendee_badge_confirmed"]
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)

	// 失败的那封下一次会重试
	delete(tr.fail, "a2")
	_, err = c.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, tr.count())
	assert.Len(t, log.Records(), 3)
}

func TestRun_StrictModeReturnsSendError(t *testing.T) {
	c, tr := newTestCoordinator(t, Deps{}, paidAttendee("a1", "a@example.com"), paidAttendee("a2", "b@example.com"))
	tr.fail["a1"] = errors.New("boom")

	res, err := c.Run(context.Background(), RunOptions{RaiseErrors: true})
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "transport", sendErr.Stage)
	assert.Equal(t, StateAborted, res.Stats.State)
	assert.Equal(t, 0, tr.count())
}

func TestRun_RenderFailure(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(testBuilder.New(model.TypeAttendee, "Broken", "broken.txt", Always, "broken", NeedsApproval(false)))
	c, tr := newTestCoordinator(t, Deps{Registry: reg}, paidAttendee("a1", "a@example.com"))

	_, err := c.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, tr.count())
	assert.Equal(t, 1, c.LastStats().Results["broken"].Failed)
}

func TestRun_FilterPanicIsolated(t *testing.T) {
	reg := NewRegistry()
	panicky := NewFilter("panicky", func(e model.Entity) bool {
		if e.EntityID() == "a1" {
			panic("nil group")
		}
		return true
	})
	reg.MustRegister(testBuilder.New(model.TypeAttendee, "Hi", "hi.txt", panicky, "panicky", NeedsApproval(false)))
	c, tr := newTestCoordinator(t, Deps{Registry: reg}, paidAttendee("a1", "a@example.com"), paidAttendee("a2", "b@example.com"))

	_, err := c.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, tr.count())
	assert.Equal(t, 1, c.LastStats().Results["panicky"].Errored)

	_, err = NewEvaluator(Snapshot{}, nil).Evaluate(reg.All()[0], paidAttendee("a1", "a@example.com"))
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "panicky", evalErr.Ident)
}

func TestRun_PersistenceFailureAborts(t *testing.T) {
	c, tr := newTestCoordinator(t, Deps{SentLog: failingSentLog{NewMemorySentLog()}},
		paidAttendee("a1", "a@example.com"),
		paidAttendee("a2", "b@example.com"),
	)

	res, err := c.Run(context.Background(), RunOptions{})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StateAborted, c.State())
	assert.Equal(t, StateAborted, res.Stats.State)
	assert.False(t, res.Stats.Completed)
	assert.Equal(t, 1, tr.count())
	assert.Nil(t, c.LastCompletedStats())

	// 锁已释放
	res, _ = c.Run(context.Background(), RunOptions{})
	assert.False(t, res.Skipped)
}

// txOutbox 模拟一个事务：失败时出站事件和发送记录都不落库
type txOutbox struct {
	log      *MemorySentLog
	outbound []mailer.Message
	failures []error
}

func (o *txOutbox) SendAndRecord(ctx context.Context, msg mailer.Message, rec SentRecord) (string, error) {
	if len(o.failures) > 0 {
		err := o.failures[0]
		o.failures = o.failures[1:]
		return "", err
	}
	if exists, err := o.log.Exists(ctx, rec.Key); err != nil || exists {
		return "", err
	}
	rec.DeliveryID = "outbound-" + msg.EntityID
	o.outbound = append(o.outbound, msg)
	return rec.DeliveryID, o.log.Record(ctx, rec)
}

func TestRun_OutboxCommitFailureDoesNotResend(t *testing.T) {
	log := NewMemorySentLog()
	ob := &txOutbox{log: log, failures: []error{errors.New("commit failed")}}
	c, tr := newTestCoordinator(t, Deps{SentLog: log, Outbox: ob}, paidAttendee("a1", "alex@example.com"))

	_, err := c.Run(context.Background(), RunOptions{})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Empty(t, ob.outbound)
	assert.Empty(t, log.Records())

	for i := 0; i < 2; i++ {
		_, err = c.Run(context.Background(), RunOptions{})
		require.NoError(t, err)
	}
	assert.Len(t, ob.outbound, 1)
	assert.Equal(t, 0, tr.count())

	records := log.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "outbound-a1", records[0].DeliveryID)
	assert.Equal(t, 0, c.LastStats().TotalSent())
}

func TestRun_OutboxTransportErrorSkipsPair(t *testing.T) {
	log := NewMemorySentLog()
	ob := &txOutbox{log: log, failures: []error{&mailer.TransportError{Transport: "outbox", Err: errors.New("payload too large")}}}
	c, _ := newTestCoordinator(t, Deps{SentLog: log, Outbox: ob},
		paidAttendee("a1", "a@example.com"),
		paidAttendee("a2", "b@example.com"),
	)

	_, err := c.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, c.State())
	assert.Equal(t, 1, c.LastStats().Results["attendee_badge_confirmed"].Failed)
	assert.Equal(t, 1, c.LastStats().Results["attendee_badge_confirmed"].Sent)
	require.Len(t, ob.outbound, 1)
	assert.Equal(t, "a2", ob.outbound[0].EntityID)
}

func TestRun_StatsStore(t *testing.T) {
	store := &memStatsStore{}
	c, _ := newTestCoordinator(t, Deps{Stats: store}, paidAttendee("a1", "a@example.com"))
	_, err := c.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	assert.Equal(t, 1, store.saved[0].TotalSent())

	restored, _ := newTestCoordinator(t, Deps{Stats: store})
	require.NoError(t, restored.RestoreStats(context.Background()))
	assert.Equal(t, store.saved[0].RunID, restored.LastCompletedStats().RunID)

	store.err = errors.New("disk full")
	_, err = c.Run(context.Background(), RunOptions{})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StateAborted, c.LastStats().State)
	assert.Equal(t, store.saved[0].RunID, c.LastCompletedStats().RunID)
}

func TestRun_SourceErrorSkipsType(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(regConfirmed())
	reg.MustRegister(testBuilder.GroupEmail("Group", "group.txt", Always, "group_hello", NeedsApproval(false)))
	group := &model.Group{ID: "g1", Leader: paidAttendee("a9", "leader@example.com")}

	broken := SourceFunc{Type: model.TypeAttendee, Fn: func(context.Context) ([]model.Entity, error) {
		return nil, errors.New("relation does not exist")
	}}
	c, tr := newTestCoordinator(t, Deps{
		Registry: reg,
		Sources:  []Source{broken, StaticSource(model.TypeGroup, group)},
	})

	_, err := c.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, tr.count())

	_, err = c.Run(context.Background(), RunOptions{RaiseErrors: true})
	require.Error(t, err)
}

func TestRun_ContextCanceledDuringPacing(t *testing.T) {
	c, tr := newTestCoordinator(t, Deps{}, paidAttendee("a1", "a@example.com"), paidAttendee("a2", "b@example.com"))
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res, err := c.Run(ctx, RunOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateAborted, res.Stats.State)
	assert.Equal(t, 1, tr.count())
}

type trackingLock struct {
	LocalLock
	mu         sync.Mutex
	unlockErrs []error
}

func (l *trackingLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	l.unlockErrs = append(l.unlockErrs, ctx.Err())
	l.mu.Unlock()
	return l.LocalLock.Unlock(ctx)
}

func TestStart_ReturnsAfterCancelWithLockReleased(t *testing.T) {
	lock := &trackingLock{}
	c, tr := newTestCoordinator(t, Deps{Lock: lock}, paidAttendee("a1", "a@example.com"), paidAttendee("a2", "b@example.com"))
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return ctx.Err()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Start(ctx, time.Hour)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	assert.Equal(t, StateAborted, c.State())
	assert.Equal(t, 1, tr.count())

	// 解锁不受已取消的 ctx 影响
	lock.mu.Lock()
	require.Len(t, lock.unlockErrs, 1)
	assert.NoError(t, lock.unlockErrs[0])
	lock.mu.Unlock()
	ok, err := lock.TryLock(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun_PhaseGates(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(regConfirmed())
	reg.MustRegister(testBuilder.New(model.TypeAttendee, "Thanks", "thanks.txt", Always, "post_con_thanks", NeedsApproval(false), PostCon(true)))
	reg.MustRegister(testBuilder.New(model.TypeAttendee, "Onsite", "onsite.txt", Always, "onsite", NeedsApproval(false), AllowDuringCon()))
	a := paidAttendee("a1", "a@example.com")

	c, tr := newTestCoordinator(t, Deps{Registry: reg, Phase: FixedPhase{AtTheCon: true}}, a)
	_, err := c.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, tr.count())
	assert.Equal(t, "onsite", tr.sent[0].Ident)

	c, tr = newTestCoordinator(t, Deps{Registry: reg, Phase: FixedPhase{PostCon: true}}, a)
	_, err = c.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, tr.count())
	assert.Equal(t, "post_con_thanks", tr.sent[0].Ident)
}

func TestRun_RenderContext(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(regConfirmed(WithExtraData("deadline", "Jan 1")))
	renderer := mailer.NewFSRenderer(fstest.MapFS{
		"reg_workflow/attendee_confirmation.html": {Data: []byte(`Hi {{.attendee.FirstName}}, by {{.deadline}}`)},
	})
	c, tr := newTestCoordinator(t, Deps{Registry: reg, Renderer: renderer}, paidAttendee("a1", "a@example.com"))

	_, err := c.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, tr.count())
	assert.Equal(t, "Hi Alex, by Jan 1", tr.sent[0].Body)
}

func TestNewCoordinator_MissingSource(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(testBuilder.GroupEmail("Group", "group.txt", Always, "group_hello"))
	_, err := NewCoordinator(Deps{
		Registry:  reg,
		SentLog:   NewMemorySentLog(),
		Renderer:  stubRenderer{},
		Transport: &captureTransport{},
	}, Settings{SendEmails: true})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

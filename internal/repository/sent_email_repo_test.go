package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ubersystem/internal/automail"
	"ubersystem/internal/mailer"
	"ubersystem/internal/model"
	"ubersystem/pkg/mq"
	"ubersystem/pkg/outbox"
)

// memStore 模拟 sent_emails 和 outbox_events 两张表，事务提交前的写入不可见
type memStore struct {
	mu          sync.Mutex
	sent        map[automail.SentKey]automail.SentRecord
	events      []string
	failCommits int
}

func newMemStore() *memStore {
	return &memStore{sent: make(map[automail.SentKey]automail.SentRecord)}
}

func (s *memStore) Begin(context.Context) (pgx.Tx, error) {
	return &memTx{store: s}, nil
}

func (s *memStore) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	if sql != sentKeysQuery {
		return nil, errors.New("unexpected query")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := &keyRows{}
	for k := range s.sent {
		rows.keys = append(rows.keys, k)
	}
	return rows, nil
}

func (s *memStore) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if sql != sentExistsQuery {
		return errRow{errors.New("unexpected query")}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sent[automail.SentKey{EntityType: args[0].(string), EntityID: args[1].(string), Ident: args[2].(string)}]
	return boolRow{v: ok}
}

func (s *memStore) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("unexpected exec outside tx")
}

func (s *memStore) eventCount(routingKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rk := range s.events {
		if rk == routingKey {
			n++
		}
	}
	return n
}

type memTx struct {
	pgx.Tx
	store  *memStore
	sent   []automail.SentRecord
	events []string
}

func (tx *memTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if sql != insertSentQuery {
		return pgconn.CommandTag{}, errors.New("unexpected exec")
	}
	rec := automail.SentRecord{
		Key:        automail.SentKey{EntityType: args[0].(string), EntityID: args[1].(string), Ident: args[2].(string)},
		DeliveryID: args[3].(string),
		Subject:    args[8].(string),
	}

	tx.store.mu.Lock()
	_, exists := tx.store.sent[rec.Key]
	tx.store.mu.Unlock()
	for _, pending := range tx.sent {
		exists = exists || pending.Key == rec.Key
	}
	if exists {
		return pgconn.CommandTag{}, &pgconn.PgError{Code: uniqueViolation, ConstraintName: "uq_sent_emails_key"}
	}
	tx.sent = append(tx.sent, rec)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

// QueryRow 只有 outbox 插入会走到这里
func (tx *memTx) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	tx.events = append(tx.events, args[2].(string))
	return eventRow{id: int64(len(tx.events))}
}

func (tx *memTx) Commit(context.Context) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.store.failCommits > 0 {
		tx.store.failCommits--
		return errors.New("commit failed")
	}
	for _, rec := range tx.sent {
		tx.store.sent[rec.Key] = rec
	}
	tx.store.events = append(tx.store.events, tx.events...)
	tx.sent, tx.events = nil, nil
	return nil
}

func (tx *memTx) Rollback(context.Context) error {
	tx.sent, tx.events = nil, nil
	return nil
}

type keyRows struct {
	pgx.Rows
	keys []automail.SentKey
	i    int
}

func (r *keyRows) Next() bool {
	r.i++
	return r.i <= len(r.keys)
}

func (r *keyRows) Scan(dest ...any) error {
	k := r.keys[r.i-1]
	*dest[0].(*string) = k.EntityType
	*dest[1].(*string) = k.EntityID
	*dest[2].(*string) = k.Ident
	return nil
}

func (r *keyRows) Close()     {}
func (r *keyRows) Err() error { return nil }

type boolRow struct{ v bool }

func (r boolRow) Scan(dest ...any) error {
	*dest[0].(*bool) = r.v
	return nil
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

type eventRow struct{ id int64 }

func (r eventRow) Scan(dest ...any) error {
	now := time.Now()
	*dest[0].(*int64) = r.id
	*dest[1].(*time.Time) = now
	*dest[2].(*time.Time) = now
	return nil
}

func sentRecord(entityID, ident string) automail.SentRecord {
	return automail.SentRecord{
		Key:        automail.SentKey{EntityType: model.TypeAttendee, EntityID: entityID, Ident: ident},
		DeliveryID: "delivery-" + entityID,
		Sender:     "regdesk@magfest.org",
		To:         []string{entityID + "@example.com"},
		Subject:    "Registration Confirmed",
		Body:       "hello",
		Format:     mailer.FormatText,
		SentAt:     time.Date(2026, 12, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestSentEmailRepository_RecordExistsLoadKeys(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	repo := NewSentEmailRepository(store, outbox.NewRepository(nil))

	rec := sentRecord("a1", "attendee_badge_confirmed")
	require.NoError(t, repo.Record(ctx, rec))
	assert.Len(t, store.sent, 1)
	assert.Equal(t, "delivery-a1", store.sent[rec.Key].DeliveryID)
	assert.Equal(t, 1, store.eventCount(RoutingEmailSent))

	exists, err := repo.Exists(ctx, rec.Key)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = repo.Exists(ctx, automail.SentKey{EntityType: model.TypeAttendee, EntityID: "a2", Ident: "attendee_badge_confirmed"})
	require.NoError(t, err)
	assert.False(t, exists)

	// 唯一约束冲突视为成功，事务回滚，不重复写审计事件
	require.NoError(t, repo.Record(ctx, rec))
	assert.Len(t, store.sent, 1)
	assert.Equal(t, 1, store.eventCount(RoutingEmailSent))

	require.NoError(t, repo.Record(ctx, sentRecord("a1", "attendee_badge_reminder")))
	idx, err := repo.LoadKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, idx, 2)
	assert.True(t, idx.Has(rec.Key))
}

func TestSentEmailRepository_RecordCommitFailure(t *testing.T) {
	store := newMemStore()
	store.failCommits = 1
	repo := NewSentEmailRepository(store, outbox.NewRepository(nil))

	assert.Error(t, repo.Record(context.Background(), sentRecord("a1", "attendee_badge_confirmed")))
	assert.Empty(t, store.sent)
	assert.Empty(t, store.events)
}

func TestOutboxSender_OneTransaction(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	outboxRepo := outbox.NewRepository(nil)
	sender := NewOutboxSender(NewSentEmailRepository(store, outboxRepo), mailer.NewOutboxTransport(nil, outboxRepo))

	rec := sentRecord("a1", "attendee_badge_confirmed")
	msg := mailer.Message{To: rec.To, Subject: rec.Subject, EntityType: model.TypeAttendee, EntityID: "a1"}

	// 提交失败时出站事件和发送记录一起丢弃
	store.failCommits = 1
	_, err := sender.SendAndRecord(ctx, msg, rec)
	require.Error(t, err)
	assert.Empty(t, store.sent)
	assert.Empty(t, store.events)

	id, err := sender.SendAndRecord(ctx, msg, rec)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, store.sent[rec.Key].DeliveryID)
	assert.Equal(t, 1, store.eventCount(mq.RoutingEmailOutbound))
	assert.Equal(t, 1, store.eventCount(RoutingEmailSent))

	// 已经发过：回滚，不再写 email.outbound
	id, err = sender.SendAndRecord(ctx, msg, rec)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Equal(t, 1, store.eventCount(mq.RoutingEmailOutbound))
	assert.Len(t, store.sent, 1)
}

type stubRenderer struct{}

func (stubRenderer) Render(template string, _ map[string]interface{}) ([]byte, error) {
	return []byte("rendered " + template), nil
}

type countingTransport struct{ n int }

func (c *countingTransport) Send(context.Context, mailer.Message) (string, error) {
	c.n++
	return "direct", nil
}

func TestOutboxSender_RebuiltCoordinatorSendsNothing(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	outboxRepo := outbox.NewRepository(nil)
	sentRepo := NewSentEmailRepository(store, outboxRepo)
	builder := automail.Builder{
		Event:   automail.EventInfo{Name: "MAGFest"},
		Senders: automail.Senders{Regdesk: "regdesk@magfest.org"},
	}
	attendee := &model.Attendee{ID: "a1", FirstName: "Alex", Email: "alex@example.com", PaidStatus: model.PaidHasPaid}

	direct := &countingTransport{}
	newCoordinator := func() *automail.Coordinator {
		reg := automail.NewRegistry()
		reg.MustRegister(builder.New(model.TypeAttendee, "{EVENT_NAME} Registration Confirmed",
			"reg_workflow/attendee_confirmation.html", automail.Always, "attendee_badge_confirmed",
			automail.NeedsApproval(false)))
		c, err := automail.NewCoordinator(automail.Deps{
			Registry:  reg,
			Sources:   []automail.Source{automail.StaticSource(model.TypeAttendee, attendee)},
			SentLog:   sentRepo,
			Renderer:  stubRenderer{},
			Transport: direct,
			Outbox:    NewOutboxSender(sentRepo, mailer.NewOutboxTransport(nil, outboxRepo)),
			Phase:     automail.FixedPhase{},
		}, automail.Settings{SendEmails: true})
		require.NoError(t, err)
		return c
	}

	_, err := newCoordinator().Run(ctx, automail.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, store.eventCount(mq.RoutingEmailOutbound))

	restarted := newCoordinator()
	_, err = restarted.Run(ctx, automail.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, store.eventCount(mq.RoutingEmailOutbound))
	assert.Equal(t, 0, restarted.LastStats().TotalSent())
	assert.Equal(t, 0, direct.n)
}

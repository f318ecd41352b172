package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ubersystem/pkg/mq"
	"ubersystem/pkg/outbox"
)

type outboxInsert struct {
	routingKey string
	payload    json.RawMessage
}

// fakeTx 只实现 outbox 插入用到的方法
type fakeTx struct {
	pgx.Tx
	events     []outboxInsert
	committed  bool
	commitErr  error
	rolledBack bool
}

type eventRow struct{ id int64 }

func (r eventRow) Scan(dest ...any) error {
	now := time.Now()
	*dest[0].(*int64) = r.id
	*dest[1].(*time.Time) = now
	*dest[2].(*time.Time) = now
	return nil
}

func (tx *fakeTx) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	payload, _ := args[3].(json.RawMessage)
	tx.events = append(tx.events, outboxInsert{routingKey: args[2].(string), payload: payload})
	return eventRow{id: int64(len(tx.events))}
}

func (tx *fakeTx) Commit(context.Context) error {
	if tx.commitErr != nil {
		return tx.commitErr
	}
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}

type fakeBeginner struct{ tx *fakeTx }

func (b fakeBeginner) Begin(context.Context) (pgx.Tx, error) { return b.tx, nil }

func TestOutboxTransport_SendInTx(t *testing.T) {
	tx := &fakeTx{}
	tr := NewOutboxTransport(nil, outbox.NewRepository(nil))

	msg := Message{To: []string{"alex@example.com"}, Subject: "Hi", Ident: "attendee_badge_confirmed", EntityType: "Attendee", EntityID: "a1"}
	id, err := tr.SendInTx(context.Background(), tx, msg)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.False(t, tx.committed)

	require.Len(t, tx.events, 1)
	assert.Equal(t, mq.RoutingEmailOutbound, tx.events[0].routingKey)
	var payload OutboundEmail
	require.NoError(t, json.Unmarshal(tx.events[0].payload, &payload))
	assert.Equal(t, id, payload.DeliveryID)
	assert.Equal(t, msg.To, payload.Message.To)
}

func TestOutboxTransport_SendCommits(t *testing.T) {
	tx := &fakeTx{}
	tr := NewOutboxTransport(fakeBeginner{tx: tx}, outbox.NewRepository(nil))

	id, err := tr.Send(context.Background(), Message{To: []string{"a@example.com"}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, tx.committed)
	assert.Len(t, tx.events, 1)

	failing := &fakeTx{commitErr: errors.New("connection reset")}
	tr = NewOutboxTransport(fakeBeginner{tx: failing}, outbox.NewRepository(nil))
	_, err = tr.Send(context.Background(), Message{To: []string{"a@example.com"}})
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "outbox", terr.Transport)
	assert.True(t, failing.rolledBack)
}

func TestDevFilter_SendInTx(t *testing.T) {
	tx := &fakeTx{}
	f := NewDevFilter(NewOutboxTransport(nil, outbox.NewRepository(nil)), nil, zap.NewNop())

	id, err := f.SendInTx(context.Background(), tx, Message{To: []string{"real@person.org"}})
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, tx.events)

	id, err = f.SendInTx(context.Background(), tx, Message{To: []string{"qa@mailinator.com", "real@person.org"}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, tx.events, 1)
	var payload OutboundEmail
	require.NoError(t, json.Unmarshal(tx.events[0].payload, &payload))
	assert.Equal(t, []string{"qa@mailinator.com"}, payload.Message.To)

	plain := NewDevFilter(&captureTransport{}, nil, zap.NewNop())
	_, err = plain.SendInTx(context.Background(), tx, Message{To: []string{"qa@mailinator.com"}})
	assert.Error(t, err)
}

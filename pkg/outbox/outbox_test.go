package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ubersystem/pkg/trace"
)

type memStore struct {
	mu     sync.Mutex
	events map[int64]*Event
	failed map[int64]int
}

func newMemStore(events ...*Event) *memStore {
	s := &memStore{events: map[int64]*Event{}, failed: map[int64]int{}}
	for _, e := range events {
		s.events[e.ID] = e
	}
	return s
}

func (s *memStore) GetPendingEvents(_ context.Context, limit int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for id := int64(1); id <= int64(len(s.events)) && len(out) < limit; id++ {
		if e, ok := s.events[id]; ok && e.Status == StatusPending {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) GetEventByID(_ context.Context, id int64) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.events[id]; ok {
		return e, nil
	}
	return nil, ErrEventNotFound
}

func (s *memStore) GetFailedEvents(_ context.Context, limit int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for id := int64(1); id <= int64(len(s.events)) && len(out) < limit; id++ {
		if e, ok := s.events[id]; ok && e.Status == StatusFailed {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) MarkAsSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[id].Status = StatusSent
	return nil
}

func (s *memStore) MarkAsFailed(_ context.Context, id int64, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.events[id]
	e.RetryCount++
	s.failed[id]++
	if e.RetryCount >= maxRetries {
		e.Status = StatusFailed
	}
	return nil
}

type recordingPublisher struct {
	err      error
	keys     []string
	traceIDs []string
}

func (p *recordingPublisher) PublishRaw(ctx context.Context, routingKey string, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, routingKey)
	p.traceIDs = append(p.traceIDs, trace.FromContext(ctx))
	return nil
}

func pendingEvent(id int64, routingKey string, payload any) *Event {
	body, _ := json.Marshal(payload)
	return &Event{ID: id, RoutingKey: routingKey, Payload: body, Status: StatusPending}
}

func TestDispatcher_PublishesPendingAndPropagatesTrace(t *testing.T) {
	store := newMemStore(
		pendingEvent(1, "email.outbound", map[string]string{"trace_id": "abc"}),
		pendingEvent(2, "email.sent", map[string]string{"ident": "x"}),
	)
	pub := &recordingPublisher{}
	d := NewDispatcher(store, pub, zap.NewNop())

	n := d.ProcessPending(context.Background())

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"email.outbound", "email.sent"}, pub.keys)
	assert.Equal(t, []string{"abc", ""}, pub.traceIDs)
	assert.Equal(t, StatusSent, store.events[1].Status)
	assert.Equal(t, StatusSent, store.events[2].Status)
}

func TestDispatcher_FailureMarksForRetry(t *testing.T) {
	store := newMemStore(pendingEvent(1, "email.outbound", map[string]string{}))
	pub := &recordingPublisher{err: errors.New("channel closed")}
	d := NewDispatcher(store, pub, zap.NewNop()).WithMaxRetries(2)

	assert.Equal(t, 0, d.ProcessPending(context.Background()))
	assert.Equal(t, StatusPending, store.events[1].Status)
	assert.Equal(t, 0, d.ProcessPending(context.Background()))
	assert.Equal(t, StatusFailed, store.events[1].Status)
	assert.Equal(t, 2, store.failed[1])
}

func TestReplayService_ReplaysFailed(t *testing.T) {
	failed := pendingEvent(1, "email.outbound", map[string]string{})
	failed.Status = StatusFailed
	store := newMemStore(failed, pendingEvent(2, "email.outbound", map[string]string{}))
	pub := &recordingPublisher{}
	svc := NewReplayService(store, pub, zap.NewNop())

	n, err := svc.ReplayFailedEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusSent, store.events[1].Status)
	assert.Equal(t, StatusPending, store.events[2].Status)

	assert.ErrorIs(t, svc.ReplayEvent(context.Background(), 99), ErrEventNotFound)
}

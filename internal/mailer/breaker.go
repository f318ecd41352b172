package mailer

import (
	"context"

	"ubersystem/pkg/circuitbreaker"
)

// BreakerTransport 用熔断器包装下游 Transport
type BreakerTransport struct {
	name string
	next Transport
	cb   *circuitbreaker.CircuitBreaker
}

func NewBreakerTransport(name string, next Transport, cb *circuitbreaker.CircuitBreaker) *BreakerTransport {
	return &BreakerTransport{name: name, next: next, cb: cb}
}

func (t *BreakerTransport) Send(ctx context.Context, msg Message) (string, error) {
	var deliveryID string
	err := t.cb.ExecuteContext(ctx, func(ctx context.Context) error {
		id, err := t.next.Send(ctx, msg)
		deliveryID = id
		return err
	})
	if err != nil {
		return "", wrapErr(t.name, msg, err)
	}
	return deliveryID, nil
}

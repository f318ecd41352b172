package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ubersystem/internal/mailer"
	"ubersystem/pkg/circuitbreaker"
	"ubersystem/pkg/logger"
	"ubersystem/pkg/metrics"
	"ubersystem/pkg/mq"
	"ubersystem/pkg/trace"
	"ubersystem/pkg/util"
)

const (
	handlerName       = "mail_relay"
	defaultMaxRetries = 5
)

// Deliverer 按 delivery id 投递一封邮件（SMTPTransport）
type Deliverer interface {
	Deliver(ctx context.Context, deliveryID string, msg mailer.Message) error
}

// Deduper util.Deduper 满足这个接口
type Deduper interface {
	AcquireOnce(ctx context.Context, handler string, deliveryID string) bool
	Release(ctx context.Context, handler string, deliveryID string) error
}

// RetryCounter util.RetryCounter 满足这个接口
type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// DLQPublisher mq.Publisher 满足这个接口
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError string, failedAt string) error
}

// OutboundEmailHandler 消费 email.outbound 事件并通过 SMTP 投递
type OutboundEmailHandler struct {
	deliverer  Deliverer
	deduper    Deduper
	retries    RetryCounter
	dlq        DLQPublisher
	maxRetries int64
	logger     *zap.Logger
}

func NewOutboundEmailHandler(
	deliverer Deliverer,
	deduper Deduper,
	retries RetryCounter,
	dlq DLQPublisher,
	logger *zap.Logger,
) *OutboundEmailHandler {
	return &OutboundEmailHandler{
		deliverer:  deliverer,
		deduper:    deduper,
		retries:    retries,
		dlq:        dlq,
		maxRetries: defaultMaxRetries,
		logger:     logger,
	}
}

// WithMaxRetries 设置最大重试次数
func (h *OutboundEmailHandler) WithMaxRetries(n int64) *OutboundEmailHandler {
	if n > 0 {
		h.maxRetries = n
	}
	return h
}

// Handle 返回 nil 表示 ack（成功、重复或已进入死信队列），返回错误表示 nack 重新入队
func (h *OutboundEmailHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var payload mailer.OutboundEmail
	if err := json.Unmarshal(raw, &payload); err != nil || payload.DeliveryID == "" {
		if err == nil {
			err = fmt.Errorf("missing delivery_id")
		}
		h.logger.Error("Invalid outbound email payload, sending to DLQ", zap.Error(err))
		h.deadLetter(ctx, raw, err, "decode")
		return nil
	}

	if payload.TraceID != "" {
		ctx = trace.WithContext(ctx, payload.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("delivery_id", payload.DeliveryID),
		zap.String("ident", payload.Message.Ident),
		zap.String("entity_type", payload.Message.EntityType),
		zap.String("entity_id", payload.Message.EntityID),
	)

	if !h.deduper.AcquireOnce(ctx, handlerName, payload.DeliveryID) {
		log.Info("Outbound email already delivered, skip")
		return nil
	}

	start := time.Now()
	err := h.deliverer.Deliver(ctx, payload.DeliveryID, payload.Message)
	if err == nil {
		metrics.RecordRelayDelivery("success", time.Since(start))
		_ = h.retries.Reset(ctx, util.FormatRetryKey(handlerName, payload.DeliveryID))
		log.Info("Outbound email delivered", zap.Strings("to", payload.Message.To))
		return nil
	}

	return h.handleDeliveryError(ctx, log, raw, payload.DeliveryID, err, time.Since(start))
}

func (h *OutboundEmailHandler) handleDeliveryError(ctx context.Context, log *zap.Logger, raw []byte, deliveryID string, err error, took time.Duration) error {
	retryable, errType := util.IsRetryableError(err)
	retryKey := util.FormatRetryKey(handlerName, deliveryID)
	retryCount, rerr := h.retries.IncrementAndGet(ctx, retryKey)
	if rerr != nil {
		log.Warn("Failed to increment retry counter", zap.Error(rerr))
	}

	log.Warn("Outbound email delivery failed",
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Int64("retry", retryCount),
		zap.Error(err),
	)

	if util.ShouldRetry(retryCount, h.maxRetries, retryable) {
		metrics.RecordRelayDelivery("retry", took)
		// 释放去重标记，重新入队后才能再次投递
		if err := h.deduper.Release(ctx, handlerName, deliveryID); err != nil {
			log.Warn("Failed to release dedup marker", zap.Error(err))
		}
		return err
	}

	metrics.RecordRelayDelivery("failed", took)
	h.deadLetter(ctx, raw, err, errType)
	_ = h.retries.Reset(ctx, retryKey)
	return nil
}

func (h *OutboundEmailHandler) deadLetter(ctx context.Context, raw []byte, cause error, stage string) {
	if h.dlq == nil {
		return
	}
	if err := h.dlq.PublishToDLQ(ctx, mq.RoutingEmailOutbound, raw, cause.Error(), stage); err != nil {
		h.logger.Error("Failed to publish to DLQ", zap.Error(err))
	}
}

type breakerDeliverer struct {
	next Deliverer
	cb   *circuitbreaker.CircuitBreaker
}

// WithBreaker 熔断器打开时直接返回 ErrCircuitBreakerOpen，消息会重新入队
func WithBreaker(d Deliverer, cb *circuitbreaker.CircuitBreaker) Deliverer {
	return breakerDeliverer{next: d, cb: cb}
}

func (b breakerDeliverer) Deliver(ctx context.Context, deliveryID string, msg mailer.Message) error {
	return b.cb.ExecuteContext(ctx, func(ctx context.Context) error {
		return b.next.Deliver(ctx, deliveryID, msg)
	})
}

package mailer

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ubersystem/pkg/logger"
)

// LogTransport 只打日志不发送，本地开发用
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(ctx context.Context, msg Message) (string, error) {
	deliveryID := uuid.NewString()
	logger.WithTrace(ctx, t.logger).Info("Email not sent (log transport)",
		zap.String("delivery_id", deliveryID),
		zap.String("ident", msg.Ident),
		zap.String("from", msg.From),
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("body_size", len(msg.Body)),
	)
	return deliveryID, nil
}

package logger

import (
	"context"

	"go.uber.org/zap"

	"ubersystem/pkg/trace"
)

var Log *zap.Logger

// NewLogger 创建生产环境 logger（JSON 输出）
func NewLogger() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	Log = l
	return l
}

// NewDevLogger 开发机使用的 logger，输出更易读并打开 debug 级别
func NewDevLogger() *zap.Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	Log = l
	return l
}

// New 根据 dev_box 选择 logger
func New(devBox bool) *zap.Logger {
	if devBox {
		return NewDevLogger()
	}
	return NewLogger()
}

// WithTrace 从 context 中提取 trace_id 并添加到 logger
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	traceID := trace.FromContext(ctx)
	if traceID != "" {
		return logger.With(zap.String("trace_id", traceID))
	}
	return logger
}

package automail

import (
	"errors"
	"fmt"
)

// DuplicateIdentError 同一个 ident 被注册了两次
type DuplicateIdentError struct {
	Ident string
}

func (e *DuplicateIdentError) Error() string {
	return fmt.Sprintf("automated email ident %q is registered twice", e.Ident)
}

// ConfigError 分类定义缺少必要字段，启动时即失败
type ConfigError struct {
	Ident  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Ident == "" {
		return "automated email config: " + e.Reason
	}
	return fmt.Sprintf("automated email %q: %s", e.Ident, e.Reason)
}

// EvaluationError 过滤器或日期规则在某个实体上出错（包括 panic）
type EvaluationError struct {
	Ident      string
	EntityType string
	EntityID   string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate %q for %s %s: %v", e.Ident, e.EntityType, e.EntityID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// SendError 渲染或投递失败，只影响这一对 (category, entity)
type SendError struct {
	Ident      string
	EntityType string
	EntityID   string
	Stage      string // render, subject, transport
	Err        error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %q to %s %s (%s): %v", e.Ident, e.EntityType, e.EntityID, e.Stage, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// PersistenceError 发送记录或运行统计写入失败，本次 run 中止
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// errLockHeld 只在包内使用，Run 不会把它返回给调用方
var errLockHeld = errors.New("dispatch run lock is held")

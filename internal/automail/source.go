package automail

import (
	"context"

	"ubersystem/internal/model"
)

// Source 每次 run 加载某一实体类型的候选实体（关联数据已预加载）。
// 可以做粗粒度过滤，但不能做分类级别的过滤。
type Source interface {
	EntityType() string
	Load(ctx context.Context) ([]model.Entity, error)
}

// SourceFunc 把函数适配成 Source
type SourceFunc struct {
	Type string
	Fn   func(ctx context.Context) ([]model.Entity, error)
}

func (s SourceFunc) EntityType() string { return s.Type }

func (s SourceFunc) Load(ctx context.Context) ([]model.Entity, error) { return s.Fn(ctx) }

// StaticSource 返回固定的实体列表，测试和本地开发用
func StaticSource(entityType string, entities ...model.Entity) Source {
	return SourceFunc{Type: entityType, Fn: func(context.Context) ([]model.Entity, error) {
		return entities, nil
	}}
}

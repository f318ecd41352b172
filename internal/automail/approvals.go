package automail

import "context"

// ApprovalSource 管理员已批准的分类 ident，每次 run 开始时读取一次
type ApprovalSource interface {
	ApprovedIdents(ctx context.Context) (map[string]bool, error)
}

// StaticApprovals 配置文件里的批准列表
type StaticApprovals []string

func (s StaticApprovals) ApprovedIdents(context.Context) (map[string]bool, error) {
	out := make(map[string]bool, len(s))
	for _, ident := range s {
		out[ident] = true
	}
	return out, nil
}

// MergedApprovals 多个来源取并集
type MergedApprovals []ApprovalSource

func (m MergedApprovals) ApprovedIdents(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, src := range m {
		idents, err := src.ApprovedIdents(ctx)
		if err != nil {
			return nil, err
		}
		for ident, ok := range idents {
			if ok {
				out[ident] = true
			}
		}
	}
	return out, nil
}

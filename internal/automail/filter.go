package automail

import (
	"fmt"
	"strings"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"ubersystem/internal/model"
)

// Filter 是分类的资格判断，带名字方便日志和管理页面展示
type Filter interface {
	Name() string
	Match(e model.Entity) (bool, error)
}

type funcFilter struct {
	name string
	fn   func(model.Entity) (bool, error)
}

func (f funcFilter) Name() string                       { return f.name }
func (f funcFilter) Match(e model.Entity) (bool, error) { return f.fn(e) }

// NewFilter 包装一个普通函数
func NewFilter(name string, fn func(model.Entity) bool) Filter {
	return funcFilter{name: name, fn: func(e model.Entity) (bool, error) { return fn(e), nil }}
}

// FilterOf 针对某个具体实体类型的过滤器，实体类型不符时不匹配
func FilterOf[T model.Entity](name string, fn func(T) bool) Filter {
	return funcFilter{name: name, fn: func(e model.Entity) (bool, error) {
		v, ok := e.(T)
		if !ok {
			return false, nil
		}
		return fn(v), nil
	}}
}

// Always 总是匹配
var Always = NewFilter("always", func(model.Entity) bool { return true })

// And 所有过滤器都匹配才匹配，按顺序短路。nil 过滤器忽略。
func And(filters ...Filter) Filter {
	names := make([]string, 0, len(filters))
	kept := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f == nil {
			continue
		}
		kept = append(kept, f)
		names = append(names, f.Name())
	}
	filters = kept
	return funcFilter{name: strings.Join(names, " && "), fn: func(e model.Entity) (bool, error) {
		for _, f := range filters {
			ok, err := f.Match(e)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}}
}

// ScriptFilter 用 tengo 表达式写的过滤器。脚本里 entity 是实体的 Fields()，
// 需要给 result 赋一个 bool。
//
//	result = entity.staffing && entity.shift_count == 0
type ScriptFilter struct {
	name     string
	compiled *tengo.Compiled
}

// NewScriptFilter 构造时编译一次，编译失败直接返回错误
func NewScriptFilter(name, src string) (*ScriptFilter, error) {
	script := tengo.NewScript([]byte(src))
	script.SetImports(stdlib.GetModuleMap("text", "times", "math"))
	if err := script.Add("entity", map[string]interface{}{}); err != nil {
		return nil, err
	}
	if err := script.Add("result", false); err != nil {
		return nil, err
	}
	compiled, err := script.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile filter %s: %w", name, err)
	}
	return &ScriptFilter{name: name, compiled: compiled}, nil
}

func (f *ScriptFilter) Name() string { return f.name }

// Match 每次求值克隆一份编译结果，并发安全
func (f *ScriptFilter) Match(e model.Entity) (bool, error) {
	c := f.compiled.Clone()
	if err := c.Set("entity", e.Fields()); err != nil {
		return false, err
	}
	if err := c.Run(); err != nil {
		return false, fmt.Errorf("run filter %s: %w", f.name, err)
	}
	v := c.Get("result")
	if v.ValueType() != "bool" {
		return false, fmt.Errorf("filter %s: result is %s, want bool", f.name, v.ValueType())
	}
	return v.Bool(), nil
}

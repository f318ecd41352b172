package automail

import "sync"

// Registry 分类注册表。启动时注册，之后只读。
type Registry struct {
	mu      sync.RWMutex
	byIdent map[string]*Category
	byType  map[string][]*Category
	order   []*Category
	types   []string
}

func NewRegistry() *Registry {
	return &Registry{
		byIdent: make(map[string]*Category),
		byType:  make(map[string][]*Category),
	}
}

// Register 注册分类。ident 重复返回 *DuplicateIdentError，注册表不变。
func (r *Registry) Register(c *Category) error {
	if c == nil {
		return &ConfigError{Reason: "nil category"}
	}
	if err := c.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byIdent[c.Ident]; exists {
		return &DuplicateIdentError{Ident: c.Ident}
	}
	r.byIdent[c.Ident] = c
	if _, seen := r.byType[c.EntityType]; !seen {
		r.types = append(r.types, c.EntityType)
	}
	r.byType[c.EntityType] = append(r.byType[c.EntityType], c)
	r.order = append(r.order, c)
	return nil
}

// MustRegister 启动时使用，出错直接 panic
func (r *Registry) MustRegister(categories ...*Category) {
	for _, c := range categories {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

// CategoriesFor 按注册顺序返回该实体类型的分类
func (r *Registry) CategoriesFor(entityType string) []*Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Category(nil), r.byType[entityType]...)
}

func (r *Registry) Get(ident string) (*Category, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byIdent[ident]
	return c, ok
}

// All 按注册顺序返回所有分类
func (r *Registry) All() []*Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Category(nil), r.order...)
}

// EntityTypes 按首次注册顺序返回有分类的实体类型
func (r *Registry) EntityTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.types...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

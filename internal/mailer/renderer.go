package mailer

import (
	"bytes"
	"fmt"
	htmltmpl "html/template"
	"io/fs"
	"os"
	"strings"
	"sync"
	texttmpl "text/template"
)

// Renderer 渲染邮件正文
type Renderer interface {
	Render(template string, data map[string]interface{}) ([]byte, error)
}

type executor interface {
	Execute(w *bytes.Buffer, data interface{}) error
}

type textExec struct{ t *texttmpl.Template }

func (e textExec) Execute(w *bytes.Buffer, data interface{}) error { return e.t.Execute(w, data) }

type htmlExec struct{ t *htmltmpl.Template }

func (e htmlExec) Execute(w *bytes.Buffer, data interface{}) error { return e.t.Execute(w, data) }

// TemplateRenderer 从模板目录加载模板：.txt 用 text/template，其他用 html/template。
// 解析结果按路径缓存。
type TemplateRenderer struct {
	fsys  fs.FS
	funcs map[string]interface{}

	mu    sync.RWMutex
	cache map[string]executor
}

// NewTemplateRenderer 以 dir 为根目录，模板路径相对于 dir（例如 emails/reg_confirmed.html）
func NewTemplateRenderer(dir string) *TemplateRenderer {
	return NewFSRenderer(os.DirFS(dir))
}

func NewFSRenderer(fsys fs.FS) *TemplateRenderer {
	return &TemplateRenderer{
		fsys: fsys,
		funcs: map[string]interface{}{
			"upper": strings.ToUpper,
			"join":  strings.Join,
		},
		cache: make(map[string]executor),
	}
}

func (r *TemplateRenderer) Render(template string, data map[string]interface{}) ([]byte, error) {
	exec, err := r.load(template)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := exec.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute template %s: %w", template, err)
	}
	return buf.Bytes(), nil
}

func (r *TemplateRenderer) load(name string) (executor, error) {
	r.mu.RLock()
	exec, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return exec, nil
	}

	src, err := fs.ReadFile(r.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}

	if FormatFor(name) == FormatText {
		t, err := texttmpl.New(name).Funcs(r.funcs).Option("missingkey=zero").Parse(string(src))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		exec = textExec{t}
	} else {
		t, err := htmltmpl.New(name).Funcs(r.funcs).Option("missingkey=zero").Parse(string(src))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		exec = htmlExec{t}
	}

	r.mu.Lock()
	r.cache[name] = exec
	r.mu.Unlock()
	return exec, nil
}

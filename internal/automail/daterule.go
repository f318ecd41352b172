package automail

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// DateRule 决定分类在某个时间点是否生效
type DateRule interface {
	Active(now time.Time) bool
	// ActiveWhen 给管理页面看的生效时间描述
	ActiveWhen() string
}

type window struct {
	start, end time.Time // zero 表示不限
	desc       string
}

func (w window) Active(now time.Time) bool {
	if !w.start.IsZero() && now.Before(w.start) {
		return false
	}
	if !w.end.IsZero() && !now.Before(w.end) {
		return false
	}
	return true
}

func (w window) ActiveWhen() string { return w.desc }

// Before 在 t 之前生效
func Before(t time.Time) DateRule {
	return window{end: t, desc: "before " + t.Format(dateLayout)}
}

// After 从 t 开始生效
func After(t time.Time) DateRule {
	return window{start: t, desc: "after " + t.Format(dateLayout)}
}

// Between 在 [start, end) 之间生效
func Between(start, end time.Time) DateRule {
	return window{start: start, end: end, desc: fmt.Sprintf("between %s and %s", start.Format(dateLayout), end.Format(dateLayout))}
}

// DaysBefore 截止日期前 n 天开始生效，截止日期当天停止
func DaysBefore(n int, deadline time.Time) DateRule {
	start := deadline.AddDate(0, 0, -n)
	return window{
		start: start,
		end:   deadline,
		desc:  fmt.Sprintf("between %s and %s", start.Format(dateLayout), deadline.Format(dateLayout)),
	}
}

// DaysAfter t 之后 n 天开始生效
func DaysAfter(n int, t time.Time) DateRule {
	start := t.AddDate(0, 0, n)
	return window{start: start, desc: "after " + start.Format(dateLayout)}
}

func whenText(rules []DateRule) string {
	parts := make([]string, 0, len(rules))
	for _, r := range rules {
		parts = append(parts, r.ActiveWhen())
	}
	return strings.Join(parts, "\n")
}

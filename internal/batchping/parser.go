package batchping

import (
	"fmt"
	"regexp"
	"strings"
)

// 任务页面的内联脚本中包含两个字符串变量：
//
//	var wss_url='wss://...';
//	var task_id='...';
//
// 只做这两个字面量的提取，不解析 HTML
var (
	wssURLPattern = regexp.MustCompile(`var\s+wss_url\s*=\s*'([^']+)'`)
	taskIDPattern = regexp.MustCompile(`var\s+task_id\s*=\s*'([^']+)'`)

	titlePattern = regexp.MustCompile(`(?is)<title>(.*?)</title>`)
	alertPattern = regexp.MustCompile(`alert\(['"]([^'"]+)['"]\)`)
	bodyPattern  = regexp.MustCompile(`(?i)<body[^>]*>([\s\S]{0,300})`)
	tagPattern   = regexp.MustCompile(`<[^>]+>`)
)

// blockPhrases 出现这些内容时认为请求被拦截
var blockPhrases = []string{
	"访问过于频繁",
	"请求过于频繁",
	"人机验证",
	"安全验证",
	"验证码",
	"captcha",
	"access denied",
	"forbidden",
}

// TaskPage 从任务页面中提取的信息
type TaskPage struct {
	TaskID string
	WSSURL string // 可能为空，此时只能轮询
}

// ParseTaskPage 提取任务 id 和推送地址，没有任务 id 时返回 false
func ParseTaskPage(html string) (TaskPage, bool) {
	m := taskIDPattern.FindStringSubmatch(html)
	if m == nil {
		return TaskPage{}, false
	}
	page := TaskPage{TaskID: m[1]}
	if w := wssURLPattern.FindStringSubmatch(html); w != nil {
		page.WSSURL = w[1]
	}
	return page, true
}

// IsBlocked 页面是否包含已知的拦截提示
func IsBlocked(html string) bool {
	lower := strings.ToLower(html)
	for _, p := range blockPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Diagnose 为失败的页面生成一段简短的诊断信息
func Diagnose(status int, html string) string {
	title := "无title"
	if m := titlePattern.FindStringSubmatch(html); m != nil {
		title = strings.TrimSpace(m[1])
	}
	msg := fmt.Sprintf("状态: %d，长度: %d，title: %s", status, len(html), title)
	if m := alertPattern.FindStringSubmatch(html); m != nil {
		msg += "，alert: " + m[1]
	}
	if m := bodyPattern.FindStringSubmatch(html); m != nil {
		snippet := strings.TrimSpace(tagPattern.ReplaceAllString(m[1], ""))
		snippet = strings.Join(strings.Fields(snippet), " ")
		if snippet != "" {
			msg += "，内容: " + truncateRunes(snippet, 100)
		}
	}
	return msg
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

package batchping

import (
	"net/http"
	"sort"
	"strings"
)

// Session 单个测速任务的 cookie 状态，不可在并发任务之间共享
type Session struct {
	cookies map[string]string
}

// NewSession 创建会话并带上服务要求的基础 cookie
func NewSession() *Session {
	return &Session{cookies: map[string]string{"machine_code": "false_false_"}}
}

// Get 读取 cookie
func (s *Session) Get(name string) (string, bool) {
	v, ok := s.cookies[name]
	return v, ok
}

// Set 写入 cookie
func (s *Session) Set(name, value string) {
	s.cookies[name] = value
}

// Merge 合并响应中的 Set-Cookie
func (s *Session) Merge(resp *http.Response) {
	for _, c := range resp.Cookies() {
		if c.MaxAge < 0 {
			delete(s.cookies, c.Name)
			continue
		}
		s.cookies[c.Name] = c.Value
	}
}

// Header 按名称排序拼接为 Cookie 请求头
func (s *Session) Header() string {
	names := make([]string, 0, len(s.cookies))
	for name := range s.cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+s.cookies[name])
	}
	return strings.Join(parts, "; ")
}

// needsGuardResponse 持有挑战 cookie 但尚未应答
func (s *Session) needsGuardResponse() bool {
	_, hasGuard := s.cookies[GuardCookie]
	_, hasRet := s.cookies[GuardResponseCookie]
	return hasGuard && !hasRet
}

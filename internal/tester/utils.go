package tester

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strconv"
)

const (
	// DefaultTCPPort 默认测速端口
	DefaultTCPPort = 443
)

var (
	// ColoRegexp 用于从 cf-ray 中提取数据中心代码
	ColoRegexp = regexp.MustCompile(`[A-Z]{3}`)
)

// getDialContext 创建一个自定义的拨号上下文，强制通过指定的 IP 地址进行连接，
// 请求的 Host 和 SNI 仍然使用测速地址中的域名
func getDialContext(ip string, port int) func(ctx context.Context, network, address string) (net.Conn, error) {
	fakeSourceAddr := net.JoinHostPort(ip, strconv.Itoa(port))
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		return (&net.Dialer{}).DialContext(ctx, network, fakeSourceAddr)
	}
}

// getHeaderColo 从响应头中获取数据中心（Colo）代码
func getHeaderColo(header http.Header) (colo string) {
	// 如果是 Cloudflare 的服务器，则获取 cf-ray 头部
	if header.Get("Server") == "cloudflare" {
		colo = header.Get("cf-ray") // 示例 cf-ray: 7bd32409eda7b020-SJC
	}
	if colo == "" {
		return ""
	}
	return ColoRegexp.FindString(colo)
}

package netx

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

// DialContextFunc 与 http.Transport.DialContext 签名一致
type DialContextFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Dialer 返回直连或经由 SOCKS5 代理的拨号函数，socks5 为空时直连
func Dialer(socks5 string) (DialContextFunc, error) {
	direct := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if socks5 == "" {
		return direct.DialContext, nil
	}
	d, err := proxy.SOCKS5("tcp", socks5, nil, direct)
	if err != nil {
		return nil, fmt.Errorf("创建 socks5 拨号器失败: %w", err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		return d.Dial(network, address)
	}, nil
}

// NewTransport 创建一个可选走 SOCKS5 代理的 http.Transport
func NewTransport(socks5 string) (*http.Transport, error) {
	dial, err := Dialer(socks5)
	if err != nil {
		return nil, err
	}
	return &http.Transport{
		DialContext:         dial,
		MaxIdleConns:        16,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		// 测速和抓取都按原始字节计量，不让传输层自动解压
		DisableCompression: true,
	}, nil
}

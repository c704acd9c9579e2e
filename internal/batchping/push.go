package batchping

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"BestIP_Collector_Go/pkg/model"
)

// Subscribe 打开推送通道并发送认证消息，返回的 channel 在收到结束消息、
// 连接断开或 ctx 结束时关闭
func (c *Client) Subscribe(ctx context.Context, wssURL, taskID, token string) (<-chan model.NodeResult, error) {
	dialer := websocket.Dialer{
		NetDialContext:   c.dial,
		HandshakeTimeout: c.cfg.Timeout,
	}
	header := http.Header{}
	header.Set("Origin", c.origin())
	header.Set("User-Agent", c.cfg.UserAgent)

	conn, _, err := dialer.DialContext(ctx, wssURL, header)
	if err != nil {
		return nil, fmt.Errorf("连接推送通道失败: %w", err)
	}
	auth := map[string]string{"task_id": taskID, "task_token": token}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("发送认证消息失败: %w", err)
	}

	out := make(chan model.NodeResult, 64)
	done := make(chan struct{})

	// ctx 结束时立即关闭连接，让读循环退出
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	go func() {
		defer close(out)
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m message
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			if m.finished() {
				return
			}
			r, ok := m.nodeResult()
			if !ok {
				continue
			}
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// CollectPush 收集推送通道中的所有结果，超时时返回已收到的部分
func (c *Client) CollectPush(ctx context.Context, wssURL, taskID, token string) ([]model.NodeResult, error) {
	ch, err := c.Subscribe(ctx, wssURL, taskID, token)
	if err != nil {
		return nil, err
	}
	var results []model.NodeResult
	for r := range ch {
		results = append(results, r)
	}
	return results, nil
}

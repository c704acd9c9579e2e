package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsMessage 推送给客户端的消息，type 为 log 或 result
type wsMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// handleWebSocket 执行一次汇总加测速，并把进度实时推送给客户端
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("WebSocket 升级失败", "err", err)
		return
	}
	defer conn.Close()

	// 客户端断开时取消任务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				slog.Debug("客户端断开连接", "err", err)
				return
			}
		}
	}()

	// 所有写操作都经过 writeChan，由唯一的写协程发送
	writeChan := make(chan wsMessage, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range writeChan {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				slog.Debug("WebSocket 写入失败", "err", err)
				for range writeChan {
				}
				return
			}
		}
	}()

	send := func(msg wsMessage) {
		select {
		case <-ctx.Done():
		case writeChan <- msg:
		}
	}
	progress := func(message string) {
		send(wsMessage{Type: "log", Payload: message})
	}

	if err := s.engine.Run(ctx, progress); err != nil {
		progress(fmt.Sprintf("任务运行时出错: %v", err))
	} else if snap, err := s.engine.StoredFastIPs(ctx); err == nil {
		send(wsMessage{Type: "result", Payload: snap})
	}
	progress("--- 任务完成 ---")

	close(writeChan)
	<-writerDone
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"BestIP_Collector_Go/internal/engine"
)

// Server HTTP 入口
type Server struct {
	engine  *engine.Engine
	cfgPath string
	router  *gin.Engine
}

// New 创建路由，cfgPath 为空时 POST /api/config 不可用
func New(e *engine.Engine, cfgPath string) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{engine: e, cfgPath: cfgPath}

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog(), cors())

	router.GET("/", s.handleIndex)
	router.POST("/update", s.handleUpdate)
	router.GET("/ips", s.handleIPs)
	router.GET("/ip.txt", s.handleIPs)
	router.GET("/raw", s.handleRaw)
	router.GET("/fast-ips", s.handleFastIPs)
	router.GET("/fast-ips.txt", s.handleFastIPsText)
	router.GET("/fast-ips.csv", s.handleFastIPsCSV)
	router.GET("/itdog-data", s.handleItdogData)
	router.POST("/itdog-batch-ping", s.handleBatchPing)
	router.GET("/itdog-batch-ping-result", s.handleBatchPingResult)
	router.POST("/manual-speedtest", s.handleManualSpeedTest)
	router.GET("/api/config", s.handleGetConfig)
	router.POST("/api/config", s.handleSaveConfig)
	router.GET("/ws/run", s.handleWebSocket)

	router.HandleMethodNotAllowed = true
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Endpoint not found"})
	})

	s.router = router
	return s
}

// Handler 返回底层路由
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动服务，ctx 结束后优雅关闭
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info(fmt.Sprintf("服务器正在启动，请在浏览器中打开 http://%s", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("服务器启动失败: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("请求完成",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Millisecond),
			"request_id", c.GetString("request_id"),
		)
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

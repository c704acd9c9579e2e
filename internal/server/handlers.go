package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"BestIP_Collector_Go/internal/engine"
	"BestIP_Collector_Go/internal/output"
	"BestIP_Collector_Go/pkg/model"
)

var endpoints = []string{
	"POST /update",
	"GET /ips",
	"GET /ip.txt",
	"GET /raw",
	"GET /fast-ips",
	"GET /fast-ips.txt",
	"GET /fast-ips.csv",
	"GET /itdog-data",
	"POST /itdog-batch-ping",
	"GET /itdog-batch-ping-result",
	"POST /manual-speedtest",
	"GET /api/config",
	"GET /ws/run",
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"name": "BestIP Collector", "endpoints": endpoints})
}

// writeError 按错误类型返回对应的状态码
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNoIPs):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No IPs available"})
		return
	case errors.Is(err, engine.ErrBusy):
		status = http.StatusConflict
	}
	slog.Error("请求处理失败", "path", c.Request.URL.Path, "err", err)
	c.JSON(status, model.APIResult{Success: false, Error: err.Error()})
}

func durationMs(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}

func (s *Server) handleUpdate(c *gin.Context) {
	ctx := c.Request.Context()
	res, err := s.engine.Update(ctx, nil)
	if err != nil {
		writeError(c, err)
		return
	}
	// 手动更新后也测速，测速失败不影响汇总结果
	if _, err := s.engine.SpeedTest(ctx, 0, nil); err != nil {
		slog.Warn("更新后测速失败", "err", err)
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "IPs collected and tested successfully",
		"duration":  durationMs(res.Duration),
		"totalIPs":  res.Snapshot.Count,
		"timestamp": res.Snapshot.LastUpdated,
		"results":   res.Snapshot.Sources,
	})
}

func (s *Server) handleIPs(c *gin.Context) {
	snap, err := s.engine.StoredIPs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="cloudflare_ips.txt"`)
	c.String(http.StatusOK, output.IPListText(snap.IPs))
}

func (s *Server) handleRaw(c *gin.Context) {
	snap, err := s.engine.StoredIPs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleFastIPs(c *gin.Context) {
	snap, err := s.engine.StoredFastIPs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleFastIPsText(c *gin.Context) {
	snap, err := s.engine.StoredFastIPs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="cloudflare_fast_ips.txt"`)
	c.String(http.StatusOK, output.FastIPText(snap.FastIPs))
}

func (s *Server) handleFastIPsCSV(c *gin.Context) {
	snap, err := s.engine.StoredFastIPs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := output.WriteCSV(&buf, snap.FastIPs); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="cloudflare_fast_ips.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (s *Server) handleItdogData(c *gin.Context) {
	snap, err := s.engine.StoredIPs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ips": snap.IPs, "count": snap.Count})
}

type batchPingRequest struct {
	IPs []string `json:"ips"`
}

func (s *Server) handleBatchPing(c *gin.Context) {
	var req batchPingRequest
	// 请求体可以为空，此时使用已保存的 IP
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, model.APIResult{Success: false, Error: "Invalid request body"})
			return
		}
	}
	res, err := s.engine.BatchPing(c.Request.Context(), req.IPs, nil)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     "Batch ping completed",
		"ipCount":     res.Ping.IPCount,
		"resultCount": res.Ping.NodeCount,
		"results":     res.FastIPs.FastIPs,
	})
}

func (s *Server) handleBatchPingResult(c *gin.Context) {
	snap, found, err := s.engine.StoredPingResults(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"results": []model.NodeResult{}, "message": "No batch ping results yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

type speedTestRequest struct {
	MaxTests int `json:"maxTests"`
}

func (s *Server) handleManualSpeedTest(c *gin.Context) {
	var req speedTestRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, model.APIResult{Success: false, Error: "Invalid request body"})
			return
		}
	}
	start := time.Now()
	snap, err := s.engine.SpeedTest(c.Request.Context(), req.MaxTests, nil)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "Manual speed test completed",
		"duration": durationMs(time.Since(start)),
		"tested":   snap.Count,
		"fastIPs":  snap.FastIPs,
	})
}

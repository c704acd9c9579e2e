package model

import "time"

// UnreachableLatency 表示探测不可达时的哨兵延迟
const UnreachableLatency = 9999

// 源状态
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// SourceResult 单个镜像源的一次抓取结果
type SourceResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Count  int    `json:"count"` // 校验前的原始匹配数
	Error  string `json:"error,omitempty"`
}

// IPSnapshot 一次汇总后的完整 IP 集合，每次运行整体覆盖
type IPSnapshot struct {
	IPs         []string       `json:"ips"`
	LastUpdated time.Time      `json:"lastUpdated"`
	Count       int            `json:"count"`
	Sources     []SourceResult `json:"sources"`
}

// NodeResult 单个测速节点对某个 IP 的 ping 结果
type NodeResult struct {
	NodeID   string `json:"nodeId"`
	NodeName string `json:"nodeName"`
	IP       string `json:"ip"`
	Address  string `json:"address"`
	Result   int    `json:"result"` // 毫秒，-1 表示失败
	TaskNum  int    `json:"taskNum"`
}

// ProbeOutcome 对单个 IP 的一次探测结果
type ProbeOutcome struct {
	IP            string       `json:"ip"`
	LatencyMs     int          `json:"latencyMs"`
	BandwidthMBps float64      `json:"bandwidthMBps"`
	SmoothedMBps  float64      `json:"smoothedMBps,omitempty"`
	Colo          string       `json:"colo,omitempty"`
	NodeResults   []NodeResult `json:"nodeResults,omitempty"`
}

// Unreachable 判断是否为哨兵结果
func (o *ProbeOutcome) Unreachable() bool {
	return o.LatencyMs >= UnreachableLatency
}

// RankedEntry 排序后的优选 IP
type RankedEntry struct {
	IP            string  `json:"ip"`
	LatencyMs     int     `json:"latency"`
	BandwidthMBps float64 `json:"bandwidth"`
	NodeCount     int     `json:"nodeCount,omitempty"`
	Colo          string  `json:"colo,omitempty"`
}

// Unreachable 判断是否为哨兵结果
func (e RankedEntry) Unreachable() bool {
	return e.LatencyMs >= UnreachableLatency
}

// FastIPSnapshot 优选结果快照，每次排名整体覆盖
type FastIPSnapshot struct {
	FastIPs     []RankedEntry `json:"fastIPs"`
	LastTested  time.Time     `json:"lastTested"`
	Count       int           `json:"count"`
	TestedCount int           `json:"testedCount"`
	TotalIPs    int           `json:"totalIPs"`
	Strategy    string        `json:"strategy,omitempty"`
}

// PingSnapshot 一次批量 ping 的原始结果
type PingSnapshot struct {
	IPs        []string     `json:"ips"`
	Results    []NodeResult `json:"results"`
	LastTested time.Time    `json:"lastTested"`
	IPCount    int          `json:"ipCount"`
	NodeCount  int          `json:"nodeCount"`
}

// VantagePoint 测速节点目录项
type VantagePoint struct {
	ID               string `json:"id"`
	Carrier          string `json:"carrier"`
	City             string `json:"city"`
	RegionalWeighted bool   `json:"regional_weighted"`
}

// APIResult 入口操作失败时返回的结构
type APIResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

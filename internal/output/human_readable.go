package output

import (
	"time"

	"BestIP_Collector_Go/pkg/model"
)

// HumanReadableResult 定义了一个对人类友好的、用于最终文件输出的数据结构
type HumanReadableResult struct {
	Address       string  `json:"Address"`
	DelayMS       int     `json:"DelayMS"`
	BandwidthMBps float64 `json:"BandwidthMBps"`
	Nodes         int     `json:"Nodes,omitempty"`
	Colo          string  `json:"Colo,omitempty"`
	Reachable     bool    `json:"Reachable"`
}

// HumanReadableReport 输出文件的整体结构
type HumanReadableReport struct {
	Strategy string                `json:"Strategy"`
	TestedAt string                `json:"TestedAt"`
	TotalIPs int                   `json:"TotalIPs"`
	Tested   int                   `json:"Tested"`
	Results  []HumanReadableResult `json:"Results"`
}

// ToHumanReadable 将优选快照转换为对人类友好的格式
func ToHumanReadable(snap *model.FastIPSnapshot) HumanReadableReport {
	results := make([]HumanReadableResult, len(snap.FastIPs))
	for i, e := range snap.FastIPs {
		results[i] = HumanReadableResult{
			Address:       e.IP,
			DelayMS:       e.LatencyMs,
			BandwidthMBps: e.BandwidthMBps,
			Nodes:         e.NodeCount,
			Colo:          e.Colo,
			Reachable:     !e.Unreachable(),
		}
	}
	report := HumanReadableReport{
		Strategy: snap.Strategy,
		TotalIPs: snap.TotalIPs,
		Tested:   snap.TestedCount,
		Results:  results,
	}
	if !snap.LastTested.IsZero() {
		report.TestedAt = snap.LastTested.Local().Format(time.DateTime)
	}
	return report
}

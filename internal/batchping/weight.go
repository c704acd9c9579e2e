package batchping

import (
	"math"
	"sort"
	"strconv"

	"BestIP_Collector_Go/pkg/model"
)

// WeightFunc 返回节点的权重
type WeightFunc func(nodeID string) float64

// WeightedLatency 计算加权平均延迟，只统计成功的结果。
// 没有任何成功结果时返回哨兵值和 0。
func WeightedLatency(results []model.NodeResult, weight WeightFunc) (latency int, used int) {
	var sum, total float64
	for _, r := range results {
		if r.Result < 0 {
			continue
		}
		w := 1.0
		if weight != nil {
			w = weight(r.NodeID)
		}
		sum += float64(r.Result) * w
		total += w
		used++
	}
	if used == 0 || total == 0 {
		return model.UnreachableLatency, 0
	}
	return int(math.Round(sum / total)), used
}

// dedupeKey 没有 ip 字段时用 task_num 区分同一节点的不同目标
func dedupeKey(r model.NodeResult) string {
	if r.IP != "" {
		return r.NodeID + "|" + r.IP
	}
	return r.NodeID + "|#" + strconv.Itoa(r.TaskNum)
}

// resolveIPs 用 task_num 补齐缺失的目标 IP（从 1 开始）
func resolveIPs(ips []string, results []model.NodeResult) {
	for i := range results {
		if n := results[i].TaskNum; results[i].IP == "" && n >= 1 && n <= len(ips) {
			results[i].IP = ips[n-1]
		}
	}
}

// dedupe 按节点和目标 IP 去重，后到的结果覆盖先到的
func dedupe(results []model.NodeResult) []model.NodeResult {
	index := make(map[string]int, len(results))
	out := make([]model.NodeResult, 0, len(results))
	for _, r := range results {
		key := dedupeKey(r)
		if i, ok := index[key]; ok {
			out[i] = r
			continue
		}
		index[key] = len(out)
		out = append(out, r)
	}
	return out
}

// AggregateByIP 按目标 IP 分组计算加权延迟，按延迟升序返回。
// 结果里没有 ip 字段时用 task_num 对应提交的 IP 列表（从 1 开始）。
func AggregateByIP(ips []string, results []model.NodeResult, weight WeightFunc) []model.RankedEntry {
	grouped := make(map[string][]model.NodeResult)
	var order []string
	for _, r := range results {
		ip := r.IP
		if ip == "" && r.TaskNum >= 1 && r.TaskNum <= len(ips) {
			ip = ips[r.TaskNum-1]
		}
		if ip == "" {
			continue
		}
		if _, ok := grouped[ip]; !ok {
			order = append(order, ip)
		}
		grouped[ip] = append(grouped[ip], r)
	}

	entries := make([]model.RankedEntry, 0, len(grouped))
	for _, ip := range order {
		latency, used := WeightedLatency(grouped[ip], weight)
		if used == 0 {
			continue
		}
		entries = append(entries, model.RankedEntry{IP: ip, LatencyMs: latency, NodeCount: used})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LatencyMs < entries[j].LatencyMs
	})
	return entries
}

package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"BestIP_Collector_Go/pkg/model"
)

var csvHeader = []string{
	"IP Address",
	"Latency (ms)",
	"Bandwidth (MB/s)",
	"Nodes",
	"Colo",
}

// WriteCSV 将优选列表以 CSV 格式写入 w
func WriteCSV(w io.Writer, entries []model.RankedEntry) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("写入 CSV 表头失败: %w", err)
	}
	for _, e := range entries {
		row := []string{
			e.IP,
			strconv.Itoa(e.LatencyMs),
			fmt.Sprintf("%.2f", e.BandwidthMBps),
			strconv.Itoa(e.NodeCount),
			e.Colo,
		}
		if err := writer.Write(row); err != nil {
			// 记录错误但继续尝试写入其他行
			slog.Warn("写入 CSV 行失败", "ip", e.IP, "err", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteCSVFile 将优选列表写入到指定的 CSV 文件中
func WriteCSVFile(filePath string, entries []model.RankedEntry) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("无法创建 CSV 文件 '%s': %w", filePath, err)
	}
	defer file.Close()
	return WriteCSV(file, entries)
}

package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"BestIP_Collector_Go/pkg/model"
)

// IPListText 每行一个 IP
func IPListText(ips []string) string {
	return strings.Join(ips, "\n")
}

// FastIPText 格式化为 IP#延迟ms#带宽MB/s，每行一个
func FastIPText(entries []model.RankedEntry) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("%s#%dms#%sMB/s", e.IP, e.LatencyMs, formatFloat(e.BandwidthMBps))
	}
	return strings.Join(lines, "\n")
}

// WriteFastIPText 把优选列表写入 w
func WriteFastIPText(w io.Writer, entries []model.RankedEntry) error {
	_, err := io.WriteString(w, FastIPText(entries))
	return err
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

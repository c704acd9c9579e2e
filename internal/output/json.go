package output

import (
	"encoding/json"
	"fmt"
	"os"

	"BestIP_Collector_Go/pkg/model"
)

// WriteJSONFile 将优选快照写入到指定的 JSON 文件中
func WriteJSONFile(filePath string, snap *model.FastIPSnapshot) error {
	data, err := json.MarshalIndent(ToHumanReadable(snap), "", "  ")
	if err != nil {
		return fmt.Errorf("无法将结果序列化为 JSON: %w", err)
	}

	err = os.WriteFile(filePath, data, 0644)
	if err != nil {
		return fmt.Errorf("无法写入 JSON 文件 '%s': %w", filePath, err)
	}

	return nil
}

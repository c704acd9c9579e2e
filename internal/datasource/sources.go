package datasource

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadSourcesFromFile 从指定路径的文件中读取镜像源列表。
// 它会忽略空行和以 '#' 开头的注释行，保持文件中的顺序。
func LoadSourcesFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法打开镜像源文件 '%s': %w", filePath, err)
	}
	defer file.Close()

	seen := make(map[string]struct{})
	var sources []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		sources = append(sources, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取镜像源文件时出错: %w", err)
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("镜像源文件 '%s' 为空或未包含有效地址", filePath)
	}
	return sources, nil
}

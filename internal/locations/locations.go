package locations

import (
	"encoding/json"
	"fmt"
	"os"

	"BestIP_Collector_Go/pkg/model"
)

// Catalog 测速节点目录，按 id 查找
type Catalog struct {
	points map[string]model.VantagePoint
	order  []string
}

// NewCatalog 从节点列表构造目录，重复的 id 以后出现的为准
func NewCatalog(points []model.VantagePoint) *Catalog {
	c := &Catalog{points: make(map[string]model.VantagePoint, len(points))}
	for _, p := range points {
		if p.ID == "" {
			continue
		}
		if _, exists := c.points[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		c.points[p.ID] = p
	}
	return c
}

// ParseCatalog 解析 JSON 数组格式的节点目录
func ParseCatalog(data []byte) (*Catalog, error) {
	var entries []model.VantagePoint
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("解析节点目录 JSON 失败: %w", err)
	}
	return NewCatalog(entries), nil
}

// LoadCatalogFromFile 从指定的 JSON 文件加载节点目录
func LoadCatalogFromFile(filePath string) (*Catalog, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法读取节点目录文件 '%s': %w", filePath, err)
	}
	return ParseCatalog(data)
}

// Get 根据 id 查找节点
func (c *Catalog) Get(id string) (model.VantagePoint, bool) {
	if c == nil {
		return model.VantagePoint{}, false
	}
	p, ok := c.points[id]
	return p, ok
}

// IDs 按文件顺序返回所有节点 id
func (c *Catalog) IDs() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.order...)
}

// Weight 返回节点在加权平均中的权重，重点地区节点使用 priority，其余为 1
func (c *Catalog) Weight(id string, priority float64) float64 {
	if p, ok := c.Get(id); ok && p.RegionalWeighted {
		return priority
	}
	return 1.0
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"BestIP_Collector_Go/internal/config"
	"BestIP_Collector_Go/pkg/model"
)

func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Config())
}

// handleSaveConfig 把提交的字段写回配置文件并保留注释，生效依赖文件监听
func (s *Server) handleSaveConfig(c *gin.Context) {
	if s.cfgPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Endpoint not found"})
		return
	}
	var newValues map[string]any
	if err := c.ShouldBindJSON(&newValues); err != nil {
		c.JSON(http.StatusBadRequest, model.APIResult{Success: false, Error: "Invalid request body"})
		return
	}
	if err := saveConfigWithComments(s.cfgPath, newValues); err != nil {
		writeError(c, fmt.Errorf("保存配置失败: %w", err))
		return
	}
	if _, err := config.LoadConfig(s.cfgPath); err != nil {
		writeError(c, fmt.Errorf("配置已保存但无法解析: %w", err))
		return
	}
	c.JSON(http.StatusOK, model.APIResult{Success: true})
}

func saveConfigWithComments(cfgPath string, newValues map[string]any) error {
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return err
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return err
	}
	if len(root.Content) == 0 {
		return fmt.Errorf("配置文件为空")
	}
	mergeMapping(root.Content[0], newValues)

	out, err := yaml.Marshal(&root)
	if err != nil {
		return err
	}
	return os.WriteFile(cfgPath, out, 0644)
}

// mergeMapping 只更新文件中已存在的键，嵌套的对象逐层合并
func mergeMapping(node *yaml.Node, newValues map[string]any) {
	if node.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valNode := node.Content[i+1]

		newValue, ok := newValues[keyNode.Value]
		if !ok {
			continue
		}
		if nested, isMap := newValue.(map[string]any); isMap {
			mergeMapping(valNode, nested)
			continue
		}
		setNodeValue(valNode, newValue)
	}
}

// setNodeValue updates a yaml.Node's value based on the provided value.
func setNodeValue(node *yaml.Node, value any) {
	if slice, isSlice := value.([]any); isSlice {
		node.Kind = yaml.SequenceNode
		node.Tag = "!!seq"
		node.Style = yaml.FlowStyle
		node.Content = []*yaml.Node{}
		for _, item := range slice {
			itemNode := &yaml.Node{}
			setNodeValue(itemNode, item)
			node.Content = append(node.Content, itemNode)
		}
		return
	}

	s := fmt.Sprintf("%v", value)
	node.Value = s
	node.Kind = yaml.ScalarNode
	node.Content = nil

	// Heuristic to guess the tag
	if s == "true" || s == "false" {
		node.Tag = "!!bool"
	} else if _, err := strToInt(s); err == nil {
		node.Tag = "!!int"
	} else if _, err := strToFloat(s); err == nil {
		node.Tag = "!!float"
	} else {
		node.Tag = "!!str"
	}
}

func strToFloat(s string) (float64, error) {
	var f float64
	return f, json.Unmarshal([]byte(s), &f)
}

func strToInt(s string) (int, error) {
	var i int
	return i, json.Unmarshal([]byte(s), &i)
}

package batchping

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"BestIP_Collector_Go/pkg/model"
)

// flexString 兼容服务端字段时而是数字时而是字符串
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

// message 推送和轮询共用的消息格式
type message struct {
	Type     string     `json:"type"`
	Finished bool       `json:"finished"`
	NodeID   flexString `json:"node_id"`
	Name     string     `json:"name"`
	IP       string     `json:"ip"`
	Address  string     `json:"address"`
	Result   flexString `json:"result"`
	TaskNum  flexString `json:"task_num"`
}

const (
	typeFinished  = "finished"
	typeNodeError = "node_error"
)

func (m *message) finished() bool {
	return m.Type == typeFinished || m.Finished
}

// nodeResult 转换为节点结果，不携带节点 id 的消息返回 false
func (m *message) nodeResult() (model.NodeResult, bool) {
	if m.Type == typeNodeError || m.NodeID == "" {
		return model.NodeResult{}, false
	}
	result := -1
	if s := strings.TrimSpace(string(m.Result)); s != "" {
		// 结果可能是 "35" 或 "35.2"，取整数部分
		if i := strings.IndexByte(s, '.'); i > 0 {
			s = s[:i]
		}
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			result = n
		}
	}
	taskNum, _ := strconv.Atoi(strings.TrimSpace(string(m.TaskNum)))
	return model.NodeResult{
		NodeID:   string(m.NodeID),
		NodeName: m.Name,
		IP:       m.IP,
		Address:  m.Address,
		Result:   result,
		TaskNum:  taskNum,
	}, true
}

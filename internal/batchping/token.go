package batchping

import (
	"crypto/md5"
	"encoding/hex"
)

// TaskToken 任务认证 token：md5(taskID+salt) 的第 8 到 24 位
func TaskToken(taskID, salt string) string {
	sum := md5.Sum([]byte(taskID + salt))
	return hex.EncodeToString(sum[:])[8:24]
}

package batchping

import (
	"encoding/base64"
	"strconv"
)

const (
	// GuardCookie 服务下发的挑战 cookie
	GuardCookie = "guard"
	// GuardResponseCookie 对挑战的应答 cookie
	GuardResponseCookie = "guardret"

	guardKeyLen    = 8
	guardNumOffset = 12
)

// DeriveGuardResponse 根据挑战值计算应答 cookie，是纯函数
func DeriveGuardResponse(guard, secret string) string {
	prefix := guard
	if len(prefix) > guardKeyLen {
		prefix = prefix[:guardKeyLen]
	}
	var tail string
	if len(guard) > guardNumOffset {
		tail = guard[guardNumOffset:]
	}
	value := leadingInt(tail)*2 + 16

	return base64.StdEncoding.EncodeToString(xorEncode(strconv.Itoa(value), prefix+secret))
}

// xorEncode 逐字节异或，密钥循环使用
func xorEncode(plain, key string) []byte {
	out := make([]byte, len(plain))
	if key == "" {
		copy(out, plain)
		return out
	}
	for i := 0; i < len(plain); i++ {
		out[i] = plain[i] ^ key[i%len(key)]
	}
	return out
}

// leadingInt 解析开头的十进制数字，无法解析时返回 0
func leadingInt(s string) int {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	neg := false
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		neg = s[i] == '-'
		i++
	}
	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == start {
		return 0
	}
	n, err := strconv.Atoi(s[start:i])
	if err != nil {
		return 0
	}
	if neg {
		return -n
	}
	return n
}

package datasource

import (
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ipv4Token 从任意文本中提取形如 IPv4 的片段
var ipv4Token = regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`)

// IsUsableIPv4 判断 token 是否为可用的公网 IPv4 地址
func IsUsableIPv4(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return false
	}
	octets := make(net.IP, 4)
	for i, part := range parts {
		if part == "" || len(part) > 3 {
			return false
		}
		// 不允许前导零，单独的 "0" 除外
		if len(part) > 1 && part[0] == '0' {
			return false
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 || strconv.Itoa(n) != part {
			return false
		}
		octets[i] = byte(n)
	}
	return !excluded.Contains(octets)
}

// ExtractIPv4 返回文本中所有 IPv4 形状的片段，不做校验
func ExtractIPv4(body string) []string {
	return ipv4Token.FindAllString(body, -1)
}

// octetKey 把已校验的地址转换成数值元组用于排序
func octetKey(ip string) [4]int {
	var key [4]int
	for i, part := range strings.SplitN(ip, ".", 4) {
		key[i], _ = strconv.Atoi(part)
	}
	return key
}

// SortIPv4 按数值顺序原地排序
func SortIPv4(ips []string) {
	sort.Slice(ips, func(i, j int) bool {
		a, b := octetKey(ips[i]), octetKey(ips[j])
		for k := 0; k < 4; k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
}

// FilterAndSort 校验、去重并按数值排序
func FilterAndSort(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !IsUsableIPv4(t) {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	SortIPv4(out)
	return out
}

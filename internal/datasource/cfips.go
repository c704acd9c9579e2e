package datasource

import (
	"net"
)

// ExcludedCIDRs 不可用于优选的私有和保留地址段
var ExcludedCIDRs = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"255.255.255.255/32",
}

// IPNetSet 用于高效地检查 IP 是否属于某个范围
type IPNetSet struct {
	nets []*net.IPNet
}

// NewIPNetSet 从 CIDR 列表构造集合，无法解析的条目被忽略
func NewIPNetSet(cidrs ...string) *IPNetSet {
	s := &IPNetSet{nets: make([]*net.IPNet, 0, len(cidrs))}
	for _, c := range cidrs {
		_, ipNet, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		s.nets = append(s.nets, ipNet)
	}
	return s
}

// Contains 检查给定的 IP 是否在集合中
func (s *IPNetSet) Contains(ip net.IP) bool {
	for _, n := range s.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

var excluded = NewIPNetSet(ExcludedCIDRs...)

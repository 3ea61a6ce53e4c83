package discover

import (
	"net"
	"regexp"
	"strings"
)

var segmentRe = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.$`)

// ValidSegment проверяет формат "a.b.c." и что каждый октет не больше 255
func ValidSegment(prefix string) bool {
	if !segmentRe.MatchString(prefix) {
		return false
	}
	for _, octet := range strings.Split(strings.TrimSuffix(prefix, "."), ".") {
		if len(octet) == 3 && octet > "255" {
			return false
		}
	}
	return true
}

// EnumerateLocalSubnets возвращает префиксы /24 всех локальных IPv4 адресов
func EnumerateLocalSubnets() ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	return SubnetsFromAddrs(addrs), nil
}

// SubnetsFromAddrs: loopback и link-local (169.254/16) пропускаются,
// каждый префикс один раз в порядке первого появления.
func SubnetsFromAddrs(addrs []net.Addr) []string {
	seen := make(map[string]struct{})
	var subnets []string

	for _, ip := range usableIPv4(addrs) {
		prefix := SegmentOf(ip)
		if _, ok := seen[prefix]; ok {
			continue
		}
		seen[prefix] = struct{}{}
		subnets = append(subnets, prefix)
	}
	return subnets
}

// SegmentOf - адрес до последней точки включительно
func SegmentOf(ip net.IP) string {
	s := ip.String()
	return s[:strings.LastIndex(s, ".")+1]
}

func usableIPv4(addrs []net.Addr) []net.IP {
	var ips []net.IP
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		default:
			continue
		}

		ip4 := ip.To4()
		if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
			continue
		}
		ips = append(ips, ip4)
	}
	return ips
}

// localIPs - все собственные IPv4 адреса, включая loopback
func localIPs(addrs []net.Addr) map[string]struct{} {
	local := map[string]struct{}{"127.0.0.1": {}}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok {
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				local[ip4.String()] = struct{}{}
			}
		}
	}
	return local
}

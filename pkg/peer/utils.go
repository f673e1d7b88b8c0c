package peer

import (
	"net"
	"strings"
)

// NormalizeHostPort cuts http:// and https:// prefixes from addr and adds
// defPort when addr has none. A bare port such as "9100" becomes ":9100".
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}
	addr = strings.TrimSuffix(addr, "/")

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	if addr != "" && strings.Trim(addr, "0123456789") == "" {
		return ":" + addr
	}
	return net.JoinHostPort(addr, defPort)
}

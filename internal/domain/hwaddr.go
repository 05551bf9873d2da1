package domain

import (
	"net"
	"strings"
)

// NormalizeHardwareAddress returns the canonical lower-case, colon separated
// form of a MAC address. Unparseable input is lower-cased and trimmed.
func NormalizeHardwareAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if mac, err := net.ParseMAC(addr); err == nil {
		return mac.String()
	}
	return strings.ToLower(addr)
}

package util

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// IsValidIPv4 checks if a string is a valid IPv4 address
func IsValidIPv4(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	return ip != nil && ip.To4() != nil
}

// IsValidIPv4Mask checks if a string is a valid IPv4 mask length ("0".."32")
func IsValidIPv4Mask(mask string) bool {
	n, err := strconv.Atoi(mask)
	return err == nil && n >= 0 && n <= 32
}

// IsValidMAC checks if a string parses as a hardware address
func IsValidMAC(mac string) bool {
	_, err := net.ParseMAC(mac)
	return err == nil
}

// ParseIPWithMask parses an IP address with CIDR notation.
// Returns the IP, mask length, and any error.
func ParseIPWithMask(cidr string) (net.IP, int, error) {
	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid CIDR notation: %s", cidr)
	}
	ones, _ := ipNet.Mask.Size()
	return ip, ones, nil
}

// IPInSubnet reports whether ip falls inside the subnet defined by
// subnetIP/maskLen. Returns false for malformed inputs.
func IPInSubnet(ipStr, subnetIP string, maskLen int) bool {
	ip := net.ParseIP(ipStr)
	base := net.ParseIP(subnetIP)
	if ip == nil || base == nil || ip.To4() == nil || base.To4() == nil {
		return false
	}
	mask := net.CIDRMask(maskLen, 32)
	return ip.To4().Mask(mask).Equal(base.To4().Mask(mask))
}

// SameSubnet reports whether two IP/mask pairs describe hosts on the same
// IPv4 subnet.
func SameSubnet(ip1 string, mask1 int, ip2 string, mask2 int) bool {
	if mask1 != mask2 {
		return false
	}
	return IPInSubnet(ip1, ip2, mask1)
}

// IsPrivateIPv4 reports whether the address is in RFC 1918 space.
// Devices on the same LAN segment tunnel over their private addresses
// and are unaffected by public-address churn.
func IsPrivateIPv4(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	switch {
	case ip4[0] == 10:
		return true
	case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
		return true
	case ip4[0] == 192 && ip4[1] == 168:
		return true
	}
	return false
}

// SplitIPMask splits a CIDR notation into IP and mask length.
// Returns the IP (without mask) and mask length.
func SplitIPMask(cidr string) (string, int) {
	parts := strings.Split(cidr, "/")
	if len(parts) != 2 {
		return cidr, 0
	}
	maskLen, err := strconv.Atoi(parts[1])
	if err != nil {
		return parts[0], 0
	}
	return parts[0], maskLen
}

// MergeStringSlices merges string slices, removing duplicates while
// preserving first-seen order.
func MergeStringSlices(slices ...[]string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, slice := range slices {
		for _, s := range slice {
			if !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}
	return result
}

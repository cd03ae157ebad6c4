package tunnel

import "fmt"

// ReasonCode discriminates why a tunnel or route is pending. The
// rendered message is what gets persisted and compared for idempotence;
// re-entering the same state with the same message must not re-notify
// or re-dispatch.
type ReasonCode int

const (
	ReasonNone ReasonCode = iota
	// ReasonInterfaceNoIP: a WAN interface under the tunnel lost its
	// address.
	ReasonInterfaceNoIP
	// ReasonPublicRate: the interface's public address is churning
	// faster than the rate limiter allows.
	ReasonPublicRate
	// ReasonTunnelPending: a static route rides a pending tunnel's
	// loopback.
	ReasonTunnelPending
)

// InterfaceNoIPReason renders the missing-address reason for one side.
func InterfaceNoIPReason(ifName, deviceName string) string {
	return fmt.Sprintf("Interface %s in device %s has no IP address", ifName, deviceName)
}

// PublicRateReason renders the public-address churn reason.
func PublicRateReason(ifName, deviceName string) string {
	return fmt.Sprintf("Public port of interface %s in device %s is changing at a high rate", ifName, deviceName)
}

// RouteTunnelPendingReason renders the cascaded route reason.
func RouteTunnelPendingReason(num int) string {
	return fmt.Sprintf("tunnel %d pending", num)
}

// RouteInterfaceReason renders the subnet-gateway route reason.
func RouteInterfaceReason(ifName, deviceName string) string {
	return fmt.Sprintf("Gateway unreachable: interface %s in device %s has no IP address", ifName, deviceName)
}

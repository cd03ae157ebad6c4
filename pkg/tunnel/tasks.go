package tunnel

import (
	"fmt"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
)

// Side identifies which end of the tunnel a task list is built for.
// Each side's list is self-contained; the two devices' jobs are
// independent and may complete out of order.
type Side int

const (
	SideA Side = iota
	SideB
)

// AddTunnelParams is the wire payload of an add-tunnel task.
type AddTunnelParams struct {
	Num              int                    `json:"tunnel-id"`
	Src              string                 `json:"src"`
	Dst              string                 `json:"dst"`
	DstPort          string                 `json:"dstPort,omitempty"`
	PathLabel        string                 `json:"pathlabel,omitempty"`
	EncryptionMethod model.EncryptionMethod `json:"encryption-method"`
	LoopbackIP       string                 `json:"loopback-iface-addr"`
	LoopbackMAC      string                 `json:"loopback-iface-mac"`
	RemoteLoopbackIP string                 `json:"remote-loopback-addr"`
	SA1              int                    `json:"local-sa"`
	SA2              int                    `json:"remote-sa"`
	Keys             *model.TunnelKeys      `json:"tunnel-keys,omitempty"`
}

// RemoveTunnelParams is the wire payload of a remove-tunnel task.
type RemoveTunnelParams struct {
	Num int `json:"tunnel-id"`
}

// UsesLocalPath reports whether two endpoints reach each other over a
// local/private path: both behind the same NAT (equal public addresses)
// or both reporting no public address at all. Tunnels on a local path
// are insensitive to public-address changes.
func UsesLocalPath(a, b *model.Interface) bool {
	if a == nil || b == nil {
		return false
	}
	if a.PublicIP == "" && b.PublicIP == "" {
		return true
	}
	return a.PublicIP != "" && a.PublicIP == b.PublicIP
}

// destination picks the address one side dials: the remote's private
// address on a local path, its public address otherwise.
func destination(local, remote *model.Interface) (addr, port string) {
	if UsesLocalPath(local, remote) || remote.PublicIP == "" {
		return remote.IPv4, ""
	}
	return remote.PublicIP, remote.PublicPort
}

// AddTunnelTasks builds the ordered task list for one side of a tunnel.
// local and remote are the persisted interfaces of this device and the
// far end (for peer tunnels remote carries the peer's addressing).
func AddTunnelTasks(t *model.Tunnel, local, remote *model.Interface, side Side) ([]model.Task, error) {
	params, err := GenerateParams(t.Num)
	if err != nil {
		return nil, err
	}

	loIP, loMAC, remoteLo := params.IP1, params.MAC1, params.IP2
	sa1, sa2 := params.SA1, params.SA2
	if side == SideB {
		loIP, loMAC, remoteLo = params.IP2, params.MAC2, params.IP1
		sa1, sa2 = params.SA2, params.SA1
	}

	dst, dstPort := destination(local, remote)
	if local.IPv4 == "" || dst == "" {
		return nil, fmt.Errorf("tunnel %d: missing endpoint address", t.Num)
	}

	p := AddTunnelParams{
		Num:              t.Num,
		Src:              local.IPv4,
		Dst:              dst,
		DstPort:          dstPort,
		PathLabel:        t.PathLabel,
		EncryptionMethod: t.EncryptionMethod,
		LoopbackIP:       loIP + "/31",
		LoopbackMAC:      loMAC,
		RemoteLoopbackIP: remoteLo,
		SA1:              sa1,
		SA2:              sa2,
	}
	if t.EncryptionMethod == model.EncryptionPSK {
		p.Keys = t.TunnelKeys
	}

	return []model.Task{
		{Entity: "agent", Message: "add-tunnel", Params: p},
	}, nil
}

// RemoveTunnelTasks builds the task list that tears a tunnel down on
// one device. The same list works on either side.
func RemoveTunnelTasks(t *model.Tunnel) []model.Task {
	return []model.Task{
		{Entity: "agent", Message: "remove-tunnel", Params: RemoveTunnelParams{Num: t.Num}},
	}
}

// LimiterKey is the rate-limiter key for a device interface.
func LimiterKey(deviceID, ifID string) string {
	return deviceID + ":" + ifID
}

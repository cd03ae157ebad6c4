package modify

import (
	"fmt"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/util"
)

// ValidateDevice checks a desired device document for structural
// violations before any mutation happens. A failure rejects the whole
// modification; no partial job is ever emitted.
func ValidateDevice(d *model.Device) error {
	v := &util.ValidationBuilder{}

	for i := range d.Interfaces {
		iface := &d.Interfaces[i]
		if !iface.IsAssigned {
			continue
		}
		if iface.IPv4 != "" && !util.IsValidIPv4(iface.IPv4) {
			v.AddErrorf("interface %s: invalid IPv4 address %q", iface.Name, iface.IPv4)
		}
		if iface.IPv4 != "" && !util.IsValidIPv4Mask(iface.IPv4Mask) {
			v.AddErrorf("interface %s: invalid IPv4 mask %q", iface.Name, iface.IPv4Mask)
		}
		if iface.Gateway != "" && !util.IsValidIPv4(iface.Gateway) {
			v.AddErrorf("interface %s: invalid gateway %q", iface.Name, iface.Gateway)
		}
		if iface.Type == model.InterfaceWAN && iface.DHCP != "yes" && iface.IPv4 != "" && iface.Gateway == "" {
			v.AddErrorf("interface %s: WAN interface with static address requires a gateway", iface.Name)
		}
	}

	for i := range d.StaticRoutes {
		r := &d.StaticRoutes[i]
		if _, _, err := util.ParseIPWithMask(r.Destination); err != nil {
			v.AddErrorf("route %s: invalid destination", r.Destination)
		}
		if !util.IsValidIPv4(r.Gateway) {
			v.AddErrorf("route %s: invalid gateway %q", r.Destination, r.Gateway)
		}
	}

	for i := range d.DHCP {
		e := &d.DHCP[i]
		iface := d.InterfaceByName(e.Interface)
		switch {
		case iface == nil:
			v.AddErrorf("dhcp on %s: interface does not exist", e.Interface)
		case !iface.IsAssigned:
			v.AddErrorf("dhcp on %s: interface is not assigned", e.Interface)
		case iface.DHCP == "yes":
			// A DHCP-client interface cannot also serve DHCP.
			v.AddErrorf("dhcp on %s: interface is configured as a DHCP client", e.Interface)
		case iface.IPv4 == "":
			v.AddErrorf("dhcp on %s: interface has no static address", e.Interface)
		}
		if !util.IsValidIPv4(e.RangeStart) || !util.IsValidIPv4(e.RangeEnd) {
			v.AddErrorf("dhcp on %s: invalid address range %s-%s", e.Interface, e.RangeStart, e.RangeEnd)
		}
		for _, m := range e.MacAssign {
			if !util.IsValidMAC(m.MAC) {
				v.AddErrorf("dhcp on %s: invalid MAC reservation %q", e.Interface, m.MAC)
			}
			if !util.IsValidIPv4(m.IPv4) {
				v.AddErrorf("dhcp on %s: invalid reserved address %q", e.Interface, m.IPv4)
			}
		}
	}

	return v.Build()
}

// ValidateNoOverlap rejects a modification while another one is already
// in flight for the device or any of the tunnels the diff touches.
func ValidateNoOverlap(orig *model.Device, impacts []TunnelImpact) error {
	if orig.PendingDevModification {
		return util.NewDeviceBusyError(orig.Name)
	}
	for _, imp := range impacts {
		if imp.Action == TunnelKeep {
			continue
		}
		if imp.Tunnel.PendingTunnelModification {
			return util.NewTunnelBusyError(fmt.Sprintf("%d", imp.Tunnel.Num))
		}
	}
	return nil
}

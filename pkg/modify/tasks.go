package modify

import (
	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
)

// currentAgentMajor is the first agent generation that addresses
// interfaces by bus id and understands the default-route section.
// Older agents get the legacy name-addressed message shape.
const currentAgentMajor = 2

// RouteParams is one route operation inside a modify-device task.
type RouteParams struct {
	Op     string `json:"op"`
	Addr   string `json:"addr"`
	Via    string `json:"via"`
	Metric string `json:"metric,omitempty"`
	IfName string `json:"ifname,omitempty"` // legacy agents
	DevID  string `json:"devId,omitempty"`  // current agents
}

// InterfaceParams is one interface section inside a modify-device task.
type InterfaceParams struct {
	Name       string   `json:"name,omitempty"`  // legacy agents
	DevID      string   `json:"devId,omitempty"` // current agents
	Type       string   `json:"type"`
	Addr       string   `json:"addr,omitempty"` // ip/mask
	Gateway    string   `json:"gateway,omitempty"`
	Metric     string   `json:"metric,omitempty"`
	DHCP       string   `json:"dhcp,omitempty"`
	PathLabels []string `json:"pathlabels,omitempty"`
	PublicIP   string   `json:"PublicIP,omitempty"`
	PublicPort string   `json:"PublicPort,omitempty"`
	Unassign   bool     `json:"unassign,omitempty"`
}

// DHCPConfigParams is one DHCP scope inside a modify-device task.
type DHCPConfigParams struct {
	Op         string                 `json:"op"`
	Interface  string                 `json:"interface"`
	RangeStart string                 `json:"range_start"`
	RangeEnd   string                 `json:"range_end"`
	DNS        []string               `json:"dns,omitempty"`
	MacAssign  []model.MacReservation `json:"mac_assign,omitempty"`
}

// ModifyDeviceParams is the wire payload of a modify-device task.
type ModifyDeviceParams struct {
	ModifyRoutes     *ModifyRoutesSection     `json:"modify_routes,omitempty"`
	ModifyInterfaces *ModifyInterfacesSection `json:"modify_interfaces,omitempty"`
	ModifyDHCP       *ModifyDHCPSection       `json:"modify_dhcp_config,omitempty"`
	DefaultRoute     string                   `json:"default_route,omitempty"` // current agents only
}

type ModifyRoutesSection struct {
	Routes []RouteParams `json:"routes"`
}

type ModifyInterfacesSection struct {
	Interfaces []InterfaceParams `json:"interfaces"`
}

type ModifyDHCPSection struct {
	DHCPConfigs []DHCPConfigParams `json:"dhcp_configs"`
}

// BuildTasks constructs the modify-device task list for one device,
// selecting the message shape by the device's agent major version. The
// returned list is fixed and typed; nothing mutates it downstream.
func BuildTasks(d *model.Device, diff *Diff) []model.Task {
	if model.MajorVersion(d.Versions.Agent) >= currentAgentMajor {
		return buildTasksCurrent(d, diff)
	}
	return buildTasksLegacy(d, diff)
}

// buildTasksLegacy emits the name-addressed shape for first-generation
// agents. Default-route changes ride the interface gateway fields, so
// the section is omitted.
func buildTasksLegacy(d *model.Device, diff *Diff) []model.Task {
	params := ModifyDeviceParams{}

	var routes []RouteParams
	for _, op := range diff.Routes {
		if op.Route.IsPending {
			continue
		}
		routes = append(routes, RouteParams{
			Op:     op.Op,
			Addr:   op.Route.Destination,
			Via:    op.Route.Gateway,
			Metric: op.Route.Metric,
			IfName: op.Route.IfName,
		})
	}
	if len(routes) > 0 {
		params.ModifyRoutes = &ModifyRoutesSection{Routes: routes}
	}

	ifaces := interfaceSections(diff, false)
	if len(ifaces) > 0 {
		params.ModifyInterfaces = &ModifyInterfacesSection{Interfaces: ifaces}
	}

	dhcp := dhcpSections(diff)
	if len(dhcp) > 0 {
		params.ModifyDHCP = &ModifyDHCPSection{DHCPConfigs: dhcp}
	}

	if emptyParams(&params) {
		return nil
	}
	return []model.Task{{Entity: "agent", Message: "modify-device", Params: params}}
}

// buildTasksCurrent emits the bus-addressed shape for current agents,
// including the explicit default-route section.
func buildTasksCurrent(d *model.Device, diff *Diff) []model.Task {
	params := ModifyDeviceParams{}

	var routes []RouteParams
	for _, op := range diff.Routes {
		if op.Route.IsPending {
			continue
		}
		devID := ""
		if iface := d.InterfaceByName(op.Route.IfName); iface != nil {
			devID = iface.DevID
		}
		routes = append(routes, RouteParams{
			Op:     op.Op,
			Addr:   op.Route.Destination,
			Via:    op.Route.Gateway,
			Metric: op.Route.Metric,
			DevID:  devID,
		})
	}
	if len(routes) > 0 {
		params.ModifyRoutes = &ModifyRoutesSection{Routes: routes}
	}

	ifaces := interfaceSections(diff, true)
	if len(ifaces) > 0 {
		params.ModifyInterfaces = &ModifyInterfacesSection{Interfaces: ifaces}
	}

	dhcp := dhcpSections(diff)
	if len(dhcp) > 0 {
		params.ModifyDHCP = &ModifyDHCPSection{DHCPConfigs: dhcp}
	}

	if diff.DefaultRouteChanged {
		params.DefaultRoute = d.DefaultRoute
	}

	if emptyParams(&params) {
		return nil
	}
	return []model.Task{{Entity: "agent", Message: "modify-device", Params: params}}
}

func interfaceSections(diff *Diff, busAddressed bool) []InterfaceParams {
	var out []InterfaceParams
	add := func(iface *model.Interface, unassign bool) {
		p := InterfaceParams{
			Type:       string(iface.Type),
			Gateway:    iface.Gateway,
			Metric:     iface.Metric,
			DHCP:       iface.DHCP,
			PathLabels: iface.PathLabels,
			Unassign:   unassign,
		}
		if iface.IPv4 != "" && !unassign {
			p.Addr = iface.IPv4 + "/" + iface.IPv4Mask
		}
		if busAddressed {
			p.DevID = iface.DevID
			p.PublicIP = iface.PublicIP
			p.PublicPort = iface.PublicPort
		} else {
			p.Name = iface.Name
		}
		out = append(out, p)
	}
	for i := range diff.Interfaces {
		add(&diff.Interfaces[i], false)
	}
	for i := range diff.Assign {
		add(&diff.Assign[i].Interface, !diff.Assign[i].Assigned)
	}
	return out
}

func dhcpSections(diff *Diff) []DHCPConfigParams {
	var out []DHCPConfigParams
	for _, op := range diff.DHCP {
		if op.Entry.IsPending {
			continue
		}
		out = append(out, DHCPConfigParams{
			Op:         op.Op,
			Interface:  op.Entry.Interface,
			RangeStart: op.Entry.RangeStart,
			RangeEnd:   op.Entry.RangeEnd,
			DNS:        op.Entry.DNS,
			MacAssign:  op.Entry.MacAssign,
		})
	}
	return out
}

func emptyParams(p *ModifyDeviceParams) bool {
	return p.ModifyRoutes == nil && p.ModifyInterfaces == nil &&
		p.ModifyDHCP == nil && p.DefaultRoute == ""
}

// Package model defines the persisted document types shared by the
// manager: devices with their interfaces, routes and DHCP entries,
// tunnels, and the jobs dispatched to device agents.
package model

// InterfaceType classifies how an interface participates in the overlay.
type InterfaceType string

const (
	InterfaceWAN   InterfaceType = "WAN"
	InterfaceLAN   InterfaceType = "LAN"
	InterfaceTrunk InterfaceType = "TRUNK"
	InterfaceNone  InterfaceType = "NONE"
)

// Interface is one network interface of a device as persisted by the
// manager. DevID is the bus address the agent uses to identify the
// interface (newer agents address interfaces by DevID, older ones by
// Name).
type Interface struct {
	ID                string        `json:"_id"`
	Name              string        `json:"name"`
	DevID             string        `json:"devId,omitempty"`
	Type              InterfaceType `json:"type"`
	IsAssigned        bool          `json:"isAssigned"`
	IPv4              string        `json:"IPv4,omitempty"`
	IPv4Mask          string        `json:"IPv4Mask,omitempty"`
	IPv6              string        `json:"IPv6,omitempty"`
	IPv6Mask          string        `json:"IPv6Mask,omitempty"`
	PathLabels        []string      `json:"pathlabels,omitempty"`
	Gateway           string        `json:"gateway,omitempty"`
	Metric            string        `json:"metric,omitempty"`
	PublicIP          string        `json:"PublicIP,omitempty"`
	PublicPort        string        `json:"PublicPort,omitempty"`
	DHCP              string        `json:"dhcp,omitempty"` // "yes" or "no"
	HasInternetAccess bool          `json:"internetAccess"`
}

// HasPathLabel reports whether the interface carries the given label.
func (i *Interface) HasPathLabel(label string) bool {
	for _, l := range i.PathLabels {
		if l == label {
			return true
		}
	}
	return false
}

// StaticRoute is a user-configured route on a device. Pending routes are
// persisted but intentionally not installed on the device.
type StaticRoute struct {
	ID            string `json:"_id"`
	Destination   string `json:"destination"`
	Gateway       string `json:"gateway"`
	IfName        string `json:"ifname,omitempty"`
	Metric        string `json:"metric,omitempty"`
	IsPending     bool   `json:"isPending"`
	PendingReason string `json:"pendingReason,omitempty"`
}

// MacReservation binds a host MAC to a fixed address within a DHCP range.
type MacReservation struct {
	Host string `json:"host"`
	MAC  string `json:"mac"`
	IPv4 string `json:"ipv4"`
}

// DHCPEntry is a DHCP server scope configured on one LAN interface.
type DHCPEntry struct {
	ID            string           `json:"_id"`
	Interface     string           `json:"interface"`
	RangeStart    string           `json:"rangeStart"`
	RangeEnd      string           `json:"rangeEnd"`
	DNS           []string         `json:"dns,omitempty"`
	MacAssign     []MacReservation `json:"macAssign,omitempty"`
	IsPending     bool             `json:"isPending"`
	PendingReason string           `json:"pendingReason,omitempty"`
}

// DeviceVersions carries the component versions reported by the agent.
type DeviceVersions struct {
	Agent  string `json:"agent"`
	Router string `json:"router,omitempty"`
	Device string `json:"device,omitempty"`
}

// Device is the persisted manager view of one edge appliance.
//
// PendingDevModification guards the at-most-one in-flight modify job per
// device: it is set immediately before a modify-device job is queued and
// cleared only by the job's terminal callback.
type Device struct {
	ID           string         `json:"_id"`
	Org          string         `json:"org"`
	Name         string         `json:"name"`
	MachineID    string         `json:"machineId,omitempty"`
	Hostname     string         `json:"hostname,omitempty"`
	Versions     DeviceVersions `json:"versions"`
	IsApproved   bool           `json:"isApproved"`
	IsConnected  bool           `json:"isConnected"`
	DefaultRoute string         `json:"defaultRoute,omitempty"`
	Interfaces   []Interface    `json:"interfaces"`
	StaticRoutes []StaticRoute  `json:"staticroutes,omitempty"`
	DHCP         []DHCPEntry    `json:"dhcp,omitempty"`

	PendingDevModification bool `json:"pendingDevModification"`
}

// InterfaceByID returns the interface with the given id, or nil.
func (d *Device) InterfaceByID(id string) *Interface {
	for i := range d.Interfaces {
		if d.Interfaces[i].ID == id {
			return &d.Interfaces[i]
		}
	}
	return nil
}

// InterfaceByName returns the interface with the given name, or nil.
func (d *Device) InterfaceByName(name string) *Interface {
	for i := range d.Interfaces {
		if d.Interfaces[i].Name == name {
			return &d.Interfaces[i]
		}
	}
	return nil
}

// WANInterfaces returns the assigned WAN interfaces of the device.
func (d *Device) WANInterfaces() []*Interface {
	var out []*Interface
	for i := range d.Interfaces {
		if d.Interfaces[i].Type == InterfaceWAN && d.Interfaces[i].IsAssigned {
			out = append(out, &d.Interfaces[i])
		}
	}
	return out
}

// InterfaceFacts is one interface's observed state as reported by the
// device on a sync. The reconciliation engine compares facts against the
// persisted interface to detect transitions.
type InterfaceFacts struct {
	ID                string `json:"_id"`
	Name              string `json:"name"`
	IPv4              string `json:"IPv4"`
	IPv4Mask          string `json:"IPv4Mask"`
	PublicIP          string `json:"PublicIP"`
	PublicPort        string `json:"PublicPort"`
	HasInternetAccess bool   `json:"internetAccess"`
}

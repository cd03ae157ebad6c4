// Package modify computes the minimal set of operations that move a
// device from its persisted configuration to a desired one, decides the
// fate of tunnels bound to changed interfaces, and builds the
// agent-version-specific modify-device task lists.
package modify

import (
	"reflect"
	"sort"
	"strings"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
)

// Op direction for route and DHCP deltas.
const (
	OpAdd = "add"
	OpDel = "del"
)

// RouteOp is one static-route change.
type RouteOp struct {
	Op    string
	Route model.StaticRoute
}

// DHCPOp is one DHCP-scope change.
type DHCPOp struct {
	Op    string
	Entry model.DHCPEntry
}

// AssignOp records an interface assignment flip.
type AssignOp struct {
	Interface model.Interface // desired state
	Assigned  bool
}

// Diff is the computed delta between two device documents. Interfaces
// holds the desired state of assigned interfaces whose device-visible
// fields changed; edits to unassigned interfaces are persisted upstream
// but never appear here, so they never reach the device.
type Diff struct {
	DefaultRouteChanged bool
	Routes              []RouteOp
	Interfaces          []model.Interface
	DHCP                []DHCPOp
	Assign              []AssignOp
}

// IsEmpty reports whether the diff carries no device-visible change.
func (d *Diff) IsEmpty() bool {
	return !d.DefaultRouteChanged &&
		len(d.Routes) == 0 &&
		len(d.Interfaces) == 0 &&
		len(d.DHCP) == 0 &&
		len(d.Assign) == 0
}

// TouchedInterfaceIDs returns the ids of interfaces the diff modifies
// or re-assigns, for tunnel impact analysis.
func (d *Diff) TouchedInterfaceIDs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, i := range d.Interfaces {
		if !seen[i.ID] {
			seen[i.ID] = true
			out = append(out, i.ID)
		}
	}
	for _, a := range d.Assign {
		if !seen[a.Interface.ID] {
			seen[a.Interface.ID] = true
			out = append(out, a.Interface.ID)
		}
	}
	return out
}

// routeKey identifies a static route for set comparison.
func routeKey(r *model.StaticRoute) string {
	return strings.Join([]string{r.Destination, r.Gateway, r.IfName, r.Metric}, "|")
}

// dhcpKey identifies a DHCP scope for set comparison.
func dhcpKey(e *model.DHCPEntry) string {
	parts := []string{e.Interface, e.RangeStart, e.RangeEnd}
	macs := make([]string, 0, len(e.MacAssign))
	for _, m := range e.MacAssign {
		macs = append(macs, m.MAC+"="+m.IPv4)
	}
	sort.Strings(macs)
	return strings.Join(append(parts, macs...), "|")
}

// labelSet resolves a path-label list to a comparable canonical form.
func labelSet(labels []string) string {
	s := append([]string(nil), labels...)
	sort.Strings(s)
	return strings.Join(s, ",")
}

// interfaceChanged compares device-visible interface fields, excluding
// internal-only ones: the document id, the assignment flag (tracked as
// its own delta) and path labels are resolved to label-id sets.
func interfaceChanged(a, b *model.Interface) bool {
	if a.Type != b.Type ||
		a.IPv4 != b.IPv4 || a.IPv4Mask != b.IPv4Mask ||
		a.IPv6 != b.IPv6 || a.IPv6Mask != b.IPv6Mask ||
		a.Gateway != b.Gateway || a.Metric != b.Metric ||
		a.PublicIP != b.PublicIP || a.PublicPort != b.PublicPort ||
		a.DHCP != b.DHCP {
		return true
	}
	return labelSet(a.PathLabels) != labelSet(b.PathLabels)
}

// Compute diffs two device documents field by field. The result is
// minimal: untouched routes, scopes and interfaces do not appear.
func Compute(orig, desired *model.Device) *Diff {
	d := &Diff{}

	if orig.DefaultRoute != desired.DefaultRoute {
		d.DefaultRouteChanged = true
	}

	// Static routes: set difference on the composite key. Pending
	// routes stay persisted but are not device-visible.
	origRoutes := make(map[string]*model.StaticRoute)
	for i := range orig.StaticRoutes {
		r := &orig.StaticRoutes[i]
		origRoutes[routeKey(r)] = r
	}
	desiredRoutes := make(map[string]*model.StaticRoute)
	for i := range desired.StaticRoutes {
		r := &desired.StaticRoutes[i]
		desiredRoutes[routeKey(r)] = r
		if _, ok := origRoutes[routeKey(r)]; !ok {
			d.Routes = append(d.Routes, RouteOp{Op: OpAdd, Route: *r})
		}
	}
	for key, r := range origRoutes {
		if _, ok := desiredRoutes[key]; !ok {
			d.Routes = append(d.Routes, RouteOp{Op: OpDel, Route: *r})
		}
	}
	sortRoutes(d.Routes)

	// Interfaces: assignment flips are their own delta; field changes
	// count only while the interface is assigned.
	for i := range desired.Interfaces {
		di := &desired.Interfaces[i]
		oi := orig.InterfaceByID(di.ID)
		if oi == nil {
			if di.IsAssigned {
				d.Assign = append(d.Assign, AssignOp{Interface: *di, Assigned: true})
			}
			continue
		}
		if oi.IsAssigned != di.IsAssigned {
			d.Assign = append(d.Assign, AssignOp{Interface: *di, Assigned: di.IsAssigned})
			continue
		}
		if di.IsAssigned && interfaceChanged(oi, di) {
			d.Interfaces = append(d.Interfaces, *di)
		}
	}
	for i := range orig.Interfaces {
		oi := &orig.Interfaces[i]
		if desired.InterfaceByID(oi.ID) == nil && oi.IsAssigned {
			unassigned := *oi
			unassigned.IsAssigned = false
			d.Assign = append(d.Assign, AssignOp{Interface: unassigned, Assigned: false})
		}
	}

	// DHCP scopes: set difference; a changed scope shows up as del+add.
	origDHCP := make(map[string]*model.DHCPEntry)
	for i := range orig.DHCP {
		e := &orig.DHCP[i]
		origDHCP[dhcpKey(e)] = e
	}
	desiredDHCP := make(map[string]*model.DHCPEntry)
	for i := range desired.DHCP {
		e := &desired.DHCP[i]
		desiredDHCP[dhcpKey(e)] = e
		if _, ok := origDHCP[dhcpKey(e)]; !ok {
			d.DHCP = append(d.DHCP, DHCPOp{Op: OpAdd, Entry: *e})
		}
	}
	for key, e := range origDHCP {
		if _, ok := desiredDHCP[key]; !ok {
			d.DHCP = append(d.DHCP, DHCPOp{Op: OpDel, Entry: *e})
		}
	}

	return d
}

func sortRoutes(ops []RouteOp) {
	sort.SliceStable(ops, func(i, j int) bool {
		// Removals first so the agent never holds two conflicting
		// routes for the same destination.
		if ops[i].Op != ops[j].Op {
			return ops[i].Op == OpDel
		}
		return routeKey(&ops[i].Route) < routeKey(&ops[j].Route)
	})
}

// Equal reports whether two diffs describe the same delta. Used by
// retry idempotence checks.
func Equal(a, b *Diff) bool {
	return reflect.DeepEqual(a, b)
}

// InstalledView reduces a device document to what is actually installed
// on the device: pending routes and DHCP entries are stripped, and the
// interface and default-route sections are pinned to current so diffing
// two views yields route and DHCP ops only.
func InstalledView(d, current *model.Device) *model.Device {
	out := *d
	out.Interfaces = current.Interfaces
	out.DefaultRoute = current.DefaultRoute
	out.StaticRoutes = nil
	for _, r := range d.StaticRoutes {
		if !r.IsPending {
			out.StaticRoutes = append(out.StaticRoutes, r)
		}
	}
	out.DHCP = nil
	for _, e := range d.DHCP {
		if !e.IsPending {
			out.DHCP = append(out.DHCP, e)
		}
	}
	return &out
}

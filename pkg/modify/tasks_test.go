package modify

import (
	"testing"

	"github.com/ExcellentiaFuturale/flexiManage/internal/testutil"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
)

func TestBuildTasks_CurrentAgentShape(t *testing.T) {
	d := testutil.Device("d1", "branch-1", testutil.WANInterface("i1", "eth0", 1))
	d.DefaultRoute = "192.168.1.254"
	diff := &Diff{
		DefaultRouteChanged: true,
		Routes: []RouteOp{
			{Op: OpDel, Route: model.StaticRoute{Destination: "10.7.0.0/24", Gateway: "192.168.1.254", IfName: "eth0"}},
			{Op: OpAdd, Route: model.StaticRoute{Destination: "10.8.0.0/24", Gateway: "192.168.1.254", IfName: "eth0"}},
		},
	}

	tasks := BuildTasks(d, diff)
	if len(tasks) != 1 || tasks[0].Message != "modify-device" || tasks[0].Entity != "agent" {
		t.Fatalf("tasks %+v", tasks)
	}
	p := tasks[0].Params.(ModifyDeviceParams)
	if p.ModifyRoutes == nil || len(p.ModifyRoutes.Routes) != 2 {
		t.Fatalf("routes %+v", p.ModifyRoutes)
	}
	r := p.ModifyRoutes.Routes[0]
	if r.Op != OpDel || r.Addr != "10.7.0.0/24" || r.Via != "192.168.1.254" {
		t.Errorf("route %+v", r)
	}
	// Current agents address routes by bus id, not name.
	if r.DevID != d.Interfaces[0].DevID || r.IfName != "" {
		t.Errorf("route addressing %+v", r)
	}
	if p.DefaultRoute != "192.168.1.254" {
		t.Errorf("default route %q", p.DefaultRoute)
	}
}

func TestBuildTasks_LegacyAgentShape(t *testing.T) {
	d := testutil.LegacyDevice("d1", "branch-1", testutil.WANInterface("i1", "eth0", 1))
	d.DefaultRoute = "192.168.1.254"
	diff := &Diff{
		DefaultRouteChanged: true,
		Routes: []RouteOp{
			{Op: OpAdd, Route: model.StaticRoute{Destination: "10.8.0.0/24", Gateway: "192.168.1.254", IfName: "eth0"}},
		},
		Interfaces: []model.Interface{d.Interfaces[0]},
	}

	tasks := BuildTasks(d, diff)
	if len(tasks) != 1 {
		t.Fatalf("tasks %+v", tasks)
	}
	p := tasks[0].Params.(ModifyDeviceParams)
	r := p.ModifyRoutes.Routes[0]
	if r.IfName != "eth0" || r.DevID != "" {
		t.Errorf("legacy route addressing %+v", r)
	}
	iface := p.ModifyInterfaces.Interfaces[0]
	if iface.Name != "eth0" || iface.DevID != "" {
		t.Errorf("legacy interface addressing %+v", iface)
	}
	// Legacy agents have no default-route section.
	if p.DefaultRoute != "" {
		t.Errorf("default route %q leaked into legacy shape", p.DefaultRoute)
	}
}

func TestBuildTasks_SkipsPendingOps(t *testing.T) {
	d := testutil.Device("d1", "branch-1", testutil.WANInterface("i1", "eth0", 1))
	diff := &Diff{
		Routes: []RouteOp{
			{Op: OpAdd, Route: model.StaticRoute{Destination: "10.8.0.0/24", Gateway: "192.168.1.254", IsPending: true}},
		},
		DHCP: []DHCPOp{
			{Op: OpAdd, Entry: model.DHCPEntry{Interface: "eth1", RangeStart: "10.0.5.10", RangeEnd: "10.0.5.50", IsPending: true}},
		},
	}
	if tasks := BuildTasks(d, diff); tasks != nil {
		t.Fatalf("pending-only diff must produce no tasks: %+v", tasks)
	}
}

func TestBuildTasks_AssignmentFlip(t *testing.T) {
	wan := testutil.WANInterface("i1", "eth0", 1)
	d := testutil.Device("d1", "branch-1", wan)
	diff := &Diff{Assign: []AssignOp{{Interface: wan, Assigned: false}}}

	tasks := BuildTasks(d, diff)
	if len(tasks) != 1 {
		t.Fatalf("tasks %+v", tasks)
	}
	p := tasks[0].Params.(ModifyDeviceParams)
	iface := p.ModifyInterfaces.Interfaces[0]
	if !iface.Unassign {
		t.Error("unassign flag not set")
	}
	if iface.Addr != "" {
		t.Errorf("unassigned interface must not carry an address, got %q", iface.Addr)
	}
}

func TestBuildTasks_DHCPSections(t *testing.T) {
	d := testutil.Device("d1", "branch-1", testutil.LANInterface("i1", "eth1", 5))
	diff := &Diff{
		DHCP: []DHCPOp{
			{Op: OpDel, Entry: model.DHCPEntry{Interface: "eth1", RangeStart: "10.0.5.10", RangeEnd: "10.0.5.50"}},
			{Op: OpAdd, Entry: model.DHCPEntry{Interface: "eth1", RangeStart: "10.0.5.10", RangeEnd: "10.0.5.99",
				DNS: []string{"8.8.8.8"}}},
		},
	}

	tasks := BuildTasks(d, diff)
	p := tasks[0].Params.(ModifyDeviceParams)
	if p.ModifyDHCP == nil || len(p.ModifyDHCP.DHCPConfigs) != 2 {
		t.Fatalf("dhcp %+v", p.ModifyDHCP)
	}
	if p.ModifyDHCP.DHCPConfigs[1].DNS[0] != "8.8.8.8" {
		t.Errorf("dhcp %+v", p.ModifyDHCP.DHCPConfigs[1])
	}
}

func TestBuildTasks_EmptyDiff(t *testing.T) {
	d := testutil.Device("d1", "branch-1")
	if tasks := BuildTasks(d, &Diff{}); tasks != nil {
		t.Fatalf("empty diff must produce no tasks: %+v", tasks)
	}
}

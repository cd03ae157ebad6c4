package modify

import (
	"errors"
	"testing"

	"github.com/ExcellentiaFuturale/flexiManage/internal/testutil"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/util"
)

func TestValidateDevice_AcceptsFixture(t *testing.T) {
	d := testutil.Device("d1", "branch-1",
		testutil.WANInterface("i1", "eth0", 1),
		testutil.LANInterface("i2", "eth1", 5))
	d.StaticRoutes = []model.StaticRoute{
		{ID: "r1", Destination: "10.7.0.0/24", Gateway: "192.168.1.254"},
	}
	d.DHCP = []model.DHCPEntry{
		{ID: "h1", Interface: "eth1", RangeStart: "10.0.5.10", RangeEnd: "10.0.5.50",
			MacAssign: []model.MacReservation{{Host: "printer", MAC: "00:11:22:33:44:55", IPv4: "10.0.5.20"}}},
	}
	if err := ValidateDevice(d); err != nil {
		t.Fatalf("ValidateDevice: %v", err)
	}
}

func TestValidateDevice_CollectsEveryFailure(t *testing.T) {
	wan := testutil.WANInterface("i1", "eth0", 1)
	wan.IPv4 = "not-an-ip"
	d := testutil.Device("d1", "branch-1", wan)
	d.StaticRoutes = []model.StaticRoute{
		{ID: "r1", Destination: "banana", Gateway: "10.0.0.300"},
	}
	d.DHCP = []model.DHCPEntry{
		{ID: "h1", Interface: "eth9", RangeStart: "10.0.5.10", RangeEnd: "10.0.5.50"},
	}

	err := ValidateDevice(d)
	if !errors.Is(err, util.ErrValidationFailed) {
		t.Fatalf("err = %v, want validation failure", err)
	}
	var ve *util.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %#v", err)
	}
	if len(ve.Errors) < 3 {
		t.Errorf("want one message per failure, got %v", ve.Errors)
	}
}

func TestValidateDevice_IgnoresUnassignedInterfaces(t *testing.T) {
	bad := testutil.WANInterface("i1", "eth0", 1)
	bad.IsAssigned = false
	bad.IPv4 = "not-an-ip"
	d := testutil.Device("d1", "branch-1", bad)
	if err := ValidateDevice(d); err != nil {
		t.Fatalf("unassigned interfaces must not be validated: %v", err)
	}
}

func TestValidateDevice_WANRequiresGateway(t *testing.T) {
	wan := testutil.WANInterface("i1", "eth0", 1)
	wan.Gateway = ""
	d := testutil.Device("d1", "branch-1", wan)
	if err := ValidateDevice(d); !errors.Is(err, util.ErrValidationFailed) {
		t.Fatalf("err = %v", err)
	}

	// DHCP-client WANs learn their gateway.
	wan.DHCP = "yes"
	d = testutil.Device("d1", "branch-1", wan)
	if err := ValidateDevice(d); err != nil {
		t.Fatalf("dhcp wan without gateway: %v", err)
	}
}

func TestValidateDevice_DHCPServerRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Interface)
	}{
		{"unassigned interface", func(i *model.Interface) { i.IsAssigned = false }},
		{"dhcp client interface", func(i *model.Interface) { i.DHCP = "yes" }},
		{"no static address", func(i *model.Interface) { i.IPv4 = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lan := testutil.LANInterface("i1", "eth1", 5)
			tt.mutate(&lan)
			d := testutil.Device("d1", "branch-1", lan)
			d.DHCP = []model.DHCPEntry{
				{ID: "h1", Interface: "eth1", RangeStart: "10.0.5.10", RangeEnd: "10.0.5.50"},
			}
			if err := ValidateDevice(d); !errors.Is(err, util.ErrValidationFailed) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestValidateNoOverlap(t *testing.T) {
	d := testutil.Device("d1", "branch-1")

	if err := ValidateNoOverlap(d, nil); err != nil {
		t.Fatalf("clean device: %v", err)
	}

	busy := testutil.Device("d1", "branch-1")
	busy.PendingDevModification = true
	if err := ValidateNoOverlap(busy, nil); !errors.Is(err, util.ErrDeviceBusy) {
		t.Fatalf("err = %v, want device busy", err)
	}

	pending := &model.Tunnel{Num: 4, PendingTunnelModification: true}
	impacts := []TunnelImpact{{Tunnel: pending, Action: TunnelRebuild}}
	if err := ValidateNoOverlap(d, impacts); !errors.Is(err, util.ErrTunnelBusy) {
		t.Fatalf("err = %v, want tunnel busy", err)
	}

	// Kept tunnels are not touched and do not block.
	impacts[0].Action = TunnelKeep
	if err := ValidateNoOverlap(d, impacts); err != nil {
		t.Fatalf("kept tunnel blocked the modification: %v", err)
	}
}

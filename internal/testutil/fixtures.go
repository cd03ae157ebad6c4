// Package testutil provides fixtures for the manager's unit tests and
// Redis helpers for the integration tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/store"
)

// TestOrg is the organization id used by fixtures.
const TestOrg = "org-test"

// WANInterface returns an assigned WAN interface with a static address
// in 192.168.<octet>.0/24 and a distinct public address.
func WANInterface(id, name string, octet int) model.Interface {
	return model.Interface{
		ID:         id,
		Name:       name,
		DevID:      "pci:0000:00:0" + id,
		Type:       model.InterfaceWAN,
		IsAssigned: true,
		IPv4:       fmt.Sprintf("192.168.%d.1", octet),
		IPv4Mask:   "24",
		Gateway:    fmt.Sprintf("192.168.%d.254", octet),
		PublicIP:   fmt.Sprintf("198.51.100.%d", octet),
		PublicPort: "4789",
		DHCP:       "no",
	}
}

// LANInterface returns an assigned LAN interface with a static address
// in 10.0.<octet>.0/24.
func LANInterface(id, name string, octet int) model.Interface {
	return model.Interface{
		ID:         id,
		Name:       name,
		DevID:      "pci:0000:00:1" + id,
		Type:       model.InterfaceLAN,
		IsAssigned: true,
		IPv4:       fmt.Sprintf("10.0.%d.1", octet),
		IPv4Mask:   "24",
		DHCP:       "no",
	}
}

// Device returns an approved, connected device running a current agent.
func Device(id, name string, ifaces ...model.Interface) *model.Device {
	return &model.Device{
		ID:          id,
		Org:         TestOrg,
		Name:        name,
		MachineID:   "machine-" + id,
		Versions:    model.DeviceVersions{Agent: "2.3.17"},
		IsApproved:  true,
		IsConnected: true,
		Interfaces:  ifaces,
	}
}

// LegacyDevice returns a device running a first-generation agent.
func LegacyDevice(id, name string, ifaces ...model.Interface) *model.Device {
	d := Device(id, name, ifaces...)
	d.Versions.Agent = "1.9.2"
	return d
}

// SiteTunnel returns an active site-to-site tunnel between the first
// interface of each device.
func SiteTunnel(id string, num int, a, b *model.Device) *model.Tunnel {
	return &model.Tunnel{
		ID:               id,
		Org:              TestOrg,
		Num:              num,
		IsActive:         true,
		DeviceA:          a.ID,
		InterfaceA:       a.Interfaces[0].ID,
		DeviceB:          b.ID,
		InterfaceB:       b.Interfaces[0].ID,
		EncryptionMethod: model.EncryptionPSK,
		TunnelKeys: &model.TunnelKeys{
			Key1: "aaaa", Key2: "bbbb", Key3: "cccc", Key4: "dddd",
		},
	}
}

// PeerTunnel returns an active tunnel from the first interface of a to
// an unmanaged peer endpoint.
func PeerTunnel(id string, num int, a *model.Device, peerAddr string) *model.Tunnel {
	return &model.Tunnel{
		ID:               id,
		Org:              TestOrg,
		Num:              num,
		IsActive:         true,
		DeviceA:          a.ID,
		InterfaceA:       a.Interfaces[0].ID,
		Peer:             peerAddr,
		EncryptionMethod: model.EncryptionIKEv2,
	}
}

// Seed saves the given documents into the store, failing the test on
// error.
func Seed(t *testing.T, ctx context.Context, s store.Store, devices []*model.Device, tunnels []*model.Tunnel) {
	t.Helper()
	for _, d := range devices {
		if err := s.SaveDevice(ctx, d); err != nil {
			t.Fatalf("seeding device %s: %v", d.ID, err)
		}
	}
	for _, tn := range tunnels {
		if err := s.SaveTunnel(ctx, tn); err != nil {
			t.Fatalf("seeding tunnel %s: %v", tn.ID, err)
		}
		if err := s.RegisterTunnelNum(ctx, tn.Org, tn.Num); err != nil {
			t.Fatalf("registering tunnel num %d: %v", tn.Num, err)
		}
	}
}

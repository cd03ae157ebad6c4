package tunnel

import (
	"testing"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
)

func TestUsesLocalPath(t *testing.T) {
	tests := []struct {
		name string
		a, b *model.Interface
		want bool
	}{
		{"both private", &model.Interface{}, &model.Interface{}, true},
		{"same NAT", &model.Interface{PublicIP: "198.51.100.7"}, &model.Interface{PublicIP: "198.51.100.7"}, true},
		{"different publics", &model.Interface{PublicIP: "198.51.100.7"}, &model.Interface{PublicIP: "198.51.100.8"}, false},
		{"one private", &model.Interface{PublicIP: "198.51.100.7"}, &model.Interface{}, false},
		{"nil side", nil, &model.Interface{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UsesLocalPath(tt.a, tt.b); got != tt.want {
				t.Errorf("UsesLocalPath() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAddTunnelTasks_SidesMirrorEachOther(t *testing.T) {
	tn := &model.Tunnel{
		ID: "t1", Org: "o", Num: 7,
		EncryptionMethod: model.EncryptionPSK,
		TunnelKeys:       &model.TunnelKeys{Key1: "k1", Key2: "k2", Key3: "k3", Key4: "k4"},
	}
	a := &model.Interface{ID: "i1", Name: "eth0", IPv4: "192.168.1.1", PublicIP: "198.51.100.1", PublicPort: "4789"}
	b := &model.Interface{ID: "i2", Name: "eth0", IPv4: "192.168.2.1", PublicIP: "198.51.100.2", PublicPort: "4790"}

	tasksA, err := AddTunnelTasks(tn, a, b, SideA)
	if err != nil {
		t.Fatalf("AddTunnelTasks side A: %v", err)
	}
	tasksB, err := AddTunnelTasks(tn, b, a, SideB)
	if err != nil {
		t.Fatalf("AddTunnelTasks side B: %v", err)
	}
	if len(tasksA) != 1 || tasksA[0].Message != "add-tunnel" || tasksA[0].Entity != "agent" {
		t.Fatalf("side A tasks %+v", tasksA)
	}

	pa := tasksA[0].Params.(AddTunnelParams)
	pb := tasksB[0].Params.(AddTunnelParams)

	// num 7: h=16, l=0.
	if pa.LoopbackIP != "10.100.0.16/31" || pa.RemoteLoopbackIP != "10.100.0.17" {
		t.Errorf("side A loopbacks %s -> %s", pa.LoopbackIP, pa.RemoteLoopbackIP)
	}
	if pb.LoopbackIP != "10.100.0.17/31" || pb.RemoteLoopbackIP != "10.100.0.16" {
		t.Errorf("side B loopbacks %s -> %s", pb.LoopbackIP, pb.RemoteLoopbackIP)
	}
	if pa.SA1 != 16 || pa.SA2 != 17 || pb.SA1 != 17 || pb.SA2 != 16 {
		t.Errorf("SAs: A %d/%d, B %d/%d", pa.SA1, pa.SA2, pb.SA1, pb.SA2)
	}
	if pa.LoopbackMAC != "02:00:27:fd:00:10" || pb.LoopbackMAC != "02:00:27:fd:00:11" {
		t.Errorf("MACs: A %s, B %s", pa.LoopbackMAC, pb.LoopbackMAC)
	}

	// Different public addresses: each side dials the remote public.
	if pa.Src != "192.168.1.1" || pa.Dst != "198.51.100.2" || pa.DstPort != "4790" {
		t.Errorf("side A endpoint %s -> %s:%s", pa.Src, pa.Dst, pa.DstPort)
	}
	if pb.Src != "192.168.2.1" || pb.Dst != "198.51.100.1" || pb.DstPort != "4789" {
		t.Errorf("side B endpoint %s -> %s:%s", pb.Src, pb.Dst, pb.DstPort)
	}

	if pa.Keys == nil || pa.Keys.Key1 != "k1" {
		t.Error("psk tunnel must carry its stored keys")
	}
}

func TestAddTunnelTasks_LocalPathUsesPrivateAddress(t *testing.T) {
	tn := &model.Tunnel{ID: "t1", Org: "o", Num: 0, EncryptionMethod: model.EncryptionIKEv2}
	a := &model.Interface{ID: "i1", IPv4: "192.168.1.1", PublicIP: "198.51.100.9", PublicPort: "4789"}
	b := &model.Interface{ID: "i2", IPv4: "192.168.2.1", PublicIP: "198.51.100.9", PublicPort: "4789"}

	tasks, err := AddTunnelTasks(tn, a, b, SideA)
	if err != nil {
		t.Fatalf("AddTunnelTasks: %v", err)
	}
	p := tasks[0].Params.(AddTunnelParams)
	if p.Dst != "192.168.2.1" || p.DstPort != "" {
		t.Errorf("local path must dial the private address, got %s:%s", p.Dst, p.DstPort)
	}
	if p.Keys != nil {
		t.Error("ikev2 tunnel must not carry psk keys")
	}
}

func TestAddTunnelTasks_MissingAddressFails(t *testing.T) {
	tn := &model.Tunnel{ID: "t1", Org: "o", Num: 0, EncryptionMethod: model.EncryptionPSK}
	a := &model.Interface{ID: "i1", IPv4: ""}
	b := &model.Interface{ID: "i2", IPv4: "192.168.2.1"}
	if _, err := AddTunnelTasks(tn, a, b, SideA); err == nil {
		t.Error("expected error for local side without an address")
	}
}

func TestRemoveTunnelTasks(t *testing.T) {
	tasks := RemoveTunnelTasks(&model.Tunnel{Num: 42})
	if len(tasks) != 1 || tasks[0].Message != "remove-tunnel" {
		t.Fatalf("tasks %+v", tasks)
	}
	if p := tasks[0].Params.(RemoveTunnelParams); p.Num != 42 {
		t.Errorf("params %+v", p)
	}
}

func TestLimiterKey(t *testing.T) {
	if got := LimiterKey("d1", "i1"); got != "d1:i1" {
		t.Errorf("LimiterKey = %q", got)
	}
}

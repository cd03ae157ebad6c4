//go:build integration

package store_test

import (
	"errors"
	"testing"

	"github.com/ExcellentiaFuturale/flexiManage/internal/testutil"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/store"
)

func newRedisStore(t *testing.T) *store.RedisStore {
	t.Helper()
	testutil.SkipIfNoRedis(t)
	testutil.FlushTestDB(t)
	s := store.NewRedisStore(testutil.RedisAddr(), "", 9)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisStore_DeviceRoundTrip(t *testing.T) {
	ctx := testutil.Context(t)
	s := newRedisStore(t)

	d := testutil.Device("d1", "branch-1", testutil.WANInterface("i1", "eth0", 1))
	if err := s.SaveDevice(ctx, d); err != nil {
		t.Fatalf("SaveDevice: %v", err)
	}

	got, err := s.GetDevice(ctx, testutil.TestOrg, "d1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.Name != "branch-1" || len(got.Interfaces) != 1 {
		t.Errorf("device %+v", got)
	}

	list, err := s.ListDevices(ctx, testutil.TestOrg)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListDevices: %v %v", list, err)
	}

	if err := s.DeleteDevice(ctx, testutil.TestOrg, "d1"); err != nil {
		t.Fatalf("DeleteDevice: %v", err)
	}
	if _, err := s.GetDevice(ctx, testutil.TestOrg, "d1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleted device: err = %v", err)
	}
}

func TestRedisStore_UpdateDeviceIsAtomic(t *testing.T) {
	ctx := testutil.Context(t)
	s := newRedisStore(t)

	d := testutil.Device("d1", "branch-1")
	if err := s.SaveDevice(ctx, d); err != nil {
		t.Fatalf("SaveDevice: %v", err)
	}

	updated, err := s.UpdateDevice(ctx, testutil.TestOrg, "d1", func(dev *model.Device) error {
		dev.PendingDevModification = true
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateDevice: %v", err)
	}
	if !updated.PendingDevModification {
		t.Error("update not reflected in returned document")
	}

	got, _ := s.GetDevice(ctx, testutil.TestOrg, "d1")
	if !got.PendingDevModification {
		t.Error("update not persisted")
	}
}

func TestRedisStore_TunnelRecycling(t *testing.T) {
	ctx := testutil.Context(t)
	s := newRedisStore(t)

	tn := &model.Tunnel{ID: "t1", Org: testutil.TestOrg, Num: 0, IsActive: true}
	if err := s.SaveTunnel(ctx, tn); err != nil {
		t.Fatalf("SaveTunnel: %v", err)
	}
	if _, ok, _ := s.ClaimInactiveTunnel(ctx, testutil.TestOrg); ok {
		t.Fatal("active tunnel claimable")
	}

	if err := s.ReleaseTunnel(ctx, testutil.TestOrg, "t1"); err != nil {
		t.Fatalf("ReleaseTunnel: %v", err)
	}
	claimed, ok, err := s.ClaimInactiveTunnel(ctx, testutil.TestOrg)
	if err != nil || !ok || claimed.ID != "t1" || !claimed.IsActive {
		t.Fatalf("claim: %+v ok=%v err=%v", claimed, ok, err)
	}
	if _, ok, _ := s.ClaimInactiveTunnel(ctx, testutil.TestOrg); ok {
		t.Error("tunnel claimed twice")
	}
}

func TestRedisStore_TunnelNumBookkeeping(t *testing.T) {
	ctx := testutil.Context(t)
	s := newRedisStore(t)

	for want := 0; want < 3; want++ {
		n, err := s.NextTunnelNum(ctx, testutil.TestOrg)
		if err != nil || n != want {
			t.Fatalf("NextTunnelNum = %d, %v; want %d", n, err, want)
		}
	}

	if err := s.RegisterTunnelNum(ctx, testutil.TestOrg, 1); err != nil {
		t.Fatalf("RegisterTunnelNum: %v", err)
	}
	if err := s.RegisterTunnelNum(ctx, testutil.TestOrg, 1); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("double register: err = %v", err)
	}
	if err := s.UnregisterTunnelNum(ctx, testutil.TestOrg, 1); err != nil {
		t.Fatalf("UnregisterTunnelNum: %v", err)
	}
	if err := s.RegisterTunnelNum(ctx, testutil.TestOrg, 1); err != nil {
		t.Errorf("re-register after unregister: %v", err)
	}
}

func TestRedisStore_JobRoundTrip(t *testing.T) {
	ctx := testutil.Context(t)
	s := newRedisStore(t)

	j := &model.Job{ID: "j1", Org: testutil.TestOrg, DeviceID: "d1", State: model.JobQueued}
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if err := s.UpdateJobState(ctx, testutil.TestOrg, "j1", model.JobCompleted); err != nil {
		t.Fatalf("UpdateJobState: %v", err)
	}
	got, err := s.GetJob(ctx, testutil.TestOrg, "j1")
	if err != nil || got.State != model.JobCompleted {
		t.Fatalf("job %+v err %v", got, err)
	}
}

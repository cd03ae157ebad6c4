package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/ExcellentiaFuturale/flexiManage/internal/testutil"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/notify"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/store"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/util"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.MemoryStore, *MemQueue) {
	t.Helper()
	s := store.NewMemoryStore()
	q := NewMemQueue()
	return New(s, q, &notify.MemSink{}), s, q
}

func modifyTasks() []model.Task {
	return []model.Task{{Entity: "agent", Message: "modify-device"}}
}

func TestQueueDeviceModify_RaisesFlagBeforeSubmit(t *testing.T) {
	ctx := context.Background()
	d, s, q := newTestDispatcher(t)

	dev := testutil.Device("d1", "branch-1", testutil.WANInterface("i1", "eth0", 1))
	testutil.Seed(t, ctx, s, []*model.Device{dev}, nil)

	job, err := d.QueueDeviceModify(ctx, testutil.TestOrg, "admin", "d1", modifyTasks(), dev, nil)
	if err != nil {
		t.Fatalf("QueueDeviceModify: %v", err)
	}

	stored, err := s.GetDevice(ctx, testutil.TestOrg, "d1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if !stored.PendingDevModification {
		t.Fatal("device modification flag not raised")
	}
	jobs := q.Jobs()
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Fatalf("expected 1 submitted job, got %d", len(jobs))
	}
	if jobs[0].Meta.Method != MethodDeviceModify {
		t.Fatalf("wrong callback method %q", jobs[0].Meta.Method)
	}
}

func TestQueueDeviceModify_RejectsSecondWhileInFlight(t *testing.T) {
	ctx := context.Background()
	d, s, _ := newTestDispatcher(t)

	dev := testutil.Device("d1", "branch-1", testutil.WANInterface("i1", "eth0", 1))
	testutil.Seed(t, ctx, s, []*model.Device{dev}, nil)

	if _, err := d.QueueDeviceModify(ctx, testutil.TestOrg, "admin", "d1", modifyTasks(), dev, nil); err != nil {
		t.Fatalf("first QueueDeviceModify: %v", err)
	}
	_, err := d.QueueDeviceModify(ctx, testutil.TestOrg, "admin", "d1", modifyTasks(), dev, nil)
	if !errors.Is(err, util.ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}
}

func TestQueueDeviceModify_SubmitFailureReleasesFlag(t *testing.T) {
	ctx := context.Background()
	d, s, q := newTestDispatcher(t)

	dev := testutil.Device("d1", "branch-1", testutil.WANInterface("i1", "eth0", 1))
	testutil.Seed(t, ctx, s, []*model.Device{dev}, nil)

	q.FailNext()
	_, err := d.QueueDeviceModify(ctx, testutil.TestOrg, "admin", "d1", modifyTasks(), dev, nil)
	if !errors.Is(err, util.ErrQueueUnavailable) {
		t.Fatalf("expected ErrQueueUnavailable, got %v", err)
	}

	stored, _ := s.GetDevice(ctx, testutil.TestOrg, "d1")
	if stored.PendingDevModification {
		t.Fatal("flag not released after failed submission")
	}

	// A new modification must now be accepted.
	if _, err := d.QueueDeviceModify(ctx, testutil.TestOrg, "admin", "d1", modifyTasks(), dev, nil); err != nil {
		t.Fatalf("retry after failed submission: %v", err)
	}
}

func TestHandleComplete_ClearsFlagAndRebuildsTunnels(t *testing.T) {
	ctx := context.Background()
	d, s, q := newTestDispatcher(t)

	devA := testutil.Device("d1", "branch-1", testutil.WANInterface("i1", "eth0", 1))
	devB := testutil.Device("d2", "branch-2", testutil.WANInterface("i2", "eth0", 2))
	tn := testutil.SiteTunnel("t1", 7, devA, devB)
	testutil.Seed(t, ctx, s, []*model.Device{devA, devB}, []*model.Tunnel{tn})

	job, err := d.QueueDeviceModify(ctx, testutil.TestOrg, "admin", "d1", modifyTasks(), devA, []string{"t1"})
	if err != nil {
		t.Fatalf("QueueDeviceModify: %v", err)
	}

	storedT, _ := s.GetTunnel(ctx, testutil.TestOrg, "t1")
	if !storedT.PendingTunnelModification {
		t.Fatal("tunnel flag not raised with the modify job")
	}

	q.Reset()
	if err := d.HandleComplete(ctx, testutil.TestOrg, job.ID); err != nil {
		t.Fatalf("HandleComplete: %v", err)
	}

	dev, _ := s.GetDevice(ctx, testutil.TestOrg, "d1")
	if dev.PendingDevModification {
		t.Fatal("device flag not cleared on completion")
	}

	rebuilds := q.Jobs()
	if len(rebuilds) != 2 {
		t.Fatalf("expected rebuild jobs for both sides, got %d", len(rebuilds))
	}
	for _, j := range rebuilds {
		if j.Meta.Method != MethodTunnelBuild {
			t.Fatalf("rebuild job has method %q", j.Meta.Method)
		}
		if len(j.Tasks) != 2 || j.Tasks[0].Message != "remove-tunnel" || j.Tasks[1].Message != "add-tunnel" {
			t.Fatalf("rebuild job tasks: %+v", j.Tasks)
		}
	}

	// The tunnel flag stays up until the build jobs complete.
	storedT, _ = s.GetTunnel(ctx, testutil.TestOrg, "t1")
	if !storedT.PendingTunnelModification {
		t.Fatal("tunnel flag dropped before rebuild finished")
	}
	for _, j := range rebuilds {
		if err := d.HandleComplete(ctx, testutil.TestOrg, j.ID); err != nil {
			t.Fatalf("HandleComplete(rebuild): %v", err)
		}
	}
	storedT, _ = s.GetTunnel(ctx, testutil.TestOrg, "t1")
	if storedT.PendingTunnelModification {
		t.Fatal("tunnel flag not cleared after rebuild completed")
	}
}

func TestHandleComplete_SkipsRebuildOfPendingTunnel(t *testing.T) {
	ctx := context.Background()
	d, s, q := newTestDispatcher(t)

	devA := testutil.Device("d1", "branch-1", testutil.WANInterface("i1", "eth0", 1))
	devB := testutil.Device("d2", "branch-2", testutil.WANInterface("i2", "eth0", 2))
	tn := testutil.SiteTunnel("t1", 7, devA, devB)
	testutil.Seed(t, ctx, s, []*model.Device{devA, devB}, []*model.Tunnel{tn})

	job, err := d.QueueDeviceModify(ctx, testutil.TestOrg, "admin", "d1", modifyTasks(), devA, []string{"t1"})
	if err != nil {
		t.Fatalf("QueueDeviceModify: %v", err)
	}

	// The tunnel went pending while the modify job was in flight.
	if _, err := s.UpdateTunnel(ctx, testutil.TestOrg, "t1", func(t *model.Tunnel) error {
		t.IsPending = true
		return nil
	}); err != nil {
		t.Fatalf("UpdateTunnel: %v", err)
	}

	q.Reset()
	if err := d.HandleComplete(ctx, testutil.TestOrg, job.ID); err != nil {
		t.Fatalf("HandleComplete: %v", err)
	}
	if len(q.Jobs()) != 0 {
		t.Fatal("pending tunnel must not be rebuilt")
	}
	storedT, _ := s.GetTunnel(ctx, testutil.TestOrg, "t1")
	if storedT.PendingTunnelModification {
		t.Fatal("tunnel flag not released for skipped rebuild")
	}
}

func TestHandleError_RestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	d, s, _ := newTestDispatcher(t)

	orig := testutil.Device("d1", "branch-1", testutil.WANInterface("i1", "eth0", 1))
	orig.DefaultRoute = "192.168.1.254"
	testutil.Seed(t, ctx, s, []*model.Device{orig}, nil)

	// The desired document is persisted before the job is queued.
	desired, _ := s.GetDevice(ctx, testutil.TestOrg, "d1")
	desired.DefaultRoute = "192.168.1.1"
	if err := s.SaveDevice(ctx, desired); err != nil {
		t.Fatalf("SaveDevice: %v", err)
	}

	job, err := d.QueueDeviceModify(ctx, testutil.TestOrg, "admin", "d1", modifyTasks(), orig, nil)
	if err != nil {
		t.Fatalf("QueueDeviceModify: %v", err)
	}
	if err := d.HandleError(ctx, testutil.TestOrg, job.ID); err != nil {
		t.Fatalf("HandleError: %v", err)
	}

	stored, _ := s.GetDevice(ctx, testutil.TestOrg, "d1")
	if stored.DefaultRoute != "192.168.1.254" {
		t.Fatalf("device not rolled back, default route %q", stored.DefaultRoute)
	}
	if stored.PendingDevModification {
		t.Fatal("flag not cleared after rollback")
	}
	j, _ := s.GetJob(ctx, testutil.TestOrg, job.ID)
	if j.State != model.JobFailed {
		t.Fatalf("job state %q, want failed", j.State)
	}
}

func TestHandleRemoved_RestoresSnapshotAndTunnelFlags(t *testing.T) {
	ctx := context.Background()
	d, s, _ := newTestDispatcher(t)

	devA := testutil.Device("d1", "branch-1", testutil.WANInterface("i1", "eth0", 1))
	devB := testutil.Device("d2", "branch-2", testutil.WANInterface("i2", "eth0", 2))
	tn := testutil.SiteTunnel("t1", 7, devA, devB)
	testutil.Seed(t, ctx, s, []*model.Device{devA, devB}, []*model.Tunnel{tn})

	job, err := d.QueueDeviceModify(ctx, testutil.TestOrg, "admin", "d1", modifyTasks(), devA, []string{"t1"})
	if err != nil {
		t.Fatalf("QueueDeviceModify: %v", err)
	}
	if err := d.HandleRemoved(ctx, testutil.TestOrg, job.ID); err != nil {
		t.Fatalf("HandleRemoved: %v", err)
	}

	dev, _ := s.GetDevice(ctx, testutil.TestOrg, "d1")
	if dev.PendingDevModification {
		t.Fatal("device flag not cleared")
	}
	storedT, _ := s.GetTunnel(ctx, testutil.TestOrg, "t1")
	if storedT.PendingTunnelModification {
		t.Fatal("tunnel flag not cleared")
	}
	j, _ := s.GetJob(ctx, testutil.TestOrg, job.ID)
	if j.State != model.JobRemoved {
		t.Fatalf("job state %q, want removed", j.State)
	}
}

func TestTerminalCallbacks_Idempotent(t *testing.T) {
	ctx := context.Background()
	d, s, _ := newTestDispatcher(t)

	dev := testutil.Device("d1", "branch-1", testutil.WANInterface("i1", "eth0", 1))
	testutil.Seed(t, ctx, s, []*model.Device{dev}, nil)

	job, err := d.QueueDeviceModify(ctx, testutil.TestOrg, "admin", "d1", modifyTasks(), dev, nil)
	if err != nil {
		t.Fatalf("QueueDeviceModify: %v", err)
	}
	if err := d.HandleComplete(ctx, testutil.TestOrg, job.ID); err != nil {
		t.Fatalf("HandleComplete: %v", err)
	}
	// A duplicate callback for a settled job is a no-op.
	if err := d.HandleError(ctx, testutil.TestOrg, job.ID); err != nil {
		t.Fatalf("duplicate callback: %v", err)
	}
	j, _ := s.GetJob(ctx, testutil.TestOrg, job.ID)
	if j.State != model.JobCompleted {
		t.Fatalf("job state %q changed by duplicate callback", j.State)
	}
}

func TestQueueTunnelJobs_GuardsDuplicateModification(t *testing.T) {
	ctx := context.Background()
	d, s, q := newTestDispatcher(t)

	devA := testutil.Device("d1", "branch-1", testutil.WANInterface("i1", "eth0", 1))
	devB := testutil.Device("d2", "branch-2", testutil.WANInterface("i2", "eth0", 2))
	tn := testutil.SiteTunnel("t1", 7, devA, devB)
	testutil.Seed(t, ctx, s, []*model.Device{devA, devB}, []*model.Tunnel{tn})

	sides := RemoveTunnelSides(tn)
	jobs, err := d.QueueTunnelJobs(ctx, testutil.TestOrg, "admin", MethodTunnelRemove, tn, sides)
	if err != nil {
		t.Fatalf("QueueTunnelJobs: %v", err)
	}
	if len(jobs) != 2 || len(q.Jobs()) != 2 {
		t.Fatalf("expected jobs on both sides, got %d", len(jobs))
	}

	_, err = d.QueueTunnelJobs(ctx, testutil.TestOrg, "admin", MethodTunnelRemove, tn, sides)
	if !errors.Is(err, util.ErrTunnelBusy) {
		t.Fatalf("expected ErrTunnelBusy, got %v", err)
	}
}

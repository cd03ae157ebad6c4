package operations

import (
	"context"
	"time"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/audit"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/dispatch"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/modify"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/util"
)

// ModifyResult is the outcome of one device modification request.
type ModifyResult struct {
	JobID   string `json:"jobId,omitempty"`
	Applied bool   `json:"applied"`
	Message string `json:"message,omitempty"`
}

// RequestDeviceModify validates a desired device document, persists it,
// and queues the job carrying the delta to the device. Validation is
// all or nothing: any violation rejects the whole request and nothing
// is persisted or queued. Edits confined to unassigned interfaces are
// persisted without producing a job.
func (s *Service) RequestDeviceModify(ctx context.Context, org, user, deviceID string, desired *model.Device) (res *ModifyResult, err error) {
	ev := audit.NewEvent(org, user, "device-modify").WithDevice(deviceID)
	start := time.Now()
	defer func() { recordAudit(ev, start, err) }()

	orig, err := s.store.GetDevice(ctx, org, deviceID)
	if err != nil {
		return nil, err
	}

	checker := NewPreconditionChecker("device.modify", orig.Name)
	checker.RequireApproved(orig).RequireConnected(orig)
	if err := checker.Result(); err != nil {
		return nil, err
	}

	normalizeDesired(orig, desired)
	if err := modify.ValidateDevice(desired); err != nil {
		return nil, err
	}

	diff := modify.Compute(orig, desired)
	impacts, err := modify.AssessTunnelImpact(ctx, s.store, s.store, orig, desired, diff)
	if err != nil {
		return nil, err
	}
	if err := modify.ValidateNoOverlap(orig, impacts); err != nil {
		return nil, err
	}

	if diff.IsEmpty() {
		if err := s.store.SaveDevice(ctx, desired); err != nil {
			return nil, err
		}
		return &ModifyResult{Applied: false, Message: "nothing to apply"}, nil
	}

	tasks := modify.BuildTasks(desired, diff)
	var rebuild []string
	for _, imp := range impacts {
		if imp.Action == modify.TunnelRebuild {
			rebuild = append(rebuild, imp.Tunnel.ID)
		}
	}

	if err := s.store.SaveDevice(ctx, desired); err != nil {
		return nil, err
	}

	job, err := s.dispatcher.QueueDeviceModify(ctx, org, user, deviceID, tasks, orig, rebuild)
	if err != nil {
		// Undo the persisted document; the device never saw the change.
		if saveErr := s.store.SaveDevice(ctx, orig); saveErr != nil {
			util.WithOrg(org).WithDevice(orig.Name).Errorf("Failed to restore document after queue error: %v", saveErr)
		}
		return nil, err
	}
	ev.WithJobs(job.ID)

	// Tunnels whose endpoint assignment or label is gone are removed for
	// good, not rebuilt.
	for _, imp := range impacts {
		if imp.Action != modify.TunnelRemove {
			continue
		}
		if err := s.removeImpactedTunnel(ctx, org, user, imp.Tunnel); err != nil {
			util.WithOrg(org).WithTunnel(imp.Tunnel.Num).Warnf("Impacted tunnel removal failed: %v", err)
		}
	}

	return &ModifyResult{JobID: job.ID, Applied: true}, nil
}

// removeImpactedTunnel tears down and deactivates a tunnel whose
// endpoint a modification removed.
func (s *Service) removeImpactedTunnel(ctx context.Context, org, user string, t *model.Tunnel) error {
	if !t.IsPending || t.IsPeer() {
		if _, err := s.dispatcher.QueueTunnelJobs(ctx, org, user,
			dispatch.MethodTunnelRemove, t, dispatch.RemoveTunnelSides(t)); err != nil {
			return err
		}
	}
	if _, err := s.store.UpdateTunnel(ctx, org, t.ID, func(t *model.Tunnel) error {
		t.IsActive = false
		t.IsPending = false
		t.PendingReason = ""
		return nil
	}); err != nil {
		return err
	}
	return s.pendDependentRoutes(ctx, org, user, t)
}

// normalizeDesired pins the fields the user must not control and
// carries orchestration-owned state over from the stored document, so a
// round-tripped document diffs clean.
func normalizeDesired(orig, desired *model.Device) {
	desired.ID = orig.ID
	desired.Org = orig.Org
	desired.MachineID = orig.MachineID
	desired.Versions = orig.Versions
	desired.IsApproved = orig.IsApproved
	desired.IsConnected = orig.IsConnected
	desired.PendingDevModification = orig.PendingDevModification

	for i := range desired.StaticRoutes {
		r := &desired.StaticRoutes[i]
		for j := range orig.StaticRoutes {
			o := &orig.StaticRoutes[j]
			if o.Destination == r.Destination && o.Gateway == r.Gateway &&
				o.IfName == r.IfName && o.Metric == r.Metric {
				r.IsPending = o.IsPending
				r.PendingReason = o.PendingReason
				break
			}
		}
	}
	for i := range desired.DHCP {
		e := &desired.DHCP[i]
		for j := range orig.DHCP {
			o := &orig.DHCP[j]
			if o.Interface == e.Interface && o.RangeStart == e.RangeStart && o.RangeEnd == e.RangeEnd {
				e.IsPending = o.IsPending
				e.PendingReason = o.PendingReason
				break
			}
		}
	}
}

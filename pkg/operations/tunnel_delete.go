package operations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/audit"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/dispatch"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/modify"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/notify"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/tunnel"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/util"
)

// TunnelDeleteResult is the fan-out outcome of one delete request.
type TunnelDeleteResult struct {
	JobIDs []string `json:"jobIds"`
	Status string   `json:"status"`
	// Reasons are the distinct failure reasons across all tunnels.
	Reasons []string `json:"reasons,omitempty"`
}

// RequestTunnelDelete tears the given tunnels down and deactivates
// their documents, making the numbers available for recycling.
// Teardown is best effort per tunnel: ids that cannot be served are
// reported with their reason instead of aborting the rest.
func (s *Service) RequestTunnelDelete(ctx context.Context, org, user string, tunnelIDs []string) (res *TunnelDeleteResult, err error) {
	ev := audit.NewEvent(org, user, "tunnel-delete").WithTunnel(strings.Join(tunnelIDs, ","))
	start := time.Now()
	defer func() { recordAudit(ev, start, err) }()

	if len(tunnelIDs) == 0 {
		return nil, util.NewValidationError("tunnel deletion needs at least one tunnel")
	}

	result := &TunnelDeleteResult{JobIDs: []string{}}
	seen := make(map[string]bool)
	failed := 0
	for _, id := range tunnelIDs {
		jobIDs, derr := s.deleteTunnel(ctx, org, user, id)
		if derr != nil {
			failed++
			if !seen[derr.Error()] {
				seen[derr.Error()] = true
				result.Reasons = append(result.Reasons, derr.Error())
			}
			continue
		}
		result.JobIDs = append(result.JobIDs, jobIDs...)
	}
	if failed == 0 {
		result.Status = StatusCompleted
	} else {
		result.Status = StatusPartiallyCompleted
	}
	ev.WithJobs(result.JobIDs...)
	return result, nil
}

// deleteTunnel tears one tunnel down. Deleting an inactive tunnel is a
// no-op. A pending site-to-site tunnel was already removed from its
// devices, so only the document is deactivated.
func (s *Service) deleteTunnel(ctx context.Context, org, user, tunnelID string) ([]string, error) {
	t, err := s.store.GetTunnel(ctx, org, tunnelID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, nil
	}
	if t.PendingTunnelModification {
		return nil, util.NewTunnelBusyError(fmt.Sprintf("%d", t.Num))
	}

	pendRoutes := !t.IsPending
	needsRemoval := !t.IsPending || t.IsPeer()
	var jobIDs []string
	if needsRemoval {
		jobs, err := s.dispatcher.QueueTunnelJobs(ctx, org, user,
			dispatch.MethodTunnelRemove, t, dispatch.RemoveTunnelSides(t))
		if err != nil {
			return nil, err
		}
		for _, j := range jobs {
			jobIDs = append(jobIDs, j.ID)
		}
	}

	if _, err := s.store.UpdateTunnel(ctx, org, tunnelID, func(t *model.Tunnel) error {
		t.IsActive = false
		t.IsPending = false
		t.PendingReason = ""
		return nil
	}); err != nil {
		return nil, err
	}

	// Routes riding the tunnel's loopback lose their next hop for good;
	// leave them pending on their devices.
	if pendRoutes {
		if err := s.pendDependentRoutes(ctx, org, user, t); err != nil {
			return nil, err
		}
	}

	util.WithOrg(org).WithTunnel(t.Num).Info("Tunnel deleted")
	notify.Send(s.sink, []notify.Notification{notify.New(org, "Tunnel deleted", t.DeviceA,
		fmt.Sprintf("Tunnel %d deleted by %s", t.Num, user))})
	return jobIDs, nil
}

// pendDependentRoutes marks the static routes whose gateway is the
// deleted tunnel's loopback as pending and queues the device sync jobs
// carrying the removals.
func (s *Service) pendDependentRoutes(ctx context.Context, org, user string, t *model.Tunnel) error {
	params, err := tunnel.GenerateParams(t.Num)
	if err != nil {
		return err
	}
	reason := tunnel.RouteTunnelPendingReason(t.Num)

	for _, devID := range []string{t.DeviceA, t.DeviceB} {
		if devID == "" {
			continue
		}
		orig, err := s.store.GetDevice(ctx, org, devID)
		if err != nil {
			return err
		}
		changed := false
		cur, err := s.store.UpdateDevice(ctx, org, devID, func(dev *model.Device) error {
			changed = false
			for i := range dev.StaticRoutes {
				r := &dev.StaticRoutes[i]
				if !r.IsPending && (r.Gateway == params.IP1 || r.Gateway == params.IP2) {
					r.IsPending = true
					r.PendingReason = reason
					changed = true
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if !changed {
			continue
		}
		diff := modify.Compute(modify.InstalledView(orig, cur), modify.InstalledView(cur, cur))
		tasks := modify.BuildTasks(cur, diff)
		if len(tasks) == 0 {
			continue
		}
		if _, err := s.dispatcher.QueueDeviceModify(ctx, org, user, devID, tasks, orig, nil); err != nil {
			util.WithOrg(org).WithDevice(devID).Warnf("Route sync job not queued: %v", err)
		}
	}
	return nil
}

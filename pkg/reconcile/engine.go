// Package reconcile turns device sync reports into orchestration
// actions: tunnel pending/active transitions, route and DHCP cascades,
// and the batched jobs that bring devices back in line with the
// persisted configuration.
package reconcile

import (
	"context"
	"errors"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/dispatch"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/metrics"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/modify"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/notify"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/ratelimit"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/store"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/tunnel"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/util"
)

// syncUser attributes jobs created by reconciliation, as opposed to
// user-initiated operations.
const syncUser = "system"

// Engine consumes per-device sync reports. All side effects of one
// report are accumulated in a pass and dispatched in one batch at the
// end: however many facts changed, each affected device gets at most
// one sync job and each tunnel one job set.
type Engine struct {
	store      store.Store
	lifecycle  *tunnel.Lifecycle
	limiter    *ratelimit.Limiter
	dispatcher *dispatch.Dispatcher
	sink       notify.Sink
}

// New creates the engine. limiter must be the same instance the
// lifecycle checks, or blocks and promotions will disagree.
func New(s store.Store, lc *tunnel.Lifecycle, limiter *ratelimit.Limiter, d *dispatch.Dispatcher, sink notify.Sink) *Engine {
	return &Engine{store: s, lifecycle: lc, limiter: limiter, dispatcher: d, sink: sink}
}

// DeviceSync processes one device's reported interface facts.
func (e *Engine) DeviceSync(ctx context.Context, org, deviceID string, facts []model.InterfaceFacts) error {
	dev, err := e.store.GetDevice(ctx, org, deviceID)
	if err != nil {
		return err
	}

	pass := tunnel.NewPass()
	pass.RecordOriginal(dev)

	for i := range facts {
		if err := e.applyFact(ctx, pass, dev, &facts[i]); err != nil {
			return err
		}
		// Cascades may have touched the device document; work on the
		// fresh copy for the next fact.
		if dev, err = e.store.GetDevice(ctx, org, deviceID); err != nil {
			return err
		}
	}

	if err := e.promotePending(ctx, pass, dev); err != nil {
		return err
	}
	e.flush(ctx, org, pass)
	metrics.ReconcilePasses.Inc()
	return nil
}

// applyFact compares one reported interface against the persisted one
// and runs the resulting transitions.
func (e *Engine) applyFact(ctx context.Context, pass *tunnel.Pass, dev *model.Device, fact *model.InterfaceFacts) error {
	iface := dev.InterfaceByID(fact.ID)
	if iface == nil || !iface.IsAssigned {
		return nil
	}

	ipLost := iface.IPv4 != "" && fact.IPv4 == ""
	ipGained := iface.IPv4 == "" && fact.IPv4 != ""
	ipMoved := iface.IPv4 != "" && fact.IPv4 != "" &&
		(iface.IPv4 != fact.IPv4 || iface.IPv4Mask != fact.IPv4Mask)
	publicChanged := iface.Type == model.InterfaceWAN &&
		(iface.PublicIP != fact.PublicIP || iface.PublicPort != fact.PublicPort)

	if ipLost {
		// Cascade off the pre-loss state, then persist the loss.
		if err := e.lifecycle.HandleInterfaceIPLost(ctx, pass, dev, iface); err != nil {
			return err
		}
	}

	if ipLost || ipGained || ipMoved || publicChanged ||
		iface.HasInternetAccess != fact.HasInternetAccess {
		if _, err := e.store.UpdateDevice(ctx, dev.Org, dev.ID, func(d *model.Device) error {
			cur := d.InterfaceByID(fact.ID)
			if cur == nil {
				return nil
			}
			cur.IPv4 = fact.IPv4
			cur.IPv4Mask = fact.IPv4Mask
			cur.PublicIP = fact.PublicIP
			cur.PublicPort = fact.PublicPort
			cur.HasInternetAccess = fact.HasInternetAccess
			return nil
		}); err != nil {
			return err
		}
	}

	if ipGained || ipMoved {
		updated, err := e.store.GetDevice(ctx, dev.Org, dev.ID)
		if err != nil {
			return err
		}
		if cur := updated.InterfaceByID(fact.ID); cur != nil {
			if err := e.lifecycle.HandleInterfaceIPRestored(ctx, pass, updated, cur); err != nil {
				return err
			}
		}
	}

	if publicChanged {
		res := e.limiter.Use(tunnel.LimiterKey(dev.ID, iface.ID))
		switch {
		case res.BlockedNow:
			metrics.PublicAddrBlocks.Inc()
			util.WithOrg(dev.Org).WithDevice(dev.Name).
				Warnf("Public address of %s changing at a high rate, damping tunnels", iface.Name)
			if err := e.lifecycle.HandlePublicAddrBlocked(ctx, pass, dev, iface); err != nil {
				return err
			}
		case res.ReleasedNow:
			if err := e.lifecycle.HandlePublicAddrReleased(ctx, pass, dev, iface); err != nil {
				return err
			}
			fallthrough
		case res.Allowed:
			if err := e.queueAddressRebuilds(ctx, pass, dev, iface, fact); err != nil {
				return err
			}
		}
	}

	return nil
}

// queueAddressRebuilds marks the active non-pending tunnels on an
// interface whose public address legitimately moved for reconstruction
// with the new addressing.
func (e *Engine) queueAddressRebuilds(ctx context.Context, pass *tunnel.Pass, dev *model.Device, iface *model.Interface, fact *model.InterfaceFacts) error {
	tunnels, err := store.ActiveTunnelsForInterface(ctx, e.store, dev.Org, dev.ID, iface.ID)
	if err != nil {
		return err
	}
	for _, t := range tunnels {
		if t.IsPending || t.IsPeer() {
			continue
		}
		pass.Reconstruct[t.ID] = t
	}
	return nil
}

// promotePending re-evaluates every pending tunnel on the device. This
// is what picks up rate-limit blocks that aged out quietly: the
// lifecycle re-checks the limiter and promotes once the churn stopped.
func (e *Engine) promotePending(ctx context.Context, pass *tunnel.Pass, dev *model.Device) error {
	all, err := e.store.ListTunnels(ctx, dev.Org)
	if err != nil {
		return err
	}
	for _, t := range all {
		if !t.IsActive || !t.IsPending || !t.UsesDevice(dev.ID) {
			continue
		}
		if _, err := e.lifecycle.Promote(ctx, pass, t); err != nil {
			return err
		}
	}
	return nil
}

// flush dispatches the batched side effects of a pass: tunnel removals,
// tunnel reconstructions, one sync job per changed device, and the
// collected notifications. Busy resources are skipped; the next sync
// retries them.
func (e *Engine) flush(ctx context.Context, org string, pass *tunnel.Pass) {
	for _, t := range pass.Removals {
		if _, err := e.dispatcher.QueueTunnelJobs(ctx, org, syncUser,
			dispatch.MethodTunnelRemove, t, dispatch.RemoveTunnelSides(t)); err != nil {
			util.WithOrg(org).WithTunnel(t.Num).Warnf("Tunnel removal not queued: %v", err)
		}
	}

	for _, t := range pass.Reconstruct {
		sides, err := e.dispatcher.BuildTunnelSides(ctx, t)
		if err != nil {
			util.WithOrg(org).WithTunnel(t.Num).Warnf("Tunnel rebuild skipped: %v", err)
			continue
		}
		// Tear down stale state before the build, within the same job.
		for i := range sides {
			sides[i].Tasks = append(tunnel.RemoveTunnelTasks(t), sides[i].Tasks...)
		}
		if _, err := e.dispatcher.QueueTunnelJobs(ctx, org, syncUser,
			dispatch.MethodTunnelBuild, t, sides); err != nil {
			util.WithOrg(org).WithTunnel(t.Num).Warnf("Tunnel rebuild not queued: %v", err)
		}
	}

	for devID := range pass.ChangedDevices {
		if err := e.queueDeviceSync(ctx, org, devID, pass.Originals[devID]); err != nil {
			util.WithOrg(org).WithDevice(devID).Warnf("Device sync job not queued: %v", err)
		}
	}

	notify.Send(e.sink, pass.Notifications)
}

// queueDeviceSync diffs the device's installed route and DHCP state
// before and after the pass and queues at most one modify-device job
// carrying the delta.
func (e *Engine) queueDeviceSync(ctx context.Context, org, devID string, orig *model.Device) error {
	if orig == nil {
		return nil
	}
	cur, err := e.store.GetDevice(ctx, org, devID)
	if err != nil {
		return err
	}

	origView := modify.InstalledView(orig, cur)
	curView := modify.InstalledView(cur, cur)
	diff := modify.Compute(origView, curView)
	tasks := modify.BuildTasks(cur, diff)
	if len(tasks) == 0 {
		return nil
	}

	_, err = e.dispatcher.QueueDeviceModify(ctx, org, syncUser, devID, tasks, orig, nil)
	if errors.Is(err, util.ErrDeviceBusy) {
		util.WithOrg(org).WithDevice(devID).Info("Device busy, sync job deferred to next pass")
		return nil
	}
	return err
}

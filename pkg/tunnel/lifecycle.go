package tunnel

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/notify"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/ratelimit"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/store"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/util"
)

// Lifecycle owns the pending/active status of tunnels and the cascaded
// status of static routes and DHCP entries. All transitions funnel
// their side effects into the caller's Pass; nothing is dispatched from
// here directly.
type Lifecycle struct {
	store   store.Store
	limiter *ratelimit.Limiter
}

// NewLifecycle creates the state machine over a store and the shared
// public-address rate limiter.
func NewLifecycle(s store.Store, limiter *ratelimit.Limiter) *Lifecycle {
	return &Lifecycle{store: s, limiter: limiter}
}

// SetPending moves a tunnel into Pending with the given rendered
// reason. Re-entering Pending with the same reason is a no-op; a
// different reason refreshes the text without re-notifying or
// re-dispatching. Site-to-site tunnels entering Pending are queued for
// removal from their devices; peer tunnels are only marked.
func (lc *Lifecycle) SetPending(ctx context.Context, pass *Pass, t *model.Tunnel, reason string) (*model.Tunnel, error) {
	if t.IsPending {
		if t.PendingReason == reason {
			return t, nil
		}
		return lc.store.UpdateTunnel(ctx, t.Org, t.ID, func(t *model.Tunnel) error {
			t.PendingReason = reason
			return nil
		})
	}

	updated, err := lc.store.UpdateTunnel(ctx, t.Org, t.ID, func(t *model.Tunnel) error {
		t.IsPending = true
		t.PendingReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.WithOrg(t.Org).WithTunnel(t.Num).Infof("Tunnel set to pending: %s", reason)
	pass.Notify(notify.New(t.Org, "Tunnel state change", t.DeviceA,
		fmt.Sprintf("Tunnel %d set to pending: %s", t.Num, reason)))

	if !updated.IsPeer() {
		pass.Removals[updated.ID] = updated
	}
	if err := lc.pendRoutesViaTunnel(ctx, pass, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// Promote re-evaluates a pending tunnel for return to Active. Every
// pending precondition is re-checked: a missing address on either side
// or an active rate-limit block keeps the tunnel Pending, refreshing
// only the reason text. A clean check promotes the tunnel, queues it
// for reconstruction and un-pends the routes that ride its loopback.
func (lc *Lifecycle) Promote(ctx context.Context, pass *Pass, t *model.Tunnel) (*model.Tunnel, error) {
	if !t.IsPending {
		return t, nil
	}

	reason, blocked, err := lc.blockingReason(ctx, t)
	if err != nil {
		return nil, err
	}
	if blocked {
		if reason == t.PendingReason {
			return t, nil
		}
		return lc.store.UpdateTunnel(ctx, t.Org, t.ID, func(t *model.Tunnel) error {
			t.PendingReason = reason
			return nil
		})
	}

	updated, err := lc.store.UpdateTunnel(ctx, t.Org, t.ID, func(t *model.Tunnel) error {
		t.IsPending = false
		t.PendingReason = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.WithOrg(t.Org).WithTunnel(t.Num).Info("Tunnel back to active")
	pass.Notify(notify.New(t.Org, "Tunnel state change", t.DeviceA,
		fmt.Sprintf("Tunnel %d is active again", t.Num)))
	pass.Reconstruct[updated.ID] = updated
	delete(pass.Removals, updated.ID)

	if err := lc.unpendRoutesViaTunnel(ctx, pass, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// blockingReason returns the first still-valid pending reason for the
// tunnel, checking missing addresses on both sides and, for non-peer
// tunnels, the public-address rate limiter.
func (lc *Lifecycle) blockingReason(ctx context.Context, t *model.Tunnel) (string, bool, error) {
	sides := []struct {
		devID string
		ifID  string
	}{
		{t.DeviceA, t.InterfaceA},
	}
	if t.DeviceB != "" {
		sides = append(sides, struct {
			devID string
			ifID  string
		}{t.DeviceB, t.InterfaceB})
	}

	for _, side := range sides {
		d, err := lc.store.GetDevice(ctx, t.Org, side.devID)
		if err != nil {
			return "", false, err
		}
		iface := d.InterfaceByID(side.ifID)
		if iface == nil || !iface.IsAssigned || iface.IPv4 == "" {
			name := side.ifID
			if iface != nil {
				name = iface.Name
			}
			return InterfaceNoIPReason(name, d.Name), true, nil
		}
		if !t.IsPeer() && lc.limiter.IsBlocked(LimiterKey(d.ID, iface.ID)) {
			return PublicRateReason(iface.Name, d.Name), true, nil
		}
	}
	return "", false, nil
}

// HandleInterfaceIPLost cascades an interface losing its address: every
// active tunnel bound to it goes Pending, and static routes and DHCP
// entries depending on the interface's subnet go Pending on the device.
// iface is the persisted interface state before the loss; its previous
// subnet scopes the route cascade.
func (lc *Lifecycle) HandleInterfaceIPLost(ctx context.Context, pass *Pass, d *model.Device, iface *model.Interface) error {
	tunnels, err := store.ActiveTunnelsForInterface(ctx, lc.store, d.Org, d.ID, iface.ID)
	if err != nil {
		return err
	}
	reason := InterfaceNoIPReason(iface.Name, d.Name)
	for _, t := range tunnels {
		if _, err := lc.SetPending(ctx, pass, t, reason); err != nil {
			return err
		}
	}

	maskLen, _ := strconv.Atoi(iface.IPv4Mask)
	subnetIP := iface.IPv4
	routeReason := RouteInterfaceReason(iface.Name, d.Name)

	pass.RecordOriginal(d)
	changed := false
	_, err = lc.store.UpdateDevice(ctx, d.Org, d.ID, func(dev *model.Device) error {
		changed = false
		for i := range dev.StaticRoutes {
			r := &dev.StaticRoutes[i]
			if r.IsPending || subnetIP == "" {
				continue
			}
			if util.IPInSubnet(r.Gateway, subnetIP, maskLen) {
				r.IsPending = true
				r.PendingReason = routeReason
				changed = true
			}
		}
		for i := range dev.DHCP {
			e := &dev.DHCP[i]
			if !e.IsPending && e.Interface == iface.Name {
				e.IsPending = true
				e.PendingReason = routeReason
				changed = true
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		pass.MarkDevice(d.ID)
	}
	return nil
}

// HandleInterfaceIPRestored reverses the cascade: tunnels on the
// interface are re-evaluated for promotion (all remaining pending
// reasons are re-checked) and the routes/DHCP entries pended for this
// interface go back to Active.
func (lc *Lifecycle) HandleInterfaceIPRestored(ctx context.Context, pass *Pass, d *model.Device, iface *model.Interface) error {
	tunnels, err := store.ActiveTunnelsForInterface(ctx, lc.store, d.Org, d.ID, iface.ID)
	if err != nil {
		return err
	}
	for _, t := range tunnels {
		if _, err := lc.Promote(ctx, pass, t); err != nil {
			return err
		}
	}

	routeReason := RouteInterfaceReason(iface.Name, d.Name)
	pass.RecordOriginal(d)
	changed := false
	_, err = lc.store.UpdateDevice(ctx, d.Org, d.ID, func(dev *model.Device) error {
		changed = false
		for i := range dev.StaticRoutes {
			r := &dev.StaticRoutes[i]
			if r.IsPending && r.PendingReason == routeReason {
				r.IsPending = false
				r.PendingReason = ""
				changed = true
			}
		}
		for i := range dev.DHCP {
			e := &dev.DHCP[i]
			if e.IsPending && e.PendingReason == routeReason {
				e.IsPending = false
				e.PendingReason = ""
				changed = true
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		pass.MarkDevice(d.ID)
	}
	return nil
}

// HandlePublicAddrBlocked forces the non-peer tunnels on a churning
// interface into Pending. Peer tunnels are exempt from the public
// address check.
func (lc *Lifecycle) HandlePublicAddrBlocked(ctx context.Context, pass *Pass, d *model.Device, iface *model.Interface) error {
	tunnels, err := store.ActiveTunnelsForInterface(ctx, lc.store, d.Org, d.ID, iface.ID)
	if err != nil {
		return err
	}
	reason := PublicRateReason(iface.Name, d.Name)
	for _, t := range tunnels {
		if t.IsPeer() {
			continue
		}
		if _, err := lc.SetPending(ctx, pass, t, reason); err != nil {
			return err
		}
	}
	return nil
}

// HandlePublicAddrReleased re-evaluates tunnels on an interface whose
// rate-limit block expired.
func (lc *Lifecycle) HandlePublicAddrReleased(ctx context.Context, pass *Pass, d *model.Device, iface *model.Interface) error {
	tunnels, err := store.ActiveTunnelsForInterface(ctx, lc.store, d.Org, d.ID, iface.ID)
	if err != nil {
		return err
	}
	for _, t := range tunnels {
		if t.IsPeer() {
			continue
		}
		if _, err := lc.Promote(ctx, pass, t); err != nil {
			return err
		}
	}
	return nil
}

// pendRoutesViaTunnel pends the static routes on both devices whose
// next hop is the tunnel's loopback.
func (lc *Lifecycle) pendRoutesViaTunnel(ctx context.Context, pass *Pass, t *model.Tunnel) error {
	params, err := GenerateParams(t.Num)
	if err != nil {
		return err
	}
	reason := RouteTunnelPendingReason(t.Num)
	for _, devID := range []string{t.DeviceA, t.DeviceB} {
		if devID == "" {
			continue
		}
		before, err := lc.store.GetDevice(ctx, t.Org, devID)
		if err != nil {
			return err
		}
		pass.RecordOriginal(before)
		changed := false
		_, err = lc.store.UpdateDevice(ctx, t.Org, devID, func(dev *model.Device) error {
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
		if changed {
			pass.MarkDevice(devID)
		}
	}
	return nil
}

// unpendRoutesViaTunnel reactivates routes pended for this tunnel.
func (lc *Lifecycle) unpendRoutesViaTunnel(ctx context.Context, pass *Pass, t *model.Tunnel) error {
	reason := RouteTunnelPendingReason(t.Num)
	for _, devID := range []string{t.DeviceA, t.DeviceB} {
		if devID == "" {
			continue
		}
		before, err := lc.store.GetDevice(ctx, t.Org, devID)
		if err != nil {
			return err
		}
		pass.RecordOriginal(before)
		changed := false
		_, err = lc.store.UpdateDevice(ctx, t.Org, devID, func(dev *model.Device) error {
			changed = false
			for i := range dev.StaticRoutes {
				r := &dev.StaticRoutes[i]
				if r.IsPending && r.PendingReason == reason {
					r.IsPending = false
					r.PendingReason = ""
					changed = true
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if changed {
			pass.MarkDevice(devID)
		}
	}
	return nil
}

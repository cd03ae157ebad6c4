package modify

import (
	"context"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/store"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/tunnel"
)

// TunnelAction is the fate of an active tunnel under a device
// modification.
type TunnelAction int

const (
	// TunnelKeep: the change is a no-op for tunnel routing; leave it up.
	TunnelKeep TunnelAction = iota
	// TunnelRebuild: tear down now, reconstruct after the modify job
	// completes.
	TunnelRebuild
	// TunnelRemove: the tunnel's precondition is gone for good; tear
	// down and deactivate.
	TunnelRemove
)

// TunnelImpact pairs an active tunnel with its decided action.
type TunnelImpact struct {
	Tunnel *model.Tunnel
	Action TunnelAction
}

// AssessTunnelImpact inspects every interface the diff touches and
// decides what happens to the active tunnels bound to it:
//
//   - the interface loses its assignment, or loses the path label the
//     tunnel was matched on: the tunnel is permanently removed;
//   - the addressing that feeds the tunnel changed: tear down and
//     rebuild once the modification lands;
//   - only public-address details changed while both endpoints stay on
//     a local/private path: keep the tunnel up, avoiding pointless
//     teardown churn.
func AssessTunnelImpact(ctx context.Context, ts store.TunnelStore, ds store.DeviceStore, orig, desired *model.Device, diff *Diff) ([]TunnelImpact, error) {
	var impacts []TunnelImpact
	for _, ifID := range diff.TouchedInterfaceIDs() {
		tunnels, err := store.ActiveTunnelsForInterface(ctx, ts, orig.Org, orig.ID, ifID)
		if err != nil {
			return nil, err
		}
		if len(tunnels) == 0 {
			continue
		}

		origIf := orig.InterfaceByID(ifID)
		desiredIf := desired.InterfaceByID(ifID)

		for _, t := range tunnels {
			action, err := decideAction(ctx, ds, t, orig, origIf, desiredIf)
			if err != nil {
				return nil, err
			}
			impacts = append(impacts, TunnelImpact{Tunnel: t, Action: action})
		}
	}
	return impacts, nil
}

func decideAction(ctx context.Context, ds store.DeviceStore, t *model.Tunnel, orig *model.Device, origIf, desiredIf *model.Interface) (TunnelAction, error) {
	// Interface gone or unassigned: nothing to rebuild on.
	if desiredIf == nil || !desiredIf.IsAssigned {
		return TunnelRemove, nil
	}
	// The label that matched this tunnel's endpoints was dropped.
	if t.PathLabel != "" && !desiredIf.HasPathLabel(t.PathLabel) {
		return TunnelRemove, nil
	}

	if origIf == nil {
		return TunnelRebuild, nil
	}

	addrChanged := origIf.IPv4 != desiredIf.IPv4 || origIf.IPv4Mask != desiredIf.IPv4Mask
	publicChanged := origIf.PublicIP != desiredIf.PublicIP || origIf.PublicPort != desiredIf.PublicPort

	if !addrChanged && publicChanged && !t.IsPeer() {
		// Public info is irrelevant while both ends talk over a
		// local path and keep doing so.
		remote, err := remoteInterface(ctx, ds, t, orig.ID)
		if err != nil {
			return TunnelRebuild, err
		}
		if tunnel.UsesLocalPath(origIf, remote) && tunnel.UsesLocalPath(desiredIf, remote) {
			return TunnelKeep, nil
		}
	}
	if !addrChanged && !publicChanged {
		return TunnelKeep, nil
	}
	return TunnelRebuild, nil
}

// remoteInterface loads the far-end interface of a site-to-site tunnel.
func remoteInterface(ctx context.Context, ds store.DeviceStore, t *model.Tunnel, localDeviceID string) (*model.Interface, error) {
	devID, ifID, ok := t.OtherSide(localDeviceID)
	if !ok {
		return nil, nil
	}
	remote, err := ds.GetDevice(ctx, t.Org, devID)
	if err != nil {
		return nil, err
	}
	return remote.InterfaceByID(ifID), nil
}

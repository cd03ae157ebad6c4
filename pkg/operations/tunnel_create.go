package operations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/audit"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/dispatch"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/notify"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/tunnel"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/util"
)

// TunnelCreateOptions selects how the device set is meshed.
type TunnelCreateOptions struct {
	// PathLabel restricts endpoint selection to WAN interfaces carrying
	// the label. Empty means any assigned WAN interface.
	PathLabel string

	// EncryptionMethod defaults to psk.
	EncryptionMethod model.EncryptionMethod

	// Peer, when set, creates one tunnel from each device to this
	// unmanaged endpoint address instead of meshing the devices.
	Peer string
}

// PairResult is the outcome for one device pair (or one device in peer
// mode; DeviceB is empty then).
type PairResult struct {
	DeviceA  string `json:"deviceA"`
	DeviceB  string `json:"deviceB,omitempty"`
	TunnelID string `json:"tunnelId,omitempty"`
	Created  bool   `json:"created"`
	Exists   bool   `json:"exists"`
	Reason   string `json:"reason,omitempty"`
}

// TunnelCreateResult is the fan-out outcome of one create request.
type TunnelCreateResult struct {
	JobIDs []string     `json:"jobIds"`
	Status string       `json:"status"`
	Pairs  []PairResult `json:"pairs"`
	// Reasons are the distinct failure reasons across all pairs.
	Reasons []string `json:"reasons,omitempty"`
}

// RequestTunnelCreate meshes the given devices pairwise (or connects
// each to a peer endpoint) with tunnels. The request validates its
// inputs up front; pair construction afterwards is best effort, and
// pairs that cannot be served are reported with their reason instead of
// aborting the rest.
func (s *Service) RequestTunnelCreate(ctx context.Context, org, user string, deviceIDs []string, opts TunnelCreateOptions) (res *TunnelCreateResult, err error) {
	ev := audit.NewEvent(org, user, "tunnel-create")
	start := time.Now()
	defer func() { recordAudit(ev, start, err) }()

	if opts.EncryptionMethod == "" {
		opts.EncryptionMethod = model.EncryptionPSK
	}
	if !model.ValidEncryptionMethod(opts.EncryptionMethod) {
		return nil, fmt.Errorf("%w: %q", util.ErrUnsupportedEncryption, opts.EncryptionMethod)
	}
	if opts.Peer == "" && len(deviceIDs) < 2 {
		return nil, util.NewValidationError("tunnel creation needs at least two devices")
	}
	if opts.Peer != "" && !util.IsValidIPv4(opts.Peer) {
		return nil, util.NewValidationError(fmt.Sprintf("invalid peer address %q", opts.Peer))
	}

	devices := make([]*model.Device, 0, len(deviceIDs))
	checker := NewPreconditionChecker("tunnel.create", org)
	for _, id := range deviceIDs {
		d, err := s.store.GetDevice(ctx, org, id)
		if err != nil {
			return nil, err
		}
		checker.RequireApproved(d).RequireConnected(d)
		devices = append(devices, d)
	}
	if err := checker.Result(); err != nil {
		return nil, err
	}

	result := &TunnelCreateResult{JobIDs: []string{}}
	addPair := func(p PairResult, jobIDs []string) {
		result.Pairs = append(result.Pairs, p)
		result.JobIDs = append(result.JobIDs, jobIDs...)
	}
	if opts.Peer != "" {
		for _, d := range devices {
			addPair(s.createForPair(ctx, org, user, d, nil, opts))
		}
	} else {
		for i := 0; i < len(devices); i++ {
			for j := i + 1; j < len(devices); j++ {
				addPair(s.createForPair(ctx, org, user, devices[i], devices[j], opts))
			}
		}
	}

	failed := 0
	seen := make(map[string]bool)
	for _, p := range result.Pairs {
		if p.Created || p.Exists {
			continue
		}
		failed++
		if !seen[p.Reason] {
			seen[p.Reason] = true
			result.Reasons = append(result.Reasons, p.Reason)
		}
	}
	// Pairs that cannot be served never fail the request wholesale.
	if failed == 0 {
		result.Status = StatusCompleted
	} else {
		result.Status = StatusPartiallyCompleted
	}
	ev.WithJobs(result.JobIDs...)
	return result, nil
}

// createForPair builds one tunnel, returning the pair outcome and the
// ids of the jobs it queued. devB nil means peer mode.
func (s *Service) createForPair(ctx context.Context, org, user string, devA, devB *model.Device, opts TunnelCreateOptions) (PairResult, []string) {
	res := PairResult{DeviceA: devA.ID}
	if devB != nil {
		res.DeviceB = devB.ID
	}

	ifaceA := selectWANInterface(devA, opts.PathLabel)
	if ifaceA == nil {
		res.Reason = noInterfaceReason(devA, opts.PathLabel)
		return res, nil
	}

	var ifaceB *model.Interface
	if devB != nil {
		if ifaceB = selectWANInterface(devB, opts.PathLabel); ifaceB == nil {
			res.Reason = noInterfaceReason(devB, opts.PathLabel)
			return res, nil
		}
		if !model.AgentsCompatible(devA, devB) {
			res.Reason = "Router version mismatch"
			return res, nil
		}
	}

	if existing := s.findExisting(ctx, org, devA, ifaceA, devB, ifaceB, opts); existing != nil {
		res.TunnelID = existing.ID
		res.Exists = true
		return res, nil
	}

	t, err := s.materialize(ctx, org, devA, ifaceA, devB, ifaceB, opts)
	if err != nil {
		util.WithOrg(org).WithDevice(devA.Name).Warnf("Tunnel creation failed: %v", err)
		res.Reason = err.Error()
		return res, nil
	}
	res.TunnelID = t.ID

	sides, err := s.dispatcher.BuildTunnelSides(ctx, t)
	var jobs []*model.Job
	if err == nil {
		jobs, err = s.dispatcher.QueueTunnelJobs(ctx, org, user, dispatch.MethodTunnelBuild, t, sides)
	}
	if err != nil {
		// The document stays inactive and its number recyclable.
		if relErr := s.store.ReleaseTunnel(ctx, org, t.ID); relErr != nil {
			util.WithOrg(org).WithTunnel(t.Num).Errorf("Failed to release tunnel after queue error: %v", relErr)
		}
		res.Reason = err.Error()
		return res, nil
	}

	jobIDs := make([]string, 0, len(jobs))
	for _, j := range jobs {
		jobIDs = append(jobIDs, j.ID)
	}
	notify.Send(s.sink, []notify.Notification{notify.New(org, "Tunnel created", devA.ID,
		fmt.Sprintf("Tunnel %d created by %s", t.Num, user))})
	res.Created = true
	return res, jobIDs
}

// materialize allocates a number (recycling an inactive document when
// one exists) and persists the active tunnel.
func (s *Service) materialize(ctx context.Context, org string, devA *model.Device, ifaceA *model.Interface, devB *model.Device, ifaceB *model.Interface, opts TunnelCreateOptions) (*model.Tunnel, error) {
	alloc, err := s.allocator.Allocate(ctx, org)
	if err != nil {
		return nil, err
	}

	var keys *model.TunnelKeys
	if opts.EncryptionMethod == model.EncryptionPSK {
		if keys, err = tunnel.GenerateKeys(); err != nil {
			return nil, err
		}
	}

	apply := func(t *model.Tunnel) {
		t.DeviceA = devA.ID
		t.InterfaceA = ifaceA.ID
		t.DeviceB, t.InterfaceB, t.Peer = "", "", ""
		if devB != nil {
			t.DeviceB = devB.ID
			t.InterfaceB = ifaceB.ID
		} else {
			t.Peer = opts.Peer
		}
		t.PathLabel = opts.PathLabel
		t.EncryptionMethod = opts.EncryptionMethod
		t.TunnelKeys = keys
		t.IsActive = true
		t.IsPending = false
		t.PendingReason = ""
		t.PendingTunnelModification = false
	}

	if alloc.Reused != nil {
		return s.store.UpdateTunnel(ctx, org, alloc.Reused.ID, func(t *model.Tunnel) error {
			apply(t)
			return nil
		})
	}

	t := &model.Tunnel{ID: uuid.NewString(), Org: org, Num: alloc.Num}
	apply(t)
	if err := s.store.SaveTunnel(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// findExisting returns an active tunnel already connecting the chosen
// endpoints with the same path label, making retries of the same
// request no-ops.
func (s *Service) findExisting(ctx context.Context, org string, devA *model.Device, ifaceA *model.Interface, devB *model.Device, ifaceB *model.Interface, opts TunnelCreateOptions) *model.Tunnel {
	all, err := s.store.ListTunnels(ctx, org)
	if err != nil {
		return nil
	}
	for _, t := range all {
		if !t.IsActive || t.PathLabel != opts.PathLabel {
			continue
		}
		if devB == nil {
			if t.Peer == opts.Peer && t.UsesInterface(devA.ID, ifaceA.ID) {
				return t
			}
			continue
		}
		if t.UsesInterface(devA.ID, ifaceA.ID) && t.UsesInterface(devB.ID, ifaceB.ID) {
			return t
		}
	}
	return nil
}

// selectWANInterface picks the device's first assigned WAN interface
// carrying the label.
func selectWANInterface(d *model.Device, label string) *model.Interface {
	for _, iface := range d.WANInterfaces() {
		if label == "" || iface.HasPathLabel(label) {
			return iface
		}
	}
	return nil
}

func noInterfaceReason(d *model.Device, label string) string {
	if label == "" {
		return fmt.Sprintf("No WAN interface on device %s", d.Name)
	}
	return fmt.Sprintf("No WAN interface with path label %q on device %s", label, d.Name)
}

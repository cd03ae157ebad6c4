// Package store persists manager documents (devices, tunnels, jobs) and
// provides the atomic update-one-and-return primitives the orchestration
// engine relies on. Two implementations exist: Redis (production) and
// an in-memory store used by tests.
package store

import (
	"context"
	"errors"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
)

// ErrConflict is returned by atomic operations that lost a race and may
// be retried by the caller.
var ErrConflict = errors.New("store: concurrent update conflict")

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("store: document not found")

// DeviceStore persists device documents.
type DeviceStore interface {
	GetDevice(ctx context.Context, org, id string) (*model.Device, error)
	ListDevices(ctx context.Context, org string) ([]*model.Device, error)
	SaveDevice(ctx context.Context, d *model.Device) error
	DeleteDevice(ctx context.Context, org, id string) error

	// UpdateDevice atomically applies fn to the stored document and
	// persists the result, returning the updated value. fn may be
	// re-invoked on contention; it must be side-effect free.
	UpdateDevice(ctx context.Context, org, id string, fn func(*model.Device) error) (*model.Device, error)
}

// TunnelStore persists tunnel documents and owns tunnel-number
// bookkeeping.
type TunnelStore interface {
	GetTunnel(ctx context.Context, org, id string) (*model.Tunnel, error)
	ListTunnels(ctx context.Context, org string) ([]*model.Tunnel, error)
	SaveTunnel(ctx context.Context, t *model.Tunnel) error

	// UpdateTunnel atomically applies fn to the stored document, same
	// contract as DeviceStore.UpdateDevice.
	UpdateTunnel(ctx context.Context, org, id string, fn func(*model.Tunnel) error) (*model.Tunnel, error)

	// ClaimInactiveTunnel atomically takes one inactive tunnel of the
	// organization and flips it active. ok is false when none exists.
	ClaimInactiveTunnel(ctx context.Context, org string) (t *model.Tunnel, ok bool, err error)

	// ReleaseTunnel deactivates a tunnel, making its number reusable.
	ReleaseTunnel(ctx context.Context, org, id string) error

	// NextTunnelNum atomically advances the per-organization tunnel
	// counter and returns the next unallocated number (zero-based,
	// monotonic). The caller enforces the range bound.
	NextTunnelNum(ctx context.Context, org string) (int, error)

	// RegisterTunnelNum records num as active for the organization.
	// Returns ErrConflict if the number is already held, which happens
	// when two allocations race on the same counter value.
	RegisterTunnelNum(ctx context.Context, org string, num int) error

	// UnregisterTunnelNum releases an active number registration.
	UnregisterTunnelNum(ctx context.Context, org string, num int) error
}

// JobStore persists dispatched job documents.
type JobStore interface {
	GetJob(ctx context.Context, org, id string) (*model.Job, error)
	SaveJob(ctx context.Context, j *model.Job) error
	UpdateJobState(ctx context.Context, org, id string, state model.JobState) error
}

// Store aggregates the document stores behind one handle.
type Store interface {
	DeviceStore
	TunnelStore
	JobStore
}

// ActiveTunnelsForDevice filters the organization's tunnels down to the
// active ones terminating on the given device.
func ActiveTunnelsForDevice(ctx context.Context, s TunnelStore, org, deviceID string) ([]*model.Tunnel, error) {
	all, err := s.ListTunnels(ctx, org)
	if err != nil {
		return nil, err
	}
	var out []*model.Tunnel
	for _, t := range all {
		if t.IsActive && t.UsesDevice(deviceID) {
			out = append(out, t)
		}
	}
	return out, nil
}

// ActiveTunnelsForInterface filters down to active tunnels bound to one
// interface of a device.
func ActiveTunnelsForInterface(ctx context.Context, s TunnelStore, org, deviceID, ifID string) ([]*model.Tunnel, error) {
	all, err := ActiveTunnelsForDevice(ctx, s, org, deviceID)
	if err != nil {
		return nil, err
	}
	var out []*model.Tunnel
	for _, t := range all {
		if t.UsesInterface(deviceID, ifID) {
			out = append(out, t)
		}
	}
	return out, nil
}

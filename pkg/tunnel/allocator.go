package tunnel

import (
	"context"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/store"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/util"
)

// Allocator hands out organization-scoped tunnel numbers. Deactivated
// tunnel documents are recycled before the bounded per-org counter is
// advanced; concurrent allocations racing on the counter are resolved
// by a single bounded retry.
type Allocator struct {
	store store.TunnelStore
}

// NewAllocator creates an allocator over the given tunnel store.
func NewAllocator(s store.TunnelStore) *Allocator {
	return &Allocator{store: s}
}

// Allocation is the result of one allocate call. Reused is the
// reactivated tunnel document when an inactive slot was recycled, nil
// when a fresh number was drawn.
type Allocation struct {
	Num    int
	Reused *model.Tunnel
}

// Allocate returns a tunnel number that no concurrently-created active
// tunnel of the organization holds. Exhaustion of the number range is
// reported as a typed error wrapping util.ErrAllocationExhausted.
func (a *Allocator) Allocate(ctx context.Context, org string) (*Allocation, error) {
	// Reuse path: reactivate a previously deactivated slot.
	if t, ok, err := a.store.ClaimInactiveTunnel(ctx, org); err != nil {
		return nil, err
	} else if ok {
		util.WithOrg(org).WithField("tunnel", t.Num).Debug("Recycled tunnel number")
		return &Allocation{Num: t.Num, Reused: t}, nil
	}

	// Fresh path: draw from the counter, retrying once on a
	// registration conflict from a concurrent allocator.
	const attempts = 2
	for i := 0; i < attempts; i++ {
		num, err := a.store.NextTunnelNum(ctx, org)
		if err != nil {
			return nil, err
		}
		if num >= model.TunnelNumRange {
			return nil, util.NewAllocationError(org, i+1)
		}
		err = a.store.RegisterTunnelNum(ctx, org, num)
		if err == store.ErrConflict {
			util.WithOrg(org).WithField("tunnel", num).Debug("Tunnel number conflict, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return &Allocation{Num: num}, nil
	}
	return nil, util.NewAllocationError(org, attempts)
}

// Release deactivates a tunnel document so its number becomes reusable.
func (a *Allocator) Release(ctx context.Context, org, tunnelID string) error {
	return a.store.ReleaseTunnel(ctx, org, tunnelID)
}

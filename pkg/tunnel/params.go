// Package tunnel implements the tunnel core: deterministic parameter
// generation, organization-scoped number allocation, PSK key
// derivation, and the pending/active lifecycle state machine.
package tunnel

import (
	"fmt"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
)

// Params are the derived per-tunnel addressing and SA values. They are
// a pure function of the tunnel number and are never persisted:
// re-deriving them for a recycled number yields bit-identical values.
type Params struct {
	IP1  string // loopback address of side A (/31 pair low half)
	IP2  string // loopback address of side B (/31 pair high half)
	MAC1 string
	MAC2 string
	SA1  int
	SA2  int
}

// GenerateParams maps a tunnel number onto its loopback /31 pair, MAC
// pair and SA identifiers. Valid for 0 <= num < model.TunnelNumRange;
// distinct numbers in range never collide on IP1.
func GenerateParams(num int) (*Params, error) {
	if num < 0 || num >= model.TunnelNumRange {
		return nil, fmt.Errorf("tunnel number %d out of range [0,%d)", num, model.TunnelNumRange)
	}

	// Fold the number into a (subnet, host) pair: 127 host slots per
	// 10.100.l.0/24, two addresses per slot for the /31.
	h := (num%127 + 1) * 2
	l := num / 127

	return &Params{
		IP1:  fmt.Sprintf("10.100.%d.%d", l, h),
		IP2:  fmt.Sprintf("10.100.%d.%d", l, h+1),
		MAC1: fmt.Sprintf("02:00:27:fd:%02x:%02x", l, h),
		MAC2: fmt.Sprintf("02:00:27:fd:%02x:%02x", l, h+1),
		SA1:  l*256 + h,
		SA2:  l*256 + h + 1,
	}, nil
}

// LoopbackNet returns the /31 network of the tunnel in CIDR notation.
func (p *Params) LoopbackNet() string {
	return p.IP1 + "/31"
}

// Package operations exposes the user-facing orchestration requests:
// tunnel creation and deletion across device sets, and whole-document
// device modification. Each request validates its preconditions in
// full before any state changes.
package operations

import (
	"fmt"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/util"
)

// PreconditionChecker accumulates unmet requirements for one operation
// so a request fails with every problem listed, not just the first.
type PreconditionChecker struct {
	operation string
	resource  string
	errors    []error
}

// NewPreconditionChecker creates a checker for one operation/resource.
func NewPreconditionChecker(operation, resource string) *PreconditionChecker {
	return &PreconditionChecker{operation: operation, resource: resource}
}

// Check records a failed requirement when condition is false.
func (p *PreconditionChecker) Check(condition bool, requirement, detail string) *PreconditionChecker {
	if !condition {
		p.errors = append(p.errors, util.NewPreconditionError(
			p.operation, p.resource, requirement, detail))
	}
	return p
}

// RequireApproved checks that the device has been approved for
// management.
func (p *PreconditionChecker) RequireApproved(d *model.Device) *PreconditionChecker {
	return p.Check(d.IsApproved, "device must be approved",
		fmt.Sprintf("device %s is not approved", d.Name))
}

// RequireConnected checks that the device's agent is connected.
func (p *PreconditionChecker) RequireConnected(d *model.Device) *PreconditionChecker {
	return p.Check(d.IsConnected, "device must be connected",
		fmt.Sprintf("device %s is not connected", d.Name))
}

// RequireNoPendingModification checks that no modify job is in flight.
func (p *PreconditionChecker) RequireNoPendingModification(d *model.Device) *PreconditionChecker {
	return p.Check(!d.PendingDevModification, "device must have no modification in progress",
		fmt.Sprintf("device %s has a queued modification", d.Name))
}

// Result returns the accumulated errors as one error, or nil.
func (p *PreconditionChecker) Result() error {
	switch len(p.errors) {
	case 0:
		return nil
	case 1:
		return p.errors[0]
	}
	msgs := make([]string, len(p.errors))
	for i, err := range p.errors {
		msgs[i] = err.Error()
	}
	return util.NewValidationError(msgs...)
}

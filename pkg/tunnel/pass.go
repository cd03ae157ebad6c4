package tunnel

import (
	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/notify"
)

// Pass accumulates the side effects of one event-processing pass so the
// engine can batch downstream dispatch: one reconstruct-tunnels job set
// and one modify-device job per changed device, however many individual
// facts changed. A Pass is request-scoped; callers create one per pass
// and discard it afterwards.
type Pass struct {
	// ChangedDevices are device ids whose persisted routes or DHCP
	// entries were mutated and need a sync job.
	ChangedDevices map[string]bool

	// Originals holds each changed device's document as it was before
	// the first mutation of the pass. The engine diffs against it to
	// build the device's sync job.
	Originals map[string]*model.Device

	// Reconstruct are tunnels promoted back to Active during the pass.
	Reconstruct map[string]*model.Tunnel

	// Removals are site-to-site tunnels that entered Pending and must
	// be removed from their devices.
	Removals map[string]*model.Tunnel

	// Notifications collected during the pass, flushed once at the end.
	Notifications []notify.Notification
}

// NewPass creates an empty accumulator.
func NewPass() *Pass {
	return &Pass{
		ChangedDevices: make(map[string]bool),
		Originals:      make(map[string]*model.Device),
		Reconstruct:    make(map[string]*model.Tunnel),
		Removals:       make(map[string]*model.Tunnel),
	}
}

// MarkDevice records that a device document changed during the pass.
func (p *Pass) MarkDevice(deviceID string) {
	p.ChangedDevices[deviceID] = true
}

// RecordOriginal remembers a device's pre-mutation document. Only the
// first snapshot of the pass is kept.
func (p *Pass) RecordOriginal(d *model.Device) {
	if _, ok := p.Originals[d.ID]; !ok {
		p.Originals[d.ID] = d
	}
}

// Notify queues a notification for the end-of-pass flush.
func (p *Pass) Notify(n notify.Notification) {
	p.Notifications = append(p.Notifications, n)
}

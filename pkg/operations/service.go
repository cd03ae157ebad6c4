package operations

import (
	"time"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/audit"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/dispatch"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/notify"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/store"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/tunnel"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/util"
)

// Service is the entry point for user-initiated orchestration requests.
type Service struct {
	store      store.Store
	allocator  *tunnel.Allocator
	dispatcher *dispatch.Dispatcher
	sink       notify.Sink
}

// NewService wires the operations facade. sink may be nil.
func NewService(s store.Store, alloc *tunnel.Allocator, d *dispatch.Dispatcher, sink notify.Sink) *Service {
	return &Service{store: s, allocator: alloc, dispatcher: d, sink: sink}
}

// Request outcome statuses. Fan-out requests report partial completion
// instead of failing wholesale when some of their targets cannot be
// served; up-front validation failures surface as errors, not statuses.
const (
	StatusCompleted          = "completed"
	StatusPartiallyCompleted = "partially completed"
)

// recordAudit writes the request outcome to the audit log. Audit
// failures are logged, never surfaced to the caller.
func recordAudit(ev *audit.Event, start time.Time, err error) {
	ev.WithDuration(time.Since(start))
	if err != nil {
		ev.WithError(err)
	} else {
		ev.WithSuccess()
	}
	if logErr := audit.Log(ev); logErr != nil {
		util.Warnf("Audit log write failed: %v", logErr)
	}
}

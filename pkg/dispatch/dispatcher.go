// Package dispatch queues jobs toward device agents and runs the
// terminal callbacks that keep the manager's busy flags and documents
// consistent with job outcomes.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ExcellentiaFuturale/flexiManage/pkg/metrics"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/model"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/notify"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/store"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/tunnel"
	"github.com/ExcellentiaFuturale/flexiManage/pkg/util"
)

// Callback methods routed by job metadata.
const (
	MethodDeviceModify = "deviceModify"
	MethodTunnelBuild  = "tunnelBuild"
	MethodTunnelRemove = "tunnelRemove"
)

// Metadata keys inside CallbackMeta.Data.
const (
	metaDeviceID = "deviceId"
	metaSnapshot = "snapshot"
	metaRebuild  = "rebuild"
	metaTunnelID = "tunnelId"
)

// DeviceTasks is one device's share of a tunnel operation.
type DeviceTasks struct {
	DeviceID string
	Tasks    []model.Task
}

// Dispatcher creates jobs, submits them to device queues, and handles
// their terminal callbacks. It owns the PendingDevModification and
// PendingTunnelModification flags end to end: a flag is raised here
// before the job is submitted and dropped only by a terminal callback
// or a failed submission.
type Dispatcher struct {
	store store.Store
	queue JobQueue
	sink  notify.Sink
}

// New creates a dispatcher. sink may be nil.
func New(s store.Store, q JobQueue, sink notify.Sink) *Dispatcher {
	return &Dispatcher{store: s, queue: q, sink: sink}
}

func (d *Dispatcher) newJob(org, user, deviceID, title string, tasks []model.Task, meta model.CallbackMeta) *model.Job {
	return &model.Job{
		ID:        uuid.New().String(),
		Org:       org,
		User:      user,
		DeviceID:  deviceID,
		Title:     title,
		Tasks:     tasks,
		Meta:      meta,
		State:     model.JobQueued,
		CreatedAt: time.Now().UTC(),
	}
}

// QueueDeviceModify raises the device's modification flag and submits a
// modify-device job. snapshot is the pre-change document restored on
// failure; rebuild lists the tunnels to reconstruct once the job
// completes. The flag is raised atomically: a second caller racing on
// the same device gets ErrDeviceBusy.
func (d *Dispatcher) QueueDeviceModify(ctx context.Context, org, user string, deviceID string, tasks []model.Task, snapshot *model.Device, rebuild []string) (*model.Job, error) {
	snap, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}

	dev, err := d.store.UpdateDevice(ctx, org, deviceID, func(dev *model.Device) error {
		if dev.PendingDevModification {
			return util.NewDeviceBusyError(dev.Name)
		}
		dev.PendingDevModification = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, tid := range rebuild {
		if _, err := d.store.UpdateTunnel(ctx, org, tid, func(t *model.Tunnel) error {
			t.PendingTunnelModification = true
			return nil
		}); err != nil {
			d.releaseDeviceModify(ctx, org, deviceID, rebuild)
			return nil, err
		}
	}

	job := d.newJob(org, user, deviceID, "Modify device "+dev.Name, tasks, model.CallbackMeta{
		Method: MethodDeviceModify,
		Data: map[string]string{
			metaDeviceID: deviceID,
			metaSnapshot: string(snap),
			metaRebuild:  strings.Join(rebuild, ","),
		},
	})
	if err := d.store.SaveJob(ctx, job); err != nil {
		d.releaseDeviceModify(ctx, org, deviceID, rebuild)
		return nil, err
	}
	if err := d.queue.Submit(ctx, job); err != nil {
		d.releaseDeviceModify(ctx, org, deviceID, rebuild)
		d.store.UpdateJobState(ctx, org, job.ID, model.JobFailed)
		return nil, err
	}

	metrics.JobsQueued.WithLabelValues(MethodDeviceModify).Inc()
	util.WithOrg(org).WithDevice(dev.Name).WithJob(job.ID).Info("Modify-device job queued")
	return job, nil
}

// releaseDeviceModify undoes the flags raised by a submission that did
// not make it to the device queue.
func (d *Dispatcher) releaseDeviceModify(ctx context.Context, org, deviceID string, rebuild []string) {
	if _, err := d.store.UpdateDevice(ctx, org, deviceID, func(dev *model.Device) error {
		dev.PendingDevModification = false
		return nil
	}); err != nil {
		util.WithOrg(org).WithDevice(deviceID).Warnf("Failed to release modification flag: %v", err)
	}
	d.clearTunnelFlags(ctx, org, rebuild)
}

func (d *Dispatcher) clearTunnelFlags(ctx context.Context, org string, ids []string) {
	for _, tid := range ids {
		if tid == "" {
			continue
		}
		if _, err := d.store.UpdateTunnel(ctx, org, tid, func(t *model.Tunnel) error {
			t.PendingTunnelModification = false
			return nil
		}); err != nil {
			util.WithOrg(org).Warnf("Failed to release tunnel flag %s: %v", tid, err)
		}
	}
}

// QueueTunnelJobs raises the tunnel's modification flag and submits one
// job per device side. method is MethodTunnelBuild or MethodTunnelRemove.
// A failed submission drops the flag and aborts the remaining sides.
func (d *Dispatcher) QueueTunnelJobs(ctx context.Context, org, user, method string, t *model.Tunnel, sides []DeviceTasks) ([]*model.Job, error) {
	if _, err := d.store.UpdateTunnel(ctx, org, t.ID, func(t *model.Tunnel) error {
		if t.PendingTunnelModification {
			return util.NewTunnelBusyError(fmt.Sprintf("%d", t.Num))
		}
		t.PendingTunnelModification = true
		return nil
	}); err != nil {
		return nil, err
	}

	verb := "Build"
	if method == MethodTunnelRemove {
		verb = "Remove"
	}

	var jobs []*model.Job
	for _, side := range sides {
		job := d.newJob(org, user, side.DeviceID,
			fmt.Sprintf("%s tunnel %d", verb, t.Num), side.Tasks, model.CallbackMeta{
				Method: method,
				Data:   map[string]string{metaTunnelID: t.ID},
			})
		if err := d.store.SaveJob(ctx, job); err != nil {
			d.clearTunnelFlags(ctx, org, []string{t.ID})
			return jobs, err
		}
		if err := d.queue.Submit(ctx, job); err != nil {
			d.clearTunnelFlags(ctx, org, []string{t.ID})
			d.store.UpdateJobState(ctx, org, job.ID, model.JobFailed)
			return jobs, err
		}
		metrics.JobsQueued.WithLabelValues(method).Inc()
		jobs = append(jobs, job)
	}
	util.WithOrg(org).WithTunnel(t.Num).Infof("%s jobs queued for tunnel", verb)
	return jobs, nil
}

// HandleComplete is the terminal callback for a successfully executed
// job. For modify-device jobs it drops the device flag and kicks off
// reconstruction of the tunnels the modification tore down; for tunnel
// jobs it drops the tunnel flag.
func (d *Dispatcher) HandleComplete(ctx context.Context, org, jobID string) error {
	job, err := d.store.GetJob(ctx, org, jobID)
	if err != nil {
		return err
	}
	if job.State != model.JobQueued {
		return nil
	}

	switch job.Meta.Method {
	case MethodDeviceModify:
		if _, err := d.store.UpdateDevice(ctx, org, job.Meta.Data[metaDeviceID], func(dev *model.Device) error {
			dev.PendingDevModification = false
			return nil
		}); err != nil {
			return err
		}
		for _, tid := range splitIDs(job.Meta.Data[metaRebuild]) {
			if err := d.rebuildTunnel(ctx, org, job.User, tid); err != nil {
				util.WithOrg(org).WithJob(jobID).Warnf("Tunnel %s rebuild not started: %v", tid, err)
				d.clearTunnelFlags(ctx, org, []string{tid})
			}
		}
	case MethodTunnelBuild, MethodTunnelRemove:
		d.clearTunnelFlags(ctx, org, []string{job.Meta.Data[metaTunnelID]})
	}

	if err := d.store.UpdateJobState(ctx, org, jobID, model.JobCompleted); err != nil {
		return err
	}
	metrics.JobsFinished.WithLabelValues(job.Meta.Method, "completed").Inc()
	util.WithOrg(org).WithJob(jobID).Info("Job completed")
	return nil
}

// HandleError is the terminal callback for a job the agent rejected or
// failed to execute.
func (d *Dispatcher) HandleError(ctx context.Context, org, jobID string) error {
	return d.handleFailure(ctx, org, jobID, model.JobFailed, "failed")
}

// HandleRemoved is the terminal callback for a job removed from the
// queue before the agent ran it.
func (d *Dispatcher) HandleRemoved(ctx context.Context, org, jobID string) error {
	return d.handleFailure(ctx, org, jobID, model.JobRemoved, "removed")
}

// handleFailure rolls back what the job would have changed. A failed
// modify-device job restores the pre-change device document from the
// snapshot, so the persisted state never drifts from what the device is
// actually running.
func (d *Dispatcher) handleFailure(ctx context.Context, org, jobID string, state model.JobState, outcome string) error {
	job, err := d.store.GetJob(ctx, org, jobID)
	if err != nil {
		return err
	}
	if job.State != model.JobQueued {
		return nil
	}

	switch job.Meta.Method {
	case MethodDeviceModify:
		var snapshot model.Device
		if err := json.Unmarshal([]byte(job.Meta.Data[metaSnapshot]), &snapshot); err != nil {
			return fmt.Errorf("job %s: corrupt device snapshot: %w", jobID, err)
		}
		snapshot.PendingDevModification = false
		if err := d.store.SaveDevice(ctx, &snapshot); err != nil {
			return err
		}
		d.clearTunnelFlags(ctx, org, splitIDs(job.Meta.Data[metaRebuild]))
		notify.Send(d.sink, []notify.Notification{notify.New(org, "Device modification failed", snapshot.ID,
			fmt.Sprintf("Modification of device %s %s; configuration was rolled back", snapshot.Name, outcome))})
	case MethodTunnelBuild, MethodTunnelRemove:
		d.clearTunnelFlags(ctx, org, []string{job.Meta.Data[metaTunnelID]})
		notify.Send(d.sink, []notify.Notification{notify.New(org, "Tunnel job "+outcome, job.DeviceID,
			fmt.Sprintf("Job %q %s on device", job.Title, outcome))})
	}

	if err := d.store.UpdateJobState(ctx, org, jobID, state); err != nil {
		return err
	}
	metrics.JobsFinished.WithLabelValues(job.Meta.Method, outcome).Inc()
	util.WithOrg(org).WithJob(jobID).Warnf("Job %s", outcome)
	return nil
}

// rebuildTunnel queues build jobs for a tunnel that was torn down by a
// device modification. The tunnel's flag is already raised; it stays up
// until the build jobs reach their own terminal callback. A tunnel that
// went Pending in the meantime is left down.
func (d *Dispatcher) rebuildTunnel(ctx context.Context, org, user, tunnelID string) error {
	t, err := d.store.GetTunnel(ctx, org, tunnelID)
	if err != nil {
		return err
	}
	if !t.IsActive || t.IsPending {
		d.clearTunnelFlags(ctx, org, []string{tunnelID})
		return nil
	}

	sides, err := d.BuildTunnelSides(ctx, t)
	if err != nil {
		return err
	}
	// Tear stale state down on each side before the build.
	for i := range sides {
		sides[i].Tasks = append(tunnel.RemoveTunnelTasks(t), sides[i].Tasks...)
	}

	// The flag is already raised by the modify job; submit directly.
	for _, side := range sides {
		job := d.newJob(org, user, side.DeviceID,
			fmt.Sprintf("Rebuild tunnel %d", t.Num), side.Tasks, model.CallbackMeta{
				Method: MethodTunnelBuild,
				Data:   map[string]string{metaTunnelID: t.ID},
			})
		if err := d.store.SaveJob(ctx, job); err != nil {
			return err
		}
		if err := d.queue.Submit(ctx, job); err != nil {
			return err
		}
		metrics.JobsQueued.WithLabelValues(MethodTunnelBuild).Inc()
	}
	return nil
}

// BuildTunnelSides resolves the current endpoint interfaces and builds
// each side's add-tunnel task list. Peer tunnels get a single side with
// the peer's address standing in for the remote interface.
func (d *Dispatcher) BuildTunnelSides(ctx context.Context, t *model.Tunnel) ([]DeviceTasks, error) {
	devA, err := d.store.GetDevice(ctx, t.Org, t.DeviceA)
	if err != nil {
		return nil, err
	}
	ifaceA := devA.InterfaceByID(t.InterfaceA)
	if ifaceA == nil {
		return nil, fmt.Errorf("tunnel %d: interface %s not found on device %s", t.Num, t.InterfaceA, devA.Name)
	}

	if t.IsPeer() {
		remote := &model.Interface{IPv4: t.Peer}
		tasks, err := tunnel.AddTunnelTasks(t, ifaceA, remote, tunnel.SideA)
		if err != nil {
			return nil, err
		}
		return []DeviceTasks{{DeviceID: t.DeviceA, Tasks: tasks}}, nil
	}

	devB, err := d.store.GetDevice(ctx, t.Org, t.DeviceB)
	if err != nil {
		return nil, err
	}
	ifaceB := devB.InterfaceByID(t.InterfaceB)
	if ifaceB == nil {
		return nil, fmt.Errorf("tunnel %d: interface %s not found on device %s", t.Num, t.InterfaceB, devB.Name)
	}

	tasksA, err := tunnel.AddTunnelTasks(t, ifaceA, ifaceB, tunnel.SideA)
	if err != nil {
		return nil, err
	}
	tasksB, err := tunnel.AddTunnelTasks(t, ifaceB, ifaceA, tunnel.SideB)
	if err != nil {
		return nil, err
	}
	return []DeviceTasks{
		{DeviceID: t.DeviceA, Tasks: tasksA},
		{DeviceID: t.DeviceB, Tasks: tasksB},
	}, nil
}

// RemoveTunnelSides builds each side's remove-tunnel task list.
func RemoveTunnelSides(t *model.Tunnel) []DeviceTasks {
	sides := []DeviceTasks{{DeviceID: t.DeviceA, Tasks: tunnel.RemoveTunnelTasks(t)}}
	if t.DeviceB != "" {
		sides = append(sides, DeviceTasks{DeviceID: t.DeviceB, Tasks: tunnel.RemoveTunnelTasks(t)})
	}
	return sides
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
